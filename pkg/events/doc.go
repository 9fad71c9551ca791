/*
Package events implements the in-process event broker for master state changes.

The broker fans out lifecycle events (task created, execution finished, node
status changed) to subscribers. The API layer uses it to feed websocket
streams; internal components use it to react to state transitions without
direct coupling.

# Architecture

	┌───────────────────── EVENT BROKER ─────────────────────┐
	│                                                        │
	│   Publish(event) ──▶ buffered intake channel           │
	│                             │                          │
	│                     ┌───────▼───────┐                  │
	│                     │   run() loop  │                  │
	│                     └───────┬───────┘                  │
	│                             │ broadcast                │
	│            ┌────────────────┼────────────────┐         │
	│            ▼                ▼                ▼         │
	│      global sub      execution sub     execution sub   │
	│      (all events)    (one exec id)     (one exec id)   │
	│                                                        │
	└────────────────────────────────────────────────────────┘

# Delivery Semantics

Delivery is best effort. Each subscriber owns a buffered channel; when a
subscriber stops draining, new events for it are dropped rather than
blocking the broadcast loop. Slow websocket clients therefore cannot stall
the master.

Execution-scoped subscribers only receive events carrying their execution
id. Global subscribers receive everything, including execution events.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.SubscribeExecution(executionID)
	defer broker.Unsubscribe(sub)

	for event := range sub {
		// stream to the client
	}

	broker.Publish(&events.Event{
		Type:        events.EventExecutionFinished,
		ExecutionID: executionID,
	})

# Integration Points

  - pkg/manager: publishes on create/update/finish operations
  - pkg/api: bridges subscriptions onto websocket connections
  - pkg/scheduler: publishes retry and compensation events
*/
package events

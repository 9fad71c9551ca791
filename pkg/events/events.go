package events

import (
	"sync"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventTaskCreated        EventType = "task.created"
	EventTaskUpdated        EventType = "task.updated"
	EventTaskDeleted        EventType = "task.deleted"
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionQueued    EventType = "execution.queued"
	EventExecutionFinished  EventType = "execution.finished"
	EventExecutionRecovered EventType = "execution.recovered"
	EventExecutionLog       EventType = "execution.log"
	EventNodeRegistered     EventType = "node.registered"
	EventNodeOnline         EventType = "node.online"
	EventNodeOffline        EventType = "node.offline"
	EventNodeSuspended      EventType = "node.suspended"
	EventNodeRemoved        EventType = "node.removed"
	EventProjectSynced      EventType = "project.synced"
)

// Event is one cluster or execution event. Log fragments set ExecutionID
// and LogType so per-execution subscribers can follow a single run.
type Event struct {
	Type        EventType         `json:"type"`
	Timestamp   time.Time         `json:"timestamp"`
	NodeID      string            `json:"node_id,omitempty"`
	TaskID      string            `json:"task_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	LogType     types.LogType     `json:"log_type,omitempty"`
	Message     string            `json:"message,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to global subscribers and to per-execution
// subscribers. Delivery is best-effort: a full subscriber buffer drops
// the event rather than blocking ingestion.
type Broker struct {
	mu         sync.RWMutex
	global     map[Subscriber]bool
	perExec    map[string]map[Subscriber]bool
	eventCh    chan *Event
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		global:  make(map[Subscriber]bool),
		perExec: make(map[string]map[Subscriber]bool),
		eventCh: make(chan *Event, 256),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a global subscription receiving every event
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.global[sub] = true
	return sub
}

// SubscribeExecution creates a subscription limited to one execution id.
// Log ingestion offers each accepted fragment here for live streaming.
func (b *Broker) SubscribeExecution(executionID string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	subs, ok := b.perExec[executionID]
	if !ok {
		subs = make(map[Subscriber]bool)
		b.perExec[executionID] = subs
	}
	subs[sub] = true
	return sub
}

// Unsubscribe removes a subscription from both maps and closes it
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.global[sub]; ok {
		delete(b.global, sub)
		close(sub)
		return
	}
	for execID, subs := range b.perExec {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			close(sub)
			if len(subs) == 0 {
				delete(b.perExec, execID)
			}
			return
		}
	}
}

// Publish publishes an event to all matching subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.global {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
	if event.ExecutionID == "" {
		return
	}
	for sub := range b.perExec[event.ExecutionID] {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.global)
	for _, subs := range b.perExec {
		n += len(subs)
	}
	return n
}

/*
Package queue implements the master-side pending task queue.

The queue holds tasks that have been triggered but not yet dispatched to a
worker node. Two backends implement the same interface: an in-process
priority queue for single-master deployments and a Redis-backed queue that
survives restarts and can be shared.

# Architecture

	┌──────────────────── TASK QUEUE ──────────────────────┐
	│                                                      │
	│   Trigger ──▶ Enqueue(task, priority 0..4)           │
	│                     │                                │
	│         ┌───────────▼───────────┐                    │
	│         │       Backend         │                    │
	│         │                       │                    │
	│         │  memory: container/   │                    │
	│         │  heap ordered by      │                    │
	│         │  (priority, seq)      │                    │
	│         │                       │                    │
	│         │  redis: one sorted    │                    │
	│         │  set per priority,    │                    │
	│         │  scored by enqueue    │                    │
	│         │  time                 │                    │
	│         └───────────┬───────────┘                    │
	│                     │                                │
	│   Dispatch loop ◀── Dequeue(timeout)                 │
	│                                                      │
	└──────────────────────────────────────────────────────┘

# Ordering

Priority 0 is highest and 4 lowest. Within one priority level tasks leave
in enqueue order. Re-enqueueing an already queued task is rejected so one
task never occupies two slots.

# Core Operations

  - Enqueue: add a task with its payload; returns false on duplicate
  - Dequeue: blocking pop with timeout; nil result means empty
  - Cancel: remove a queued task before dispatch
  - UpdatePriority: move a queued task between priority levels
  - Contains: membership check for the scheduler's busy guard
  - Status: depth, per-priority stats, backend type, health

# Usage

	backend, err := queue.New(queue.Config{Backend: "memory"})
	if err != nil {
		return err
	}

	added, err := backend.Enqueue(ctx, task.PublicID, project.PublicID,
		task.Priority, payload, project.Type)
	if !added {
		// already queued
	}

	item, err := backend.Dequeue(ctx, time.Second)
	if item == nil {
		// queue empty
	}

Redis backend:

	backend, err := queue.New(queue.Config{
		Backend:   "redis",
		RedisAddr: "redis:6379",
		KeyPrefix: "antcode",
	})

# Failure Behavior

The Redis backend wraps connection failures in ErrQueueUnavailable, which
IsRetryable classifies as retryable. The memory backend cannot fail; its
Status always reports healthy.

# Integration Points

  - pkg/scheduler: the only writer and the only consumer
  - pkg/api: exposes Status on the queue endpoint
  - pkg/config: selects the backend and Redis address
*/
package queue

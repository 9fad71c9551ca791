package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
)

// Backend is the pluggable store of dispatched tasks. Both implementations
// order entries by (priority, enqueue time): lower priority value first,
// FIFO within a priority band.
type Backend interface {
	// Enqueue adds an envelope. It is idempotent by task id: a second call
	// with the same id returns false and leaves the existing entry alone.
	Enqueue(ctx context.Context, taskID, projectID string, priority int, data json.RawMessage, projectType types.ProjectType) (bool, error)

	// Dequeue removes and returns the head entry, or nil when the queue is
	// empty. A positive timeout blocks up to that long for an entry.
	Dequeue(ctx context.Context, timeout time.Duration) (*types.QueuedTask, error)

	// Cancel removes a specific entry if present
	Cancel(ctx context.Context, taskID string) (bool, error)

	// UpdatePriority changes an entry's priority while preserving its
	// original enqueue time, so it does not leapfrog equally prioritized
	// earlier arrivals
	UpdatePriority(ctx context.Context, taskID string, priority int) (bool, error)

	// Peek returns the head entry without removing it
	Peek(ctx context.Context) (*types.QueuedTask, error)

	Size(ctx context.Context) (int, error)
	Contains(ctx context.Context, taskID string) (bool, error)

	// Status reports depth, counters and backend health
	Status(ctx context.Context) (*Status, error)

	Close() error
}

// Stats are monotonic operation counters
type Stats struct {
	Enqueued   int64 `json:"enqueued"`
	Dequeued   int64 `json:"dequeued"`
	Cancelled  int64 `json:"cancelled"`
	Reprior    int64 `json:"repriorized"`
	Rejected   int64 `json:"rejected_duplicates"`
}

// Status is the snapshot returned by Backend.Status
type Status struct {
	Depth       int    `json:"depth"`
	Stats       Stats  `json:"stats"`
	BackendType string `json:"backend_type"`
	Healthy     bool   `json:"healthy"`
}

// Config selects and tunes a backend
type Config struct {
	// Backend is "memory" or "redis"
	Backend string

	// Redis settings, used when Backend is "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// KeyPrefix namespaces the sorted set and data keys (default "antcode")
	KeyPrefix string
}

// New constructs the configured backend. The single constructor switch is
// the only place backend selection happens; callers hold the interface.
func New(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisBackend(cfg)
	default:
		return NewMemoryBackend(), nil
	}
}

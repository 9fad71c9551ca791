package queue

import (
	"container/heap"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/antcode-sh/antcode/pkg/types"
)

// entry is one heap element. seq breaks (priority, enqueuedAt) ties so the
// ordering is total and stable under equal timestamps.
type entry struct {
	task *types.QueuedTask
	seq  uint64
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.task.Priority != b.task.Priority {
		return a.task.Priority < b.task.Priority
	}
	if !a.task.EnqueuedAt.Equal(b.task.EnqueuedAt) {
		return a.task.EnqueuedAt.Before(b.task.EnqueuedAt)
	}
	return a.seq < b.seq
}

func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// MemoryBackend is a min-heap keyed by (priority, enqueue time) with a
// task-id map for O(1) membership checks. Cancellation and priority
// updates are lazy: stale heap entries are skipped at dequeue time.
type MemoryBackend struct {
	mu      sync.Mutex
	heap    entryHeap
	entries map[string]*entry
	seq     uint64
	stats   Stats
	// notify wakes blocked dequeuers after an enqueue
	notify chan struct{}
}

// NewMemoryBackend creates an empty in-process queue
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*entry),
		notify:  make(chan struct{}, 1),
	}
}

func (m *MemoryBackend) Enqueue(ctx context.Context, taskID, projectID string, priority int, data json.RawMessage, projectType types.ProjectType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[taskID]; exists {
		m.stats.Rejected++
		return false, nil
	}

	m.seq++
	e := &entry{
		task: &types.QueuedTask{
			TaskID:      taskID,
			ProjectID:   projectID,
			ProjectType: projectType,
			Priority:    priority,
			EnqueuedAt:  time.Now(),
			Data:        data,
		},
		seq: m.seq,
	}
	m.entries[taskID] = e
	heap.Push(&m.heap, e)
	m.stats.Enqueued++

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true, nil
}

// popHead removes the next live entry, discarding lazily deleted tops
func (m *MemoryBackend) popHead() *types.QueuedTask {
	for m.heap.Len() > 0 {
		e := heap.Pop(&m.heap).(*entry)
		live, ok := m.entries[e.task.TaskID]
		if !ok || live != e {
			// Cancelled or superseded by a priority update
			continue
		}
		delete(m.entries, e.task.TaskID)
		m.stats.Dequeued++
		return e.task
	}
	return nil
}

func (m *MemoryBackend) Dequeue(ctx context.Context, timeout time.Duration) (*types.QueuedTask, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		task := m.popHead()
		m.mu.Unlock()
		if task != nil {
			return task, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		wait := time.Until(deadline)
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.notify:
		case <-time.After(wait):
		}
	}
}

func (m *MemoryBackend) Cancel(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[taskID]; !exists {
		return false, nil
	}
	// Lazy delete: the heap copy is skipped when it surfaces
	delete(m.entries, taskID)
	m.stats.Cancelled++
	return true, nil
}

func (m *MemoryBackend) UpdatePriority(ctx context.Context, taskID string, priority int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, exists := m.entries[taskID]
	if !exists {
		return false, nil
	}
	if old.task.Priority == priority {
		return true, nil
	}

	// Remove-from-map plus push-new-entry; the original enqueue time is
	// kept so the task stays behind earlier peers in its new band
	m.seq++
	fresh := &entry{
		task: &types.QueuedTask{
			TaskID:      old.task.TaskID,
			ProjectID:   old.task.ProjectID,
			ProjectType: old.task.ProjectType,
			Priority:    priority,
			EnqueuedAt:  old.task.EnqueuedAt,
			Data:        old.task.Data,
		},
		seq: m.seq,
	}
	m.entries[taskID] = fresh
	heap.Push(&m.heap, fresh)
	m.stats.Reprior++
	return true, nil
}

func (m *MemoryBackend) Peek(ctx context.Context) (*types.QueuedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clean lazily deleted tops without consuming the live head
	for m.heap.Len() > 0 {
		e := m.heap[0]
		live, ok := m.entries[e.task.TaskID]
		if ok && live == e {
			return e.task, nil
		}
		heap.Pop(&m.heap)
	}
	return nil, nil
}

func (m *MemoryBackend) Size(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *MemoryBackend) Contains(ctx context.Context, taskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.entries[taskID]
	return exists, nil
}

func (m *MemoryBackend) Status(ctx context.Context) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &Status{
		Depth:       len(m.entries),
		Stats:       m.stats,
		BackendType: "memory",
		Healthy:     true,
	}, nil
}

func (m *MemoryBackend) Close() error { return nil }

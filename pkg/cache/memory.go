package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"time"
)

const defaultMaxEntries = 10000

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
	elem      *list.Element
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a size-capped LRU with per-entry TTL
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lru     *list.List // front = most recently used
	max     int
	stats   Stats
}

// NewMemoryCache creates an in-process cache holding at most maxEntries
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		lru:     list.New(),
		max:     maxEntries,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.expired(time.Now()) {
		if ok {
			c.removeLocked(e)
		}
		c.stats.Misses++
		return nil, false, nil
	}
	c.lru.MoveToFront(e.elem)
	c.stats.Hits++
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value, ttl)
	return nil
}

func (c *MemoryCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.expired(time.Now()) {
		return false, nil
	}
	c.setLocked(key, value, ttl)
	return true, nil
}

func (c *MemoryCache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if e, ok := c.entries[key]; ok && !e.expired(time.Now()) {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err == nil {
			n = parsed
		}
		n++
		// Keep the original window: do not extend the TTL on increment
		e.value = []byte(strconv.FormatInt(n, 10))
		c.lru.MoveToFront(e.elem)
		return n, nil
	}
	n = 1
	c.setLocked(key, []byte("1"), ttl)
	return n, nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
	return nil
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Entries = len(c.entries)
	return stats
}

func (c *MemoryCache) Close() error { return nil }

func (c *MemoryCache) setLocked(key string, value []byte, ttl time.Duration) {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if e, ok := c.entries[key]; ok {
		e.value = stored
		e.expiresAt = expiresAt
		c.lru.MoveToFront(e.elem)
		return
	}

	e := &memoryEntry{key: key, value: stored, expiresAt: expiresAt}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e

	for len(c.entries) > c.max {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*memoryEntry))
		c.stats.Evictions++
	}
}

func (c *MemoryCache) removeLocked(e *memoryEntry) {
	c.lru.Remove(e.elem)
	delete(c.entries, e.key)
}

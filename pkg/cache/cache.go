package cache

import (
	"context"
	"time"
)

// Cache is the unified Redis-or-in-process cache. Values are opaque bytes;
// callers own serialisation. Every entry carries an explicit TTL; there
// are no weakly referenced or GC-driven evictions.
type Cache interface {
	// Get returns the value and whether the key was present and fresh
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Add stores a value only if the key is absent, returning whether it
	// was stored. This is the single-use primitive behind nonce tracking.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Increment bumps a counter key, creating it with the ttl on first
	// use, and returns the new value. Used for rate-limit windows and
	// install-key failure counters.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	Delete(ctx context.Context, key string) error

	// Stats exposes hit/miss/error counters
	Stats() Stats

	Close() error
}

// Stats are the cache's observability counters
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Errors    int64 `json:"errors"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
}

// Config selects and tunes a cache backend
type Config struct {
	// Backend is "memory" or "redis"
	Backend string

	// MaxEntries caps the memory backend's LRU (default 10000)
	MaxEntries int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	// KeyPrefix namespaces all keys (default "antcode")
	KeyPrefix string
}

// New constructs the configured cache backend
func New(cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisCache(cfg)
	default:
		return NewMemoryCache(cfg.MaxEntries), nil
	}
}

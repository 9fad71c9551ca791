/*
Package cache provides a small TTL cache behind a backend-agnostic interface.

AntCode uses the cache for hot lookups that would otherwise hit the store on
every request: auth token verification, node records, checkpoints, and
install-key claims. Two backends implement the interface: an in-process LRU
with per-entry TTL and a Redis client for shared deployments.

# Core Operations

  - Get / Set: byte-slice values with a per-entry TTL
  - Add: store only if absent; the single-use primitive behind nonces
  - Increment: counter with a window TTL, for rate limits
  - Delete: explicit invalidation
  - Stats: hit/miss/error/eviction counters

# Usage

	c, err := cache.New(cache.Config{Backend: "memory", MaxEntries: 10000})
	if err != nil {
		return err
	}

	if err := c.Set(ctx, "node:"+id, payload, 5*time.Minute); err != nil {
		return err
	}

	raw, ok, err := c.Get(ctx, "node:"+id)
	if !ok {
		// fall through to the store
	}

	fresh, err := c.Add(ctx, "nonce:"+nonce, []byte{1}, 10*time.Minute)
	if !fresh {
		// replay
	}

Redis backend:

	c, err := cache.New(cache.Config{
		Backend:   "redis",
		RedisAddr: "redis:6379",
		KeyPrefix: "antcode",
	})

# Eviction

The memory backend evicts the least recently used entry once MaxEntries is
reached, and lazily drops expired entries on read. The Redis backend
delegates expiry to the server.

# Integration Points

  - pkg/auth: nonce claims, rate counters, install-key block TTLs
  - pkg/registry: node record read-through cache
  - pkg/checkpoint: fast-path checkpoint copies
  - pkg/manager: owns the cache lifecycle and hands it to the above
*/
package cache

package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the unified cache with a shared Redis instance so
// multiple masters observe the same checkpoints and nonce claims
type RedisCache struct {
	rdb    *redis.Client
	prefix string

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// NewRedisCache connects to Redis and verifies it with a ping
func NewRedisCache(cfg Config) (*RedisCache, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "antcode"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisCache{rdb: rdb, prefix: prefix}, nil
}

func (c *RedisCache) key(k string) string {
	return c.prefix + ":cache:" + k
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		c.errs.Add(1)
		return nil, false, err
	}
	c.hits.Add(1)
	return value, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.rdb.Set(ctx, c.key(key), value, ttl).Err()
	if err != nil {
		c.errs.Add(1)
	}
	return err
}

func (c *RedisCache) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	stored, err := c.rdb.SetNX(ctx, c.key(key), value, ttl).Result()
	if err != nil {
		c.errs.Add(1)
		return false, err
	}
	return stored, nil
}

func (c *RedisCache) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := c.key(key)
	n, err := c.rdb.Incr(ctx, k).Result()
	if err != nil {
		c.errs.Add(1)
		return 0, err
	}
	if n == 1 && ttl > 0 {
		// First hit opens the window
		if err := c.rdb.Expire(ctx, k, ttl).Err(); err != nil {
			c.errs.Add(1)
			return n, err
		}
	}
	return n, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	err := c.rdb.Del(ctx, c.key(key)).Err()
	if err != nil {
		c.errs.Add(1)
	}
	return err
}

func (c *RedisCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errs.Load(),
	}
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

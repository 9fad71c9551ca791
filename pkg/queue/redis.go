package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/antcode-sh/antcode/pkg/log"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// priorityScale leaves enough headroom below one priority step for a
	// unix-seconds enqueue timestamp, so the ZSET score orders by
	// (priority, enqueue time)
	priorityScale = 1e10

	reconnectAttempts = 3
	reconnectBackoff  = 500 * time.Millisecond
)

// RedisBackend stores the queue in a shared sorted set so multiple masters
// can drain one backlog. Envelope bodies live in companion string keys.
type RedisBackend struct {
	rdb       *redis.Client
	cfg       Config
	keyQueue  string
	keyPrefix string
	logger    zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewRedisBackend connects to Redis and verifies it with a ping
func NewRedisBackend(cfg Config) (*RedisBackend, error) {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "antcode"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	b := &RedisBackend{
		rdb:       rdb,
		cfg:       cfg,
		keyQueue:  prefix + ":queue",
		keyPrefix: prefix,
		logger:    log.WithComponent("queue"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, &types.QueueUnavailableError{Backend: "redis", Err: err}
	}
	return b, nil
}

func (r *RedisBackend) dataKey(taskID string) string {
	return r.keyPrefix + ":task_data:" + taskID
}

func score(priority int, enqueuedAt time.Time) float64 {
	return float64(priority)*priorityScale + float64(enqueuedAt.Unix())
}

// isConnectionError distinguishes transport-level failures, which are worth
// a reconnect cycle, from ordinary command results
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// withRetry runs op, retrying connection-class failures up to three times
// with linear back-off before surfacing a typed unavailability error
func (r *RedisBackend) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= reconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * reconnectBackoff):
			}
			if pingErr := r.rdb.Ping(ctx).Err(); pingErr != nil {
				err = pingErr
				continue
			}
			r.logger.Warn().Int("attempt", attempt).Msg("redis reconnected")
		}
		err = op(ctx)
		if !isConnectionError(err) {
			return err
		}
	}
	return &types.QueueUnavailableError{Backend: "redis", Err: err}
}

func (r *RedisBackend) Enqueue(ctx context.Context, taskID, projectID string, priority int, data json.RawMessage, projectType types.ProjectType) (bool, error) {
	task := &types.QueuedTask{
		TaskID:      taskID,
		ProjectID:   projectID,
		ProjectType: projectType,
		Priority:    priority,
		EnqueuedAt:  time.Now(),
		Data:        data,
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return false, err
	}

	accepted := false
	err = r.withRetry(ctx, func(ctx context.Context) error {
		// Idempotence check first; the write pair is pipelined after it
		_, err := r.rdb.ZScore(ctx, r.keyQueue, taskID).Result()
		if err == nil {
			accepted = false
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}

		pipe := r.rdb.Pipeline()
		pipe.ZAdd(ctx, r.keyQueue, redis.Z{Score: score(priority, task.EnqueuedAt), Member: taskID})
		pipe.Set(ctx, r.dataKey(taskID), payload, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if accepted {
		r.stats.Enqueued++
	} else {
		r.stats.Rejected++
	}
	r.mu.Unlock()
	return accepted, nil
}

func (r *RedisBackend) Dequeue(ctx context.Context, timeout time.Duration) (*types.QueuedTask, error) {
	deadline := time.Now().Add(timeout)
	for {
		var task *types.QueuedTask
		err := r.withRetry(ctx, func(ctx context.Context) error {
			// ZPOPMIN keeps removal atomic across competing masters
			members, err := r.rdb.ZPopMin(ctx, r.keyQueue, 1).Result()
			if err != nil {
				return err
			}
			if len(members) == 0 {
				task = nil
				return nil
			}
			taskID := members[0].Member.(string)
			raw, err := r.rdb.GetDel(ctx, r.dataKey(taskID)).Result()
			if errors.Is(err, redis.Nil) {
				// Data evicted out from under the index entry; drop it
				task = nil
				return nil
			}
			if err != nil {
				return err
			}
			var decoded types.QueuedTask
			if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
				return fmt.Errorf("corrupt queue envelope for %s: %w", taskID, err)
			}
			task = &decoded
			return nil
		})
		if err != nil {
			return nil, err
		}
		if task != nil {
			r.mu.Lock()
			r.stats.Dequeued++
			r.mu.Unlock()
			return task, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (r *RedisBackend) Cancel(ctx context.Context, taskID string) (bool, error) {
	removed := false
	err := r.withRetry(ctx, func(ctx context.Context) error {
		n, err := r.rdb.ZRem(ctx, r.keyQueue, taskID).Result()
		if err != nil {
			return err
		}
		if err := r.rdb.Del(ctx, r.dataKey(taskID)).Err(); err != nil {
			return err
		}
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed {
		r.mu.Lock()
		r.stats.Cancelled++
		r.mu.Unlock()
	}
	return removed, nil
}

func (r *RedisBackend) UpdatePriority(ctx context.Context, taskID string, priority int) (bool, error) {
	updated := false
	err := r.withRetry(ctx, func(ctx context.Context) error {
		raw, err := r.rdb.Get(ctx, r.dataKey(taskID)).Result()
		if errors.Is(err, redis.Nil) {
			updated = false
			return nil
		}
		if err != nil {
			return err
		}
		var task types.QueuedTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return fmt.Errorf("corrupt queue envelope for %s: %w", taskID, err)
		}
		task.Priority = priority
		payload, err := json.Marshal(&task)
		if err != nil {
			return err
		}

		pipe := r.rdb.Pipeline()
		// XX: only rewrite the score of an entry that is still queued.
		// The original enqueue time stays inside the score.
		pipe.ZAddXX(ctx, r.keyQueue, redis.Z{Score: score(priority, task.EnqueuedAt), Member: taskID})
		pipe.Set(ctx, r.dataKey(taskID), payload, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		updated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if updated {
		r.mu.Lock()
		r.stats.Reprior++
		r.mu.Unlock()
	}
	return updated, nil
}

func (r *RedisBackend) Peek(ctx context.Context) (*types.QueuedTask, error) {
	var task *types.QueuedTask
	err := r.withRetry(ctx, func(ctx context.Context) error {
		members, err := r.rdb.ZRangeWithScores(ctx, r.keyQueue, 0, 0).Result()
		if err != nil {
			return err
		}
		if len(members) == 0 {
			task = nil
			return nil
		}
		taskID := members[0].Member.(string)
		raw, err := r.rdb.Get(ctx, r.dataKey(taskID)).Result()
		if errors.Is(err, redis.Nil) {
			task = nil
			return nil
		}
		if err != nil {
			return err
		}
		var decoded types.QueuedTask
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return fmt.Errorf("corrupt queue envelope for %s: %w", taskID, err)
		}
		task = &decoded
		return nil
	})
	return task, err
}

func (r *RedisBackend) Size(ctx context.Context) (int, error) {
	var n int64
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.rdb.ZCard(ctx, r.keyQueue).Result()
		return err
	})
	return int(n), err
}

func (r *RedisBackend) Contains(ctx context.Context, taskID string) (bool, error) {
	found := false
	err := r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.rdb.ZScore(ctx, r.keyQueue, taskID).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (r *RedisBackend) Status(ctx context.Context) (*Status, error) {
	healthy := r.rdb.Ping(ctx).Err() == nil
	depth := 0
	if healthy {
		if n, err := r.rdb.ZCard(ctx, r.keyQueue).Result(); err == nil {
			depth = int(n)
		}
	}
	r.mu.Lock()
	stats := r.stats
	r.mu.Unlock()
	return &Status{
		Depth:       depth,
		Stats:       stats,
		BackendType: "redis",
		Healthy:     healthy,
	}, nil
}

func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}

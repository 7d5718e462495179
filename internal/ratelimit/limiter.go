// Package ratelimit implements the sliding-window request quota used by
// demo mode. Two backends: in-memory for single-process deployments,
// Redis for shared quotas across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter is a sliding-window counter keyed by client identity.
type Limiter interface {
	// Allow consumes one slot if the window has capacity. Remaining is
	// the capacity left after this call.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, remaining int, err error)
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

// MemoryLimiter keeps per-key hit timestamps in process memory.
type MemoryLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	live := l.prune(key, now, window)
	if len(live) >= limit {
		return false, 0, nil
	}
	live = append(live, now)
	l.hits[key] = live
	return true, limit - len(live), nil
}

func (l *MemoryLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := limit - len(l.prune(key, l.now(), window))
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
	return nil
}

// prune drops hits older than the window. Caller holds the lock.
func (l *MemoryLimiter) prune(key string, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	live := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	if len(live) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = live
	return live
}

// RedisLimiter stores hits in a sorted set scored by nanosecond
// timestamp, shared across gateway replicas.
type RedisLimiter struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedisLimiter(client *redis.Client, log *zap.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, log: log}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error) {
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCount(ctx, key, fmt.Sprintf("%d", windowStart), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit check: %w", err)
	}

	current, err := count.Result()
	if err != nil {
		return false, 0, err
	}
	if current >= int64(limit) {
		return false, 0, nil
	}

	member := redis.Z{Score: float64(now), Member: fmt.Sprintf("%d", now)}
	if err := r.client.ZAdd(ctx, key, member).Err(); err != nil {
		return false, 0, fmt.Errorf("rate limit add: %w", err)
	}
	r.client.Expire(ctx, key, window)

	remaining := limit - int(current) - 1
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, nil
}

func (r *RedisLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCount(ctx, key, fmt.Sprintf("%d", windowStart), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit remaining: %w", err)
	}

	current, err := count.Result()
	if err != nil {
		return 0, err
	}
	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

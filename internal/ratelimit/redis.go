package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is the production Limiter, backed by a shared Redis
// instance so the counter is consistent across every gateway replica.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter builds a RedisLimiter against an already-constructed
// client (shared across the process, per the teacher's connection-pooling
// convention for outbound clients).
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func key(instanceID string) string {
	return "rate_limit:" + instanceID
}

// Check increments the counter first and only then compares it against the
// ceiling: a Get-then-Incr sequence leaves a window where concurrent
// callers can all read a count below the ceiling before any of them
// writes, letting the actual count run past it. INCR is atomic on a single
// key, so whichever caller's increment lands last still sees a count that
// reflects every prior caller.
func (l *RedisLimiter) Check(ctx context.Context, instanceID string, ceiling, windowSeconds int) error {
	k := key(instanceID)
	window := time.Duration(windowSeconds) * time.Second

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, window).Err(); err != nil {
			return fmt.Errorf("setting rate limit window: %w", err)
		}
	}

	if count > int64(ceiling) {
		ttl, ttlErr := l.client.TTL(ctx, k).Result()
		retryAfter := windowSeconds
		if ttlErr == nil && ttl > 0 {
			retryAfter = int(ttl.Seconds())
		}
		return rateLimitedError(instanceID, ceiling, windowSeconds, retryAfter)
	}

	return nil
}

func (l *RedisLimiter) Remaining(ctx context.Context, instanceID string, ceiling int) (int, error) {
	count, err := l.client.Get(ctx, key(instanceID)).Int()
	if err == redis.Nil {
		return ceiling, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading rate limit counter: %w", err)
	}
	remaining := ceiling - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, instanceID string) error {
	if err := l.client.Del(ctx, key(instanceID)).Err(); err != nil {
		return fmt.Errorf("resetting rate limit counter: %w", err)
	}
	return nil
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgateway/issuegateway/internal/apierrors"
)

func newTestRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLimiter(client), mr
}

func TestRedisLimiterAllowsUpToCeiling(t *testing.T) {
	l, _ := newTestRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Check(ctx, "inst-1", 3, 60))
	}

	err := l.Check(ctx, "inst-1", 3, 60)
	require.Error(t, err)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.KindRateLimited, apiErr.Kind)
	assert.GreaterOrEqual(t, apiErr.RetryAfter, 1)
}

func TestRedisLimiterResetsAfterWindowExpires(t *testing.T) {
	l, mr := newTestRedisLimiter(t)
	ctx := context.Background()

	assert.NoError(t, l.Check(ctx, "inst-2", 1, 1))
	assert.Error(t, l.Check(ctx, "inst-2", 1, 1))

	mr.FastForward(2 * time.Second)
	assert.NoError(t, l.Check(ctx, "inst-2", 1, 1))
}

func TestRedisLimiterResetClearsCounter(t *testing.T) {
	l, _ := newTestRedisLimiter(t)
	ctx := context.Background()

	assert.NoError(t, l.Check(ctx, "inst-3", 1, 60))
	assert.Error(t, l.Check(ctx, "inst-3", 1, 60))

	require.NoError(t, l.Reset(ctx, "inst-3"))
	assert.NoError(t, l.Check(ctx, "inst-3", 1, 60))
}

func TestMemoryLimiterAllowsUpToCeiling(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.NoError(t, l.Check(ctx, "inst-1", 2, 60))
	}
	assert.Error(t, l.Check(ctx, "inst-1", 2, 60))
}

func TestMemoryLimiterRemainingDecreases(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	remaining, err := l.Remaining(ctx, "inst-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	require.NoError(t, l.Check(ctx, "inst-1", 5, 60))
	remaining, err = l.Remaining(ctx, "inst-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		allowed, remaining, err := l.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, remaining)
	}

	allowed, _, err := l.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Other clients are unaffected.
	allowed, remaining, err := l.Allow(ctx, "5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining)

	// Hits expire as the window slides past them.
	now = now.Add(61 * time.Second)
	allowed, remaining, err = l.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining)
}

func TestMemoryLimiter_Reset(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "k", 3, time.Minute)
	}
	allowed, _, _ := l.Allow(ctx, "k", 3, time.Minute)
	assert.False(t, allowed)

	require.NoError(t, l.Reset(ctx, "k"))
	allowed, remaining, _ := l.Allow(ctx, "k", 3, time.Minute)
	assert.True(t, allowed)
	assert.Equal(t, 2, remaining)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisLimiter(client, zap.NewNop())
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		allowed, remaining, err := l.Allow(ctx, "demo:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, want, remaining)
	}

	allowed, _, err := l.Allow(ctx, "demo:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	remaining, err := l.Remaining(ctx, "demo:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	require.NoError(t, l.Reset(ctx, "demo:1.2.3.4"))
	remaining, err = l.Remaining(ctx, "demo:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

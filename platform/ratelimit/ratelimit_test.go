package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowWithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter := NewFixedWindow(NewRedisStore(client), 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	other, err := limiter.Allow(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "partitions are independent")

	mr.FastForward(time.Minute + time.Second)
	d, err = limiter.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "window resets after expiry")
}

func TestFixedWindowWithMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	limiter := NewFixedWindow(store, 1, time.Minute)
	ctx := context.Background()

	d, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)

	now = now.Add(61 * time.Second)
	d, err = limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	limiter := NewFixedWindow(NewMemoryStore(), 0, time.Minute)
	for i := 0; i < 10; i++ {
		d, err := limiter.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
}

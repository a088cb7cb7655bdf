package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBucket(t *testing.T, limit int, window time.Duration) (*TokenBucket, *time.Time) {
	t.Helper()
	tb, err := NewTokenBucket(Config{Limit: limit, Window: window})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tb.Close() })

	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tb.now = func() time.Time { return now }
	return tb, &now
}

func TestNewTokenBucket_Invalid(t *testing.T) {
	_, err := NewTokenBucket(Config{Limit: 0, Window: time.Second})
	assert.Error(t, err)
	_, err = NewTokenBucket(Config{Limit: 1})
	assert.Error(t, err)
}

func TestTokenBucket_Exhaust(t *testing.T) {
	tb, _ := newBucket(t, 3, time.Minute)
	ctx := context.Background()

	for want := 2; want >= 0; want-- {
		d, err := tb.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	d, err := tb.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	d, err = tb.Allow(ctx, "b")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "keys have separate buckets")
}

func TestTokenBucket_Refill(t *testing.T) {
	tb, now := newBucket(t, 2, 2*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := tb.Allow(ctx, "a")
		require.NoError(t, err)
	}
	d, _ := tb.Allow(ctx, "a")
	assert.False(t, d.Allowed)
	assert.Equal(t, now.Add(2*time.Second), d.ResetAt)
	assert.Equal(t, now.Add(time.Second), d.RetryAt, "one token refills in a second")

	*now = now.Add(time.Second)
	d, _ = tb.Allow(ctx, "a")
	assert.True(t, d.Allowed)

	d, _ = tb.Allow(ctx, "a")
	assert.False(t, d.Allowed)
}

func TestTokenBucket_RetryAtNextToken(t *testing.T) {
	tb, now := newBucket(t, 100, time.Minute)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		d, err := tb.Allow(ctx, "a")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.True(t, d.RetryAt.IsZero())
	}

	d, err := tb.Allow(ctx, "a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, now.Add(600*time.Millisecond), d.RetryAt, time.Millisecond)
	assert.WithinDuration(t, now.Add(time.Minute), d.ResetAt, time.Millisecond)

	*now = now.Add(601 * time.Millisecond)
	d, err = tb.Allow(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestTokenBucket_Sweep(t *testing.T) {
	tb, now := newBucket(t, 1, time.Second)

	_, err := tb.Allow(context.Background(), "a")
	require.NoError(t, err)

	*now = now.Add(2 * time.Second)
	tb.sweep()
	assert.Empty(t, tb.buckets)
}

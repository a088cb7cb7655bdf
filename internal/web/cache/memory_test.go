package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemory(t *testing.T) *MemoryBackend {
	t.Helper()
	m := NewMemoryBackend(DefaultConfig())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMemoryBackend_SetAndGet(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryBackend_Expiry(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "short", []byte("a"), time.Second))
	require.NoError(t, m.Set(ctx, "forever", []byte("b"), -1))

	now = now.Add(2 * time.Second)
	_, err := m.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get(ctx, "forever")
	assert.NoError(t, err)

	m.removeExpired()
	assert.Equal(t, 1, m.Len())
}

func TestMemoryBackend_Advance(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()

	gen, err := m.Generation(ctx)
	require.NoError(t, err)
	assert.Zero(t, gen)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	gen, err = m.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Zero(t, m.Len())

	gen, err = m.Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestMemoryBackend_CanceledContext(t *testing.T) {
	m := newMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, m.Set(ctx, "k", []byte("v"), 0), context.Canceled)
	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TokenBucket is an in-memory limiter. Each key owns a bucket of Limit
// tokens refilled continuously at Limit per Window.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
	done    chan struct{}
	closed  sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewTokenBucket creates a limiter and starts the sweep of idle buckets
func NewTokenBucket(config Config) (*TokenBucket, error) {
	if config.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}

	tb := &TokenBucket{
		buckets: make(map[string]*bucket),
		limit:   config.Limit,
		window:  config.Window,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go tb.sweepLoop(2 * config.Window)
	return tb, nil
}

// Allow takes one token from the bucket of key
func (tb *TokenBucket) Allow(_ context.Context, key string) (*Decision, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.limit), lastSeen: now}
		tb.buckets[key] = b
	}

	rate := float64(tb.limit) / tb.window.Seconds()
	if elapsed := now.Sub(b.lastSeen).Seconds(); elapsed > 0 {
		b.tokens = min(float64(tb.limit), b.tokens+elapsed*rate)
	}
	b.lastSeen = now

	d := &Decision{Limit: tb.limit}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	} else {
		d.RetryAt = now.Add(time.Duration((1 - b.tokens) / rate * float64(time.Second)))
	}
	d.Remaining = int(b.tokens)

	// time until the bucket is full again
	missing := float64(tb.limit) - b.tokens
	d.ResetAt = now.Add(time.Duration(missing / rate * float64(time.Second)))
	return d, nil
}

// Close stops the sweep
func (tb *TokenBucket) Close() error {
	tb.closed.Do(func() { close(tb.done) })
	return nil
}

func (tb *TokenBucket) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tb.sweep()
		case <-tb.done:
			return
		}
	}
}

// sweep drops buckets idle long enough to be full again
func (tb *TokenBucket) sweep() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	for key, b := range tb.buckets {
		if now.Sub(b.lastSeen) > tb.window {
			delete(tb.buckets, key)
		}
	}
}

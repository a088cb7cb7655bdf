// Package ratelimit throttles API clients, either per process with token
// buckets or across processes with a Redis sliding window.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether a request of the client identified by key may
// proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (*Decision, error)
}

// Decision is the outcome of Allow
type Decision struct {
	// Limit is the number of requests allowed per window
	Limit int
	// Remaining is the number of requests left in the current window
	Remaining int
	// ResetAt is when the client regains its full capacity
	ResetAt time.Time
	// RetryAt is set on denied decisions: the earliest time the next
	// request can pass
	RetryAt time.Time
	Allowed bool
}

// Config is shared by the limiters
type Config struct {
	// Limit is the number of requests allowed per Window
	Limit  int
	Window time.Duration
}

// DefaultConfig allows 100 requests per minute
func DefaultConfig() Config {
	return Config{Limit: 100, Window: time.Minute}
}

// Package cache serves repeated API reads from a response cache. Entries are
// keyed by a generation number that every successful write advances, so a
// write makes all earlier entries unreachable at once.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Backend.Get for absent or expired keys
var ErrMiss = errors.New("cache miss")

// Backend stores cached responses
type Backend interface {
	// Get returns the value stored under key or ErrMiss
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Generation returns the current generation number
	Generation(ctx context.Context) (int64, error)
	// Advance moves to a new generation and returns it
	Advance(ctx context.Context) (int64, error)
	// Close releases the backend's resources
	Close() error
}

// Config holds the settings shared by backends
type Config struct {
	// DefaultTTL applies when Set is called without a ttl
	DefaultTTL time.Duration
	// Prefix is prepended to every key
	Prefix string
}

// DefaultConfig returns the default backend configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "restful:",
	}
}

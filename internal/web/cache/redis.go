package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Config   Config
}

// RedisBackend stores entries in Redis, letting several API processes share
// one cache and one generation counter
type RedisBackend struct {
	client *redis.Client
	config Config
}

// NewRedisBackend connects to Redis and checks the connection
func NewRedisBackend(ctx context.Context, config RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", config.Addr, err)
	}
	return NewRedisBackendWithClient(client, config.Config), nil
}

// NewRedisBackendWithClient wraps an existing client
func NewRedisBackendWithClient(client *redis.Client, config Config) *RedisBackend {
	return &RedisBackend{client: client, config: config}
}

// Get returns the value stored under key
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.config.Prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return value, err
}

// Set stores value under key
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.config.DefaultTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	return r.client.Set(ctx, r.config.Prefix+key, value, ttl).Err()
}

// Generation returns the shared generation counter, zero when unset
func (r *RedisBackend) Generation(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, r.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Advance increments the shared generation counter. Entries of older
// generations are left to expire.
func (r *RedisBackend) Advance(ctx context.Context) (int64, error) {
	return r.client.Incr(ctx, r.generationKey()).Result()
}

// Close closes the Redis connection
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) generationKey() string {
	return r.config.Prefix + "generation"
}

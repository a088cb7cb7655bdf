package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims entries older than the window, then admits the
// request when fewer than limit remain. It returns {allowed, count,
// oldest score}. ARGV is now, window start, limit, ttl in milliseconds and
// the member to add.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[3])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local current = redis.call('ZCARD', key)
local allowed = 0
if current < limit then
	redis.call('ZADD', key, ARGV[1], member)
	current = current + 1
	allowed = 1
end
redis.call('PEXPIRE', key, ARGV[4])

local oldest = redis.call('ZRANGE', key, '0', '0', 'WITHSCORES')
local first = tonumber(ARGV[1])
if oldest[2] then
	first = tonumber(oldest[2])
end
return {allowed, current, first}
`)

// RedisLimiter is a sliding window limiter shared by every process using
// the same Redis
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter storing its windows under prefix
func NewRedisLimiter(client *redis.Client, config Config, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Limit <= 0 {
		return nil, errors.New("limit must be greater than 0")
	}
	if config.Window <= 0 {
		return nil, errors.New("window must be greater than 0")
	}
	return &RedisLimiter{
		client: client,
		limit:  config.Limit,
		window: config.Window,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Allow records a request of key if the window has room for it
func (r *RedisLimiter) Allow(ctx context.Context, key string) (*Decision, error) {
	now := r.now()
	result, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixMilli(),
		now.Add(-r.window).UnixMilli(),
		r.limit,
		r.window.Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(result) != 3 {
		return nil, fmt.Errorf("unexpected rate limit result %v", result)
	}

	d := &Decision{
		Limit:     r.limit,
		Remaining: max(r.limit-int(result[1]), 0),
		ResetAt:   time.UnixMilli(result[2]).Add(r.window),
		Allowed:   result[0] == 1,
	}
	if !d.Allowed {
		// a slot frees when the oldest request leaves the window
		d.RetryAt = d.ResetAt
	}
	return d, nil
}

// Reset clears the window of key
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

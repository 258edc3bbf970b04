package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the window, then records the request if under the limit.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local counter_key = KEYS[2]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end

local seq = redis.call('INCR', counter_key)
redis.call('ZADD', key, now, now .. ':' .. seq)
redis.call('PEXPIRE', key, window_ms)
redis.call('PEXPIRE', counter_key, window_ms)
return 1
`)

// SlidingWindow limits submissions with a Redis sorted set per key.
type SlidingWindow struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewSlidingWindow allows limit submissions per key in any window of the given size.
func NewSlidingWindow(client *redis.Client, limit int, window time.Duration, prefix string) *SlidingWindow {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindow{client: client, limit: limit, window: window, prefix: prefix}
}

// Allow records the submission and reports whether it fits in the window.
func (l *SlidingWindow) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	redisKey := l.prefix + key

	allowed, err := slidingWindowScript.Run(ctx, l.client, []string{redisKey, redisKey + ":seq"},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return allowed == 1, nil
}

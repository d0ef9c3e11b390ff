// Package ratelimit provides a fixed-window request counter on Redis.
//
// The first hit in a window creates the counter and sets its expiry to the
// window length; later hits only increment. Once the counter reaches the
// limit, rejected hits leave it unchanged. When the key expires the next
// request starts a new window at 1.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Result struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// hitScript returns {count, pttl, allowed}. A hit over the limit is not
// counted. The expiry is also restored when the key somehow lost its TTL so
// a counter can never become permanent.
var hitScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[2]) then
	if redis.call("PTTL", KEYS[1]) < 0 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return {current, redis.call("PTTL", KEYS[1]), 0}
end
local count = redis.call("INCR", KEYS[1])
if count == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1]), 1}
`)

type RedisLimiter struct {
	client redis.Cmdable
}

func NewRedisLimiter(client redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 || window <= 0 {
		return Result{}, fmt.Errorf("invalid rate limit %d per %s", limit, window)
	}

	vals, err := hitScript.Run(ctx, l.client, []string{key}, window.Milliseconds(), limit).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check for %s: %w", key, err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("rate limit check for %s: unexpected reply %v", key, vals)
	}

	count, ttl := vals[0], time.Duration(vals[1])*time.Millisecond
	if ttl < 0 {
		ttl = window
	}

	res := Result{
		Allowed: vals[2] == 1,
		Count:   count,
		Limit:   limit,
	}
	if remaining := int64(limit) - count; remaining > 0 {
		res.Remaining = int(remaining)
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}

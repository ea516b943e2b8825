package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "replyrocket:auth:rl:"

var errUnexpectedReply = errors.New("unexpected redis reply")

// INCR then PEXPIRE on the first hit, atomically.
var windowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end

local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[2])
end

if current > tonumber(ARGV[1]) then
  return {0, ttl}
end
return {1, ttl}
`)

// RedisLimiter shares counters between replicas through Redis. Redis owns
// the clock, so the now argument is ignored.
type RedisLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
}

func NewRedis(client redis.Scripter, limit int, win time.Duration, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLimiter{client: client, limit: limit, window: win, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, _ time.Time) (bool, time.Duration, error) {
	windowMS := l.window.Milliseconds()
	if windowMS <= 0 {
		return false, 0, fmt.Errorf("invalid rate limit window %s", l.window)
	}

	res, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, l.limit, windowMS).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 2 {
		return false, 0, errUnexpectedReply
	}

	retryAfter := time.Duration(res[1]) * time.Millisecond
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, max(retryAfter, 0), nil
}

package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// evaluateScript checks attempt windows (KEYS[1]) and failure windows
// (KEYS[2]) and logs the attempt when not limited.
//
// ARGV: now_ms, record, member, n_attempt_windows, (dur_ms, max)...,
// n_failure_windows, (dur_ms, max)...
var evaluateLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local record = ARGV[2] == "1"
local member = ARGV[3]
local idx = 4
local limited = 0
local retry = 0

local function check(key)
  local n = tonumber(ARGV[idx])
  idx = idx + 1
  local keep = 0
  for i = 1, n do
    local dur = tonumber(ARGV[idx])
    local max = tonumber(ARGV[idx + 1])
    idx = idx + 2
    if dur > keep then keep = dur end
    local floor = "(" .. (now - dur)
    local count = redis.call("ZCOUNT", key, floor, "+inf")
    if count >= max then
      limited = 1
      local oldest = redis.call("ZRANGEBYSCORE", key, floor, "+inf", "WITHSCORES", "LIMIT", count - max, 1)
      local wait = tonumber(oldest[2]) + dur - now
      if wait > retry then retry = wait end
    end
  end
  if keep > 0 then
    redis.call("ZREMRANGEBYSCORE", key, "-inf", now - keep)
  end
  return keep
end

local keepAttempts = check(KEYS[1])
check(KEYS[2])

if limited == 0 and record and keepAttempts > 0 then
  redis.call("ZADD", KEYS[1], now, member)
  redis.call("PEXPIRE", KEYS[1], keepAttempts)
end

return {limited, retry}
`)

var appendLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local keep = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - keep)
redis.call("ZADD", KEYS[1], now, ARGV[2])
redis.call("PEXPIRE", KEYS[1], keep)
return 1
`)

type redisBackend struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis returns a Limiter whose logs live in Redis under prefix.
func NewRedis(rdb redis.UniversalClient, prefix string, now func() time.Time) *Limiter {
	return newLimiter(&redisBackend{rdb: rdb, prefix: prefix}, now)
}

func (b *redisBackend) key(k string) string {
	if b.prefix == "" {
		return k
	}
	return b.prefix + ":" + k
}

func windowArgs(args []interface{}, windows []Window) []interface{} {
	args = append(args, len(windows))
	for _, w := range windows {
		args = append(args, w.Duration.Milliseconds(), w.Max)
	}
	return args
}

func (b *redisBackend) evaluate(ctx context.Context, req evalRequest) (Decision, error) {
	record := "0"
	if req.record {
		record = "1"
	}
	args := []interface{}{req.now.UnixMilli(), record, member(req.now)}
	args = windowArgs(args, req.attempts)
	args = windowArgs(args, req.failures)

	res, err := evaluateLua.Run(ctx, b.rdb, []string{b.key(req.attemptKey), b.key(req.failureKey)}, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply", ErrRedisUnavailable)
	}
	return Decision{
		Limited:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}, nil
}

func (b *redisBackend) append(ctx context.Context, key string, at time.Time, retain time.Duration) error {
	err := appendLua.Run(ctx, b.rdb, []string{b.key(key)}, at.UnixMilli(), member(at), retain.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (b *redisBackend) clear(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	if err := b.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// member makes sorted-set members unique when two entries share a millisecond.
func member(at time.Time) string {
	return strconv.FormatInt(at.UnixMilli(), 10) + "-" + uuid.NewString()
}

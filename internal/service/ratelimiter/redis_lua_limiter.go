// Package ratelimiter provides the per-user submission rate limit backed
// by a Redis token bucket.
package ratelimiter

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter gates essay submissions per caller key. Implementations fail
// open: an unavailable backend must not take the submission path down.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig describes one token bucket shared by every caller key.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// NewBucketConfigPerMinute builds a bucket allowing perMinute submissions
// with matching burst capacity.
func NewBucketConfigPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{
		Capacity:   int64(perMinute),
		RefillRate: float64(perMinute) / 60.0,
	}
}

// RedisLuaLimiter implements Limiter with an atomic Lua token bucket so
// concurrent submissions from one user cannot double-spend tokens.
type RedisLuaLimiter struct {
	redis  *redis.Client
	bucket BucketConfig
	script *redis.Script
}

// NewRedisLuaLimiter constructs the limiter. A nil client yields a nil
// limiter, which allows everything.
func NewRedisLuaLimiter(rdb *redis.Client, bucket BucketConfig) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	return &RedisLuaLimiter{
		redis:  rdb,
		bucket: bucket,
		script: redis.NewScript(luaTokenBucketScript),
	}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  if refill_rate > 0 then
    retry_after = (1 - tokens) / refill_rate
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / math.max(refill_rate, 0.001)) * 2)

return { allowed, tokens, retry_after }
`

// Allow spends one token for key. Redis errors and missing configuration
// fail open.
func (l *RedisLuaLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l == nil || l.redis == nil {
		return true, 0, nil
	}
	if l.bucket.Capacity <= 0 || l.bucket.RefillRate <= 0 {
		return true, 0, nil
	}

	nowSec := float64(time.Now().UnixNano()) / 1e9
	redisKey := "rate:submit:" + key

	res, err := l.script.Run(ctx, l.redis, []string{redisKey}, l.bucket.Capacity, l.bucket.RefillRate, nowSec).Result()
	if err != nil {
		slog.Error("rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, 0, err
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		slog.Error("rate limiter unexpected script result", slog.String("key", key), slog.Any("result", res))
		return true, 0, nil
	}

	allowed := toInt64(vals[0]) == 1
	retryAfter := time.Duration(toFloat64(vals[2]) * float64(time.Second))
	return allowed, retryAfter, nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		if n == "1" {
			return 1
		}
	}
	return 0
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

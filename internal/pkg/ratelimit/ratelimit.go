package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision 单次限流判定结果。
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter 按 key（例如客户端 IP）做令牌桶限流。
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
tokens = math.min(burst, tokens + (delta * rate) / 1000.0)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms}
`

// RedisLimiter 基于 Redis Lua 脚本的分布式令牌桶，多实例共享配额。
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
	now    func() time.Time
}

func NewRedisRateLimiter(rdb *redis.Client, logger *slog.Logger, prefix string, rate float64, burst float64) *RedisLimiter {
	if prefix == "" {
		prefix = "maxyourpoints:ratelimit"
	}
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
		now:    time.Now,
	}
}

// Allow 尝试为 key 消耗一个令牌，不阻塞。
func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return Decision{Allowed: true}, nil
	}
	bucket := r.prefix + ":" + key
	res, err := r.script.Run(ctx, r.rdb, []string{bucket}, r.rate, r.burst, r.now().UnixMilli(), 1).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit eval: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return Decision{}, fmt.Errorf("ratelimit invalid result")
	}
	d := Decision{Allowed: toInt64(values[0]) == 1}
	if !d.Allowed {
		d.RetryAfter = time.Duration(toInt64(values[1])) * time.Millisecond
		if r.logger != nil {
			r.logger.Debug("rate limited", slog.String("bucket", bucket), slog.Duration("retry_after", d.RetryAfter))
		}
	}
	return d, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

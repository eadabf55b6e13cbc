package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter enforces provider-facing send limits with atomic Redis Lua
// scripts. A plain GET/check/INCR sequence races under concurrent
// dispatchers; the script checks every window and increments only when all
// pass.
type RateLimiter struct {
	redis  *redis.Client
	limits SendLimits

	multiLimitScript *redis.Script
}

// SendLimits caps the transport's request rate per window.
type SendLimits struct {
	PerSecond int
	PerMinute int
	PerDay    int
}

const multiLimitLuaScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local dailyKey = KEYS[3]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])
local dailyLimit = tonumber(ARGV[4])
local secondTTL = tonumber(ARGV[5])
local minuteTTL = tonumber(ARGV[6])
local dailyTTL = tonumber(ARGV[7])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")
local dayCurrent = tonumber(redis.call("GET", dailyKey) or "0")

-- Check every window BEFORE incrementing
if secCurrent + increment > secondLimit then
    return {0, 1, secCurrent}
end
if minCurrent + increment > minuteLimit then
    return {0, 2, minCurrent}
end
if dayCurrent + increment > dailyLimit then
    return {0, 3, dayCurrent}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, secondTTL)
end

local newMin = redis.call("INCRBY", minuteKey, increment)
if newMin == increment then
    redis.call("EXPIRE", minuteKey, minuteTTL)
end

local newDay = redis.call("INCRBY", dailyKey, increment)
if newDay == increment then
    redis.call("EXPIRE", dailyKey, dailyTTL)
end

return {1, 0, newDay}
`

// NewRateLimiter creates a limiter with a pre-compiled Lua script.
func NewRateLimiter(redisClient *redis.Client, limits SendLimits) *RateLimiter {
	return &RateLimiter{
		redis:            redisClient,
		limits:           limits,
		multiLimitScript: redis.NewScript(multiLimitLuaScript),
	}
}

// NewRateLimiterFromURL connects to Redis and builds a limiter.
func NewRateLimiterFromURL(redisURL string, limits SendLimits) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Printf("[RateLimiter] connected to Redis")
	return NewRateLimiter(client, limits), nil
}

// CheckAndIncrement atomically reserves n sends. When denied it returns how
// long to wait before the relevant window rolls over. A nil limiter always
// allows.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, n int) (allowed bool, waitTime time.Duration, err error) {
	if r == nil {
		return true, 0, nil
	}

	now := time.Now()
	secondKey := fmt.Sprintf("courier:ratelimit:sec:%d", now.Unix())
	minuteKey := fmt.Sprintf("courier:ratelimit:min:%d", now.Unix()/60)
	dailyKey := fmt.Sprintf("courier:ratelimit:day:%s", now.Format("2006-01-02"))

	result, err := r.multiLimitScript.Run(ctx, r.redis,
		[]string{secondKey, minuteKey, dailyKey},
		n,
		r.limits.PerSecond,
		r.limits.PerMinute,
		r.limits.PerDay,
		2,     // second TTL
		120,   // minute TTL
		90000, // daily TTL, 25 hours
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}

	switch result[1].(int64) {
	case 1:
		waitTime = time.Second
	case 2:
		waitTime = time.Duration(60-now.Second()) * time.Second
	case 3:
		return false, 0, fmt.Errorf("daily send limit of %d exhausted", r.limits.PerDay)
	}
	return false, waitTime, nil
}

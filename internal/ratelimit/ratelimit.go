// Package ratelimit enforces a local budget for provider API calls using
// atomic Redis Lua scripts. A plain GET → check → INCR sequence would race
// between worker instances; the script checks and increments in one step.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Budget defines the per-second and per-minute request allowance for the
// provider API. SendGrid's contact endpoints sit on the 600 req/min tier;
// the defaults leave headroom for other consumers of the same key.
type Budget struct {
	RequestsPerSecond int
	RequestsPerMinute int
}

// DefaultBudget is the stock allowance for the provider contact API.
var DefaultBudget = Budget{RequestsPerSecond: 10, RequestsPerMinute: 480}

// Lua script for atomic two-window rate limit check. Checks both windows
// before incrementing either, so a denied call consumes no budget.
const limitLuaScript = `
local secondKey = KEYS[1]
local minuteKey = KEYS[2]
local increment = tonumber(ARGV[1])
local secondLimit = tonumber(ARGV[2])
local minuteLimit = tonumber(ARGV[3])

local secCurrent = tonumber(redis.call("GET", secondKey) or "0")
local minCurrent = tonumber(redis.call("GET", minuteKey) or "0")

if secCurrent + increment > secondLimit then
    return {0, 1}
end
if minCurrent + increment > minuteLimit then
    return {0, 2}
end

local newSec = redis.call("INCRBY", secondKey, increment)
if newSec == increment then
    redis.call("EXPIRE", secondKey, 2)
end

local newMin = redis.call("INCRBY", minuteKey, increment)
if newMin == increment then
    redis.call("EXPIRE", minuteKey, 120)
end

return {1, 0}
`

// Limiter is a Redis-backed rate limiter for provider API calls.
type Limiter struct {
	redis  *redis.Client
	budget Budget
	script *redis.Script
	name   string
}

// New creates a limiter named after the API it guards (used in key names).
func New(client *redis.Client, name string, budget Budget) *Limiter {
	if budget.RequestsPerSecond <= 0 {
		budget = DefaultBudget
	}
	return &Limiter{
		redis:  client,
		budget: budget,
		script: redis.NewScript(limitLuaScript),
		name:   name,
	}
}

// NewFromURL connects to Redis and creates a limiter.
func NewFromURL(redisURL, name string, budget Budget) (*Limiter, error) {
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

	log.Printf("[RateLimit] Connected to Redis for %s budget", name)
	return New(client, name, budget), nil
}

// Allow atomically checks and consumes n units of budget. When denied, the
// returned wait hints how long until the limiting window rolls over; callers
// in this service do not sleep on it — they fail the invocation and let
// channel redelivery retry.
func (l *Limiter) Allow(ctx context.Context, n int) (bool, time.Duration, error) {
	now := time.Now()
	secondKey := fmt.Sprintf("ratelimit:%s:sec:%d", l.name, now.Unix())
	minuteKey := fmt.Sprintf("ratelimit:%s:min:%d", l.name, now.Unix()/60)

	result, err := l.script.Run(ctx, l.redis,
		[]string{secondKey, minuteKey},
		n, l.budget.RequestsPerSecond, l.budget.RequestsPerMinute,
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	allowed := result[0].(int64) == 1
	if allowed {
		return true, 0, nil
	}

	switch result[1].(int64) {
	case 1:
		return false, time.Second, nil
	default:
		return false, time.Duration(60-now.Second()) * time.Second, nil
	}
}

// Close closes the underlying Redis connection.
func (l *Limiter) Close() error {
	return l.redis.Close()
}

// Package ratelimit throttles per-access-token request volume. It is an
// ambient concern, not part of the cache-and-stitch core, but every request
// the wire processor accepts passes through a Limiter first so one noisy
// client cannot starve the entity-store pool or an upstream's own rate
// limit on everyone else's behalf.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter reports whether the caller identified by key may proceed with one
// unit of work right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// redisTokenBucketScript is a classic token bucket evaluated atomically in
// Redis: refill by elapsed time, consume one token, persist state with a
// self-cleaning TTL so idle keys don't accumulate in Redis forever.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisLimiter backs the limiter with a shared Redis instance so the token
// bucket is consistent across every wire-protocol worker process, not just
// one.
type RedisLimiter struct {
	client     *redis.Client
	ratePerSec float64
	capacity   float64
}

// NewRedisLimiter dials addr and configures a bucket refilling at rps with
// the given burst capacity.
func NewRedisLimiter(addr string, rps float64, burst int) *RedisLimiter {
	if rps <= 0 {
		rps = 1
	}
	return &RedisLimiter{
		client:     redis.NewClient(&redis.Options{Addr: addr}),
		ratePerSec: rps,
		capacity:   float64(burst),
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{"ratelimit:" + key},
		l.ratePerSec, l.capacity, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("ratelimit: unexpected lua result")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// Close releases the Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// InProcessLimiter is the fallback used when no Redis address is
// configured: one golang.org/x/time/rate.Limiter per key, evicted after a
// period of inactivity so the visitor map stays bounded.
type InProcessLimiter struct {
	mu       sync.Mutex
	visitors map[string]*inProcessVisitor
	rps      rate.Limit
	burst    int
}

type inProcessVisitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewInProcessLimiter builds a limiter allowing rps requests/sec per key,
// bursting up to burst.
func NewInProcessLimiter(rps float64, burst int) *InProcessLimiter {
	l := &InProcessLimiter{
		visitors: make(map[string]*inProcessVisitor),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
	go l.cleanupLoop()
	return l
}

func (l *InProcessLimiter) cleanupLoop() {
	for {
		time.Sleep(time.Minute)
		l.mu.Lock()
		for key, v := range l.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(l.visitors, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *InProcessLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &inProcessVisitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	limiter := v.limiter
	l.mu.Unlock()

	return limiter.Allow(), nil
}

package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/redis/go-redis/v9"
)

// The scripts take the caller's clock in milliseconds so every instance and
// the tests agree on "now".  ARGV "mutate" is 0 for Check and 1 for Consume.

var refillScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local interval_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])
local mutate = tonumber(ARGV[6])

local state = redis.call('HMGET', key, 'tokens', 'refilled_ms')
local tokens = tonumber(state[1])
local refilled = tonumber(state[2])

if tokens == nil or refilled == nil then
    if cost > capacity then return 0 end
    if mutate == 1 then
        redis.call('HSET', key, 'tokens', capacity - cost, 'refilled_ms', now_ms)
        redis.call('PEXPIRE', key, ttl_ms)
    end
    return 1
end

local elapsed = now_ms - refilled
if elapsed >= interval_ms then
    local ticks = math.floor(elapsed / interval_ms)
    tokens = math.min(capacity, tokens + ticks)
    refilled = refilled + ticks * interval_ms
end

if tokens < cost then return 0 end
if mutate == 1 then
    redis.call('HSET', key, 'tokens', tokens - cost, 'refilled_ms', refilled)
    redis.call('PEXPIRE', key, ttl_ms)
end
return 1
`)

var expiringScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local mutate = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'count', 'created_ms')
local count = tonumber(state[1])
local created = tonumber(state[2])

if count == nil or created == nil or now_ms - created >= window_ms then
    if cost > capacity then return 0 end
    if mutate == 1 then
        redis.call('HSET', key, 'count', capacity - cost, 'created_ms', now_ms)
        redis.call('PEXPIRE', key, window_ms)
    end
    return 1
end

if count < cost then return 0 end
if mutate == 1 then
    redis.call('HSET', key, 'count', count - cost)
end
return 1
`)

var throttleScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local ttl_ms = tonumber(ARGV[2])
local steps = #ARGV - 2

local state = redis.call('HMGET', key, 'idx', 'updated_ms')
local idx = tonumber(state[1])
local updated = tonumber(state[2])

if idx == nil or updated == nil then
    redis.call('HSET', key, 'idx', 0, 'updated_ms', now_ms)
    redis.call('PEXPIRE', key, ttl_ms)
    return 1
end

local wait = tonumber(ARGV[3 + idx])
if now_ms - updated < wait then return 0 end
idx = math.min(idx + 1, steps - 1)
redis.call('HSET', key, 'idx', idx, 'updated_ms', now_ms)
redis.call('PEXPIRE', key, ttl_ms)
return 1
`)

type redisLimiter struct {
	rdb        redis.UniversalClient
	name       string
	prefix     string
	now        Clock
	failClosed bool
}

func newRedisLimiter(rdb redis.UniversalClient, name string, o options) redisLimiter {
	return redisLimiter{rdb: rdb, name: name, prefix: o.prefix, now: o.now, failClosed: o.failClosed}
}

func (r redisLimiter) key(k string) string {
	return strings.Join([]string{r.prefix, r.name, k}, ":")
}

// run executes a limiter script and maps errors onto the fail-open or
// fail-closed policy.
func (r redisLimiter) run(ctx context.Context, s *redis.Script, key string, args ...interface{}) bool {
	n, err := s.Run(ctx, r.rdb, []string{r.key(key)}, args...).Int()
	if err != nil {
		log.Warnf("[ratelimit] redis error limiter=%s key=%s: %v", r.name, key, err)
		return !r.failClosed
	}
	return n == 1
}

func (r redisLimiter) Reset(ctx context.Context, key string) {
	if err := r.rdb.Del(ctx, r.key(key)).Err(); err != nil {
		log.Warnf("[ratelimit] redis reset failed limiter=%s key=%s: %v", r.name, key, err)
	}
}

// RedisRefillingBucket is the shared-store counterpart of
// RefillingTokenBucket.  Keys expire once they would have refilled.
type RedisRefillingBucket struct {
	redisLimiter
	capacity int
	interval time.Duration
}

func NewRedisRefillingBucket(rdb redis.UniversalClient, name string, capacity int, interval time.Duration, opts ...Option) *RedisRefillingBucket {
	if capacity < 1 || interval <= 0 {
		panic("ratelimit: refilling bucket needs positive capacity and interval")
	}
	return &RedisRefillingBucket{
		redisLimiter: newRedisLimiter(rdb, name, buildOptions(opts)),
		capacity:     capacity,
		interval:     interval,
	}
}

func (b *RedisRefillingBucket) Capacity() int { return b.capacity }

func (b *RedisRefillingBucket) Check(ctx context.Context, key string, cost int) bool {
	return b.eval(ctx, key, cost, 0)
}

func (b *RedisRefillingBucket) Consume(ctx context.Context, key string, cost int) bool {
	return b.eval(ctx, key, cost, 1)
}

func (b *RedisRefillingBucket) eval(ctx context.Context, key string, cost, mutate int) bool {
	ttl := time.Duration(b.capacity+1) * b.interval
	return b.run(ctx, refillScript, key,
		b.now().UnixMilli(), b.capacity, b.interval.Milliseconds(), cost, ttl.Milliseconds(), mutate)
}

// RedisExpiringBucket is the shared-store counterpart of
// ExpiringTokenBucket.  The window doubles as the key TTL.
type RedisExpiringBucket struct {
	redisLimiter
	capacity int
	window   time.Duration
}

func NewRedisExpiringBucket(rdb redis.UniversalClient, name string, capacity int, window time.Duration, opts ...Option) *RedisExpiringBucket {
	if capacity < 1 || window <= 0 {
		panic("ratelimit: expiring bucket needs positive capacity and window")
	}
	return &RedisExpiringBucket{
		redisLimiter: newRedisLimiter(rdb, name, buildOptions(opts)),
		capacity:     capacity,
		window:       window,
	}
}

func (b *RedisExpiringBucket) Capacity() int { return b.capacity }

func (b *RedisExpiringBucket) Check(ctx context.Context, key string, cost int) bool {
	return b.run(ctx, expiringScript, key, b.now().UnixMilli(), b.capacity, b.window.Milliseconds(), cost, 0)
}

func (b *RedisExpiringBucket) Consume(ctx context.Context, key string, cost int) bool {
	return b.run(ctx, expiringScript, key, b.now().UnixMilli(), b.capacity, b.window.Milliseconds(), cost, 1)
}

// RedisThrottler is the shared-store counterpart of Throttler.
type RedisThrottler struct {
	redisLimiter
	schedule []time.Duration
	idleTTL  time.Duration
}

func NewRedisThrottler(rdb redis.UniversalClient, name string, schedule []time.Duration, opts ...Option) *RedisThrottler {
	if len(schedule) == 0 {
		panic("ratelimit: throttler needs a non-empty schedule")
	}
	o := buildOptions(opts)
	idle := o.idleTTL
	if idle <= 0 {
		idle = 2 * schedule[len(schedule)-1]
		if idle < time.Minute {
			idle = time.Minute
		}
	}
	return &RedisThrottler{
		redisLimiter: newRedisLimiter(rdb, name, o),
		schedule:     append([]time.Duration(nil), schedule...),
		idleTTL:      idle,
	}
}

func (t *RedisThrottler) Consume(ctx context.Context, key string) bool {
	args := make([]interface{}, 0, len(t.schedule)+2)
	args = append(args, t.now().UnixMilli(), t.idleTTL.Milliseconds())
	for _, d := range t.schedule {
		args = append(args, d.Milliseconds())
	}
	return t.run(ctx, throttleScript, key, args...)
}

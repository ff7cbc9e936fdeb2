// Package ratelimit implements a Redis-backed token bucket shared by every
// API replica.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces bucket keys when no prefix is configured.
const DefaultKeyPrefix = "pixelpress:ratelimit"

// Config sizes a bucket: Capacity tokens refill linearly over Window.
type Config struct {
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

// Decision is the outcome of one take.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// takeScript refills the bucket for the elapsed time and then takes the
// requested cost if it fits. It returns allowed, whole tokens left and the
// wait in milliseconds until the cost would fit.
var takeScript = redis.NewScript(`
local bucket = redis.call("HMGET", KEYS[1], "tokens", "updated_ms")
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = tonumber(bucket[1]) or capacity
local updated = tonumber(bucket[2]) or now
tokens = math.min(capacity, tokens + math.max(0, now - updated) * rate)

local allowed = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "updated_ms", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

// RedisTokenBucket keeps one bucket per subject in a Redis hash.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	capacity  int64
	perMilli  float64
	ttl       time.Duration
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, cfg Config) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is required")
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("ratelimit: capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", cfg.Window)
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisTokenBucket{
		client:    client,
		capacity:  int64(cfg.Capacity),
		perMilli:  float64(cfg.Capacity) / float64(max(1, cfg.Window.Milliseconds())),
		ttl:       2 * cfg.Window,
		keyPrefix: prefix,
		now:       time.Now,
	}, nil
}

// Allow takes a single token.
func (b *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return b.AllowN(ctx, subject, 1)
}

// AllowN takes cost tokens from subject's bucket. Costs above the capacity
// are charged as the full capacity so that a large request can still pass
// against a full bucket.
func (b *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int64) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	cost = min(max(1, cost), b.capacity)

	raw, err := takeScript.Run(ctx, b.client,
		[]string{b.keyPrefix + ":" + subject},
		b.capacity,
		b.perMilli,
		b.now().UnixMilli(),
		cost,
		b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: take %d from %s: %w", cost, subject, err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: script returned %d values, want 3", len(raw))
	}

	return Decision{
		Allowed:    raw[0] == 1,
		Limit:      b.capacity,
		Remaining:  raw[1],
		RetryAfter: time.Duration(raw[2]) * time.Millisecond,
	}, nil
}

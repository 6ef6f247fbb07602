package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitResult is the outcome of one token bucket check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// bucket describes one token bucket family in Redis.
type bucket struct {
	prefix string
	ttl    time.Duration
}

var (
	frontendBucket = bucket{prefix: "ratelimit:frontend:", ttl: 2 * time.Minute}
	ipBucket       = bucket{prefix: "ratelimit:ip:", ttl: 10 * time.Second}
)

// tokenBucketScript refills and takes one token atomically. Times are in
// milliseconds; ARGV: rate per ms, burst, now, ttl. Returns
// {allowed, retry_after_ms, remaining}.
var tokenBucketScript = redis.NewScript(`
local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
	tokens = math.min(burst, tokens + (now - ts) * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
else
	wait = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return {allowed, wait, math.floor(tokens)}
`)

// CheckFrontendRateLimit takes a token from the bucket of a verified
// frontend. ratePerMinute <= 0 means unlimited.
func (c *Cache) CheckFrontendRateLimit(ctx context.Context, frontendID string, ratePerMinute, burst int) (*RateLimitResult, error) {
	if ratePerMinute <= 0 {
		return unlimited(burst), nil
	}
	return c.take(ctx, frontendBucket, frontendID, float64(ratePerMinute)/float64(time.Minute.Milliseconds()), burst)
}

// CheckIPRateLimit takes a token from the bucket of a client IP. It guards
// the admin surface, which has no frontend identity. Only a digest of the
// IP is stored.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	if ratePerSecond <= 0 {
		return unlimited(burst), nil
	}
	return c.take(ctx, ipBucket, hashIP(ip), float64(ratePerSecond)/float64(time.Second.Milliseconds()), burst)
}

// take runs the bucket script. On Redis errors it fails open: the returned
// result allows the request and the error says why.
func (c *Cache) take(ctx context.Context, b bucket, id string, ratePerMs float64, burst int) (*RateLimitResult, error) {
	now := time.Now()
	res, err := tokenBucketScript.Run(ctx, c.client,
		[]string{b.prefix + id},
		ratePerMs, burst, now.UnixMilli(), b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return unlimited(burst), fmt.Errorf("rate limit %s: %w", b.prefix, err)
	}
	if len(res) != 3 {
		return unlimited(burst), fmt.Errorf("rate limit %s: unexpected script reply %v", b.prefix, res)
	}

	refill := time.Duration(float64(time.Millisecond) / ratePerMs)
	return &RateLimitResult{
		Allowed:    res[0] == 1,
		Remaining:  res[2],
		ResetAt:    now.Add(refill),
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}, nil
}

func unlimited(burst int) *RateLimitResult {
	return &RateLimitResult{
		Allowed:   true,
		Remaining: int64(burst),
		ResetAt:   time.Now().Add(time.Minute),
	}
}

// hashIP returns the first 8 bytes of the IP's SHA-256 as hex.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}

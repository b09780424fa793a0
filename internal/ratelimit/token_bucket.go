// Package ratelimit implements a redis-backed token bucket shared by every
// server replica.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "uicase:rl"

type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

type Decision struct {
	Allowed bool
	// Remaining is the whole tokens left after this request.
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

type TokenBucketLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client) *TokenBucketLimiter {
	return &TokenBucketLimiter{rdb: rdb, now: time.Now}
}

// KEYS[1] bucket hash; ARGV rate (tokens/s), capacity, now (ms), ttl (ms).
// Returns {allowed, retry_after_ms, remaining}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl_ms = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now < ts then ts = now end

tokens = math.min(capacity, tokens + (now - ts) * rate / 1000.0)

local allowed = 0
local retry_ms = 0
if tokens >= 1.0 then
  allowed = 1
  tokens = tokens - 1.0
elseif rate > 0 then
  retry_ms = math.ceil((1.0 - tokens) / rate * 1000.0)
else
  retry_ms = 60000
end

redis.call("HSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, ttl_ms)
return {allowed, retry_ms, math.floor(tokens)}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true, Remaining: bucket.BurstSize}, nil
	}
	ratePerSec := float64(bucket.RequestsPerMinute) / 60.0
	capacity := float64(bucket.BurstSize)

	res, err := tokenBucketScript.Run(ctx, l.rdb,
		[]string{bucketKey(scope, subject)},
		ratePerSec, capacity, l.now().UTC().UnixMilli(), ttlMS(ratePerSec, capacity),
	).Result()
	if err != nil {
		return Decision{}, err
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 3 {
		return Decision{}, fmt.Errorf("unexpected redis ratelimit response: %T", res)
	}

	allowed, _ := vals[0].(int64)
	retryMS, _ := vals[1].(int64)
	remaining, _ := vals[2].(int64)
	dec := Decision{Allowed: allowed == 1, Remaining: int(remaining)}
	if !dec.Allowed {
		dec.RetryAfter = time.Duration(retryMS) * time.Millisecond
		if dec.RetryAfter < time.Second {
			dec.RetryAfter = time.Second
		}
	}
	return dec, nil
}

// bucketKey hashes the subject so bearer tokens never land in redis verbatim.
func bucketKey(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return fmt.Sprintf("%s:%s:%s", keyPrefix, scope, hex.EncodeToString(sum[:]))
}

// ttlMS keeps idle bucket state for two empty-to-full refills, within [30s, 1h].
func ttlMS(ratePerSec float64, capacity float64) int64 {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	if ratePerSec <= 0 || capacity <= 0 {
		return (2 * time.Minute).Milliseconds()
	}
	ttl := time.Duration(math.Ceil(capacity/ratePerSec*2))*time.Second + 5*time.Second
	ttl = max(minTTL, min(ttl, maxTTL))
	return ttl.Milliseconds()
}

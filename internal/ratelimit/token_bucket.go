package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var (
	ErrBucketNotConfigured = errors.New("rate_limiter_not_configured")
	ErrBucketKeyEmpty      = errors.New("rate_limiter_key_empty")
	ErrBucketInvalidRate   = errors.New("rate_limiter_invalid_rate")
)

// Tokens are stored in thousandths so the script works in integers; Redis
// truncates Lua numbers on the way out.
const tokenScale = 1000

// KEYS[1] bucket; ARGV rate (milli-tokens/s), burst (milli-tokens), ttl (ms).
// Returns {allowed, remaining milli-tokens, retry after ms}.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
local elapsed = math.max(0, now - ts)
tokens = math.min(burst, tokens + math.floor(elapsed * rate / 1000))

local allowed = 0
local retry = 0
if tokens >= 1000 then
  allowed = 1
  tokens = tokens - 1000
else
  retry = math.ceil((1000 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tokens, retry}
`

// TokenBucket is a Redis token bucket shared by every API process.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Allow takes one token from key. rate is tokens per second.
func (t *TokenBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Result, error) {
	switch {
	case t == nil || t.client == nil:
		return Result{}, ErrBucketNotConfigured
	case key == "":
		return Result{}, ErrBucketKeyEmpty
	case rate <= 0 || burst <= 0:
		return Result{}, ErrBucketInvalidRate
	}

	milliRate := int64(math.Max(1, math.Round(rate*tokenScale)))
	reply, err := t.script.Run(ctx, t.client, []string{key},
		milliRate, int64(burst)*tokenScale, bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, err
	}
	return decodeBucketReply(reply)
}

func decodeBucketReply(reply []int64) (Result, error) {
	if len(reply) < 3 {
		return Result{}, errors.New("rate_limiter_invalid_response")
	}
	res := Result{
		Allowed:   reply[0] == 1,
		Remaining: int(reply[1] / tokenScale),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(reply[2]) * time.Millisecond
	}
	return res, nil
}

// bucketTTL keeps an idle bucket for twice its refill time.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Max(1, math.Ceil(float64(burst)/rate*2))
	return time.Duration(seconds) * time.Second
}

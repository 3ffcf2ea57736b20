package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"flowchart_gateway/internal/utils"
)

// Limiter is used to enforce per-key rate limits.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// NoopLimiter allows all requests.
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) bool {
	return true
}

// DefaultWindow is the sliding window length
const DefaultWindow = time.Minute

// slidingWindowScript trims the window, admits the request if there is room
// and reports {allowed, remaining, reset_at_ms}. Denied requests are not counted.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, member)
	count = count + 1
	allowed = 1
end
if count > 0 then
	redis.call('PEXPIRE', key, window * 2)
end

local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end

return {allowed, limit - count, reset}
`)

// RateLimiter implements distributed rate limiting using Redis
type RateLimiter struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter with a one minute window
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, window: DefaultWindow, now: time.Now}
}

func (rl *RateLimiter) key(id string) string {
	return fmt.Sprintf("ratelimit:%s", id)
}

// AllowWithDetails checks if a request should be allowed for the given key.
// Uses a sliding window over a Redis sorted set. A limit of zero or less
// means unlimited and reports remaining as -1 with a zero reset time.
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, id string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := rl.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, rl.client,
		[]string{rl.key(id)},
		now,
		rl.window.Milliseconds(),
		limit,
		fmt.Sprintf("%d:%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: unexpected reply %v", res)
	}

	remaining := int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	return res[0] == 1, remaining, time.UnixMilli(res[2]), nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, id string) (int64, error) {
	key := rl.key(id)
	windowStart := rl.now().Add(-rl.window)

	if err := rl.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}

	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, id string) error {
	return rl.client.Del(ctx, rl.key(id)).Err()
}

// FixedLimiter applies one limit to every key. It satisfies Limiter and
// lets requests through when Redis is unreachable.
type FixedLimiter struct {
	rl     *RateLimiter
	limit  int
	logger *utils.Logger
}

// NewFixedLimiter wraps rl with a per-window limit
func NewFixedLimiter(rl *RateLimiter, limit int) *FixedLimiter {
	return &FixedLimiter{rl: rl, limit: limit, logger: utils.NewLogger("ratelimit")}
}

func (l *FixedLimiter) Allow(ctx context.Context, key string) bool {
	allowed, remaining, _, err := l.rl.AllowWithDetails(ctx, key, l.limit)
	if err != nil {
		l.logger.Warn("Rate limiter unavailable, allowing request", "key", key, "error", err)
		return true
	}
	if !allowed {
		l.logger.Info("Rate limit exceeded", "key", key, "limit", l.limit, "remaining", remaining)
	}
	return allowed
}

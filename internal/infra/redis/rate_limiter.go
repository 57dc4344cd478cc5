package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-engine/internal/domain"
)

// allowScript increments the window counter and starts the window on the
// first hit. Returns {count, remaining window ms}.
var allowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RateLimiter is a fixed-window limiter shared by every instance. INCR and
// PEXPIRE run in one script, so the check-and-increment is atomic.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	clock  func() time.Time
}

func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: int64(limit), window: window, clock: time.Now}
}

func (l *RateLimiter) Allow(ctx context.Context, key string) (domain.RateLimitRecord, bool, error) {
	res, err := allowScript.Run(ctx, l.client, []string{l.key(key)}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return domain.RateLimitRecord{}, false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return domain.RateLimitRecord{}, false, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	record := domain.RateLimitRecord{
		Key:     key,
		Count:   res[0],
		Limit:   l.limit,
		ResetAt: l.clock().Add(time.Duration(res[1]) * time.Millisecond),
	}
	return record, record.Count <= l.limit, nil
}

func (l *RateLimiter) key(id string) string {
	return "quiz:ratelimit:" + id
}

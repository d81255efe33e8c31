package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-ledger/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	keyPrefix                = "ledger:ratelimit"
	window                   = time.Second
	minWaitStep              = 5 * time.Millisecond
)

// windowScript counts calls in a fixed one-second bucket. It returns 1 when
// the call fits in the limit and 0 otherwise.
var windowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.Limiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps gateway sends per second across every API and worker
// process sharing the Redis instance.
type RedisRateLimiter struct {
	client      goredis.Scripter
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return newRedisRateLimiter(client, int64(limitPerSec), nil, nil)
}

func newRedisRateLimiter(
	client goredis.Scripter,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := r.take(ctx, key)
	return allowed, err
}

// Wait blocks until the call fits in a window or ctx ends. A rejected call
// sleeps until the current window closes instead of polling Redis.
func (r *RedisRateLimiter) Wait(ctx context.Context, key string) error {
	for {
		allowed, retryIn, err := r.take(ctx, key)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if err := r.sleep(ctx, retryIn); err != nil {
			return err
		}
	}
}

// take claims one slot of the current window and reports how long a rejected
// caller should wait for the next one.
func (r *RedisRateLimiter) take(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	scope := strings.ToLower(strings.TrimSpace(key))
	if scope == "" {
		return false, 0, fmt.Errorf("rate limit key is required")
	}

	now := r.now().UTC()
	start := now.Truncate(window)
	bucket := fmt.Sprintf("%s:%s:%d", keyPrefix, scope, start.Unix())

	result, err := windowScript.Run(ctx, r.client, []string{bucket}, r.limitPerSec, window.Milliseconds()).Int()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if result == 1 {
		return true, 0, nil
	}

	return false, max(start.Add(window).Sub(now), minWaitStep), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/course-relay/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultPerDestinationPerSec int64 = 1
	defaultGlobalPerSec         int64 = 25
	backoffStep                       = 100 * time.Millisecond
	backoffMax                        = 500 * time.Millisecond
	windowSeconds                     = 1
	globalKeyName                     = "*"
)

// allowScript admits a send only when both the destination window and the process-wide
// window have room. A rejected send does not consume either budget.
var allowScript = goredis.NewScript(`
local dest = tonumber(redis.call("GET", KEYS[1]) or "0")
local global = tonumber(redis.call("GET", KEYS[2]) or "0")
if dest >= tonumber(ARGV[1]) or global >= tonumber(ARGV[2]) then
  return 0
end
redis.call("INCR", KEYS[1])
redis.call("EXPIRE", KEYS[1], ARGV[3])
redis.call("INCR", KEYS[2])
redis.call("EXPIRE", KEYS[2], ARGV[3])
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed-window send limiter shared by every worker through Redis.
type RedisRateLimiter struct {
	client            *goredis.Client
	perDestinationSec int64
	globalSec         int64
	now               func() time.Time
	sleep             func(ctx context.Context, d time.Duration) error
	script            *goredis.Script
}

func NewRedisRateLimiter(client *goredis.Client, perDestinationSec int, globalSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(
		client,
		int64(perDestinationSec),
		int64(globalSec),
		time.Now,
		sleepWithContext,
	)
}

func newRedisRateLimiter(
	client *goredis.Client,
	perDestinationSec int64,
	globalSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if perDestinationSec <= 0 {
		perDestinationSec = defaultPerDestinationPerSec
	}
	if globalSec <= 0 {
		globalSec = defaultGlobalPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:            client,
		perDestinationSec: perDestinationSec,
		globalSec:         globalSec,
		now:               nowFn,
		sleep:             sleepFn,
		script:            allowScript,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, destination string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	normalized := strings.ToLower(strings.TrimSpace(destination))
	if normalized == "" {
		return false, fmt.Errorf("destination is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	second := r.now().UTC().Unix()
	keys := []string{
		fmt.Sprintf("ratelimit:send:%s:%d", normalized, second),
		fmt.Sprintf("ratelimit:send:%s:%d", globalKeyName, second),
	}
	result, err := r.script.Run(ctx, r.client, keys, r.perDestinationSec, r.globalSec, windowSeconds+1).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

func (r *RedisRateLimiter) Wait(ctx context.Context, destination string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, destination)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
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

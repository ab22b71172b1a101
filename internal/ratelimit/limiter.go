package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLimited     = errors.New("too many failed attempts")
	ErrUnavailable = errors.New("rate limiter unavailable")
)

// Limiter throttles signin attempts per email.
type Limiter interface {
	// Check returns ErrLimited and the remaining cooldown when the key is locked.
	Check(ctx context.Context, key string) (time.Duration, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// RedisLimiter counts failures with INCR and lets the key expire after the
// cooldown that starts at the first failure.
type RedisLimiter struct {
	redis       *redis.Client
	maxAttempts int64
	cooldown    time.Duration
}

func NewRedisLimiter(client *redis.Client, maxAttempts int, cooldown time.Duration) *RedisLimiter {
	return &RedisLimiter{redis: client, maxAttempts: int64(maxAttempts), cooldown: cooldown}
}

func signinKey(email string) string {
	return "signin_fail:" + strings.ToLower(email)
}

func (l *RedisLimiter) Check(ctx context.Context, key string) (time.Duration, error) {
	k := signinKey(key)
	count, err := l.redis.Get(ctx, k).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count < l.maxAttempts {
		return 0, nil
	}

	ttl, err := l.redis.TTL(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		ttl = l.cooldown
	}
	return ttl, ErrLimited
}

func (l *RedisLimiter) Fail(ctx context.Context, key string) error {
	k := signinKey(key)
	count, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, k, l.cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, signinKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

type nop struct{}

// Nop never limits. Used when no redis address is configured.
func Nop() Limiter { return nop{} }

func (nop) Check(context.Context, string) (time.Duration, error) { return 0, nil }
func (nop) Fail(context.Context, string) error                  { return nil }
func (nop) Reset(context.Context, string) error                 { return nil }

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// otpAttemptKeyPrefix namespaces the wrong-code counters in Redis.
const otpAttemptKeyPrefix = "otp_attempts:"

// AttemptLimiter caps wrong OTP submissions per account. Counters live
// outside the account row so a flood of guesses never contends with the
// compare-and-set writes on it.
type AttemptLimiter interface {
	// Check returns ErrTooManyAttempts once the cap is reached.
	Check(ctx context.Context, kind Kind, accountID string) error
	RecordFailure(ctx context.Context, kind Kind, accountID string) error
	Reset(ctx context.Context, kind Kind, accountID string) error
}

// redisAttemptLimiter implements AttemptLimiter with INCR + EXPIRE. The
// window opens on the first failure and lasts one OTP lifetime, so a fresh
// login (which also resets the counter) always gets the full allowance.
type redisAttemptLimiter struct {
	redis       *redis.Client
	maxAttempts int64
	window      time.Duration
}

// NewRedisAttemptLimiter returns a limiter allowing maxAttempts wrong codes
// per window. A non-positive maxAttempts returns nil, which the services
// treat as "no limit".
func NewRedisAttemptLimiter(rdb *redis.Client, maxAttempts int, window time.Duration) AttemptLimiter {
	if rdb == nil || maxAttempts <= 0 {
		return nil
	}
	return &redisAttemptLimiter{redis: rdb, maxAttempts: int64(maxAttempts), window: window}
}

func (l *redisAttemptLimiter) key(kind Kind, accountID string) string {
	return otpAttemptKeyPrefix + string(kind) + ":" + accountID
}

// Check fails closed: if Redis cannot be read the caller gets an error and
// the code is not evaluated.
func (l *redisAttemptLimiter) Check(ctx context.Context, kind Kind, accountID string) error {
	count, err := l.redis.Get(ctx, l.key(kind, accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading otp attempts: %w", err)
	}
	if count >= l.maxAttempts {
		return ErrTooManyAttempts
	}
	return nil
}

func (l *redisAttemptLimiter) RecordFailure(ctx context.Context, kind Kind, accountID string) error {
	key := l.key(kind, accountID)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("recording otp attempt: %w", err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("setting otp attempt window: %w", err)
		}
	}
	return nil
}

func (l *redisAttemptLimiter) Reset(ctx context.Context, kind Kind, accountID string) error {
	if err := l.redis.Del(ctx, l.key(kind, accountID)).Err(); err != nil {
		return fmt.Errorf("resetting otp attempts: %w", err)
	}
	return nil
}

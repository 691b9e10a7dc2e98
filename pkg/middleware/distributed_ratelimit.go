package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisThrottle counts attempts in Redis so limits are shared across
// instances. Each key is a fixed window starting at its first attempt.
type RedisThrottle struct {
	redis  *redis.Client
	config ThrottleConfig
	prefix string
}

// NewRedisThrottle creates a Redis-backed throttle
func NewRedisThrottle(redisClient *redis.Client, config ThrottleConfig, prefix string) *RedisThrottle {
	if prefix == "" {
		prefix = "throttle"
	}
	return &RedisThrottle{
		redis:  redisClient,
		config: config.normalized(),
		prefix: prefix,
	}
}

func (t *RedisThrottle) key(key string) string {
	return fmt.Sprintf("%s:%s", t.prefix, key)
}

// Allow increments the attempt counter for key. On a Redis error the attempt
// is allowed and the error returned so the caller can log it.
func (t *RedisThrottle) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := t.key(key)

	count, err := t.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	if count == 1 {
		if err := t.redis.Expire(ctx, redisKey, t.config.Window).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(t.config.Attempts), nil
}

// Remaining returns the attempts left in the current window
func (t *RedisThrottle) Remaining(ctx context.Context, key string) (int, error) {
	count, err := t.redis.Get(ctx, t.key(key)).Int()
	if err == redis.Nil {
		return t.config.Attempts, nil
	} else if err != nil {
		return 0, err
	}

	remaining := t.config.Attempts - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the counter for key
func (t *RedisThrottle) Reset(ctx context.Context, key string) error {
	if err := t.redis.Del(ctx, t.key(key)).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

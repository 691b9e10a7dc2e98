package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dealflow/pkg/contextkeys"
)

func newRedisThrottle(t *testing.T, cfg ThrottleConfig) (*RedisThrottle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisThrottle(client, cfg, "login"), mr
}

func TestRedisThrottle_Allow(t *testing.T) {
	ctx := context.Background()
	throttle, mr := newRedisThrottle(t, ThrottleConfig{Attempts: 3, Window: time.Minute})

	for i := 0; i < 3; i++ {
		allowed, err := throttle.Allow(ctx, "192.0.2.1")
		require.NoError(t, err)
		assert.True(t, allowed, "attempt %d", i+1)
	}

	allowed, err := throttle.Allow(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.False(t, allowed)

	other, err := throttle.Allow(ctx, "192.0.2.2")
	require.NoError(t, err)
	assert.True(t, other, "keys are independent")

	ttl := mr.TTL("login:192.0.2.1")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute + time.Second)
	allowed, err = throttle.Allow(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.True(t, allowed, "window expired")
}

func TestRedisThrottle_ResetAndRemaining(t *testing.T) {
	ctx := context.Background()
	throttle, _ := newRedisThrottle(t, ThrottleConfig{Attempts: 5, Window: time.Minute})

	remaining, err := throttle.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	for i := 0; i < 2; i++ {
		_, err := throttle.Allow(ctx, "k")
		require.NoError(t, err)
	}
	remaining, err = throttle.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	require.NoError(t, throttle.Reset(ctx, "k"))
	remaining, err = throttle.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestRedisThrottle_FailsOpen(t *testing.T) {
	throttle, mr := newRedisThrottle(t, ThrottleConfig{Attempts: 1, Window: time.Minute})
	mr.Close()

	allowed, err := throttle.Allow(context.Background(), "k")
	assert.True(t, allowed)
	assert.ErrorContains(t, err, "redis error")
}

func TestLocalThrottle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	throttle := NewLocalThrottle(ThrottleConfig{Attempts: 2, Window: time.Minute})
	throttle.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, err := throttle.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, _ := throttle.Allow(ctx, "a")
	assert.False(t, allowed)

	now = now.Add(30 * time.Second)
	allowed, _ = throttle.Allow(ctx, "a")
	assert.True(t, allowed, "one attempt refilled after half the window")

	require.NoError(t, throttle.Reset(ctx, "a"))
	allowed, _ = throttle.Allow(ctx, "a")
	assert.True(t, allowed)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, throttle.Cleanup())
}

func TestThrottleConfig_Defaults(t *testing.T) {
	cfg := ThrottleConfig{}.normalized()
	assert.Equal(t, 5, cfg.Attempts)
	assert.Equal(t, time.Minute, cfg.Window)
}

type erroringThrottle struct{}

func (erroringThrottle) Allow(context.Context, string) (bool, error) { return true, errors.New("down") }
func (erroringThrottle) Reset(context.Context, string) error         { return nil }

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	request := func(ip string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/invitations/validate", nil)
		return req.WithContext(contextkeys.WithClientIP(req.Context(), ip))
	}

	t.Run("limits per client", func(t *testing.T) {
		handler := RateLimit(NewLocalThrottle(ThrottleConfig{Attempts: 1, Window: time.Hour}), "invite", nil)(ok)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, request("198.51.100.1"))
		assert.Equal(t, http.StatusOK, w.Code)

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, request("198.51.100.1"))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "60", w.Header().Get("Retry-After"))

		w = httptest.NewRecorder()
		handler.ServeHTTP(w, request("198.51.100.2"))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("fails open", func(t *testing.T) {
		handler := RateLimit(erroringThrottle{}, "invite", nil)(ok)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, request("198.51.100.1"))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

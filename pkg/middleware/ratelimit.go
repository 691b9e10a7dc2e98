package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
	"github.com/platinummonkey/dealflow/pkg/async"
	"github.com/platinummonkey/dealflow/pkg/authz"
	"github.com/platinummonkey/dealflow/pkg/contextkeys"
	"github.com/platinummonkey/dealflow/pkg/httputil"
	"github.com/platinummonkey/dealflow/pkg/observability"
)

// ThrottleConfig defines how many attempts a key may make per window
type ThrottleConfig struct {
	// Attempts is the max attempts allowed in the window
	Attempts int
	// Window is the period the attempts are counted over
	Window time.Duration
}

// DefaultThrottleConfig matches five login attempts per minute
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{Attempts: 5, Window: time.Minute}
}

func (c ThrottleConfig) normalized() ThrottleConfig {
	def := DefaultThrottleConfig()
	if c.Attempts <= 0 {
		c.Attempts = def.Attempts
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	return c
}

// LocalThrottle is an in-process token bucket per key. It is used when no
// Redis is configured; limits are not shared between instances.
type LocalThrottle struct {
	config   ThrottleConfig
	mu       sync.Mutex
	limiters map[string]*localEntry
	now      func() time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalThrottle creates an in-memory throttle
func NewLocalThrottle(config ThrottleConfig) *LocalThrottle {
	return &LocalThrottle{
		config:   config.normalized(),
		limiters: make(map[string]*localEntry),
		now:      time.Now,
	}
}

// Allow counts an attempt for key
func (t *LocalThrottle) Allow(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.limiters[key]
	if !ok {
		every := rate.Every(t.config.Window / time.Duration(t.config.Attempts))
		entry = &localEntry{limiter: rate.NewLimiter(every, t.config.Attempts)}
		t.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

// Reset forgets the attempts recorded for key
func (t *LocalThrottle) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	delete(t.limiters, key)
	t.mu.Unlock()
	return nil
}

// Cleanup drops keys idle for longer than the window; their buckets are full
// again by then
func (t *LocalThrottle) Cleanup() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.config.Window)
	removed := 0
	for key, entry := range t.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(t.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is done
func (t *LocalThrottle) StartCleanup(ctx context.Context, interval time.Duration) {
	async.Every(ctx, nil, interval, "throttle cleanup", func(context.Context) {
		t.Cleanup()
	})
}

// RateLimit throttles requests per client address under the given scope. A
// throttle error fails open.
func RateLimit(throttle authz.Throttle, scope string, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + contextkeys.GetClientIP(r.Context())
			allowed, err := throttle.Allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context(), logger).WithError(err).Warn("rate limiter unavailable, allowing request")
				allowed = true
			}
			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(60))
				httputil.WriteAppError(w, r, apperrors.RateLimited("too many requests, please try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

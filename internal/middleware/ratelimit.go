package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// rateLimitEntry is one client's token bucket.
type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit returns middleware that allows each client IP maxRequests per
// window, refilled continuously, with bursts up to maxRequests. Returns 429
// when exceeded.
func RateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	return newIPLimiter(maxRequests, window, time.Now).middleware()
}

type ipLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
	swept   time.Time
}

func newIPLimiter(maxRequests int, window time.Duration, now func() time.Time) *ipLimiter {
	return &ipLimiter{
		entries: make(map[string]*rateLimitEntry),
		limit:   rate.Limit(float64(maxRequests) / window.Seconds()),
		burst:   maxRequests,
		idle:    window * 2,
		now:     now,
		swept:   now(),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop idle buckets at most once per idle period. A bucket idle that long
	// has refilled completely, so forgetting it changes nothing.
	if now.Sub(l.swept) > l.idle {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) > l.idle {
				delete(l.entries, k)
			}
		}
		l.swept = now
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *ipLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.allow(c.RealIP()) {
				return Fail(c, http.StatusTooManyRequests, "too_many_requests",
					"Rate limit exceeded. Please try again later.")
			}
			return next(c)
		}
	}
}

package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func okHandler(c echo.Context) error {
	return OK(c, http.StatusOK, "ok", nil)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestIPLimiter_BurstThenRefill(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newIPLimiter(3, time.Minute, clock.Now)

	for i := range 3 {
		assert.True(t, l.allow("10.0.0.1"), "request %d", i+1)
	}
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "clients have separate buckets")

	// One token refills every 20s at 3 per minute.
	clock.Advance(20 * time.Second)
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
}

func TestIPLimiter_SweepsIdleEntries(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newIPLimiter(1, time.Minute, clock.Now)

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	clock.Advance(3 * time.Minute)
	l.allow("10.0.0.3")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.entries, 1)
	assert.Contains(t, l.entries, "10.0.0.3")
}

func TestRateLimit_Returns429Envelope(t *testing.T) {
	e := echo.New()
	e.GET("/", okHandler, RateLimit(1, time.Minute))

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "192.0.2.10:4321"
		return r
	}

	assert.Equal(t, http.StatusOK, serve(e, req()).Code)

	rec := serve(e, req())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "too_many_requests", env.Type)
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())

	var fromEcho, fromCtx string
	e.GET("/", func(c echo.Context) error {
		fromEcho = GetRequestID(c)
		fromCtx = RequestIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	t.Run("generated", func(t *testing.T) {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
		id := rec.Header().Get(HeaderRequestID)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		assert.Equal(t, id, fromEcho)
		assert.Equal(t, id, fromCtx)
	})

	t.Run("kept when valid", func(t *testing.T) {
		incoming := uuid.NewString()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, incoming)

		rec := serve(e, req)
		assert.Equal(t, incoming, rec.Header().Get(HeaderRequestID))
	})

	t.Run("replaced when malformed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "<script>")

		rec := serve(e, req)
		assert.NotEqual(t, "<script>", rec.Header().Get(HeaderRequestID))
		assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
	})
}

func TestRecovery_LogsAndReturns500(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	e := echo.New()
	e.Use(Recovery(logger), RequestID())
	e.GET("/", func(c echo.Context) error { panic("boom") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "internal_error", env.Type)
	assert.NotContains(t, rec.Body.String(), "boom")

	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), rec.Header().Get(HeaderRequestID))
}

func TestRequestLogger_LevelFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/ok", okHandler)
	e.GET("/fail", func(c echo.Context) error {
		return Fail(c, http.StatusServiceUnavailable, "service_unavailable", "down")
	})

	serve(e, httptest.NewRequest(http.MethodGet, "/fail", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "/fail", line["path"])
	assert.EqualValues(t, http.StatusServiceUnavailable, line["status"])
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(SecurityHeaders())
	e.GET("/", okHandler)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
}

func TestCORS(t *testing.T) {
	e := echo.New()
	e.Use(CORS(CORSConfig{AllowedOrigins: []string{"https://portal.example.com"}}))
	e.GET("/", okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	rec := serve(e, req)
	assert.Equal(t, "https://portal.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serve(e, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTrustedProxies(t *testing.T) {
	e := echo.New()
	TrustedProxies(e, []string{"10.0.0.0/8", "not-a-cidr"})

	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = c.RealIP()
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	serve(e, req)
	assert.Equal(t, "203.0.113.7", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.1:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	serve(e, req)
	assert.Equal(t, "198.51.100.1", seen, "forwarded headers from untrusted peers are ignored")
}

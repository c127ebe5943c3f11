package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-engine/pkg/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMemoryLimiterBurstAndRefill(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(ctx, 1, 2)
	l.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "1.2.3.4")
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "keys are independent")

	clock = clock.Add(time.Second)
	ok, _ = l.Allow(ctx, "1.2.3.4")
	assert.True(t, ok)
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, 2, time.Minute)
	clock := time.Date(2025, 3, 3, 10, 0, 5, 0, time.UTC)
	l.now = func() time.Time { return clock }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "agent")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "agent")
	require.NoError(t, err)
	assert.False(t, ok)

	clock = clock.Add(time.Minute)
	ok, err = l.Allow(ctx, "agent")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(NewMemoryLimiter(ctx, 0.001, 1), nil)(okHandler())

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/search_availability", nil)
	req.Header.Set("X-Real-Ip", "9.9.9.9")
	h.ServeHTTP(first, req)
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, req)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, second.Body.String())
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	h := RateLimit(NewRedisLimiter(client, 1, time.Minute), nil)(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type routeRecorder struct {
	route  string
	status int
}

func (r *routeRecorder) ObserveHTTPRequest(route string, status int) {
	r.route, r.status = route, status
}

func TestRequestLoggerAssignsIDAndRecordsRoute(t *testing.T) {
	var buf bytes.Buffer
	rec := &routeRecorder{}

	r := chi.NewRouter()
	r.Use(RequestLogger(logging.NewWithWriter("info", &buf), rec))
	var seen string
	r.Get("/citas/{id}", func(w http.ResponseWriter, req *http.Request) {
		seen = RequestID(req.Context())
		w.WriteHeader(http.StatusAccepted)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/citas/5", nil))

	assert.Equal(t, http.StatusAccepted, resp.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, resp.Header().Get("X-Request-ID"))
	assert.Equal(t, "/citas/{id}", rec.route)
	assert.Equal(t, http.StatusAccepted, rec.status)
	assert.Contains(t, buf.String(), "request completed")
}

func TestRequestLoggerKeepsIncomingID(t *testing.T) {
	h := RequestLogger(logging.NewWithWriter("error", &bytes.Buffer{}), nil)(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	assert.Equal(t, "abc", resp.Header().Get("X-Request-ID"))
}

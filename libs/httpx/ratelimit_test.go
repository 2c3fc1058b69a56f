package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	q, _ := l.Allow(ctx, "p-1")
	require.Equal(t, Quota{Allowed: true, Remaining: 1, RetryAfter: time.Minute}, q)

	now = now.Add(20 * time.Second)
	q, _ = l.Allow(ctx, "p-1")
	require.True(t, q.Allowed)
	require.Zero(t, q.Remaining)

	q, _ = l.Allow(ctx, "p-1")
	require.False(t, q.Allowed, "third request in window")
	require.Equal(t, 40*time.Second, q.RetryAfter)

	q, _ = l.Allow(ctx, "p-2")
	require.True(t, q.Allowed, "other keys have their own bucket")

	now = now.Add(40 * time.Second)
	q, _ = l.Allow(ctx, "p-1")
	require.True(t, q.Allowed, "new window resets the bucket")
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedisLimiter(rdb, 2, time.Minute, "book")
	ctx := context.Background()

	q, err := l.Allow(ctx, "patient-1")
	require.NoError(t, err)
	require.True(t, q.Allowed)
	require.Equal(t, 1, q.Remaining)
	require.Equal(t, time.Minute, q.RetryAfter)

	q, err = l.Allow(ctx, "patient-1")
	require.NoError(t, err)
	require.True(t, q.Allowed)

	q, err = l.Allow(ctx, "patient-1")
	require.NoError(t, err)
	require.False(t, q.Allowed)
	require.Zero(t, q.Remaining)

	require.True(t, mr.Exists("book:patient-1"))
	mr.FastForward(time.Minute)
	q, err = l.Allow(ctx, "patient-1")
	require.NoError(t, err)
	require.True(t, q.Allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := RateLimit(NewRedisLimiter(rdb, 1, time.Minute, "rl"), ClientIP, nil, false)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) }),
	)

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
		req.RemoteAddr = addr
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		return rw
	}

	require.Equal(t, http.StatusCreated, send("10.0.0.1:4000").Code)
	limited := send("10.0.0.1:4001")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "60", limited.Header().Get("Retry-After"))
	require.Equal(t, "0", limited.Header().Get("X-RateLimit-Remaining"))
	require.Equal(t, http.StatusCreated, send("10.0.0.2:4000").Code)

	mr.Close()
	require.Equal(t, http.StatusServiceUnavailable, send("10.0.0.3:4000").Code)
}

func TestRateLimitIgnoresClientSuppliedSubject(t *testing.T) {
	h := RateLimit(NewMemoryLimiter(1, time.Minute), ClientIP, nil, false)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusCreated) }),
	)

	codes := make([]int, 0, 3)
	for _, subject := range []string{"p-1", "p-2", "p-3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
		req.RemoteAddr = "10.0.0.9:5555"
		req.Header.Set(SubjectHeader, subject)
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		codes = append(codes, rw.Code)
	}
	require.Equal(t, []int{http.StatusCreated, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	require.Equal(t, "10.0.0.7", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", ClientIP(req))
}

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLimiter(t *testing.T, n int) (*miniredis.Miniredis, *RateLimiter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRateLimiter(client, PerMinute(n), "test")
}

func TestRateLimiter_Allow(t *testing.T) {
	mr, limiter := setupLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, err := limiter.Allow(ctx, "user:u-1")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, 2-i, remaining)
	}

	allowed, remaining, err := limiter.Allow(ctx, "user:u-1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)

	// Other keys have their own window
	allowed, _, err = limiter.Allow(ctx, "user:u-2")
	require.NoError(t, err)
	assert.True(t, allowed)

	ttl, err := limiter.TTL(ctx, "user:u-1")
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	mr.FastForward(time.Minute + time.Second)
	allowed, _, err = limiter.Allow(ctx, "user:u-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_Reset(t *testing.T) {
	_, limiter := setupLimiter(t, 1)
	ctx := context.Background()

	limiter.Allow(ctx, "ip:10.0.0.1")
	allowed, _, _ := limiter.Allow(ctx, "ip:10.0.0.1")
	assert.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, "ip:10.0.0.1"))
	allowed, _, _ = limiter.Allow(ctx, "ip:10.0.0.1")
	assert.True(t, allowed)
}

func TestRateLimitMiddleware(t *testing.T) {
	mr, limiter := setupLimiter(t, 2)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := NewRateLimitMiddleware(limiter).Handler(next)

	serve := func(caller *Caller) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:4321"
		if caller != nil {
			req = req.WithContext(WithCaller(req.Context(), caller))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	alice := &Caller{UserID: "u-alice"}
	assert.Equal(t, http.StatusOK, serve(alice).Code)
	rec := serve(alice)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(alice)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Anonymous traffic is keyed by IP
	assert.Equal(t, http.StatusOK, serve(nil).Code)
	assert.True(t, mr.Exists("test:ip:192.0.2.1"))

	// Redis outage fails open
	mr.Close()
	assert.Equal(t, http.StatusOK, serve(alice).Code)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	assert.Equal(t, "192.0.2.1", clientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientIP(req))
}

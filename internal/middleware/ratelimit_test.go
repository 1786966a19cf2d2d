package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{Enabled: false})(okHandler())

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRateLimitMiddleware_BurstExceeded(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{
		Enabled: true,
		RPS:     1,
		Burst:   2,
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestRateLimitMiddleware_PerClientBuckets(t *testing.T) {
	handler := RateLimitMiddleware(RateLimitConfig{
		Enabled:   true,
		RPS:       1,
		Burst:     1,
		PerClient: true,
	})(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	first.RemoteAddr = "10.0.0.1:5000"
	second := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	second.RemoteAddr = "10.0.0.2:5000"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, first)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, first)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, second)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTokenBucket_Refills(t *testing.T) {
	start := time.Unix(1700000000, 0)
	bucket := newTokenBucket(2, 1, start)

	assert.True(t, bucket.Allow(start))
	assert.False(t, bucket.Allow(start))
	assert.True(t, bucket.Allow(start.Add(500*time.Millisecond)))
}

func TestClientLimiters_SweepsIdleBuckets(t *testing.T) {
	limiters := newClientLimiters(1, 1)
	start := limiters.lastSweep
	limiters.Allow("a", start)
	limiters.Allow("b", start.Add(clientBucketIdleTTL+time.Second))
	limiters.Allow("c", start.Add(2*clientBucketIdleTTL+2*time.Second))

	_, hasA := limiters.buckets["a"]
	assert.False(t, hasA)
	assert.Len(t, limiters.buckets, 1)
}

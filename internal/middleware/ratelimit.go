package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const clientBucketIdleTTL = 10 * time.Minute

// RateLimitConfig configures token bucket limiting. With PerClient set each
// remote address gets its own bucket; otherwise one bucket is shared.
type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	PerClient bool
}

// RateLimitMiddleware enforces the configured rate limit for all requests through the handler.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	var allow func(r *http.Request) bool
	if cfg.PerClient {
		limiters := newClientLimiters(cfg.RPS, cfg.Burst)
		allow = func(r *http.Request) bool { return limiters.Allow(clientKey(r), time.Now()) }
	} else {
		limiter := newTokenBucket(cfg.RPS, cfg.Burst, time.Now())
		allow = func(*http.Request) bool { return limiter.Allow(time.Now()) }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(r) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"error":"rate limit exceeded"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type clientLimiters struct {
	mu        sync.Mutex
	rps       float64
	burst     int
	buckets   map[string]*tokenBucket
	lastSweep time.Time
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		rps:       rps,
		burst:     burst,
		buckets:   map[string]*tokenBucket{},
		lastSweep: time.Now(),
	}
}

func (c *clientLimiters) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	if now.Sub(c.lastSweep) > clientBucketIdleTTL {
		for k, b := range c.buckets {
			if b.idleSince(now) > clientBucketIdleTTL {
				delete(c.buckets, k)
			}
		}
		c.lastSweep = now
	}
	bucket, ok := c.buckets[key]
	if !ok {
		bucket = newTokenBucket(c.rps, c.burst, now)
		c.buckets[key] = bucket
	}
	c.mu.Unlock()
	return bucket.Allow(now)
}

type tokenBucket struct {
	mu     sync.Mutex
	rate   float64
	burst  float64
	tokens float64
	last   time.Time
}

func newTokenBucket(rps float64, burst int, now time.Time) *tokenBucket {
	if rps <= 0 || burst <= 0 {
		return &tokenBucket{last: now}
	}
	return &tokenBucket{
		rate:   rps,
		burst:  float64(burst),
		tokens: float64(burst),
		last:   now,
	}
}

func (b *tokenBucket) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rate <= 0 || b.burst <= 0 {
		return true
	}

	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(b.burst, b.tokens+elapsed*b.rate)
		b.last = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *tokenBucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.last)
}

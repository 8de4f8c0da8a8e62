package internal

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter is a fixed-window, per-IP limiter for public endpoints
type RateLimiter struct {
	mu            sync.Mutex
	requests      map[string]*bucket
	limit         int
	window        time.Duration
	requestCount  int
	cleanupEvery  int
	cleanupAtSize int
	now           func() time.Time

	// trustForwardedFor keys clients on X-Forwarded-For instead of RemoteAddr
	trustForwardedFor bool
}

type bucket struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter creates a new rate limiter with the specified limit and window
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		requests:      make(map[string]*bucket),
		limit:         limit,
		window:        window,
		cleanupEvery:  100,
		cleanupAtSize: 200,
		now:           time.Now,
	}
}

// SetTrustForwardedFor makes the limiter key clients on the first
// X-Forwarded-For entry. Only enable it behind a proxy that overwrites the header.
func (rl *RateLimiter) SetTrustForwardedFor(trust bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.trustForwardedFor = trust
}

// Allow reports whether a request from key fits in the current window,
// and when the window resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	rl.requestCount++
	if rl.requestCount%rl.cleanupEvery == 0 || len(rl.requests) > rl.cleanupAtSize {
		rl.cleanupExpired(now)
		rl.requestCount = 0
	}

	b, exists := rl.requests[key]
	if !exists || !now.Before(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(rl.window)}
		rl.requests[key] = b
		return true, b.resetAt
	}

	if b.count >= rl.limit {
		return false, b.resetAt
	}
	b.count++
	return true, b.resetAt
}

func (rl *RateLimiter) cleanupExpired(now time.Time) {
	for key, b := range rl.requests {
		if !now.Before(b.resetAt) {
			delete(rl.requests, key)
		}
	}
}

// Cleanup removes all expired entries from the rate limiter.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cleanupExpired(rl.now())
}

// Size returns the number of tracked clients
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requests)
}

// Middleware rejects clients over the limit with 429 and a Retry-After header
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.mu.Lock()
		trust := rl.trustForwardedFor
		rl.mu.Unlock()

		ok, resetAt := rl.Allow(GetClientIP(r, trust))
		if !ok {
			retry := int(resetAt.Sub(rl.now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			SetCORSHeaders(w)
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClientIP extracts the client IP address from the request, without the port.
// X-Forwarded-For is client-controlled, so it is consulted only when
// trustForwardedFor is set.
func GetClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
				return ip
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

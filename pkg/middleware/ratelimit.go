package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter per IP address
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	requestsPerMinute int
	burstSize         int

	cleanupInterval time.Duration
	lastCleanup     time.Time
}

// visitor tracks rate limit state for a single IP
type visitor struct {
	tokens      float64
	lastRefill  time.Time
	lastRequest time.Time
}

// NewRateLimiter creates a new rate limiter allowing requestsPerMinute per IP
// with bursts up to burstSize.
func NewRateLimiter(requestsPerMinute, burstSize int) *RateLimiter {
	return &RateLimiter{
		visitors:          make(map[string]*visitor),
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		cleanupInterval:   5 * time.Minute,
		lastCleanup:       time.Now(),
	}
}

// Allow checks if a request from the given IP should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) > rl.cleanupInterval {
		rl.cleanup()
	}

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{
			tokens:     float64(rl.burstSize),
			lastRefill: time.Now(),
		}
		rl.visitors[ip] = v
	}

	// Refill tokens based on time elapsed
	now := time.Now()
	elapsed := now.Sub(v.lastRefill).Seconds()
	v.tokens += elapsed * (float64(rl.requestsPerMinute) / 60.0)
	if v.tokens > float64(rl.burstSize) {
		v.tokens = float64(rl.burstSize)
	}
	v.lastRefill = now

	if v.tokens >= 1.0 {
		v.tokens -= 1.0
		v.lastRequest = now
		return true
	}
	return false
}

// cleanup removes visitors that haven't made requests in the last 10 minutes
func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for ip, v := range rl.visitors {
		if v.lastRequest.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
	rl.lastCleanup = time.Now()
}

// RateLimitMiddleware creates HTTP middleware that enforces rate limiting
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(getClientIP(r)) {
				http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the real client IP from the request, looking through
// proxy headers before falling back to the connection address.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP in the chain
		for _, part := range strings.Split(xff, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Package ratelimit throttles uploads with per-client token buckets.
package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hujiangang/funAI/internal/logging"
	"github.com/hujiangang/funAI/internal/metrics"
)

// Limiter implements per-client token bucket rate limiting.
type Limiter struct {
	rpm int // 0 = unlimited

	mu      sync.Mutex
	buckets map[string]*tokenBucket
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// New creates a limiter allowing rpm requests per minute per client.
func New(rpm int) *Limiter {
	return &Limiter{
		rpm:     rpm,
		buckets: make(map[string]*tokenBucket),
		now:     time.Now,
	}
}

func (l *Limiter) refillRate() float64 {
	return float64(l.rpm) / 60.0
}

// Allow reports whether a request from client may proceed and consumes a
// token if so.
func (l *Limiter) Allow(client string) bool {
	if l.rpm <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[client]
	if !ok {
		b = &tokenBucket{tokens: float64(l.rpm), lastRefill: now}
		l.buckets[client] = b
	}

	b.tokens += now.Sub(b.lastRefill).Seconds() * l.refillRate()
	if b.tokens > float64(l.rpm) {
		b.tokens = float64(l.rpm)
	}
	b.lastRefill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter returns the number of seconds until client gets a token.
func (l *Limiter) RetryAfter(client string) int {
	if l.rpm <= 0 {
		return 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[client]
	if !ok || b.tokens >= 1 {
		return 0
	}
	return int((1.0-b.tokens)/l.refillRate()) + 1
}

// Cleanup removes buckets for clients not seen within maxAge.
func (l *Limiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	for client, b := range l.buckets {
		if b.lastRefill.Before(cutoff) {
			delete(l.buckets, client)
		}
	}
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// ClientKey identifies the caller by remote address. Forwarding headers
// are ignored since any client can set them.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Middleware rejects requests over the limit with 429 and Retry-After.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientKey(r)
			if !l.Allow(client) {
				metrics.RecordRateLimitHit()
				logging.WithContext(r.Context()).Debug("rate limit exceeded", logging.String("client", client))
				w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfter(client)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(errorResponse{
					Error: "rate limit exceeded",
					Code:  http.StatusTooManyRequests,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package admin

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultLoginAttempts is how many logins one client may attempt per
// minute.
const DefaultLoginAttempts = 10

// loginLimiter is a per-client token bucket. Buckets refill continuously
// at capacity tokens per window.
type loginLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	window   time.Duration
	now      func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func newLoginLimiter(capacity int, window time.Duration) *loginLimiter {
	return &loginLimiter{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// allow takes a token for key. When none is left it returns how long until
// the next one.
func (l *loginLimiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.capacity), lastRefill: now}
		l.buckets[key] = b
	}
	rate := float64(l.capacity) / l.window.Seconds()
	b.tokens = min(float64(l.capacity), b.tokens+now.Sub(b.lastRefill).Seconds()*rate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	return false, time.Duration((1 - b.tokens) / rate * float64(time.Second))
}

// sweep drops buckets idle for two windows; they would be full again.
func (l *loginLimiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastRefill) > 2*l.window {
			delete(l.buckets, key)
		}
	}
}

// limit rejects requests of clients that ran out of tokens with 429.
func (l *loginLimiter) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retry := l.allow(clientKey(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			renderError(w, http.StatusTooManyRequests, fmt.Errorf("too many login attempts"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey is the remote IP. Forwarding headers are not trusted.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

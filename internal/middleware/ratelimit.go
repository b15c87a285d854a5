package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AnshRaj112/workbridge/pkg/clientip"
)

const limiterTTL = 30 * time.Minute

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// IPRateLimiter keeps one token bucket per client IP. Idle buckets are pruned
// while serving, so no background goroutine is needed.
type IPRateLimiter struct {
	limit   rate.Limit
	burst   int
	message string
	now     func() time.Time

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastPrune time.Time
}

// NewIPRateLimiter allows limit requests per second with the given burst.
// message is returned in the 429 body.
func NewIPRateLimiter(limit rate.Limit, burst int, message string) *IPRateLimiter {
	return &IPRateLimiter{
		limit:   limit,
		burst:   burst,
		message: message,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *IPRateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > limiterTTL/6 {
		for k, e := range l.entries {
			if now.Sub(e.lastUse) > limiterTTL {
				delete(l.entries, k)
			}
		}
		l.lastPrune = now
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[ip] = e
	}
	e.lastUse = now
	return e.limiter
}

// Tracked returns how many IPs currently hold a bucket.
func (l *IPRateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Middleware returns 429 once an IP exhausts its bucket.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientip.RealClientIP(r)
		limiter := l.get(ip)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
		if !limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"code":"rate_limited","message":"` + l.message + `"}`))
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
		next.ServeHTTP(w, r)
	})
}

// APIRateLimit is the default per-IP limit for the REST API: 5 req/s, burst 30.
func APIRateLimit() *IPRateLimiter {
	return NewIPRateLimiter(5, 30, "Too many requests. Please slow down.")
}

// SessionRateLimit guards session issuance: 1 req/5s, burst 2.
func SessionRateLimit() *IPRateLimiter {
	return NewIPRateLimiter(rate.Every(5*time.Second), 2, "Too many login attempts. Please try again later.")
}

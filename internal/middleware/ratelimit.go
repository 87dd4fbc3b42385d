package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"offer-chain-api/internal/apierror"
)

// RateLimiter is a per-client token bucket. Each client starts with rate
// tokens and regains them linearly over window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	window  time.Duration
	now     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter allows rate requests per window for each client key.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		window:  window,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.evictIdle(5 * time.Minute)
	return rl
}

// evictIdle drops buckets that have been full for a while; a full bucket is
// indistinguishable from a new one.
func (rl *RateLimiter) evictIdle(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			idle := max(rl.window, time.Hour)
			rl.mu.Lock()
			now := rl.now()
			for key, b := range rl.buckets {
				if now.Sub(b.lastSeen) > idle {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

// Stop ends the eviction goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// Allow consumes a token for key and reports whether one was available.
func (rl *RateLimiter) Allow(key string) bool {
	_, _, ok := rl.Take(key)
	return ok
}

// Take consumes a token for key. It returns the tokens left and, when the
// bucket is empty, how long until the next one is available.
func (rl *RateLimiter) Take(key string) (remaining int, retryAfter time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: float64(rl.rate), lastSeen: now}
		rl.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastSeen); elapsed > 0 && rl.window > 0 {
		refill := float64(rl.rate) * elapsed.Seconds() / rl.window.Seconds()
		b.tokens = math.Min(b.tokens+refill, float64(rl.rate))
	}
	b.lastSeen = now

	if b.tokens < 1 {
		perToken := rl.window / time.Duration(max(rl.rate, 1))
		wait := time.Duration((1 - b.tokens) * float64(perToken))
		return 0, wait, false
	}

	b.tokens--
	return int(b.tokens), 0, true
}

// Limit returns the number of requests allowed per window.
func (rl *RateLimiter) Limit() int {
	return rl.rate
}

// GetClientKey picks the bucket for a request. Authenticated callers share a
// bucket per user id across addresses; anonymous ones are keyed by address.
func GetClientKey(r *http.Request) string {
	if p, ok := principalFrom(r); ok && p.UserID != "" {
		return "user:" + p.UserID
	}

	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

// RateLimitMiddleware rejects requests over the limit with 429 RATE_LIMITED.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retryAfter, ok := limiter.Take(GetClientKey(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Limit()))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				secs := int(math.Ceil(retryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, apierror.New(http.StatusTooManyRequests, apierror.CodeRateLimited, "rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

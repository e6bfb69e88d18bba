package middleware

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tanmay/stackgate/internal/stack"
)

// bucket represents a token bucket for a single client.
// Tokens are consumed per request and refill over time.
type bucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens added per second
	lastRefill time.Time
}

// allow refills the bucket for the time elapsed since the last call, then
// tries to consume one token.
func (b *bucket) allow(now time.Time) bool {
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// RateLimiter holds a bucket per client IP. Each ratelimit entry in a stack
// owns one RateLimiter for its whole lifetime.
type RateLimiter struct {
	buckets    map[string]*bucket
	maxTokens  float64
	refillRate float64
	mu         sync.Mutex
	now        func() time.Time
}

// NewRateLimiter creates a rate limiter.
// maxTokens = burst size (e.g., 10 requests)
// refillRate = sustained rate (e.g., 1.0 = 1 token/sec)
func NewRateLimiter(maxTokens, refillRate float64) *RateLimiter {
	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  maxTokens,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Allow reports whether the client at ip may make another request.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{
			tokens:     rl.maxTokens,
			maxTokens:  rl.maxTokens,
			refillRate: rl.refillRate,
			lastRefill: now,
		}
		rl.buckets[ip] = b
	}
	return b.allow(now)
}

// Wrap returns 429 once the client's bucket is empty.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientIP(r)) {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type rateLimitArgs struct {
	MaxTokens  float64 `yaml:"max_tokens"`
	RefillRate float64 `yaml:"refill_rate"`
}

// RateLimit is the "ratelimit" kind. Args: max_tokens, refill_rate.
func RateLimit() stack.Factory {
	return stack.Factory{
		Kind: "ratelimit",
		New: func(args stack.Args) (stack.Middleware, error) {
			cfg := rateLimitArgs{MaxTokens: 10, RefillRate: 1}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			if cfg.MaxTokens < 1 || cfg.RefillRate < 0 {
				return nil, fmt.Errorf("ratelimit: max_tokens must be >= 1 and refill_rate >= 0")
			}
			return NewRateLimiter(cfg.MaxTokens, cfg.RefillRate), nil
		},
	}
}

// clientIP extracts the client IP without port, falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tanmay/stackgate/internal/stack"
)

// Circuit breaker states
const (
	StateClosed   = iota // requests flow through
	StateOpen            // all requests rejected
	StateHalfOpen        // timeout passed, probing the backend
)

// Breaker stops forwarding to the rest of the chain after threshold
// consecutive 5xx responses, then lets a single trial request through once timeout
// has passed.
type Breaker struct {
	state        int
	failureCount int
	threshold    int
	timeout      time.Duration
	lastFailure  time.Time
	mu           sync.Mutex
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	return &Breaker{
		state:     StateClosed,
		threshold: threshold,
		timeout:   timeout,
	}
}

// State returns the current breaker state.
func (cb *Breaker) State() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *Breaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if time.Since(cb.lastFailure) > cb.timeout {
		cb.state = StateHalfOpen
		return true
	}
	return false
}

func (cb *Breaker) record(status int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if status < 500 {
		cb.failureCount = 0
		cb.state = StateClosed
		return
	}

	cb.failureCount++
	cb.lastFailure = time.Now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.threshold {
		cb.state = StateOpen
	}
}

// Wrap rejects with 503 while the breaker is open.
func (cb *Breaker) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cb.admit() {
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}

		wrapped := &responseCapture{ResponseWriter: w}
		next.ServeHTTP(wrapped, r)
		cb.record(wrapped.status())
	})
}

type breakerArgs struct {
	Threshold int           `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CircuitBreaker is the "circuitbreaker" kind. Args: threshold, timeout (e.g. "30s").
func CircuitBreaker() stack.Factory {
	return stack.Factory{
		Kind: "circuitbreaker",
		New: func(args stack.Args) (stack.Middleware, error) {
			cfg := breakerArgs{Threshold: 5, Timeout: 30 * time.Second}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			if cfg.Threshold < 1 {
				return nil, fmt.Errorf("circuitbreaker: threshold must be >= 1, got %d", cfg.Threshold)
			}
			return NewBreaker(cfg.Threshold, cfg.Timeout), nil
		},
	}
}

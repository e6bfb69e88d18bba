package proxy

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"github.com/tanmay/stackgate/internal/health"
)

// Load balancing strategies.
const (
	RoundRobin = "round-robin"
	Random     = "random"
)

// LoadBalancer picks the backend for each request of a proxy entry and
// skips backends the health checker reports as down.
type LoadBalancer struct {
	backends      []string
	strategy      string
	counter       atomic.Uint64
	healthChecker *health.HealthChecker
}

// ValidStrategy reports an error for anything but "", RoundRobin and Random.
func ValidStrategy(strategy string) error {
	switch strategy {
	case "", RoundRobin, Random:
		return nil
	}
	return fmt.Errorf("proxy: unknown strategy %q", strategy)
}

// NewLoadBalancer creates a load balancer for the given backends.
// An empty strategy means round-robin.
func NewLoadBalancer(backends []string, strategy string, hc *health.HealthChecker) *LoadBalancer {
	if strategy == "" {
		strategy = RoundRobin
	}
	return &LoadBalancer{
		backends:      backends,
		strategy:      strategy,
		healthChecker: hc,
	}
}

// Next returns the backend for the next request, or "" when there are none.
func (lb *LoadBalancer) Next() string {
	healthy := lb.healthyBackends()
	if len(healthy) == 0 {
		return ""
	}

	if lb.strategy == Random {
		return healthy[rand.Intn(len(healthy))]
	}
	idx := lb.counter.Add(1) - 1
	return healthy[idx%uint64(len(healthy))]
}

// healthyBackends returns the backends currently up, or all of them when
// there is no health checker.
func (lb *LoadBalancer) healthyBackends() []string {
	if lb.healthChecker == nil {
		return lb.backends
	}

	var healthy []string
	for _, backend := range lb.backends {
		if lb.healthChecker.IsHealthy(backend) {
			healthy = append(healthy, backend)
		}
	}

	// With every backend down, try them all and leave failures to a
	// circuitbreaker entry.
	if len(healthy) == 0 {
		return lb.backends
	}
	return healthy
}

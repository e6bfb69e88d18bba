package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/tanmay/stackgate/internal/health"
)

// BackendHeader names the response header carrying the backend that served
// the request.
const BackendHeader = "X-Proxy-Backend"

// Proxy forwards requests to one of a fixed set of backends. It is the
// handler behind a "run: proxy" stack entry.
type Proxy struct {
	lb      *LoadBalancer
	proxies map[string]*httputil.ReverseProxy
	logger  *slog.Logger
}

// New creates a Proxy over backends. strategy is "round-robin" (default)
// or "random"; hc may be nil.
func New(backends []string, strategy string, hc *health.HealthChecker, logger *slog.Logger) (*Proxy, error) {
	if len(backends) == 0 {
		return nil, errors.New("proxy: no backends")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Proxy{
		lb:      NewLoadBalancer(backends, strategy, hc),
		proxies: make(map[string]*httputil.ReverseProxy, len(backends)),
		logger:  logger,
	}
	for _, backend := range backends {
		target, err := url.Parse(backend)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("proxy: bad backend URL %q", backend)
		}
		p.proxies[backend] = p.reverseProxy(backend, target)
	}
	return p, nil
}

func (p *Proxy) reverseProxy(backend string, target *url.URL) *httputil.ReverseProxy {
	rp := httputil.NewSingleHostReverseProxy(target)
	originalDirector := rp.Director
	rp.Director = func(req *http.Request) {
		originalDirector(req)
		req.Header.Set("X-Forwarded-Host", req.Host)
		req.Header.Set("X-Gateway", "stackgate")
	}
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.Error("proxy request failed",
			slog.String("backend", backend),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		w.WriteHeader(http.StatusBadGateway)
	}
	return rp
}

// Backends returns the configured backend URLs.
func (p *Proxy) Backends() []string {
	return p.lb.backends
}

// ServeHTTP picks a backend and forwards the request to it.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	backend := p.lb.Next()
	if backend == "" {
		http.Error(w, "No healthy backends available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set(BackendHeader, backend)
	p.logger.Debug("proxying request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("backend", backend),
	)
	p.proxies[backend].ServeHTTP(w, r)
}

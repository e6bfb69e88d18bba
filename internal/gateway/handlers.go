package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tanmay/stackgate/internal/health"
	"github.com/tanmay/stackgate/internal/proxy"
	"github.com/tanmay/stackgate/internal/stack"
)

// RunFunc builds the terminal handler of a run entry from its args.
type RunFunc func(args stack.Args) (http.Handler, error)

// Handlers maps a run kind, as written in config, to its constructor.
type Handlers map[string]RunFunc

// Deps carries what the built-in run kinds are built around.
type Deps struct {
	Logger *slog.Logger
	Health *health.HealthChecker
}

// DefaultHandlers returns the built-in run kinds: proxy, respond, health
// and metrics. health is only available with a health checker.
func DefaultHandlers(deps Deps) Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := Handlers{
		"proxy":   proxyHandler(deps.Health, logger),
		"respond": respondHandler,
		"metrics": func(stack.Args) (http.Handler, error) {
			return promhttp.Handler(), nil
		},
	}
	if deps.Health != nil {
		h["health"] = func(stack.Args) (http.Handler, error) {
			return deps.Health.Handler(), nil
		}
	}
	return h
}

type proxyArgs struct {
	Backend  string   `yaml:"backend"`  // single backend
	Backends []string `yaml:"backends"` // several, load balanced
	Strategy string   `yaml:"strategy"` // "round-robin" or "random"
}

// backends handles both the single-backend and multi-backend forms.
func (a proxyArgs) backends() []string {
	if len(a.Backends) > 0 {
		return a.Backends
	}
	if a.Backend != "" {
		return []string{a.Backend}
	}
	return nil
}

// proxyHandler registers each backend with hc so the background checks
// cover every proxy entry in the stack.
func proxyHandler(hc *health.HealthChecker, logger *slog.Logger) RunFunc {
	return func(args stack.Args) (http.Handler, error) {
		var cfg proxyArgs
		if err := args.Decode(&cfg); err != nil {
			return nil, err
		}
		if err := proxy.ValidStrategy(cfg.Strategy); err != nil {
			return nil, err
		}

		p, err := proxy.New(cfg.backends(), cfg.Strategy, hc, logger)
		if err != nil {
			return nil, err
		}
		if hc != nil {
			for _, b := range p.Backends() {
				hc.AddBackend(b)
			}
		}
		return p, nil
	}
}

type respondArgs struct {
	Status      int               `yaml:"status"`
	Body        string            `yaml:"body"`
	ContentType string            `yaml:"content_type"`
	Headers     map[string]string `yaml:"headers"`
}

// respondHandler answers every request with a fixed response.
func respondHandler(args stack.Args) (http.Handler, error) {
	cfg := respondArgs{
		Status:      http.StatusOK,
		ContentType: "text/plain; charset=utf-8",
	}
	if err := args.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Status < 100 || cfg.Status > 599 {
		return nil, fmt.Errorf("respond: invalid status %d", cfg.Status)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range cfg.Headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", cfg.ContentType)
		w.WriteHeader(cfg.Status)
		io.WriteString(w, cfg.Body)
	}), nil
}

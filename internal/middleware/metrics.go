package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tanmay/stackgate/internal/stack"
)

// Shared by every metrics entry; registered once via promauto.
var (
	// httpRequestsTotal counts total requests by method, route, and status code.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// httpRequestDuration tracks request latency distribution.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Metrics is the "metrics" kind. Args: route, a fixed label value for the
// requests this entry sees; without it the request path is used.
func Metrics() stack.Factory {
	return stack.Factory{
		Kind: "metrics",
		New: func(args stack.Args) (stack.Middleware, error) {
			var cfg struct {
				Route string `yaml:"route"`
			}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			return instrument(cfg.Route), nil
		},
	}
}

func instrument(route string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseCapture{ResponseWriter: w}

			next.ServeHTTP(wrapped, r)

			label := route
			if label == "" {
				label = r.URL.Path
			}
			httpRequestsTotal.WithLabelValues(r.Method, label, strconv.Itoa(wrapped.status())).Inc()
			httpRequestDuration.WithLabelValues(r.Method, label).Observe(time.Since(start).Seconds())
		})
	}
}

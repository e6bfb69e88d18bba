package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxConcurrentChecks bounds the checks in flight during one round.
const maxConcurrentChecks = 8

// BackendStatus tracks the health of a single backend.
type BackendStatus struct {
	URL       string    `json:"url"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
}

// HealthChecker monitors the backends of proxy entries. It runs background
// checks on a timer and caches the results so that the health handler and
// the load balancers never check on the request path.
type HealthChecker struct {
	backends      map[string]*BackendStatus
	mu            sync.RWMutex
	startTime     time.Time
	client        *http.Client
	logger        *slog.Logger
	OnStateChange func(url string, isHealthy bool)
}

// NewHealthChecker creates a HealthChecker for the given backend URLs.
func NewHealthChecker(backendURLs []string, logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.Default()
	}
	hc := &HealthChecker{
		backends:  make(map[string]*BackendStatus),
		startTime: time.Now(),
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
	for _, url := range backendURLs {
		hc.AddBackend(url)
	}
	return hc
}

// checkBackend makes an HTTP GET to the backend and returns true if it responds 200.
func (hc *HealthChecker) checkBackend(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := hc.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Backends returns the monitored URLs.
func (hc *HealthChecker) Backends() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	urls := make([]string, 0, len(hc.backends))
	for url := range hc.backends {
		urls = append(urls, url)
	}
	return urls
}

// RunChecks checks every backend once, in parallel, and updates the cached
// status. It returns ctx's error if the round was cut short.
func (hc *HealthChecker) RunChecks(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)

	for _, url := range hc.Backends() {
		url := url
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			hc.update(url, hc.checkBackend(gctx, url))
			return nil
		})
	}
	return g.Wait()
}

func (hc *HealthChecker) update(url string, healthy bool) {
	hc.mu.Lock()
	status, ok := hc.backends[url]
	if !ok {
		hc.mu.Unlock()
		return
	}
	wasHealthy := status.Healthy
	status.Healthy = healthy
	status.LastCheck = time.Now()
	hc.mu.Unlock()

	if wasHealthy == healthy {
		return
	}
	hc.logger.Info("backend health changed", slog.String("backend", url), slog.Bool("healthy", healthy))
	if hc.OnStateChange != nil {
		hc.OnStateChange(url, healthy)
	}
}

// StartBackground checks backends immediately and then every interval until
// ctx is done.
func (hc *HealthChecker) StartBackground(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			if err := hc.RunChecks(ctx); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// AddBackend registers a backend URL. It counts as healthy until its first
// check.
func (hc *HealthChecker) AddBackend(url string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if _, exists := hc.backends[url]; !exists {
		hc.backends[url] = &BackendStatus{
			URL:     url,
			Healthy: true,
		}
	}
}

// IsHealthy returns whether a specific backend is currently healthy.
// Unknown backends are unhealthy.
func (hc *HealthChecker) IsHealthy(url string) bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if status, exists := hc.backends[url]; exists {
		return status.Healthy
	}
	return false
}

// healthResponse is the JSON structure returned by the health handler.
type healthResponse struct {
	Status   string                   `json:"status"`
	Uptime   string                   `json:"uptime"`
	Backends map[string]BackendStatus `json:"backends"`
}

// Handler reports cached backend health: 200 if all backends are healthy,
// 503 if any are down.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hc.mu.RLock()
		resp := healthResponse{
			Status:   "healthy",
			Uptime:   time.Since(hc.startTime).Round(time.Second).String(),
			Backends: make(map[string]BackendStatus, len(hc.backends)),
		}
		for url, status := range hc.backends {
			resp.Backends[url] = *status
			if !status.Healthy {
				resp.Status = "degraded"
			}
		}
		hc.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			hc.logger.Error("failed to encode health response", slog.Any("error", err))
		}
	}
}

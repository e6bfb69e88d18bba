package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestRunChecks(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	hc := NewHealthChecker([]string{up.URL, down.URL}, nil)

	var mu sync.Mutex
	changes := map[string]bool{}
	hc.OnStateChange = func(url string, healthy bool) {
		mu.Lock()
		changes[url] = healthy
		mu.Unlock()
	}

	if err := hc.RunChecks(context.Background()); err != nil {
		t.Fatalf("RunChecks: %v", err)
	}

	if !hc.IsHealthy(up.URL) {
		t.Errorf("Expected %s to be healthy", up.URL)
	}
	if hc.IsHealthy(down.URL) {
		t.Errorf("Expected %s to be unhealthy", down.URL)
	}
	if hc.IsHealthy("http://unknown") {
		t.Errorf("Expected unknown backend to be unhealthy")
	}

	mu.Lock()
	defer mu.Unlock()
	if healthy, ok := changes[down.URL]; !ok || healthy {
		t.Errorf("Expected a state change for %s, got %v", down.URL, changes)
	}
	if _, ok := changes[up.URL]; ok {
		t.Errorf("Expected no state change for %s", up.URL)
	}
}

func TestHandler(t *testing.T) {
	hc := NewHealthChecker([]string{"http://a"}, nil)

	rr := httptest.NewRecorder()
	hc.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Expected 200 before any check, got %d", rr.Code)
	}

	hc.update("http://a", false)
	rr = httptest.NewRecorder()
	hc.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when degraded, got %d", rr.Code)
	}
}

func TestRunChecksCancelled(t *testing.T) {
	hc := NewHealthChecker([]string{"http://127.0.0.1:1"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := hc.RunChecks(ctx); err == nil {
		t.Errorf("Expected cancelled context to stop the round")
	}
}

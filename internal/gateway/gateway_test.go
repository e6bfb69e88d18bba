package gateway

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tanmay/stackgate/internal/config"
	"github.com/tanmay/stackgate/internal/health"
	"github.com/tanmay/stackgate/internal/middleware"
)

func newBuilder(hc *health.HealthChecker) Builder {
	return Builder{
		Middleware: middleware.NewRegistry(middleware.Deps{}),
		Handlers:   DefaultHandlers(Deps{Health: hc}),
	}
}

func apiWhen() map[string]any {
	return map[string]any{"path": map[string]any{"pattern": "^/api"}}
}

func sampleEntries() []config.EntryConfig {
	hidden := false
	return []config.EntryConfig{
		{Use: "request_id", Trace: &hidden},
		{
			Use:  "ratelimit",
			Name: "limiter",
			Args: map[string]any{"max_tokens": 10, "refill_rate": 1},
			When: apiWhen(),
		},
		{
			Map: []config.EntryConfig{
				{Use: "auth", Args: map[string]any{"api_keys": []any{"k1"}}},
				{Run: "respond", Args: map[string]any{"body": "api"}},
			},
			When: apiWhen(),
		},
		{Run: "respond", Args: map[string]any{"body": "ok"}},
	}
}

func serve(h http.Handler, method, path string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildDispatch(t *testing.T) {
	s, err := newBuilder(nil).Build(sampleEntries())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if rr := serve(s, http.MethodGet, "/"); rr.Body.String() != "ok" {
		t.Errorf("Expected ok, got %q", rr.Body.String())
	}
	if rr := serve(s, http.MethodGet, "/api/users"); rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without api key, got %d", rr.Code)
	}
	rr := serve(s, http.MethodGet, "/api/users", "X-API-Key", "k1")
	if rr.Code != http.StatusOK || rr.Body.String() != "api" {
		t.Errorf("Expected api response, got %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("Expected hidden request_id entry to still apply")
	}
}

func TestBuildTrace(t *testing.T) {
	s, err := newBuilder(nil).Build(sampleEntries())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := `stack {
  use :limiter ratelimit {max_tokens: 10, refill_rate: 1}, when: {path =~ /^\/api/}
  map when: {path =~ /^\/api/} {
    use auth {api_keys: "***"}
    run respond
  }
  run respond
}
`
	if got := s.String(); got != want {
		t.Errorf("Unexpected trace:\n%s\nwant:\n%s", got, want)
	}
}

func TestBuildTraceMasksSecrets(t *testing.T) {
	s, err := newBuilder(nil).Build([]config.EntryConfig{
		{Use: "auth", Args: map[string]any{"api_keys": []any{"dev-key-123"}, "jwt_secret": "s3cr3t"}},
		{Run: "respond"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	got := s.String()
	for _, secret := range []string{"dev-key-123", "s3cr3t"} {
		if strings.Contains(got, secret) {
			t.Errorf("Expected %q to be masked, got trace:\n%s", secret, got)
		}
	}
	if !strings.Contains(got, `use auth {api_keys: "***", jwt_secret: "***"}`) {
		t.Errorf("Expected masked auth args in trace, got:\n%s", got)
	}

	// The key still authenticates; only the trace is masked.
	if rr := serve(s, http.MethodGet, "/", "X-API-Key", "dev-key-123"); rr.Code != http.StatusOK {
		t.Errorf("Expected 200 with api key, got %d", rr.Code)
	}
}

func TestBuildRemoveByName(t *testing.T) {
	entries := []config.EntryConfig{
		{Use: "wrap", Name: "deco", Args: map[string]any{"text": "~"}},
		{Run: "respond", Args: map[string]any{"body": "hi"}},
	}
	s, err := newBuilder(nil).Build(entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if rr := serve(s, http.MethodGet, "/"); rr.Body.String() != "~hi~" {
		t.Errorf("Expected ~hi~, got %q", rr.Body.String())
	}
	if n := s.Remove("deco"); n != 1 {
		t.Errorf("Expected 1 entry removed, got %d", n)
	}
	if rr := serve(s, http.MethodGet, "/"); rr.Body.String() != "hi" {
		t.Errorf("Expected hi after removal, got %q", rr.Body.String())
	}
}

func TestBuildInvalid(t *testing.T) {
	tests := []struct {
		name  string
		entry config.EntryConfig
	}{
		{"no kind", config.EntryConfig{Name: "x"}},
		{"two kinds", config.EntryConfig{Use: "wrap", Run: "respond"}},
		{"unknown use", config.EntryConfig{Use: "nope"}},
		{"unknown run", config.EntryConfig{Run: "nope"}},
		{"bad when", config.EntryConfig{Run: "respond", When: map[string]any{"colour": "red"}}},
		{"bad pattern", config.EntryConfig{Run: "respond", When: map[string]any{"path": map[string]any{"pattern": "("}}}},
		{"proxy without backends", config.EntryConfig{Run: "proxy"}},
		{"respond bad status", config.EntryConfig{Run: "respond", Args: map[string]any{"status": 42}}},
		{"nested", config.EntryConfig{Map: []config.EntryConfig{{Use: "nope"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newBuilder(nil).Build([]config.EntryConfig{tt.entry})
			if !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("Expected ErrInvalidEntry, got %v", err)
			}
		})
	}

	_, err := newBuilder(nil).Build([]config.EntryConfig{{Map: []config.EntryConfig{{Use: "nope"}}}})
	if err == nil || !strings.Contains(err.Error(), "stack[0].map[0]") {
		t.Errorf("Expected nested position in error, got %v", err)
	}
}

func TestBuildProxyRegistersBackends(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("from backend"))
	}))
	defer backend.Close()

	hc := health.NewHealthChecker(nil, nil)
	entries := []config.EntryConfig{
		{Run: "health", When: map[string]any{"path": "/health"}},
		{Run: "proxy", Args: map[string]any{"backend": backend.URL}},
	}
	s, err := newBuilder(hc).Build(entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !hc.IsHealthy(backend.URL) {
		t.Errorf("Expected proxy backend to be registered with the health checker")
	}
	if rr := serve(s, http.MethodGet, "/anything"); rr.Body.String() != "from backend" {
		t.Errorf("Expected proxied response, got %q", rr.Body.String())
	}
	if rr := serve(s, http.MethodGet, "/health"); rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), backend.URL) {
		t.Errorf("Expected health report listing the backend, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestBuildMetrics(t *testing.T) {
	entries := []config.EntryConfig{
		{Use: "metrics", Args: map[string]any{"route": "app"}},
		{Run: "metrics", When: map[string]any{"path": "/metrics"}},
		{Run: "respond"},
	}
	s, err := newBuilder(nil).Build(entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	serve(s, http.MethodGet, "/")
	rr := serve(s, http.MethodGet, "/metrics")
	if !strings.Contains(rr.Body.String(), "gateway_http_requests_total") {
		t.Errorf("Expected request counter in exposition")
	}
}

func TestBuildFromConfigFile(t *testing.T) {
	yml := `
stack:
  - use: header
    args:
      set: {X-Served-By: stackgate}
  - map:
      - run: respond
        args: {status: 201, body: created}
    when:
      method: [POST, PUT]
  - run: respond
    args: {body: fallback}
`
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	s, err := newBuilder(nil).Build(cfg.Stack)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rr := serve(s, http.MethodPost, "/")
	if rr.Code != http.StatusCreated || rr.Body.String() != "created" {
		t.Errorf("Expected 201 created, got %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Served-By") != "stackgate" {
		t.Errorf("Expected header entry to apply to nested route")
	}
	if rr := serve(s, http.MethodGet, "/"); rr.Body.String() != "fallback" {
		t.Errorf("Expected fallback, got %q", rr.Body.String())
	}
}

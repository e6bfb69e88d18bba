package middleware

import (
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/tanmay/stackgate/internal/dashboard"
	"github.com/tanmay/stackgate/internal/stack"
)

// waitForLogs polls the store since capture hands logs to a worker goroutine.
func waitForLogs(t *testing.T, store *dashboard.LogStore, n int) []dashboard.RequestLog {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if store.Len() >= n {
			return store.Recent(n)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d logs in store, got %d", n, store.Len())
	return nil
}

func TestCaptureMiddleware(t *testing.T) {
	store := dashboard.NewLogStore(10)
	mw, err := Capture(store).New(nil)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("Hello Dashboard"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/test/path", nil)
	req.RemoteAddr = "192.168.1.1:54321"
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-1234"))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	log := waitForLogs(t, store, 1)[0]
	if log.ID != "req-1234" {
		t.Errorf("Expected Request ID req-1234, got %s", log.ID)
	}
	if log.Status != http.StatusCreated {
		t.Errorf("Expected Status 201, got %d", log.Status)
	}
	if log.Path != "/test/path" {
		t.Errorf("Expected Path /test/path, got %s", log.Path)
	}
	if log.ClientIP != "192.168.1.1" {
		t.Errorf("Expected ClientIP 192.168.1.1, got %s", log.ClientIP)
	}
	if log.Method != http.MethodPost {
		t.Errorf("Expected Method POST, got %s", log.Method)
	}
	if want := int64(len("Hello Dashboard")); log.BytesOut != want {
		t.Errorf("Expected BytesOut %d, got %d", want, log.BytesOut)
	}
}

func TestCaptureRecordsAppliedChain(t *testing.T) {
	store := dashboard.NewLogStore(10)
	reg := NewRegistry(Deps{LogStore: store})

	s := stack.New()
	s.Use(reg["request_id"], nil)
	s.Use(reg["capture"], nil, stack.Named("audit"))
	s.Run(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}), stack.Label("app"))

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	log := waitForLogs(t, store, 1)[0]
	want := []string{"request_id", ":audit capture", "app"}
	if len(log.Chain) != len(want) {
		t.Fatalf("Expected chain %v, got %v", want, log.Chain)
	}
	for i := range want {
		if log.Chain[i] != want[i] {
			t.Errorf("Expected chain %v, got %v", want, log.Chain)
			break
		}
	}
	if log.ID == "" || log.ID != rr.Header().Get("X-Request-ID") {
		t.Errorf("Expected captured ID to match response header, got %q vs %q", log.ID, rr.Header().Get("X-Request-ID"))
	}
}

func TestCaptureWorkerStopsOnRemove(t *testing.T) {
	store := dashboard.NewLogStore(100)
	before := runtime.NumGoroutine()

	const stacks = 50
	built := make([]*stack.Stack, 0, stacks)
	for i := 0; i < stacks; i++ {
		s := stack.New()
		s.Use(Capture(store), nil, stack.Named("audit"))
		s.Run(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		}))
		s.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		built = append(built, s)
	}
	waitForLogs(t, store, stacks)

	for _, s := range built {
		if n := s.Remove("audit"); n != 1 {
			t.Fatalf("Expected 1 removed, got %d", n)
		}
	}

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if leaked := runtime.NumGoroutine() - before; leaked > 0 {
		t.Errorf("Expected capture workers to exit after Remove, %d still running", leaked)
	}
}

func TestCaptureAfterCloseDropsLogs(t *testing.T) {
	store := dashboard.NewLogStore(10)
	mw, err := Capture(store).New(nil)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	c, ok := mw.(interface{ Close() error })
	if !ok {
		t.Fatalf("Expected capture middleware to implement Close")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// A second close is harmless.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Body.String() != "ok" {
		t.Errorf("Expected response to pass through, got %q", rr.Body.String())
	}
	time.Sleep(20 * time.Millisecond)
	if store.Len() != 0 {
		t.Errorf("Expected no logs after close, got %d", store.Len())
	}
}

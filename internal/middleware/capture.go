package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tanmay/stackgate/internal/dashboard"
	"github.com/tanmay/stackgate/internal/proxy"
	"github.com/tanmay/stackgate/internal/stack"
)

// responseCapture wraps http.ResponseWriter to capture the status code,
// byte size, and still support Hijacker/Flusher interfaces if needed (e.g. for SSE/WebSockets).
type responseCapture struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

// WriteHeader intercepts the status code before passing it through.
func (rw *responseCapture) WriteHeader(code int) {
	if rw.statusCode == 0 {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write intercepts the byte write to track response size.
func (rw *responseCapture) Write(b []byte) (int, error) {
	if rw.statusCode == 0 {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// status is the code sent, or 200 when the handler never wrote one.
func (rw *responseCapture) status() int {
	if rw.statusCode == 0 {
		return http.StatusOK
	}
	return rw.statusCode
}

// Flush implements http.Flusher
func (rw *responseCapture) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker
func (rw *responseCapture) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, errors.New("http.Hijacker interface is not supported")
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseCapture) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Capture is the "capture" kind. Each instance pushes request logs to store
// from a background goroutine so the request path never blocks on it. The
// goroutine exits when the instance is closed, which the stack does when the
// entry is removed.
func Capture(store *dashboard.LogStore) stack.Factory {
	return stack.Factory{
		Kind: "capture",
		New: func(args stack.Args) (stack.Middleware, error) {
			cfg := struct {
				Buffer int `yaml:"buffer"`
			}{Buffer: 256}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			return newCapture(store, cfg.Buffer), nil
		},
	}
}

type capture struct {
	ch        chan dashboard.RequestLog
	done      chan struct{}
	closeOnce sync.Once
}

func newCapture(store *dashboard.LogStore, buffer int) *capture {
	if buffer <= 0 {
		buffer = 256
	}
	c := &capture{
		ch:   make(chan dashboard.RequestLog, buffer),
		done: make(chan struct{}),
	}

	go func() {
		for {
			select {
			case entry := <-c.ch:
				store.Add(entry)
			case <-c.done:
				return
			}
		}
	}()

	return c
}

// Close stops the worker goroutine. Requests still in flight through the
// instance drop their logs instead of blocking.
func (c *capture) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *capture) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseCapture{ResponseWriter: w}

		next.ServeHTTP(wrapped, r)

		select {
		case <-c.done:
			return
		default:
		}

		select {
		case c.ch <- dashboard.RequestLog{
			ID:        GetRequestID(r.Context()),
			Timestamp: start.UTC(),
			Method:    r.Method,
			Path:      r.URL.Path,
			Status:    wrapped.status(),
			Latency:   time.Since(start),
			ClientIP:  clientIP(r),
			BytesIn:   r.ContentLength,
			BytesOut:  wrapped.bytesWritten,
			Backend:   w.Header().Get(proxy.BackendHeader),
			Chain:     stack.Applied(r.Context()),
		}:
		default:
			// Channel is full; drop rather than block the response.
		}
	})
}

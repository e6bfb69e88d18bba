package middleware

import (
	"net/http"
	"time"

	"github.com/tanmay/stackgate/internal/analytics"
	"github.com/tanmay/stackgate/internal/proxy"
	"github.com/tanmay/stackgate/internal/stack"
)

// Traffic is the "traffic" kind: it feeds per-entry request counts, error
// counts and latency into store, keyed by every entry of the serving chain.
func Traffic(store *analytics.Store) stack.Factory {
	return stack.Factory{
		Kind: "traffic",
		New: func(stack.Args) (stack.Middleware, error) {
			return recordTraffic(store), nil
		},
	}
}

func recordTraffic(store *analytics.Store) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseCapture{ResponseWriter: w}

			next.ServeHTTP(wrapped, r)

			store.Record(analytics.Event{
				Entries:   stack.Applied(r.Context()),
				Backend:   w.Header().Get(proxy.BackendHeader),
				Status:    wrapped.status(),
				Latency:   time.Since(start),
				BytesIn:   r.ContentLength,
				BytesOut:  wrapped.bytesWritten,
				Timestamp: start,
			})
		})
	}
}

package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tanmay/stackgate/internal/stack"
)

// requestIDKey is a private type for context keys to avoid collisions.
type requestIDKey struct{}

// RequestID is the "request_id" kind. It reuses a client-provided ID from
// the header (default X-Request-ID) or generates a UUID, echoes it on the
// response and stores it in the request context.
func RequestID() stack.Factory {
	return stack.Factory{
		Kind: "request_id",
		New: func(args stack.Args) (stack.Middleware, error) {
			cfg := struct {
				Header string `yaml:"header"`
			}{Header: "X-Request-ID"}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			return requestID(http.CanonicalHeaderKey(cfg.Header)), nil
		},
	}
}

func requestID(header string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(header, id)
			next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), id)))
		})
	}
}

// ContextWithRequestID returns a copy of ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID extracts the request ID from the context.
// Returns empty string if no request ID is set.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

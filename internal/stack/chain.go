package stack

import (
	"context"
	"net/http"
)

// Chain is the per-request result of building a stack: the middleware that
// applies, outermost first, and the terminal handler if one matched.
type Chain struct {
	Middleware []Middleware
	Terminal   http.Handler
	// Applied holds the display names of the entries in the chain, in order.
	Applied []string
}

// Terminates reports whether a terminal entry matched.
func (c Chain) Terminates() bool {
	return c.Terminal != nil
}

// Handler composes the chain. fallback answers when nothing terminated.
// Handler(fallback) with middleware A, B produces A(B(terminal)).
func (c Chain) Handler(fallback http.Handler) http.Handler {
	h := c.Terminal
	if h == nil {
		h = fallback
	}
	for i := len(c.Middleware) - 1; i >= 0; i-- {
		h = c.Middleware[i].Wrap(h)
	}

	if len(c.Applied) == 0 {
		return h
	}
	applied := append([]string(nil), c.Applied...)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), appliedKey{}, applied)
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

type appliedKey struct{}

// Applied returns the entries that make up the chain serving the request
// carried by ctx. It is empty outside a dispatched request.
func Applied(ctx context.Context) []string {
	if applied, ok := ctx.Value(appliedKey{}).([]string); ok {
		return applied
	}
	return nil
}

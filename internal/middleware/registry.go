package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/tanmay/stackgate/internal/analytics"
	"github.com/tanmay/stackgate/internal/dashboard"
	"github.com/tanmay/stackgate/internal/stack"
)

// ErrUnknownKind is returned when config names a middleware kind that is
// not registered.
var ErrUnknownKind = errors.New("middleware: unknown kind")

// Middleware is a function that wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Wrap applies m, which makes every Middleware usable as a stack.Middleware.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return m(next)
}

// Deps carries the collaborators some middleware kinds are built around.
type Deps struct {
	Logger   *slog.Logger
	LogStore *dashboard.LogStore
	Traffic  *analytics.Store
}

// Registry maps a middleware kind, as written in config, to its factory.
type Registry map[string]stack.Factory

// NewRegistry returns a registry holding every built-in kind.
// capture and traffic are only registered when deps carries their store.
func NewRegistry(deps Deps) Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := Registry{}
	reg.Register(RequestID())
	reg.Register(Logging(logger))
	reg.Register(Metrics())
	reg.Register(RateLimit())
	reg.Register(Auth())
	reg.Register(CircuitBreaker())
	reg.Register(ResponseWrapper())
	reg.Register(Header())
	reg.Register(Timeout())
	reg.Register(Recover())
	reg.Register(Tracing())
	if deps.LogStore != nil {
		reg.Register(Capture(deps.LogStore))
	}
	if deps.Traffic != nil {
		reg.Register(Traffic(deps.Traffic))
	}
	return reg
}

// Register adds or replaces the factory for f.Kind.
func (reg Registry) Register(f stack.Factory) {
	reg[f.Kind] = f
}

// Lookup returns the factory registered for kind.
func (reg Registry) Lookup(kind string) (stack.Factory, error) {
	f, ok := reg[kind]
	if !ok {
		return stack.Factory{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f, nil
}

// Kinds returns the registered kinds, sorted.
func (reg Registry) Kinds() []string {
	kinds := make([]string, 0, len(reg))
	for k := range reg {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

package stack

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/tanmay/stackgate/internal/matcher"
)

// Kind is the variant of a stack entry.
type Kind int

const (
	KindUse Kind = iota // wraps the rest of the chain
	KindRun             // terminal handler
	KindMap             // nested builder treated as one conditional unit
)

func (k Kind) String() string {
	switch k {
	case KindUse:
		return "use"
	case KindRun:
		return "run"
	case KindMap:
		return "map"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Middleware wraps the handler built for the rest of the chain.
// One instance serves every request that reaches its entry, so it may keep
// state across requests and must be safe for concurrent use.
type Middleware interface {
	Wrap(next http.Handler) http.Handler
}

// MiddlewareFunc adapts a plain wrapping function to Middleware.
type MiddlewareFunc func(next http.Handler) http.Handler

// Wrap calls f(next).
func (f MiddlewareFunc) Wrap(next http.Handler) http.Handler {
	return f(next)
}

// Factory constructs a Middleware from stored arguments.
type Factory struct {
	// Kind names the middleware in traces, e.g. "ratelimit".
	Kind string
	New  func(args Args) (Middleware, error)

	// Redact lists argument keys whose values are masked in traces.
	Redact []string
}

// Builder is anything that can contribute a chain for a request.
// *Stack implements it, which is what makes stacks nestable.
type Builder interface {
	Build(r *http.Request) (Chain, error)
}

// Entry is one registered unit of a stack. Its kind, matcher and payload are
// fixed once it has been appended.
type Entry struct {
	kind    Kind
	name    string
	label   string
	matcher matcher.Matcher
	trace   bool

	factory Factory
	args    Args
	handler http.Handler
	builder Builder

	// lazily constructed middleware, see cache.go
	once     sync.Once
	built    atomic.Bool
	instance Middleware
	err      error
}

// Option configures an entry at registration.
type Option func(*Entry)

// When gates the entry on m. Without it the entry always applies.
func When(m matcher.Matcher) Option {
	return func(e *Entry) {
		e.matcher = m
	}
}

// Named sets the name used by Stack.Remove. Names need not be unique.
func Named(name string) Option {
	return func(e *Entry) {
		e.name = name
	}
}

// Label sets the display name of a Run or Map entry in traces.
func Label(label string) Option {
	return func(e *Entry) {
		e.label = label
	}
}

// Hidden omits the entry from traces.
func Hidden() Option {
	return func(e *Entry) {
		e.trace = false
	}
}

func newEntry(kind Kind, opts []Option) *Entry {
	e := &Entry{kind: kind, trace: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Entry) Kind() Kind               { return e.kind }
func (e *Entry) Name() string             { return e.name }
func (e *Entry) Matcher() matcher.Matcher { return e.matcher }
func (e *Entry) Traced() bool             { return e.trace }
func (e *Entry) Args() Args               { return e.args }
func (e *Entry) Builder() Builder         { return e.builder }

func (e *Entry) matches(r *http.Request) bool {
	return matcher.Matches(e.matcher, r)
}

// Label returns what traces and logs call the entry: the factory kind for
// Use entries, otherwise the configured label or the payload's type.
func (e *Entry) Label() string {
	switch {
	case e.kind == KindUse:
		return e.factory.Kind
	case e.label != "":
		return e.label
	case e.kind == KindRun:
		return fmt.Sprintf("%T", e.handler)
	}
	if _, ok := e.builder.(*Stack); ok {
		return "stack"
	}
	return fmt.Sprintf("%T", e.builder)
}

// display is the label prefixed by the entry name when there is one.
func (e *Entry) display() string {
	if e.name == "" {
		return e.Label()
	}
	return ":" + e.name + " " + e.Label()
}

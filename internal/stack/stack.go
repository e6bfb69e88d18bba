package stack

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
)

// ErrCycle is returned by Build when nested stacks map back into each other.
var ErrCycle = errors.New("stack: nested stacks form a cycle")

// Stack is an ordered, mutable list of conditional entries. It builds a fresh
// handler chain for every request from the entries whose matchers accept it.
//
// Registration order is nesting order: the first entry wraps everything
// registered after it. The first matching Run (or Map whose own chain
// terminates) ends the chain; entries after it do not run for that request.
type Stack struct {
	mu       sync.RWMutex
	entries  []*Entry
	notFound http.Handler
	logger   *slog.Logger

	// OnRemove is an optional hook fired after Remove deletes entries.
	OnRemove func(name string, removed int)
}

// New returns an empty stack answering unmatched requests with 404.
func New() *Stack {
	return &Stack{
		notFound: http.NotFoundHandler(),
		logger:   slog.Default(),
	}
}

// WithNotFound sets the handler used when no terminal entry matches.
// It only applies when this stack is the one being dispatched.
func (s *Stack) WithNotFound(h http.Handler) *Stack {
	if h == nil {
		panic("stack: nil handler passed to WithNotFound")
	}
	s.notFound = h
	return s
}

// WithLogger sets the logger for construction and dispatch events.
func (s *Stack) WithLogger(logger *slog.Logger) *Stack {
	if logger == nil {
		panic("stack: nil logger passed to WithLogger")
	}
	s.logger = logger
	return s
}

// Use appends a middleware entry. The middleware is constructed from f and
// a copy of args on the first request that reaches it, then reused.
func (s *Stack) Use(f Factory, args Args, opts ...Option) *Stack {
	if f.New == nil {
		panic("stack: nil factory passed to Use")
	}
	e := newEntry(KindUse, opts)
	e.factory = f
	e.args = maps.Clone(args)
	return s.append(e)
}

// Run appends a terminal entry.
func (s *Stack) Run(h http.Handler, opts ...Option) *Stack {
	if h == nil {
		panic("stack: nil handler passed to Run")
	}
	e := newEntry(KindRun, opts)
	e.handler = h
	return s.append(e)
}

// Map appends a nested builder, usually another *Stack. Mapping a stack into
// itself panics. Longer cycles through nested stacks fail at Build time with
// ErrCycle.
func (s *Stack) Map(b Builder, opts ...Option) *Stack {
	if b == nil {
		panic("stack: nil builder passed to Map")
	}
	if sub, ok := b.(*Stack); ok && sub == s {
		panic("stack: a stack cannot be mapped into itself")
	}
	e := newEntry(KindMap, opts)
	e.builder = b
	return s.append(e)
}

// Group builds a sub-stack with fn and maps it as a single entry.
func (s *Stack) Group(fn func(*Stack), opts ...Option) *Stack {
	if fn == nil {
		panic("stack: nil function passed to Group")
	}
	sub := New().WithLogger(s.logger)
	fn(sub)
	return s.Map(sub, opts...)
}

func (s *Stack) append(e *Entry) *Stack {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
	return s
}

// Remove deletes every entry named name and returns how many were removed.
// Constructed middleware of the removed entries, including those inside a
// removed nested stack, is closed if it implements io.Closer. Unknown names
// are a no-op, and unnamed entries cannot be removed.
func (s *Stack) Remove(name string) int {
	if name == "" {
		return 0
	}
	s.mu.Lock()
	kept := make([]*Entry, 0, len(s.entries))
	var dropped []*Entry
	for _, e := range s.entries {
		if e.name != name {
			kept = append(kept, e)
		} else {
			dropped = append(dropped, e)
		}
	}
	removed := len(dropped)
	if removed > 0 {
		s.entries = kept
	}
	s.mu.Unlock()

	for _, e := range dropped {
		e.release(s.logger)
	}

	if removed > 0 {
		s.logger.Info("stack entries removed", slog.String("name", name), slog.Int("count", removed))
		if s.OnRemove != nil {
			s.OnRemove(name, removed)
		}
	}
	return removed
}

// Entries returns the current entries in registration order.
// The slice is a copy; mutating it does not affect the stack.
func (s *Stack) Entries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Entry(nil), s.entries...)
}

// Len returns the number of entries.
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Build selects the entries that apply to r and returns their chain.
// Entries whose matcher rejects r are skipped without constructing anything.
// A matcher panic is not recovered.
func (s *Stack) Build(r *http.Request) (Chain, error) {
	return s.build(r, nil)
}

// build carries the stacks currently being built so that a nested stack
// reached again through its own descendants is reported instead of
// recursing forever.
func (s *Stack) build(r *http.Request, path []*Stack) (Chain, error) {
	path = append(path, s)
	var c Chain
	for _, e := range s.Entries() {
		if !e.matches(r) {
			continue
		}

		switch e.kind {
		case KindUse:
			mw, err := e.middleware(s.logger)
			if err != nil {
				return Chain{}, err
			}
			c.Middleware = append(c.Middleware, mw)
			c.Applied = append(c.Applied, e.display())

		case KindRun:
			c.Terminal = e.handler
			c.Applied = append(c.Applied, e.display())
			return c, nil

		case KindMap:
			var sub Chain
			var err error
			if nested, ok := e.builder.(*Stack); ok {
				if slices.Contains(path, nested) {
					return Chain{}, fmt.Errorf("%w: %s", ErrCycle, e.display())
				}
				sub, err = nested.build(r, path)
			} else {
				sub, err = e.builder.Build(r)
			}
			if err != nil {
				return Chain{}, err
			}
			c.Middleware = append(c.Middleware, sub.Middleware...)
			c.Applied = append(c.Applied, e.display())
			c.Applied = append(c.Applied, sub.Applied...)
			if sub.Terminates() {
				c.Terminal = sub.Terminal
				return c, nil
			}
		}
	}
	return c, nil
}

// Handler builds the composed handler for r.
func (s *Stack) Handler(r *http.Request) (http.Handler, error) {
	c, err := s.Build(r)
	if err != nil {
		return nil, err
	}
	return c.Handler(s.notFound), nil
}

// Dispatch builds the chain for r and serves it. Build errors are returned
// before anything is written to w.
func (s *Stack) Dispatch(w http.ResponseWriter, r *http.Request) error {
	h, err := s.Handler(r)
	if err != nil {
		return err
	}
	h.ServeHTTP(w, r)
	return nil
}

// ServeHTTP dispatches r and answers 500 if the chain could not be built.
func (s *Stack) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.Dispatch(w, r); err != nil {
		s.logger.Error("dispatch failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

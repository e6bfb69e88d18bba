// Package gateway turns the declarative stack section of the config into a
// dispatchable *stack.Stack.
package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tanmay/stackgate/internal/config"
	"github.com/tanmay/stackgate/internal/matcher"
	"github.com/tanmay/stackgate/internal/middleware"
	"github.com/tanmay/stackgate/internal/stack"
)

// ErrInvalidEntry is returned for stack entries that cannot be registered.
var ErrInvalidEntry = errors.New("gateway: invalid stack entry")

// Builder registers config entries against a middleware registry and a set
// of run handlers.
type Builder struct {
	Middleware middleware.Registry
	Handlers   Handlers
	Logger     *slog.Logger
}

// Build returns a stack holding entries, in order. Run handlers are built
// here; middleware is left to the stack to construct on first use.
func (b Builder) Build(entries []config.EntryConfig) (*stack.Stack, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := stack.New().WithLogger(logger)
	if err := b.register(s, entries, "stack"); err != nil {
		return nil, err
	}
	logger.Info("stack built", slog.Int("entries", s.Len()))
	return s, nil
}

func (b Builder) register(s *stack.Stack, entries []config.EntryConfig, path string) error {
	for i, e := range entries {
		where := fmt.Sprintf("%s[%d]", path, i)
		if err := b.add(s, e, where); err != nil {
			if errors.Is(err, ErrInvalidEntry) {
				return err
			}
			return fmt.Errorf("%w: %s: %w", ErrInvalidEntry, where, err)
		}
	}
	return nil
}

func (b Builder) add(s *stack.Stack, e config.EntryConfig, where string) error {
	var kinds []string
	if e.Use != "" {
		kinds = append(kinds, "use")
	}
	if e.Run != "" {
		kinds = append(kinds, "run")
	}
	if e.Map != nil {
		kinds = append(kinds, "map")
	}
	if len(kinds) != 1 {
		return fmt.Errorf("need exactly one of use, run, map; got [%s]", strings.Join(kinds, ", "))
	}

	opts, err := options(e)
	if err != nil {
		return err
	}

	switch {
	case e.Use != "":
		f, err := b.Middleware.Lookup(e.Use)
		if err != nil {
			return err
		}
		s.Use(f, stack.Args(e.Args), opts...)

	case e.Run != "":
		newHandler, ok := b.Handlers[e.Run]
		if !ok {
			return fmt.Errorf("unknown run kind %q", e.Run)
		}
		h, err := newHandler(stack.Args(e.Args))
		if err != nil {
			return fmt.Errorf("run %s: %w", e.Run, err)
		}
		if e.Label == "" {
			opts = append(opts, stack.Label(e.Run))
		}
		s.Run(h, opts...)

	default:
		var nestedErr error
		s.Group(func(sub *stack.Stack) {
			nestedErr = b.register(sub, e.Map, where+".map")
		}, opts...)
		if nestedErr != nil {
			return nestedErr
		}
	}
	return nil
}

func options(e config.EntryConfig) ([]stack.Option, error) {
	var opts []stack.Option
	if e.Name != "" {
		opts = append(opts, stack.Named(e.Name))
	}
	if e.Label != "" {
		opts = append(opts, stack.Label(e.Label))
	}
	if !e.Traced() {
		opts = append(opts, stack.Hidden())
	}
	if len(e.When) > 0 {
		rules, err := matcher.FromMap(e.When)
		if err != nil {
			return nil, err
		}
		opts = append(opts, stack.When(rules))
	}
	return opts, nil
}

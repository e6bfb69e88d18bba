package stack

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ErrConstruct wraps every middleware construction failure.
var ErrConstruct = errors.New("stack: middleware construction failed")

// middleware returns the entry's instance, constructing it on first use.
// Concurrent first callers all observe the single winning construction.
// A failed construction is remembered and returned on every later call.
func (e *Entry) middleware(logger *slog.Logger) (Middleware, error) {
	e.once.Do(func() {
		mw, err := e.factory.New(e.args)
		switch {
		case err != nil:
			e.err = fmt.Errorf("%w: %s: %w", ErrConstruct, e.display(), err)
		case mw == nil:
			e.err = fmt.Errorf("%w: %s: factory returned nil", ErrConstruct, e.display())
		default:
			e.instance = mw
		}
		e.built.Store(true)

		if e.err != nil {
			logger.Error("middleware construction failed",
				slog.String("kind", e.factory.Kind),
				slog.String("name", e.name),
				slog.Any("error", err),
			)
			return
		}
		logger.Debug("middleware constructed",
			slog.String("kind", e.factory.Kind),
			slog.String("name", e.name),
		)
	})
	return e.instance, e.err
}

// Instance returns the constructed middleware. ok is false until a
// construction has completed successfully.
func (e *Entry) Instance() (mw Middleware, ok bool) {
	if !e.built.Load() {
		return nil, false
	}
	return e.instance, e.instance != nil
}

// release closes the entry's middleware if it was built and implements
// io.Closer. For a Map entry it releases every entry of a nested *Stack.
func (e *Entry) release(logger *slog.Logger) {
	switch e.kind {
	case KindUse:
		mw, ok := e.Instance()
		if !ok {
			return
		}
		c, ok := mw.(io.Closer)
		if !ok {
			return
		}
		if err := c.Close(); err != nil {
			logger.Warn("middleware close failed",
				slog.String("kind", e.factory.Kind),
				slog.String("name", e.name),
				slog.Any("error", err),
			)
		}
	case KindMap:
		if sub, ok := e.builder.(*Stack); ok {
			for _, child := range sub.Entries() {
				child.release(logger)
			}
		}
	}
}

package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tanmay/stackgate/internal/stack"
)

// Timeout is the "timeout" kind. It attaches a deadline to the request
// context; handlers below decide how to honour it. Args: timeout (default "30s").
func Timeout() stack.Factory {
	return stack.Factory{
		Kind: "timeout",
		New: func(args stack.Args) (stack.Middleware, error) {
			cfg := struct {
				Timeout time.Duration `yaml:"timeout"`
			}{Timeout: 30 * time.Second}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			if cfg.Timeout <= 0 {
				return nil, fmt.Errorf("timeout: must be positive, got %s", cfg.Timeout)
			}
			return deadline(cfg.Timeout), nil
		},
	}
}

func deadline(timeout time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recover is the "recover" kind, chi's Recoverer: a panic below it becomes a
// 500 and a logged stack trace. Only what sits below it in the chain is
// covered; a panicking matcher still reaches the caller of Dispatch.
func Recover() stack.Factory {
	return stack.Factory{
		Kind: "recover",
		New: func(stack.Args) (stack.Middleware, error) {
			return Middleware(chimw.Recoverer), nil
		},
	}
}

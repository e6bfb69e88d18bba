package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tanmay/stackgate/internal/stack"
)

// Logging is the "logging" kind: one structured record per request, written
// after the rest of the chain has run. Args: message, level (debug|info|warn|error).
func Logging(logger *slog.Logger) stack.Factory {
	return stack.Factory{
		Kind: "logging",
		New: func(args stack.Args) (stack.Middleware, error) {
			cfg := struct {
				Message string `yaml:"message"`
				Level   string `yaml:"level"`
			}{Message: "request completed", Level: "info"}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}

			var level slog.Level
			if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
				return nil, err
			}
			return requestLogger(logger, cfg.Message, level), nil
		},
	}
}

func requestLogger(logger *slog.Logger, message string, level slog.Level) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseCapture{ResponseWriter: w}

			next.ServeHTTP(wrapped, r)

			logger.LogAttrs(r.Context(), level, message,
				slog.String("request_id", GetRequestID(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("client_ip", clientIP(r)),
				slog.Any("chain", stack.Applied(r.Context())),
			)
		})
	}
}

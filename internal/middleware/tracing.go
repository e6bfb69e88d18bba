package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tanmay/stackgate/internal/stack"
)

// Tracing is the "tracing" kind: an OpenTelemetry server span per request
// using the global tracer provider. Args: operation (default "stackgate").
func Tracing() stack.Factory {
	return stack.Factory{
		Kind: "tracing",
		New: func(args stack.Args) (stack.Middleware, error) {
			cfg := struct {
				Operation string `yaml:"operation"`
			}{Operation: "stackgate"}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			return Middleware(func(next http.Handler) http.Handler {
				return otelhttp.NewHandler(next, cfg.Operation)
			}), nil
		},
	}
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// A throwaway backend for the proxy entries in config.yml. It echoes what
// the gateway forwarded so the applied headers can be inspected.
func main() {
	port := flag.Int("port", 9001, "port to run the test backend on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.Int("port", *port))

	r := chi.NewRouter()
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		logger.Info("request", slog.String("method", r.Method), slog.String("path", r.URL.Path))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"message":    "Hello from backend",
			"port":       *port,
			"path":       r.URL.Path,
			"request_id": r.Header.Get("X-Request-ID"),
			"gateway":    r.Header.Get("X-Gateway"),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("test backend starting", slog.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("test backend stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

package dashboard

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tanmay/stackgate/internal/analytics"
	"github.com/tanmay/stackgate/internal/stack"
)

// API is the admin surface: stack introspection and removal, captured
// request logs, and an SSE feed of both.
type API struct {
	stack   *stack.Stack
	store   *LogStore
	broker  *Broker
	traffic *analytics.Store
	logger  *slog.Logger
}

// NewAPI wires the store and stack hooks to the broker.
func NewAPI(s *stack.Stack, store *LogStore, broker *Broker, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}

	store.OnAdd = func(log RequestLog) {
		broker.Broadcast("request", log)
	}
	s.OnRemove = func(name string, removed int) {
		broker.Broadcast("stack", map[string]any{
			"removed": removed,
			"name":    name,
			"entries": s.Trace(),
		})
	}

	return &API{
		stack:  s,
		store:  store,
		broker: broker,
		logger: logger,
	}
}

// WithTraffic exposes per-entry traffic summaries at GET /traffic.
func (api *API) WithTraffic(store *analytics.Store) *API {
	api.traffic = store
	return api
}

// Handler returns the admin router.
func (api *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/stack", api.handleTrace)
	r.Get("/stack/text", api.handleTraceText)
	r.Delete("/stack/entries/{name}", api.handleRemove)
	r.Get("/logs", api.handleLogs)
	r.Get("/logs/{id}", api.handleLogDetail)
	r.Get("/stream", api.broker.StreamHandler())
	if api.traffic != nil {
		r.Get("/traffic", api.handleTraffic)
	}

	return r
}

func (api *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Error("failed to encode admin response", slog.Any("error", err))
	}
}

// handleTrace handles GET /stack
func (api *API) handleTrace(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]any{
		"entries": api.stack.Trace(),
	})
}

// handleTraceText handles GET /stack/text
func (api *API) handleTraceText(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, api.stack.String())
}

// handleRemove handles DELETE /stack/entries/{name}. Unknown names are not
// an error; the response reports zero removed.
func (api *API) handleRemove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed := api.stack.Remove(name)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"removed": removed,
	})
}

// handleLogs handles GET /logs?limit=&status=&path=&entry=
func (api *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := Query{
		Limit: 50,
		Path:  q.Get("path"),
		Entry: q.Get("entry"),
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		query.Limit = l
	}
	if s, err := strconv.Atoi(q.Get("status")); err == nil {
		query.Status = s
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"logs": api.store.Query(query),
	})
}

// handleLogDetail handles GET /logs/{id}
func (api *API) handleLogDetail(w http.ResponseWriter, r *http.Request) {
	log, found := api.store.GetByID(chi.URLParam(r, "id"))
	if !found {
		http.Error(w, "Log not found", http.StatusNotFound)
		return
	}
	api.writeJSON(w, http.StatusOK, log)
}

// handleTraffic handles GET /traffic?window=1h
func (api *API) handleTraffic(w http.ResponseWriter, r *http.Request) {
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "Invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}

	to := time.Now()
	from := to.Add(-window)
	api.writeJSON(w, http.StatusOK, map[string]any{
		"window":   window.String(),
		"entries":  api.traffic.EntrySummaries(from, to),
		"backends": api.traffic.BackendSummaries(from, to),
	})
}

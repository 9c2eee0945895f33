// Package server exposes the generation and sync engine over HTTP for the
// rest of the application: a JSON API plus a WebSocket event stream.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"chorekeep/internal/bus"
	"chorekeep/internal/config"
	"chorekeep/internal/family"
	"chorekeep/internal/feed"
	"chorekeep/internal/generate"
	"chorekeep/internal/httpmw"
	"chorekeep/internal/model"
	"chorekeep/internal/store"
)

type Options struct {
	Config      *config.Config
	Store       store.Store
	Users       family.Repo
	Coordinator *generate.Coordinator
	Dispatcher  *bus.Dispatcher
	Feed        *feed.Set
	Logger      *log.Logger
}

func NewHandler(opts Options) (http.Handler, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	h := &Handler{
		cfg:   opts.Config,
		store: opts.Store,
		users: opts.Users,
		coord: opts.Coordinator,
		disp:  opts.Dispatcher,
		feed:  opts.Feed,
		log:   opts.Logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.Healthz)
	mux.HandleFunc("/api/routes", h.Routes)
	mux.HandleFunc("/api/generate", h.Generate)
	mux.HandleFunc("/api/generate/family", h.GenerateFamily)
	mux.HandleFunc("/api/tasks", h.TasksRoot)
	mux.HandleFunc("/api/tasks/", h.TasksSub)
	mux.HandleFunc("/api/templates", h.TemplatesRoot)
	mux.HandleFunc("/api/templates/", h.TemplatesSub)
	mux.HandleFunc("/sync", h.Sync)

	return httpmw.Chain(mux,
		httpmw.WithRequestID,
		httpmw.WithRecover(opts.Logger),
		httpmw.WithAccessLog(opts.Logger),
	), nil
}

type Handler struct {
	cfg   *config.Config
	store store.Store
	users family.Repo
	coord *generate.Coordinator
	disp  *bus.Dispatcher
	feed  *feed.Set
	log   *log.Logger
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	state := feed.StateDisconnected
	if h.feed != nil {
		state = h.feed.ChangeFeedState()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"service":    "chorekeep",
		"changefeed": state,
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}

// userFrom resolves the requesting account. Authentication proper lives in
// front of this service; the header is what it forwards.
func userFrom(r *http.Request) model.UserID {
	return model.UserID(r.Header.Get("X-User-Id"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

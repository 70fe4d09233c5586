// Package server exposes the JSON HTTP API and the feed-update event
// stream.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"rssmonitor/internal/events"
	"rssmonitor/internal/notify"
	"rssmonitor/internal/scheduler"
	"rssmonitor/internal/storage"
)

// Server wires the storage, scheduler, and dispatcher into HTTP handlers.
type Server struct {
	store           storage.Storage
	sched           *scheduler.Scheduler
	dispatcher      *notify.Dispatcher
	hub             *events.Hub
	log             *slog.Logger
	defaultInterval int
}

// New creates a Server.
func New(store storage.Storage, sched *scheduler.Scheduler, dispatcher *notify.Dispatcher, hub *events.Hub, log *slog.Logger, defaultInterval int) *Server {
	return &Server{
		store:           store,
		sched:           sched,
		dispatcher:      dispatcher,
		hub:             hub,
		log:             log,
		defaultInterval: defaultInterval,
	}
}

// Router builds the API route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/feeds", s.handleListFeeds).Methods(http.MethodGet)
	api.HandleFunc("/feeds", s.handleCreateFeed).Methods(http.MethodPost)
	api.HandleFunc("/feeds/{id:[0-9]+}", s.handleGetFeed).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{id:[0-9]+}", s.handleUpdateFeed).Methods(http.MethodPut)
	api.HandleFunc("/feeds/{id:[0-9]+}", s.handleDeleteFeed).Methods(http.MethodDelete)
	api.HandleFunc("/feeds/{id:[0-9]+}/toggle", s.handleToggleFeed).Methods(http.MethodPost)
	api.HandleFunc("/feeds/{id:[0-9]+}/scan", s.handleScanFeed).Methods(http.MethodPost)
	api.HandleFunc("/feeds/{id:[0-9]+}/logs", s.handleFeedLogs).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{id:[0-9]+}/stats", s.handleFeedStats).Methods(http.MethodGet)
	api.HandleFunc("/feeds/{id:[0-9]+}/deliveries", s.handleFeedDeliveries).Methods(http.MethodGet)
	api.HandleFunc("/scan", s.handleScanAll).Methods(http.MethodPost)

	api.HandleFunc("/connections", s.handleListConnections).Methods(http.MethodGet)
	api.HandleFunc("/connections", s.handleCreateConnection).Methods(http.MethodPost)
	api.HandleFunc("/connections/{id:[0-9]+}", s.handleGetConnection).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id:[0-9]+}", s.handleUpdateConnection).Methods(http.MethodPut)
	api.HandleFunc("/connections/{id:[0-9]+}", s.handleDeleteConnection).Methods(http.MethodDelete)
	api.HandleFunc("/connections/{id:[0-9]+}/test", s.handleTestConnection).Methods(http.MethodPost)

	api.HandleFunc("/settings/{key}", s.handleGetSetting).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", s.handleSetSetting).Methods(http.MethodPut)

	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

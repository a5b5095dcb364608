// Package api serves stored incidents, run health and metrics over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/wildfire-cli/internal/monitoring"
	"github.com/sells-group/wildfire-cli/internal/store"
)

// Deps are the collaborators the API reads from.
type Deps struct {
	Store    store.Store
	Health   *monitoring.Health
	Gatherer prometheus.Gatherer
	// Trigger starts an ingestion run. Nil disables POST /api/ingest.
	Trigger func(ctx context.Context) error
	// BaseContext bounds runs started over HTTP. Defaults to Background.
	BaseContext context.Context
	Logger      *zap.Logger
}

// Server exposes the read API.
type Server struct {
	deps    Deps
	log     *zap.Logger
	running atomic.Bool
	handler http.Handler
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Health == nil {
		deps.Health = monitoring.NewHealth()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	s := &Server{deps: deps, log: deps.Logger.With(zap.String("component", "api"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/centers", s.handleCenters)
		r.Get("/summary", s.handleSummary)
		r.Get("/incidents/{identity}", s.handleIncident)
		r.Get("/incidents/{identity}/history", s.handleHistory)
		r.Post("/ingest", s.handleIngest)
	})
	s.handler = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// HTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Health.Snapshot()
	status := "ok"
	if snap.LastError != "" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "ingest": snap})
}

func (s *Server) handleCenters(w http.ResponseWriter, r *http.Request) {
	centers, err := s.deps.Store.ListCenters(r.Context())
	if err != nil {
		s.storeFailure(w, "list centers", err)
		return
	}
	writeJSON(w, http.StatusOK, centers)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	states, err := s.deps.Store.StateSummary(r.Context())
	if err != nil {
		s.storeFailure(w, "state summary", err)
		return
	}
	counts, err := s.deps.Store.CenterIncidentCounts(r.Context())
	if err != nil {
		s.storeFailure(w, "center counts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": states, "centers": counts})
}

func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identity")
	inc, err := s.deps.Store.GetIncident(r.Context(), id)
	if err != nil {
		s.storeFailure(w, "get incident", err)
		return
	}
	if inc == nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "identity")
	history, err := s.deps.Store.IncidentHistory(r.Context(), id)
	if err != nil {
		s.storeFailure(w, "incident history", err)
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleIngest(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Trigger == nil {
		writeError(w, http.StatusNotImplemented, "ingestion is not enabled on this server")
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "an ingestion run is already in progress")
		return
	}

	go func() {
		defer s.running.Store(false)
		if err := s.deps.Trigger(s.deps.BaseContext); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("requested ingestion run failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) storeFailure(w http.ResponseWriter, op string, err error) {
	s.log.Error("store read failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "store unavailable")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

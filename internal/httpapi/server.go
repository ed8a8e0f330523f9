// Package httpapi exposes the HTTP surface: health and readiness
// probes, Prometheus metrics, the Telegram webhook endpoint and the
// development websocket endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ricfalco/pdfmate/internal/config"
	"github.com/ricfalco/pdfmate/internal/observability"
)

// ReadyCheck reports whether the service can take traffic, e.g. a
// database ping for the Postgres session store.
type ReadyCheck func(ctx context.Context) error

type Server struct {
	cfg     config.Config
	ready   ReadyCheck
	webhook http.HandlerFunc
	devWS   http.HandlerFunc
}

func New(cfg config.Config, ready ReadyCheck, webhook, devWS http.HandlerFunc) *Server {
	return &Server{cfg: cfg, ready: ready, webhook: webhook, devWS: devWS}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.handleInfo)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	if s.webhook != nil {
		r.Post("/webhook", s.webhook)
	}
	if s.devWS != nil {
		r.Get("/ws", s.devWS)
	}

	return r
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service":   "pdfmate",
		"transport": s.cfg.Transport,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"transport": s.cfg.Transport,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// Package httpapi serves the sync engine's operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/execution-hub/ledger-sync/internal/application/orchestrator"
	"github.com/execution-hub/ledger-sync/internal/domain/apperror"
	"github.com/execution-hub/ledger-sync/internal/domain/notification"
)

// SyncController is the orchestrator surface exposed over HTTP.
type SyncController interface {
	GetSyncStatus(ctx context.Context) (*orchestrator.SyncStatus, error)
	TriggerManualSync(ctx context.Context) (orchestrator.ManualSyncReport, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	sync     SyncController
	sseHub   notification.SSEHub
	gatherer prometheus.Gatherer
	logger   zerolog.Logger
}

func NewServer(sync SyncController, sseHub notification.SSEHub, gatherer prometheus.Gatherer, logger zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		sync:     sync,
		sseHub:   sseHub,
		gatherer: gatherer,
		logger:   logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/sse", s.sseEndpoint)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(2 * time.Minute))
			r.Get("/sync/status", s.syncStatus)
			r.Post("/sync/trigger", s.triggerSync)
		})
	})
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ok":          true,
		"sse_clients": s.sseHub.GetClientCount(),
	})
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sync.GetSyncStatus(r.Context())
	if err != nil {
		s.respondAppError(w, err)
		return
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	report, err := s.sync.TriggerManualSync(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("manual sync failed")
		respondJSON(w, statusFor(err), map[string]interface{}{
			"error":   errorCode(err),
			"message": err.Error(),
			"ran":     report.Ran,
			"skipped": report.Skipped,
		})
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) respondAppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	respondError(w, status, errorCode(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperror.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperror.ErrLedgerRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	kind := apperror.Kind(err)
	if kind == "internal" {
		return "INTERNAL_ERROR"
	}
	return strings.ToUpper(kind)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

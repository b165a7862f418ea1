// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/veritatis/quake-ingest/internal/config"
	"github.com/veritatis/quake-ingest/internal/ingest"
	"github.com/veritatis/quake-ingest/internal/orchestrator"
	"github.com/veritatis/quake-ingest/internal/registry"
)

// Server wires HTTP handlers to the registry and orchestrator.
type Server struct {
	router       chi.Router
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	cfg          config.Config
	logger       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	reg *registry.Registry,
	orch *orchestrator.Orchestrator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry:     reg,
		orchestrator: orch,
		cfg:          cfg,
		logger:       logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Post("/discoveries", s.registerDiscovery)
		r.Route("/records/{record_id}", func(r chi.Router) {
			r.Get("/", s.getRecord)
		})
		r.Route("/stages/{stage}", func(r chi.Router) {
			r.Post("/tick", s.runTick)
			r.Post("/retry", s.retryFailed)
		})
		r.Post("/reclaim", s.reclaim)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.registry.Statistics(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orchestrator.Statistics(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to collect statistics")
		return
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"statuses": out})
}

type discoveryRequest struct {
	URL   string `json:"url"`
	Query string `json:"query"`
	Title string `json:"title"`
}

func (s *Server) registerDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	id, isNew, err := s.registry.RegisterDiscovery(r.Context(), req.URL, req.Query, req.Title)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := http.StatusCreated
	if !isNew {
		status = http.StatusOK
	}
	s.writeJSON(w, status, map[string]any{"record_id": id, "new": isNew})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "record_id")
	rec, err := s.registry.Get(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "record not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load record")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"record": rec})
}

func (s *Server) runTick(w http.ResponseWriter, r *http.Request) {
	stageName := chi.URLParam(r, "stage")
	batchSize := s.cfg.Pipeline.BatchSize
	if raw := r.URL.Query().Get("batch_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "batch_size must be a positive integer")
			return
		}
		batchSize = parsed
	}

	stats, err := s.orchestrator.RunTick(r.Context(), stageName, batchSize)
	if err != nil {
		var cfgErr *ingest.ConfigError
		switch {
		case errors.As(err, &cfgErr):
			s.writeError(w, http.StatusConflict, cfgErr.Error())
		case isUnknownStage(err):
			s.writeError(w, http.StatusNotFound, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stage":     stageName,
		"attempted": stats.Attempted,
		"succeeded": stats.Succeeded,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
	})
}

type retryRequest struct {
	MaxAgeMinutes int `json:"max_age_minutes"`
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	stageName := chi.URLParam(r, "stage")

	var req retryRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	count, err := s.orchestrator.RetryFailed(
		r.Context(),
		stageName,
		time.Duration(req.MaxAgeMinutes)*time.Minute,
	)
	if err != nil {
		if isUnknownStage(err) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stage": stageName, "retried": count})
}

func (s *Server) reclaim(w http.ResponseWriter, r *http.Request) {
	count, err := s.orchestrator.Reclaim(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"reclaimed": count})
}

func isUnknownStage(err error) bool {
	var unknown *orchestrator.UnknownStageError
	return errors.As(err, &unknown)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

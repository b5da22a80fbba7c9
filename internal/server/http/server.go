// Package httpserver provides the HTTP REST API for the full-text retrieval
// service: download operations, catalog administration, and the reporting
// surface over the attempt ledger and retry queue.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/fulltext-service/internal/batch"
	"github.com/helixir/fulltext-service/internal/database"
	"github.com/helixir/fulltext-service/internal/domain"
	"github.com/helixir/fulltext-service/internal/performance"
	"github.com/helixir/fulltext-service/internal/repository"
	"github.com/helixir/fulltext-service/internal/retrieval"
)

// Retriever runs one retrieval. *retrieval.Service satisfies it.
type Retriever interface {
	DownloadForIdentifier(ctx context.Context, identifier, targetDir string) (*retrieval.Result, error)
}

// BatchRunner runs one batch. *batch.Driver satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, identifiers []string, targetDir string) (*batch.Report, error)
}

// BatchFactory builds a BatchRunner for a requested concurrency. The factory
// lets each batch request carry its own concurrency without the server
// knowing how drivers are wired.
type BatchFactory func(concurrency int) BatchRunner

// Catalog is the provider administration surface. repository.PgProviderRepository
// satisfies it.
type Catalog interface {
	List(ctx context.Context) ([]*domain.Provider, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
	SetPriority(ctx context.Context, name string, priority int) error
}

// Rankings serves provider performance. *performance.Aggregator satisfies it.
type Rankings interface {
	Rank(ctx context.Context, candidates []*domain.Provider) ([]performance.RankedProvider, error)
}

// RetryQueue is the read surface over the retry queue. *retryqueue.Scheduler
// satisfies it.
type RetryQueue interface {
	List(ctx context.Context, limit, offset int) ([]*domain.RetryEntry, error)
	Depth(ctx context.Context) (int64, error)
}

// Attempts is the reporting surface over the attempt ledger.
// repository.PgAttemptRepository satisfies it.
type Attempts interface {
	List(ctx context.Context, filter repository.AttemptFilter) ([]*domain.Attempt, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// HealthChecker reports database health. *database.DB satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// DefaultTargetDir is used when a download request does not name a
	// target directory.
	DefaultTargetDir string

	// MaxBatchIdentifiers caps the size of one batch request.
	MaxBatchIdentifiers int

	// MaxBatchConcurrency caps the per-request concurrency override.
	MaxBatchConcurrency int
}

// Server is the HTTP REST API server.
type Server struct {
	cfg          Config
	router       chi.Router
	httpServer   *http.Server
	retriever    Retriever
	batchFactory BatchFactory
	catalog      Catalog
	rankings     Rankings
	retryQueue   RetryQueue
	attempts     Attempts
	health       HealthChecker
	metricsH     http.Handler
	validate     *validator.Validate
	logger       zerolog.Logger
}

// NewServer creates a new HTTP server with all dependencies.
// metricsHandler may be nil; when set it is mounted at /metrics.
func NewServer(
	cfg Config,
	retriever Retriever,
	batchFactory BatchFactory,
	catalog Catalog,
	rankings Rankings,
	retryQueue RetryQueue,
	attempts Attempts,
	health HealthChecker,
	metricsHandler http.Handler,
	logger zerolog.Logger,
) *Server {
	if cfg.MaxBatchIdentifiers <= 0 {
		cfg.MaxBatchIdentifiers = 1000
	}
	if cfg.MaxBatchConcurrency <= 0 {
		cfg.MaxBatchConcurrency = 16
	}

	s := &Server{
		cfg:          cfg,
		retriever:    retriever,
		batchFactory: batchFactory,
		catalog:      catalog,
		rankings:     rankings,
		retryQueue:   retryQueue,
		attempts:     attempts,
		health:       health,
		metricsH:     metricsHandler,
		validate:     validator.New(),
		logger:       logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)
	if s.metricsH != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsH)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Post("/downloads", s.startDownload)
		r.Post("/downloads/batch", s.startBatchDownload)

		r.Get("/providers", s.getProviderRankings)
		r.Patch("/providers/{name}", s.patchProvider)

		r.Get("/retry-queue", s.getRetryQueue)

		r.Get("/attempts", s.exportAttempts)
		r.Delete("/attempts", s.purgeAttempts)
	})

	return r
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoProviders):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

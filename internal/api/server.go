// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/models"
	"github.com/leandro-br-dev/charhub-sub004/internal/orchestrator"
	"github.com/leandro-br-dev/charhub-sub004/internal/types"
)

// JobService is the orchestrator surface the API exposes
type JobService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*orchestrator.Submission, error)
	GetStatus(ctx context.Context, jobID string) (*orchestrator.Status, error)
	Cancel(ctx context.Context, jobID string) (*orchestrator.CancelResult, error)
	ListRecent(ctx context.Context, queueName types.QueueName, status types.JobStatus, offset, limit int) ([]*orchestrator.Status, error)
	RequestRegeneration(ctx context.Context, req orchestrator.RegenerationRequest) (*orchestrator.Submission, error)
}

// CreditService exposes an account's balance and ledger
type CreditService interface {
	Balance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, accountID string, limit int) ([]*models.LedgerEntry, error)
}

// HealthCheck probes one dependency
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) bool
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	jobs       JobService
	credits    CreditService
	checks     []HealthCheck
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host             string
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	SubmitsPerMinute int // per account, on job-creating endpoints
	SubmitBurst      int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, jobs JobService, credits CreditService, logger *logging.Logger, checks ...HealthCheck) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &Server{
		router:  mux.NewRouter(),
		jobs:    jobs,
		credits: credits,
		checks:  checks,
		config:  config,
		logger:  logger.WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(AccountMiddleware)

	// job-creating routes share the per-account submit budget
	limit := RateLimitMiddleware(NewRateLimiter(s.config.SubmitsPerMinute, s.config.SubmitBurst))
	api.Handle("/jobs", limit(http.HandlerFunc(s.handleSubmitJob))).Methods("POST")
	api.Handle("/jobs/{id}/regenerate", limit(http.HandlerFunc(s.handleRegenerateJob))).Methods("POST")
	api.Handle("/characters/{id}/regenerate", limit(http.HandlerFunc(s.handleRegenerateCharacter))).Methods("POST")

	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleCancelJob).Methods("DELETE")
	api.HandleFunc("/queues/{queue}/jobs", s.handleListQueue).Methods("GET")

	api.HandleFunc("/credits/balance", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/credits/history", s.handleGetHistory).Methods("GET")
}

// Handler returns the server's root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports every dependency probe; any failing probe makes the
// whole service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for _, c := range s.checks {
		if c.Check(ctx) {
			deps[c.Name] = "up"
			continue
		}
		deps[c.Name] = "down"
		status = http.StatusServiceUnavailable
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       overall,
		"service":      "generation-orchestrator",
		"dependencies": deps,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

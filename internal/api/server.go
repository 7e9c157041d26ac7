// Package api provides the read-only HTTP API over job history, open jobs
// and live job status.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/bulk-loader/internal/bulk"
	"github.com/bulk-loader/internal/logging"
	"github.com/bulk-loader/internal/models"
	"github.com/bulk-loader/internal/storage"
)

// Service interfaces for dependency injection and testing

// JobHistory reads recorded jobs and their batches
type JobHistory interface {
	GetJob(ctx context.Context, jobID string) (*models.JobRecord, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*models.JobRecord, error)
	ListBatches(ctx context.Context, jobID string) ([]*models.BatchRecord, error)
}

// OpenJobs lists jobs created but not yet seen finished
type OpenJobs interface {
	ListOpen(ctx context.Context) ([]*models.OpenJob, error)
}

// JobInspector asks the platform for a job's current state
type JobInspector interface {
	Inspect(ctx context.Context, jobID string) (*bulk.JobInfo, []*bulk.Batch, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	history    JobHistory
	open       OpenJobs
	inspector  JobInspector
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RateRPS         int // Requests per second per client
	RateBurst       int
}

// NewServer creates a new API server instance. open and inspector may be
// nil; their routes then answer 503.
func NewServer(config *ServerConfig, history JobHistory, open OpenJobs, inspector JobInspector) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		history:   history,
		open:      open,
		inspector: inspector,
		config:    config,
		logger:    logging.GetGlobalLogger().WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateRPS, s.config.RateBurst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
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

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/jobs/{jobId}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{jobId}/batches", s.handleListBatches).Methods("GET")
	api.HandleFunc("/jobs/{jobId}/live", s.handleLiveStatus).Methods("GET")
	api.HandleFunc("/open-jobs", s.handleListOpenJobs).Methods("GET")
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "bulk-loader",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

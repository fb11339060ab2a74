// Package http is the operations surface of the bot: health probes for the
// orchestrator plus a small API-key protected API over the engagement
// statistics and the job scheduler.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/messaging"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler"
	"github.com/outreach-hub/engagement-bot/internal/interface/http/handlers"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr is the listen address, for example ":8080".
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// APIKeyHeader is the header carrying the operator key.
	APIKeyHeader string

	// APIKeys unlock the /api/v1 routes. With none configured the API is
	// not mounted and only the probes are served.
	APIKeys []string

	// Version is reported by /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
		APIKeyHeader: "X-API-Key",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// StatsSource is the read side of *engagement.Store.
type StatsSource interface {
	ComputeActivityMetrics(ctx context.Context, windowDays int) engagement.ActivityMetrics
	Snapshot(ctx context.Context) engagement.Snapshot
}

// JobRunner is the part of *scheduler.Scheduler the API drives.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	RunNow(ctx context.Context, jobName string) (*scheduler.JobResult, error)
}

// HistorySource is optionally implemented by the JobRunner.
type HistorySource interface {
	GetHistory(limit int) []scheduler.JobResult
}

// DeliveryStats is the read side of *messaging.Dispatcher.
type DeliveryStats interface {
	Metrics() *messaging.DispatcherMetrics
	DeadLetterQueue() *messaging.DeadLetterQueue
}

// BotStats is implemented by *telegram.Bot.
type BotStats interface {
	GetStats() telegram.Stats
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	Health   handlers.HealthChecker
	Stats    StatsSource
	Reports  *report.Generator
	Jobs     JobRunner     // optional
	Bot      BotStats      // optional
	Delivery DeliveryStats // optional
	Logger   *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewCompositeHealthChecker(config.Version)
	}
	s := &Server{
		config: config,
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: deps.Logger.With(slog.String("component", "http")),
	}
	s.setupRoutes()

	chain := handlers.Chain(
		handlers.RecoveryMiddleware(s.logger),
		handlers.RequestIDMiddleware,
		handlers.LoggingMiddleware(s.logger),
		handlers.SecurityHeadersMiddleware,
	)
	s.httpServer = &http.Server{
		Addr:         config.Addr,
		Handler:      chain(s.mux),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// Handler returns the fully wrapped handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.HandleFunc("GET /live", s.handleLive)

	if len(s.config.APIKeys) == 0 || s.deps.Stats == nil {
		s.logger.Info("operator API disabled")
		return
	}

	auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys)
	api := func(pattern string, fn http.HandlerFunc) {
		s.mux.Handle(pattern, auth.Middleware(fn))
	}
	api("GET /api/v1/metrics", s.handleMetrics)
	api("GET /api/v1/periods", s.handleListPeriods)
	api("GET /api/v1/periods/{id}/report", s.handlePeriodReport)
	api("GET /api/v1/jobs", s.handleListJobs)
	api("GET /api/v1/jobs/history", s.handleJobHistory)
	api("POST /api/v1/jobs/{name}/run", s.handleRunJob)
	api("GET /api/v1/delivery", s.handleDelivery)
	api("GET /api/v1/bot", s.handleBotStats)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", slog.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		RequestID: handlers.RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(JSONResponse{
		Error:     &APIError{Code: code, Message: message},
		RequestID: handlers.RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

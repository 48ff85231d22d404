// Package http provides the serve-mode HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/cddfetch/internal/catalog"
	"github.com/jobrunner/cddfetch/internal/config"
	"github.com/jobrunner/cddfetch/internal/ports/input"
)

// Server wraps the HTTP server with application handlers.
type Server struct {
	server     *http.Server
	router     *mux.Router
	controller input.RunController
	index      *catalog.Index
	metrics    http.Handler
	middleware func(http.Handler) http.Handler
	logger     *slog.Logger
	config     config.ServerConfig
	started    time.Time
}

// NewServer creates a new HTTP server. metricsHandler and
// metricsMiddleware may be nil when metrics are disabled.
func NewServer(
	cfg config.ServerConfig,
	controller input.RunController,
	index *catalog.Index,
	metricsHandler http.Handler,
	metricsMiddleware func(http.Handler) http.Handler,
	metricsPath string,
	logger *slog.Logger,
) *Server {
	s := &Server{
		controller: controller,
		index:      index,
		metrics:    metricsHandler,
		middleware: metricsMiddleware,
		logger:     logger,
		config:     cfg,
		started:    time.Now(),
	}

	s.router = s.setupRoutes(metricsPath)

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(metricsPath string) *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.middleware != nil {
		r.Use(s.middleware)
	}

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	// Run endpoints
	api.HandleFunc("/runs", s.handleTriggerRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/{runId}", s.handleGetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{runId}", s.handleCancelRun).Methods(http.MethodDelete)
	api.HandleFunc("/runs/{runId}/events", s.handleRunEvents).Methods(http.MethodGet)

	// Catalog endpoint
	api.HandleFunc("/catalog", s.handleCatalog).Methods(http.MethodGet)

	// Prometheus metrics
	if s.metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Handle(metricsPath, s.metrics).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

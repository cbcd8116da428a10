// Package api provides the HTTP and websocket surface of the vulnscan
// service: job control, live event streams, dashboard aggregates, health
// and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/anstrom/vulnscan/internal/api/handlers"
	"github.com/anstrom/vulnscan/internal/api/middleware"
	"github.com/anstrom/vulnscan/internal/config"
	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/metrics"
)

// apiPrefix is the path prefix of every versioned endpoint.
const apiPrefix = "/api/v1"

// JobService is everything the API needs from the job orchestrator.
type JobService interface {
	handlers.JobController
	handlers.QueueReporter
}

// Dependencies are the collaborators the server routes requests to.
type Dependencies struct {
	Jobs JobService
	Hub  handlers.Subscriptions
	// Database is pinged by /health; nil when jobs are kept in memory.
	Database handlers.DatabasePinger
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
}

// New creates a new API server instance.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if deps.Jobs == nil || deps.Hub == nil {
		return nil, fmt.Errorf("job service and notification hub are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}

	s := &Server{
		router:  mux.NewRouter(),
		config:  cfg,
		logger:  logger.WithComponent("api"),
		metrics: deps.Metrics,
	}

	s.setupRoutes(deps, logger)
	s.handler = s.setupMiddleware()

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.handler,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes(deps Dependencies, logger *logging.Logger) {
	scans := handlers.NewScanHandler(deps.Jobs, logger)
	ws := handlers.NewWebSocketHandler(deps.Hub, handlers.WebSocketConfig{
		WriteWait:      s.config.Notify.WriteWait,
		PongWait:       s.config.Notify.PongWait,
		MaxMessageSize: s.config.Notify.MaxMessageSize,
	}, logger)
	dashboard := handlers.NewDashboardHandler(deps.Jobs, logger)
	health := handlers.NewHealthHandler(deps.Database, deps.Jobs, logger)

	s.router.HandleFunc("/", health.Index).Methods(http.MethodGet)
	s.router.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	// Full paths on the root router, not a PathPrefix subrouter: a later
	// subrouter route matching the shared prefix resets a method mismatch
	// and the request ends in 404 instead of 405.
	api := func(path string, h http.HandlerFunc, method string) {
		s.router.HandleFunc(apiPrefix+path, h).Methods(method)
	}

	// Websocket routes come first so "ws" is never taken for a scan id.
	api("/scans/ws/dashboard", ws.DashboardWebSocket, http.MethodGet)
	api("/scans/ws/{id}", ws.ScanWebSocket, http.MethodGet)

	api("/scans/start", scans.StartScan, http.MethodPost)
	api("/scans", scans.ListScans, http.MethodGet)
	api("/scans/{id}", scans.GetScan, http.MethodGet)
	api("/scans/{id}/status", scans.GetScanStatus, http.MethodGet)
	api("/scans/{id}/abort", scans.AbortScan, http.MethodPost)

	api("/dashboard/metrics", dashboard.GetMetrics, http.MethodGet)
	api("/dashboard/stats", dashboard.GetStats, http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusNotFound, "Not Found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

// setupMiddleware wraps the router. CORS sits outside the router so
// preflight requests are answered even though no route accepts OPTIONS.
func (s *Server) setupMiddleware() http.Handler {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.Logging(s.logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.SecurityHeaders())

	if rl := s.config.API.RateLimit; rl.Enabled {
		s.router.Use(middleware.RateLimit(rl.Requests, rl.Window, s.logger))
	}
	s.router.Use(middleware.ContentType())

	var handler http.Handler = s.router
	if cors := s.config.API.CORS; cors.Enabled {
		handler = gorillahandlers.CORS(
			gorillahandlers.AllowedOrigins(cors.AllowedOrigins),
			gorillahandlers.AllowedMethods(cors.AllowedMethods),
			gorillahandlers.AllowedHeaders(cors.AllowedHeaders),
		)(handler)
	}
	return handler
}

// Start serves requests until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server",
		"address", s.httpServer.Addr,
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server. Hijacked websocket connections are
// not tracked by http.Server; they end when the hub closes their
// subscribers.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	timeout := s.config.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q}`+"\n", msg)
}

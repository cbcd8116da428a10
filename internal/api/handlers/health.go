// Package handlers provides HTTP request handlers for the vulnscan API.
// This file implements the health and index endpoints.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/workers"
)

// Timeout constants.
const healthCheckTimeout = 5 * time.Second

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// Build information, set by the CLI at startup.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// SetBuildInfo records the version reported by the API.
func SetBuildInfo(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}

// DatabasePinger is implemented by stores backed by a database.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// QueueReporter reports the state of the job queue.
type QueueReporter interface {
	QueueStats() workers.Stats
}

// HealthHandler handles health check and index endpoints.
type HealthHandler struct {
	database  DatabasePinger
	queue     QueueReporter
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. database may be nil when
// jobs are kept in memory.
func NewHealthHandler(database DatabasePinger, queue QueueReporter, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &HealthHandler{
		database:  database,
		queue:     queue,
		logger:    logger.WithComponent("api").WithFields("handler", "health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
	Queue     *workers.Stats    `json:"queue,omitempty"`
}

// IndexResponse describes the service at its root URL.
type IndexResponse struct {
	Message   string            `json:"message"`
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Commit    string            `json:"commit"`
	BuildTime string            `json:"build_time"`
	GoVersion string            `json:"go_version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string),
	}

	if h.database == nil {
		response.Checks["database"] = StatusNotConfigured
	} else if err := h.database.Ping(ctx); err != nil {
		h.logger.Warn("Database health check failed", "error", err)
		response.Status = StatusUnhealthy
		response.Checks["database"] = "failed: " + errorDetail(err)
	} else {
		response.Checks["database"] = "ok"
	}

	if h.queue != nil {
		stats := h.queue.QueueStats()
		response.Queue = &stats
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}

// Index handles GET /.
func (h *HealthHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, IndexResponse{
		Message:   "Vulnerability Scanner API",
		Status:    "running",
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Endpoints: map[string]string{
			"health":    "/health",
			"metrics":   "/metrics",
			"scans":     "/api/v1/scans",
			"dashboard": "/api/v1/dashboard/metrics",
		},
	})
}

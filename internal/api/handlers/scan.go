// Package handlers provides HTTP request handlers for the vulnscan API.
// This file implements the scan job control endpoints.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/anstrom/vulnscan/internal/api/middleware"
	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/store"
)

// JobController is the job orchestrator as seen by the HTTP layer.
type JobController interface {
	Submit(ctx context.Context, target, label string) (string, error)
	Abort(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*store.Job, error)
	List(ctx context.Context) ([]*store.Job, error)
}

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	jobs   JobController
	logger *logging.Logger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(jobs JobController, logger *logging.Logger) *ScanHandler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &ScanHandler{
		jobs:   jobs,
		logger: logger.WithComponent("api").WithFields("handler", "scan"),
	}
}

// StartScanRequest is the JSON form of a start request. The same fields
// are accepted as query parameters.
type StartScanRequest struct {
	TargetIP string `json:"target_ip"`
	ScanName string `json:"scan_name,omitempty"`
}

// StartScanResponse acknowledges a queued scan.
type StartScanResponse struct {
	ScanID  string       `json:"scan_id"`
	Message string       `json:"message"`
	Status  store.Status `json:"status"`
}

// ScanSummary is one row of the scan list.
type ScanSummary struct {
	ID                 string       `json:"id"`
	TargetIP           string       `json:"target_ip"`
	ScanName           string       `json:"scan_name"`
	Status             store.Status `json:"status"`
	StartTime          *time.Time   `json:"start_time"`
	EndTime            *time.Time   `json:"end_time"`
	VulnerabilityCount int          `json:"vulnerability_count"`
}

// ScanStatusResponse is the lightweight status view of a scan.
type ScanStatusResponse struct {
	ScanID    string       `json:"scan_id"`
	Status    store.Status `json:"status"`
	TargetIP  string       `json:"target_ip"`
	ScanName  string       `json:"scan_name"`
	StartTime *time.Time   `json:"start_time"`
	EndTime   *time.Time   `json:"end_time"`
	Error     string       `json:"error,omitempty"`
}

// MessageResponse carries a single human readable message.
type MessageResponse struct {
	Message string `json:"message"`
}

// StartScan handles POST /api/v1/scans/start.
func (h *ScanHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	req := StartScanRequest{
		TargetIP: r.URL.Query().Get("target_ip"),
		ScanName: r.URL.Query().Get("scan_name"),
	}
	if req.TargetIP == "" && r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		if err := parseJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}

	id, err := h.jobs.Submit(r.Context(), req.TargetIP, req.ScanName)
	if err != nil {
		handleError(w, r, err, "start scan", h.logger)
		return
	}

	h.logger.Info("Scan accepted", "request_id", requestID, "scan_id", id, "target", req.TargetIP)
	writeJSON(w, r, http.StatusOK, StartScanResponse{
		ScanID:  id,
		Message: "Scan started successfully",
		Status:  store.StatusQueued,
	})
}

// ListScans handles GET /api/v1/scans.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		handleError(w, r, err, "list scans", h.logger)
		return
	}

	summaries := make([]ScanSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, ScanSummary{
			ID:                 job.ID,
			TargetIP:           job.Target,
			ScanName:           job.Label,
			Status:             job.Status,
			StartTime:          job.StartedAt,
			EndTime:            job.EndedAt,
			VulnerabilityCount: len(job.Findings),
		})
	}
	writeJSON(w, r, http.StatusOK, summaries)
}

// GetScan handles GET /api/v1/scans/{id} and returns the scan with its
// findings.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractStringFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	job, err := h.jobs.Status(r.Context(), id)
	if err != nil {
		handleError(w, r, err, "get scan", h.logger)
		return
	}
	if job.Findings == nil {
		job.Findings = []store.Finding{}
	}
	writeJSON(w, r, http.StatusOK, job)
}

// GetScanStatus handles GET /api/v1/scans/{id}/status.
func (h *ScanHandler) GetScanStatus(w http.ResponseWriter, r *http.Request) {
	id, err := extractStringFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	job, err := h.jobs.Status(r.Context(), id)
	if err != nil {
		handleError(w, r, err, "get scan status", h.logger)
		return
	}

	writeJSON(w, r, http.StatusOK, ScanStatusResponse{
		ScanID:    job.ID,
		Status:    job.Status,
		TargetIP:  job.Target,
		ScanName:  job.Label,
		StartTime: job.StartedAt,
		EndTime:   job.EndedAt,
		Error:     job.Error,
	})
}

// AbortScan handles POST /api/v1/scans/{id}/abort.
func (h *ScanHandler) AbortScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractStringFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.jobs.Abort(r.Context(), id); err != nil {
		handleError(w, r, err, "abort scan", h.logger)
		return
	}

	h.logger.Info("Scan aborted", "request_id", middleware.GetRequestID(r), "scan_id", id)
	writeJSON(w, r, http.StatusOK, MessageResponse{Message: "Scan aborted successfully"})
}

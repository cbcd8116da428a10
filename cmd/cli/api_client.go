// Package cli provides command-line interface commands for vulnscan.
// This file implements the HTTP client the job commands use to talk to a
// running vulnscan server.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anstrom/vulnscan/internal/api/handlers"
	"github.com/anstrom/vulnscan/internal/store"
)

const (
	clientTimeout = 30 * time.Second
	userAgent     = "vulnscan-cli/1.0"
)

// APIClient calls the job endpoints of a vulnscan server.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	RequestID  string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("API error (status %d, request %s): %s", e.StatusCode, e.RequestID, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIClient creates a client for the server at server, which is either
// a host:port pair or a full http(s) URL.
func NewAPIClient(server string) *APIClient {
	base := strings.TrimRight(server, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &APIClient{
		baseURL:    base + "/api/v1",
		httpClient: &http.Client{Timeout: clientTimeout},
		userAgent:  userAgent,
	}
}

// ListScans returns every scan, newest first.
func (c *APIClient) ListScans(ctx context.Context) ([]handlers.ScanSummary, error) {
	var scans []handlers.ScanSummary
	if err := c.request(ctx, http.MethodGet, "/scans", nil, &scans); err != nil {
		return nil, err
	}
	return scans, nil
}

// GetScan returns a scan with its findings.
func (c *APIClient) GetScan(ctx context.Context, id string) (*store.Job, error) {
	var job store.Job
	if err := c.request(ctx, http.MethodGet, "/scans/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// StartScan queues a scan of target.
func (c *APIClient) StartScan(ctx context.Context, target, name string) (*handlers.StartScanResponse, error) {
	payload := handlers.StartScanRequest{TargetIP: target, ScanName: name}
	var resp handlers.StartScanResponse
	if err := c.request(ctx, http.MethodPost, "/scans/start", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AbortScan stops a running scan.
func (c *APIClient) AbortScan(ctx context.Context, id string) (string, error) {
	var resp handlers.MessageResponse
	if err := c.request(ctx, http.MethodPost, "/scans/"+url.PathEscape(id)+"/abort", nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// request performs the HTTP request and decodes a successful body into dest.
func (c *APIClient) request(ctx context.Context, method, endpoint string, payload, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, data)
	}
	if dest == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var body handlers.ErrorResponse
	if json.Unmarshal(data, &body) == nil {
		apiErr.Message = body.Detail
		if apiErr.Message == "" {
			apiErr.Message = body.Error
		}
		apiErr.Code = body.Code
		apiErr.RequestID = body.RequestID
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}

	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("HTTP %d error", status)
	}
	return apiErr
}

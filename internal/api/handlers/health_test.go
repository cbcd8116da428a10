package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/vulnscan/internal/errors"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		database   DatabasePinger
		wantStatus int
		wantHealth string
		wantCheck  string
	}{
		{
			name:       "memory store",
			wantStatus: http.StatusOK,
			wantHealth: StatusHealthy,
			wantCheck:  StatusNotConfigured,
		},
		{
			name:       "database reachable",
			database:   pingerFunc(func(context.Context) error { return nil }),
			wantStatus: http.StatusOK,
			wantHealth: StatusHealthy,
			wantCheck:  "ok",
		},
		{
			name: "database down",
			database: pingerFunc(func(context.Context) error {
				return errors.ErrDatabaseConnection(assert.AnError)
			}),
			wantStatus: http.StatusServiceUnavailable,
			wantHealth: StatusUnhealthy,
			wantCheck:  "failed: Failed to connect to database",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.database, newFakeJobs(), nil)

			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.wantStatus, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantHealth, resp.Status)
			assert.Equal(t, tt.wantCheck, resp.Checks["database"])
			require.NotNil(t, resp.Queue)
			assert.Equal(t, 3, resp.Queue.Workers)
			assert.Equal(t, 2, resp.Queue.Active)
		})
	}
}

func TestIndex(t *testing.T) {
	SetBuildInfo("1.2.3", "abc123", "2026-03-01")
	t.Cleanup(func() { SetBuildInfo("dev", "unknown", "unknown") })

	rec := httptest.NewRecorder()
	NewHealthHandler(nil, nil, nil).Index(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Vulnerability Scanner API", resp.Message)
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "abc123", resp.Commit)
	assert.Equal(t, "/api/v1/scans", resp.Endpoints["scans"])
}

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_JobLifecycle(t *testing.T) {
	m := New()

	m.JobStarted()
	m.JobStarted()
	if got := testutil.ToFloat64(m.activeJobs); got != 2 {
		t.Fatalf("expected 2 active jobs, got %v", got)
	}

	m.JobFinished("completed", 3*time.Second, true)
	m.JobFinished("aborted", time.Second, true)
	if got := testutil.ToFloat64(m.activeJobs); got != 0 {
		t.Fatalf("expected 0 active jobs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected 1 completed job, got %v", got)
	}
	if count := testutil.CollectAndCount(m.jobDuration); count != 2 {
		t.Fatalf("expected 2 duration series, got %d", count)
	}
}

func TestMetrics_Notify(t *testing.T) {
	m := New()

	m.EventPublished("scan_update")
	m.EventPublished("scan_update")
	m.DeliveryFailed("overflow")
	m.SetSubscribers(4)
	m.FindingRecorded("medium")

	if got := testutil.ToFloat64(m.eventsPublished.WithLabelValues("scan_update")); got != 2 {
		t.Fatalf("expected 2 published events, got %v", got)
	}
	if got := testutil.ToFloat64(m.deliveryFailures.WithLabelValues("overflow")); got != 1 {
		t.Fatalf("expected 1 delivery failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.subscribers); got != 4 {
		t.Fatalf("expected 4 subscribers, got %v", got)
	}
	if got := testutil.ToFloat64(m.findingsTotal.WithLabelValues("medium")); got != 1 {
		t.Fatalf("expected 1 medium finding, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	m.JobStarted()
	m.JobFinished("failed", time.Second, true)
	m.FindingRecorded("low")
	m.EventPublished("connected")
	m.DeliveryFailed("closed")
	m.SetSubscribers(1)
	m.HTTPRequest("GET", "/health", "200", time.Millisecond)
}

func TestMetrics_HandlerServes(t *testing.T) {
	m := New()
	m.HTTPRequest("GET", "/api/v1/scans", "200", 5*time.Millisecond)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "vulnscan_api_requests_total") {
		t.Fatalf("expected request counter in output")
	}
}

// Package handlers provides HTTP request handlers for the vulnscan API.
// This file implements the dashboard aggregation endpoints.
package handlers

import (
	"context"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/rules"
	"github.com/anstrom/vulnscan/internal/store"
)

const (
	recentScanLimit = 10
	trendDays       = 7
)

// JobLister reads every job with its findings.
type JobLister interface {
	List(ctx context.Context) ([]*store.Job, error)
}

// DashboardHandler serves aggregate views over all jobs.
type DashboardHandler struct {
	jobs   JobLister
	logger *logging.Logger
	now    func() time.Time
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(jobs JobLister, logger *logging.Logger) *DashboardHandler {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &DashboardHandler{
		jobs:   jobs,
		logger: logger.WithComponent("api").WithFields("handler", "dashboard"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LastScan describes the most recently created job.
type LastScan struct {
	Timestamp *time.Time    `json:"timestamp"`
	Target    *string       `json:"target"`
	Status    *store.Status `json:"status"`
}

// RecentScan is one row of the recent scans table.
type RecentScan struct {
	ID                 string       `json:"id"`
	TargetIP           string       `json:"target_ip"`
	ScanName           string       `json:"scan_name"`
	Status             store.Status `json:"status"`
	StartTime          *time.Time   `json:"start_time"`
	VulnerabilityCount int          `json:"vulnerability_count"`
	Duration           *float64     `json:"duration"`
}

// TrendPoint is the number of jobs created on one day.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// DashboardMetrics is the response of GET /api/v1/dashboard/metrics.
type DashboardMetrics struct {
	TotalScans         int                    `json:"totalScans"`
	CompletedScans     int                    `json:"completedScans"`
	LastScan           LastScan               `json:"lastScan"`
	RiskDistribution   map[rules.Severity]int `json:"riskDistribution"`
	AvgVulnerabilities float64                `json:"avgVulnerabilities"`
	RecentScans        []RecentScan           `json:"recentScans"`
	ScanTrend          []TrendPoint           `json:"scanTrend"`
}

// QuickStats is the response of GET /api/v1/dashboard/stats.
type QuickStats struct {
	TodayScans              int     `json:"todayScans"`
	RunningScans            int     `json:"runningScans"`
	TotalVulnerabilities    int     `json:"totalVulnerabilities"`
	CriticalVulnerabilities int     `json:"criticalVulnerabilities"`
	MostScannedIP           *string `json:"mostScannedIP"`
	MostScannedCount        int     `json:"mostScannedCount"`
}

// GetMetrics handles GET /api/v1/dashboard/metrics.
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		handleError(w, r, err, "load dashboard metrics", h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, BuildMetrics(jobs, h.now()))
}

// GetStats handles GET /api/v1/dashboard/stats.
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		handleError(w, r, err, "load dashboard stats", h.logger)
		return
	}
	writeJSON(w, r, http.StatusOK, BuildStats(jobs, h.now()))
}

// BuildMetrics aggregates jobs, which must be ordered newest first.
func BuildMetrics(jobs []*store.Job, now time.Time) DashboardMetrics {
	m := DashboardMetrics{
		TotalScans:       len(jobs),
		RiskDistribution: make(map[rules.Severity]int, len(rules.Severities)),
		RecentScans:      make([]RecentScan, 0, recentScanLimit),
		ScanTrend:        []TrendPoint{},
	}
	for _, sev := range rules.Severities {
		m.RiskDistribution[sev] = 0
	}

	if len(jobs) > 0 {
		last := jobs[0]
		created := last.CreatedAt
		target := last.Target
		status := last.Status
		m.LastScan = LastScan{Timestamp: &created, Target: &target, Status: &status}
	}

	totalFindings := 0
	perDay := make(map[string]int)
	trendStart := now.AddDate(0, 0, -trendDays)

	for i, job := range jobs {
		if job.Status == store.StatusCompleted {
			m.CompletedScans++
		}
		totalFindings += len(job.Findings)
		for _, f := range job.Findings {
			if _, ok := m.RiskDistribution[f.Severity]; ok {
				m.RiskDistribution[f.Severity]++
			}
		}

		if i < recentScanLimit {
			row := RecentScan{
				ID:                 job.ID,
				TargetIP:           job.Target,
				ScanName:           job.Label,
				Status:             job.Status,
				StartTime:          job.StartedAt,
				VulnerabilityCount: len(job.Findings),
			}
			if job.StartedAt != nil && job.EndedAt != nil {
				seconds := job.Duration().Seconds()
				row.Duration = &seconds
			}
			m.RecentScans = append(m.RecentScans, row)
		}

		if !job.CreatedAt.Before(trendStart) {
			perDay[job.CreatedAt.UTC().Format(time.DateOnly)]++
		}
	}

	if m.CompletedScans > 0 {
		m.AvgVulnerabilities = math.Round(float64(totalFindings)/float64(m.CompletedScans)*10) / 10
	}

	for date, count := range perDay {
		m.ScanTrend = append(m.ScanTrend, TrendPoint{Date: date, Count: count})
	}
	sort.Slice(m.ScanTrend, func(i, j int) bool { return m.ScanTrend[i].Date < m.ScanTrend[j].Date })

	return m
}

// BuildStats computes the dashboard widgets. Ties for the most scanned
// target go to the target scanned most recently.
func BuildStats(jobs []*store.Job, now time.Time) QuickStats {
	var s QuickStats
	today := now.UTC().Format(time.DateOnly)
	perTarget := make(map[string]int)
	var order []string

	for _, job := range jobs {
		if job.CreatedAt.UTC().Format(time.DateOnly) == today {
			s.TodayScans++
		}
		if job.Status == store.StatusRunning {
			s.RunningScans++
		}
		s.TotalVulnerabilities += len(job.Findings)
		for _, f := range job.Findings {
			if f.Severity == rules.SeverityCritical {
				s.CriticalVulnerabilities++
			}
		}
		if perTarget[job.Target] == 0 {
			order = append(order, job.Target)
		}
		perTarget[job.Target]++
	}

	for _, target := range order {
		if perTarget[target] > s.MostScannedCount {
			t := target
			s.MostScannedIP = &t
			s.MostScannedCount = perTarget[target]
		}
	}
	return s
}

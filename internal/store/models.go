package store

import (
	"time"

	"github.com/anstrom/vulnscan/internal/rules"
)

// Status is the lifecycle state of a scan job.
type Status string

// Job statuses. The string values are stored and sent to clients.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Statuses lists every job status.
var Statuses = []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusAborted}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAborted
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// Job is a single requested scan and everything found by it.
type Job struct {
	ID        string     `json:"id" db:"id"`
	Target    string     `json:"target_ip" db:"target"`
	Label     string     `json:"scan_name" db:"label"`
	Status    Status     `json:"status" db:"status"`
	Error     string     `json:"error,omitempty" db:"error_message"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	StartedAt *time.Time `json:"start_time,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"end_time,omitempty" db:"ended_at"`
	Findings  []Finding  `json:"vulnerabilities" db:"-"`
}

// Duration returns how long the job ran, or zero if it has not finished.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.EndedAt == nil {
		return 0
	}
	return j.EndedAt.Sub(*j.StartedAt)
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	if j.Findings != nil {
		c.Findings = make([]Finding, len(j.Findings))
		for i := range j.Findings {
			c.Findings[i] = j.Findings[i].clone()
		}
	}
	return &c
}

// Finding is one classified open port on a job's target.
type Finding struct {
	ID          string         `json:"id" db:"id"`
	JobID       string         `json:"-" db:"job_id"`
	Port        int            `json:"port" db:"port"`
	Protocol    string         `json:"protocol" db:"protocol"`
	Service     string         `json:"service" db:"service"`
	Version     string         `json:"version" db:"version"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	Remediation string         `json:"remediation" db:"remediation"`
	Severity    rules.Severity `json:"severity" db:"severity"`
	CVEID       *string        `json:"cve_id,omitempty" db:"cve_id"`
	DetectedAt  time.Time      `json:"detected_at" db:"detected_at"`
}

func (f Finding) clone() Finding {
	if f.CVEID != nil {
		id := *f.CVEID
		f.CVEID = &id
	}
	return f
}

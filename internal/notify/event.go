// Package notify fans scan events out to live subscribers grouped by topic.
// Events are transient: they are delivered at most once per subscriber per
// publish and never stored.
package notify

import (
	"fmt"
	"time"
)

// DashboardTopic is the global topic that receives completion summaries
// for every job.
const DashboardTopic = "dashboard"

// JobTopic returns the topic carrying events for a single job.
func JobTopic(jobID string) string {
	return "job:" + jobID
}

// EventType is the wire tag of an event.
type EventType string

// Event types as sent to subscribers.
const (
	EventConnected       EventType = "connected"
	EventScanUpdate      EventType = "scan_update"
	EventScanCompleted   EventType = "scan_completed"
	EventScanFailed      EventType = "scan_failed"
	EventScanAborted     EventType = "scan_aborted"
	EventDashboardUpdate EventType = "dashboard_update"
	EventPong            EventType = "pong"
)

// Progress phases reported by running jobs.
const (
	PhaseInitializing          = "initializing"
	PhasePortScan              = "port_scan"
	PhaseVulnerabilityAnalysis = "vulnerability_analysis"
	PhaseCompleted             = "completed"
)

// Event is a single message delivered to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	ScanID    string    `json:"scan_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Progress is the payload of a scan_update event.
type Progress struct {
	Progress int    `json:"progress"`
	Phase    string `json:"phase"`
	Message  string `json:"message"`
}

// Summary is the payload of a scan_completed event.
type Summary struct {
	TargetIP           string `json:"target_ip"`
	ScanName           string `json:"scan_name"`
	VulnerabilityCount int    `json:"vulnerability_count"`
	Status             string `json:"status"`
}

func now() time.Time {
	return time.Now().UTC()
}

// Connected is the first event every new subscriber receives.
func Connected(message string) Event {
	return Event{Type: EventConnected, Timestamp: now(), Message: message}
}

// ProgressEvent reports that a job reached percent in phase.
func ProgressEvent(jobID string, percent int, phase, message string) Event {
	return Event{
		Type:      EventScanUpdate,
		ScanID:    jobID,
		Timestamp: now(),
		Data:      Progress{Progress: percent, Phase: phase, Message: message},
	}
}

// CompletedEvent announces a finished job on its own topic.
func CompletedEvent(jobID string, summary Summary) Event {
	return Event{Type: EventScanCompleted, ScanID: jobID, Timestamp: now(), Data: summary}
}

// DashboardUpdate announces a finished job on the dashboard topic.
func DashboardUpdate(jobID string) Event {
	return Event{
		Type:      EventDashboardUpdate,
		ScanID:    jobID,
		Timestamp: now(),
		Event:     string(EventScanCompleted),
		Message:   fmt.Sprintf("Scan %s completed", jobID),
	}
}

// FailedEvent announces a job that ended with reason.
func FailedEvent(jobID, reason string) Event {
	return Event{Type: EventScanFailed, ScanID: jobID, Timestamp: now(), Error: reason}
}

// AbortedEvent announces a job stopped on request.
func AbortedEvent(jobID string) Event {
	return Event{
		Type:      EventScanAborted,
		ScanID:    jobID,
		Timestamp: now(),
		Message:   "Scan was aborted by user",
	}
}

// Pong answers a subscriber ping.
func Pong() Event {
	return Event{Type: EventPong, Timestamp: now()}
}

package scanning

import (
	"fmt"
	"time"
)

// ScanError describes a failed scan step.
type ScanError struct {
	Op     string // Operation that failed
	Err    error  // Original error
	Target string // Target being scanned, if known
}

func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// Options control how nmap is invoked. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	// TopPorts scans the N most common ports
	TopPorts int
	// ServiceDetection enables -sV
	ServiceDetection bool
	// Timing is the nmap timing template (0-5)
	Timing int
	// MinRate is the minimum packets per second, 0 leaves nmap's default
	MinRate int
	// MaxRetries caps probe retransmissions, negative leaves nmap's default
	MaxRetries int
	// SkipHostDiscovery treats the target as up (-Pn)
	SkipHostDiscovery bool
	// BinaryPath overrides the nmap executable
	BinaryPath string
}

// DefaultOptions is equivalent to
// -sV --top-ports 50 -T4 --min-rate 1000 --max-retries 2.
func DefaultOptions() Options {
	return Options{
		TopPorts:         50,
		ServiceDetection: true,
		Timing:           4,
		MinRate:          1000,
		MaxRetries:       2,
	}
}

// Result is what a scan reports about a single target.
type Result struct {
	// Target is the scanned address
	Target string
	// HostStatus is "up", "down" or "unknown"
	HostStatus string
	// Ports contains every port nmap reported on
	Ports []Port
	// StartTime is when the scan started
	StartTime time.Time
	// EndTime is when the scan completed
	EndTime time.Time
	// Duration is how long the scan took
	Duration time.Duration
}

// NewResult creates a result for target with the current time as start time.
func NewResult(target string) *Result {
	return &Result{
		Target:     target,
		HostStatus: "unknown",
		StartTime:  time.Now(),
		Ports:      make([]Port, 0),
	}
}

// Complete marks the scan as complete and calculates duration.
func (r *Result) Complete() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// OpenPorts returns the ports in state "open", in reported order.
func (r *Result) OpenPorts() []Port {
	if r == nil {
		return nil
	}
	open := make([]Port, 0, len(r.Ports))
	for _, p := range r.Ports {
		if p.State == "open" {
			open = append(open, p)
		}
	}
	return open
}

// Port represents the scan results for a single port.
type Port struct {
	// Number is the port number (1-65535)
	Number uint16
	// Protocol is the transport protocol ("tcp" or "udp")
	Protocol string
	// State indicates whether the port is "open", "closed", or "filtered"
	State string
	// Service is the name of the detected service, if any
	Service string
	// Version is the version of the detected service, if available
	Version string
	// Product is the detected product, if available
	Product string
}

package scanning

//go:generate mockgen -destination=mocks/mock_scanner.go -package=mocks github.com/anstrom/vulnscan/internal/scanning Scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/vulnscan/internal/logging"
)

// Scanner scans one target. Implementations must return promptly once ctx
// is canceled.
type Scanner interface {
	Scan(ctx context.Context, target string) (*Result, error)
}

// NmapScanner scans with the nmap binary.
type NmapScanner struct {
	options Options
	logger  *logging.Logger
}

// NewNmapScanner creates an nmap-backed scanner.
func NewNmapScanner(options Options, logger *logging.Logger) *NmapScanner {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &NmapScanner{
		options: options,
		logger:  logger.WithComponent("scanner"),
	}
}

// Scan runs nmap against target and returns every reported port.
func (s *NmapScanner) Scan(ctx context.Context, target string) (*Result, error) {
	result := NewResult(target)
	defer result.Complete()

	scanner, err := nmap.NewScanner(ctx, buildScanOptions(target, s.options)...)
	if err != nil {
		return nil, &ScanError{Op: "create scanner", Target: target, Err: err}
	}

	s.logger.Debug("Starting nmap scan", "target", target)
	run, warnings, err := scanner.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, &ScanError{Op: "run scan", Target: target, Err: ctx.Err()}
		}
		return nil, &ScanError{Op: "run scan", Target: target, Err: err}
	}

	if warnings != nil && len(*warnings) > 0 {
		s.logger.Warn("Scan completed with warnings", "target", target,
			"warnings", strings.Join(*warnings, "; "))
	}

	convertNmapResults(run, target, result)
	return result, nil
}

// buildScanOptions creates nmap options for a single target.
func buildScanOptions(target string, opts Options) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(target),
	}

	if opts.BinaryPath != "" {
		options = append(options, nmap.WithBinaryPath(opts.BinaryPath))
	}
	if opts.ServiceDetection {
		options = append(options, nmap.WithServiceInfo())
	}
	if opts.TopPorts > 0 {
		options = append(options, nmap.WithMostCommonPorts(opts.TopPorts))
	}
	if opts.Timing >= 0 && opts.Timing <= int(nmap.TimingFastest) {
		options = append(options, nmap.WithTimingTemplate(nmap.Timing(opts.Timing)))
	}
	if opts.MinRate > 0 {
		options = append(options, nmap.WithMinRate(opts.MinRate))
	}
	if opts.MaxRetries >= 0 {
		options = append(options, nmap.WithMaxRetries(opts.MaxRetries))
	}
	if opts.SkipHostDiscovery {
		options = append(options, nmap.WithSkipHostDiscovery())
	}

	return options
}

// convertNmapResults copies the host matching target from run into result.
// nmap may normalize the address, so a run without an exact match falls
// back to its first host.
func convertNmapResults(run *nmap.Run, target string, result *Result) {
	if run == nil || len(run.Hosts) == 0 {
		return
	}

	host := &run.Hosts[0]
	for i := range run.Hosts {
		if hostHasAddress(&run.Hosts[i], target) {
			host = &run.Hosts[i]
			break
		}
	}

	result.HostStatus = host.Status.State
	for j := range host.Ports {
		p := &host.Ports[j]
		result.Ports = append(result.Ports, Port{
			Number:   p.ID,
			Protocol: p.Protocol,
			State:    p.State.State,
			Service:  p.Service.Name,
			Version:  p.Service.Version,
			Product:  p.Service.Product,
		})
	}
}

func hostHasAddress(h *nmap.Host, addr string) bool {
	for _, a := range h.Addresses {
		if a.Addr == addr {
			return true
		}
	}
	return false
}

// Describe renders the nmap arguments opts corresponds to.
func Describe(opts Options) string {
	var parts []string
	if opts.ServiceDetection {
		parts = append(parts, "-sV")
	}
	if opts.TopPorts > 0 {
		parts = append(parts, fmt.Sprintf("--top-ports %d", opts.TopPorts))
	}
	if opts.Timing >= 0 && opts.Timing <= int(nmap.TimingFastest) {
		parts = append(parts, fmt.Sprintf("-T%d", opts.Timing))
	}
	if opts.MinRate > 0 {
		parts = append(parts, fmt.Sprintf("--min-rate %d", opts.MinRate))
	}
	if opts.MaxRetries >= 0 {
		parts = append(parts, fmt.Sprintf("--max-retries %d", opts.MaxRetries))
	}
	if opts.SkipHostDiscovery {
		parts = append(parts, "-Pn")
	}
	return strings.Join(parts, " ")
}

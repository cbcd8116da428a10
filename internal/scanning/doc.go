// Package scanning runs port scans against a single target for vulnscan.
//
// # Overview
//
// The package is built around the Scanner interface, which the job
// orchestrator calls once per scan job:
//
//	type Scanner interface {
//		Scan(ctx context.Context, target string) (*Result, error)
//	}
//
// NmapScanner is the production implementation. It drives the nmap binary
// through github.com/Ullaakut/nmap/v3 with options equivalent to
//
//	nmap -sV --top-ports 50 -T4 --min-rate 1000 --max-retries 2 <target>
//
// unless Options says otherwise. Tests use the gomock Scanner in the mocks
// subpackage.
//
// # Results
//
// A Result lists every port nmap reported for the target together with the
// detected service name and version. OpenPorts filters it down to the ports
// the orchestrator classifies into findings.
//
//	result, err := scanner.Scan(ctx, "192.168.1.10")
//	if err != nil {
//		return err
//	}
//	for _, p := range result.OpenPorts() {
//		fmt.Printf("%d/%s %s %s\n", p.Number, p.Protocol, p.Service, p.Version)
//	}
//
// # XML Export
//
// SaveResults and LoadResults persist a Result as indented XML, which the
// CLI uses for offline scans.
//
// # Cancellation
//
// Scan honors ctx: nmap is killed when the context is canceled and the
// returned ScanError wraps the context error.
package scanning

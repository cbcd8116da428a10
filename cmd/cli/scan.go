package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/vulnscan/internal/jobs"
	"github.com/anstrom/vulnscan/internal/logging"
	"github.com/anstrom/vulnscan/internal/notify"
	"github.com/anstrom/vulnscan/internal/scanning"
	"github.com/anstrom/vulnscan/internal/store"
)

var (
	scanLabel  string
	scanOutput string
)

// scanCmd runs a single scan in process, without a server.
var scanCmd = &cobra.Command{
	Use:   "scan <target>",
	Short: "Scan one host and print its findings",
	Long: `Scan a single IPv4 or IPv6 address with nmap and print the findings.

Progress is reported as the scan runs. Interrupting the command aborts
the scan. Nothing is persisted unless --output is given, in which case
the raw nmap result is written as XML.`,
	Example: `  vulnscan scan 192.168.1.10
  vulnscan scan 10.0.0.5 --name "Lab router"
  vulnscan scan 10.0.0.5 --output router.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanLabel, "name", "", "Scan name (default: generated from the date)")
	scanCmd.Flags().StringVar(&scanOutput, "output", "", "Write the raw scan result to this XML file")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var scanner scanning.Scanner = scanning.NewNmapScanner(cfg.Scanning.ScannerOptions(), logging.Default())
	if scanOutput != "" {
		scanner = &savingScanner{Scanner: scanner, path: scanOutput}
	}

	job, err := runLocalScan(ctx, scanner, cfg.JobConfig(), args[0], scanLabel, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nID:       %s", job.ID)
	renderFindings(cmd.OutOrStdout(), job)
	if job.Status != store.StatusCompleted {
		return fmt.Errorf("scan %s", job.Status)
	}
	return nil
}

// runLocalScan submits target to a private orchestrator and waits for it
// to finish. Canceling ctx aborts the scan.
func runLocalScan(ctx context.Context, scanner scanning.Scanner, cfg jobs.Config, target, label string, out io.Writer) (*store.Job, error) {
	progress := newProgressPrinter(out)
	orch := jobs.New(store.NewMemory(), scanner, progress, cfg, jobs.WithLogger(logging.Default()))
	defer func() { _ = orch.Close(context.Background()) }()

	// The job may start before Submit returns, so nothing is printed
	// after it except through the printer.
	progress.printf("Queueing scan of %s\n", target)
	id, err := orch.Submit(ctx, target, label)
	if err != nil {
		return nil, err
	}

	select {
	case <-progress.done:
	case <-ctx.Done():
		if err := orch.Abort(context.Background(), id); err != nil {
			// Still queued: shutting down fails it instead.
			logging.Debug("Abort after interrupt was rejected", "scan_id", id, "error", err)
			_ = orch.Close(context.Background())
		}
		<-progress.done
	}

	return orch.Status(context.Background(), id)
}

// progressPrinter is a publisher that writes job events to a terminal.
// Every write to out goes through mu.
type progressPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	done chan struct{}
	once sync.Once
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, done: make(chan struct{})}
}

func (p *progressPrinter) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *progressPrinter) Publish(_ string, ev notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case notify.EventScanUpdate:
		if prog, ok := ev.Data.(notify.Progress); ok {
			fmt.Fprintf(p.out, "[%3d%%] %s\n", prog.Progress, prog.Message)
		}
	case notify.EventScanFailed:
		fmt.Fprintf(p.out, "Scan failed: %s\n", ev.Error)
		p.finish()
	case notify.EventScanAborted:
		fmt.Fprintln(p.out, ev.Message)
		p.finish()
	}
}

func (p *progressPrinter) BroadcastCompletion(_ string, summary notify.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "Scan completed: %d findings on %s\n", summary.VulnerabilityCount, summary.TargetIP)
	p.finish()
}

func (p *progressPrinter) finish() {
	p.once.Do(func() { close(p.done) })
}

// renderFindings prints a job and its findings as tables.
func renderFindings(out io.Writer, job *store.Job) {
	fmt.Fprintf(out, "\nTarget:   %s\nName:     %s\nStatus:   %s\nDuration: %s\n",
		job.Target, job.Label, job.Status, job.Duration().Round(time.Millisecond))
	if job.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", job.Error)
	}

	if len(job.Findings) == 0 {
		fmt.Fprintln(out, "\nNo findings.")
		return
	}

	fmt.Fprintln(out)
	table := tablewriter.NewWriter(out)
	table.Header("Port", "Service", "Severity", "Finding", "Remediation")
	for _, f := range job.Findings {
		service := f.Service
		if f.Version != "" {
			service += " " + f.Version
		}
		_ = table.Append([]string{
			strconv.Itoa(f.Port) + "/" + f.Protocol,
			service,
			string(f.Severity),
			f.Name,
			f.Remediation,
		})
	}
	_ = table.Render()
}

// savingScanner writes every successful result to path as XML.
type savingScanner struct {
	scanning.Scanner
	path string
}

func (s *savingScanner) Scan(ctx context.Context, target string) (*scanning.Result, error) {
	result, err := s.Scanner.Scan(ctx, target)
	if err != nil {
		return nil, err
	}
	if err := scanning.SaveResults(result, s.path); err != nil {
		logging.Warn("Failed to save scan result", "path", s.path, "error", err)
	}
	return result, nil
}

package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/vulnscan/internal/api/handlers"
)

const timeFormat = "2006-01-02 15:04:05"

// jobsCmd groups the commands that talk to a running server.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scan jobs on a running server",
	Long: `List, inspect, start and abort scan jobs on a running vulnscan server.

The server address defaults to the api section of the configuration and
can be overridden with --server or VULNSCAN_SERVER.`,
	Example: `  vulnscan jobs list
  vulnscan jobs start 192.168.1.10 --name Nightly
  vulnscan jobs status 3f2b...
  vulnscan jobs abort 3f2b... --server 10.0.0.2:8000`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := newJobsClient()
		if err != nil {
			return err
		}
		scans, err := client.ListScans(cmd.Context())
		if err != nil {
			return err
		}
		renderScanList(cmd.OutOrStdout(), scans)
		return nil
	},
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <scan-id>",
	Short: "Show a scan job and its findings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newJobsClient()
		if err != nil {
			return err
		}
		job, err := client.GetScan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ID:       %s", job.ID)
		renderFindings(cmd.OutOrStdout(), job)
		return nil
	},
}

var jobsStartCmd = &cobra.Command{
	Use:   "start <target>",
	Short: "Queue a scan job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newJobsClient()
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		resp, err := client.StartScan(cmd.Context(), args[0], name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (scan %s, %s)\n", resp.Message, resp.ScanID, resp.Status)
		return nil
	},
}

var jobsAbortCmd = &cobra.Command{
	Use:   "abort <scan-id>",
	Short: "Abort a running scan job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newJobsClient()
		if err != nil {
			return err
		}
		msg, err := client.AbortScan(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsStartCmd, jobsAbortCmd)

	jobsCmd.PersistentFlags().String("server", "", "Server address (host:port or URL)")
	bindFlag("server", jobsCmd.PersistentFlags().Lookup("server"))

	jobsStartCmd.Flags().String("name", "", "Scan name")
}

// newJobsClient resolves the server address from --server, VULNSCAN_SERVER
// or the api section of the configuration.
func newJobsClient() (*APIClient, error) {
	if server := viper.GetString("server"); server != "" {
		return NewAPIClient(server), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return NewAPIClient(cfg.Address()), nil
}

func renderScanList(out io.Writer, scans []handlers.ScanSummary) {
	if len(scans) == 0 {
		fmt.Fprintln(out, "No scans found.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Target", "Name", "Status", "Started", "Duration", "Findings")
	for _, s := range scans {
		started := "-"
		if s.StartTime != nil {
			started = s.StartTime.Local().Format(timeFormat)
		}
		duration := "-"
		if s.StartTime != nil && s.EndTime != nil {
			duration = s.EndTime.Sub(*s.StartTime).Round(time.Second).String()
		}
		_ = table.Append([]string{
			s.ID,
			s.TargetIP,
			s.ScanName,
			string(s.Status),
			started,
			duration,
			strconv.Itoa(s.VulnerabilityCount),
		})
	}
	_ = table.Render()
}

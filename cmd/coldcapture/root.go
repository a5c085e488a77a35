package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/coldcapture/coldcapture/internal/config"
	"github.com/coldcapture/coldcapture/internal/hostid"
	"github.com/coldcapture/coldcapture/internal/logging"
	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/orchestrator"
	"github.com/coldcapture/coldcapture/internal/shellexec"
	"github.com/coldcapture/coldcapture/internal/ship"
	"github.com/coldcapture/coldcapture/internal/volume"
)

// runner needs only these two methods — cmd talks to the orchestrator
// package through this seam so tests can inject a fake.
type runner interface {
	Plan(ctx context.Context, opts orchestrator.Options) ([]model.Volume, error)
	Run(ctx context.Context, opts orchestrator.Options) (*model.RunRecord, error)
}

type orchestratorRunner struct{}

func (orchestratorRunner) Plan(ctx context.Context, opts orchestrator.Options) ([]model.Volume, error) {
	return orchestrator.Plan(ctx, opts)
}

func (orchestratorRunner) Run(ctx context.Context, opts orchestrator.Options) (*model.RunRecord, error) {
	return orchestrator.Run(ctx, opts)
}

// Allow tests to inject a fake runner.
var newRunner = func() runner {
	return orchestratorRunner{}
}

var (
	configPath   string
	listOnly     bool
	dryRun       bool
	workersFlag  int
	onlyDevices  []string
	excludeDevs  []string
	outputFormat string = "text"
	gracePeriod  time.Duration
)

// exitCode is read by main after rootCmd.Execute returns. 3 (invalid
// invocation) is the zero-risk default: a PreRunE (flag validation) failure
// leaves it untouched, and cobra's own error path uses it too unless a RunE
// stage sets a more specific code first (2 for config and orchestrator
// errors, 0 or 1 from a completed run).
var exitCode = 3

const toolVersion = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "coldcapture",
	Short: "Capture every non-boot volume on a host to checksummed archives",
	Long: `coldcapture enumerates the non-boot volumes on a host, archives each
one to compressed, checksummed, resumable chunks, and optionally ships them
to a remote collector.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "text", "json", "yaml":
		default:
			return fmt.Errorf("unsupported --format %q (supported: text, json, yaml)", outputFormat)
		}
		return nil
	},
	RunE: executeCapture,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to coldcapture.toml (default: adjacent to executable, then /etc/coldcapture.toml)")
	rootCmd.Flags().BoolVar(&listOnly, "list", false, "enumerate and print the capture plan with reasons; no mount, no archive")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and print all commands without executing them")
	rootCmd.Flags().IntVar(&workersFlag, "workers", 0, "override the worker-pool size (0 = auto)")
	rootCmd.Flags().StringSliceVar(&onlyDevices, "only", nil, "restrict capture to these devices")
	rootCmd.Flags().StringSliceVar(&excludeDevs, "exclude-dev", nil, "skip these devices")
	rootCmd.Flags().StringVar(&outputFormat, "format", "text", "output format for the --list plan and the run summary: text, json, yaml")
	rootCmd.Flags().DurationVar(&gracePeriod, "grace-period", 15*time.Second, "time allowed for an in-flight chunk to fsync after SIGINT/SIGTERM before forceful exit")
}

func executeCapture(cmd *cobra.Command, args []string) error {
	log := logging.Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		exitCode = 2
		return err
	}
	if workersFlag > 0 {
		cfg.Runtime.Workers = workersFlag
	}

	exec := shellexec.Executor(&shellexec.DefaultExecutor{})
	if dryRun {
		exec = &shellexec.DryRunExecutor{}
	}

	token, err := hostid.Token(cfg.Archive.SpoolDir)
	if err != nil {
		exitCode = 2
		return fmt.Errorf("deriving host token: %w", err)
	}

	var transport ship.Transport
	if !dryRun && cfg.Server.URI != "" {
		transport = ship.NewHTTPTransport(cfg.Server.URI, credentialHeader(cfg.Server.CredentialPath))
	}

	opts := orchestrator.Options{
		Config:    cfg,
		Exec:      exec,
		Transport: transport,
		HostToken: token,
		RunAt:     time.Now(),
		Overrides: volume.Overrides{
			Only:       toSet(onlyDevices),
			ExcludeDev: toSet(excludeDevs),
		},
		ToolVersion:  toolVersion,
		ShowProgress: outputFormat == "text",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-sigCh:
		}
		log.Warnw("shutdown signal received, cancelling in-flight volumes", "grace_period", gracePeriod)
		cancel()
		select {
		case <-done:
		case <-time.After(gracePeriod):
			log.Errorw("grace period elapsed, forcing exit")
			os.Exit(3)
		}
	}()

	rt := newRunner()

	if listOnly {
		volumes, err := rt.Plan(ctx, opts)
		if err != nil {
			exitCode = 2
			return err
		}
		exitCode = 0
		return writePlan(cmd, volumes, outputFormat)
	}

	record, err := rt.Run(ctx, opts)
	if err != nil {
		exitCode = 2
		return err
	}

	if err := writeRunSummary(cfg, record); err != nil {
		log.Warnw("failed to persist run summary", "error", err)
	}

	exitCode = record.ExitCode()
	return writeRunRecord(cmd, record, outputFormat)
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

func credentialHeader(path string) string {
	if path == "" {
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		logging.Logger().Warnw("reading server credential", "path", path, "error", err)
		return ""
	}
	return "Bearer " + strings.TrimSpace(string(b))
}

func writePlan(cmd *cobra.Command, volumes []model.Volume, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return writeJSON(out, volumes)
	case "yaml":
		return writeYAML(out, volumes)
	default:
		for _, v := range volumes {
			if v.Selected() {
				fmt.Fprintf(out, "%-20s %-6s %10s  selected\n", v.DevicePath, v.FSType, humanize.Bytes(uint64(v.SizeBytes)))
				continue
			}
			fmt.Fprintf(out, "%-20s %-6s %10s  skipped{%s}\n", v.DevicePath, v.FSType, humanize.Bytes(uint64(v.SizeBytes)), v.SkipReason)
		}
		return nil
	}
}

func writeRunRecord(cmd *cobra.Command, record *model.RunRecord, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		return writeJSON(out, record)
	case "yaml":
		return writeYAML(out, record)
	default:
		for _, v := range record.Volumes {
			switch v.Status {
			case model.StatusOK:
				fmt.Fprintf(out, "%-20s ok       %8s in %s\n", v.Volume, humanize.Bytes(uint64(v.BytesOut)), v.Elapsed.Round(time.Second))
			case model.StatusSkipped:
				fmt.Fprintf(out, "%-20s skipped  %s\n", v.Volume, v.Reason)
			case model.StatusFailed:
				fmt.Fprintf(out, "%-20s FAILED   %s\n", v.Volume, v.Reason)
			}
		}
		fmt.Fprintf(out, "\n%d ok, %d skipped, %d failed\n", record.OKCount, record.SkippedCount, record.FailedCount)
		return nil
	}
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeYAML(w io.Writer, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	_, err = w.Write(b)
	return err
}

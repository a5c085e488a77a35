package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/orchestrator"
)

func resetFlags() {
	configPath = ""
	listOnly = false
	dryRun = false
	workersFlag = 0
	onlyDevices = nil
	excludeDevs = nil
	outputFormat = "text"
	exitCode = 3
}

type fakeRunner struct {
	volumes []model.Volume
	record  *model.RunRecord
	err     error
}

func (f *fakeRunner) Plan(ctx context.Context, opts orchestrator.Options) ([]model.Volume, error) {
	return f.volumes, f.err
}

func (f *fakeRunner) Run(ctx context.Context, opts orchestrator.Options) (*model.RunRecord, error) {
	return f.record, f.err
}

func writeTestConfig(t *testing.T, spoolDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coldcapture.toml")
	body := `
[archive]
spool_dir = "` + spoolDir + `"
compressor = "zstd"
level = 1

[integrity]
algorithm = "sha256"

[output]
run_summary_dir = "` + t.TempDir() + `"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExecuteCaptureListModePrintsPlanAndExitsZero(t *testing.T) {
	defer resetFlags()
	resetFlags()

	oldNew := newRunner
	defer func() { newRunner = oldNew }()
	newRunner = func() runner {
		return &fakeRunner{volumes: []model.Volume{
			{DevicePath: "/dev/sdb1", FSType: "ext4", SizeBytes: 1 << 30, Status: model.StatusSelected},
			{DevicePath: "/dev/sda1", FSType: "ext4", SizeBytes: 1 << 20, Status: model.StatusSkipped, SkipReason: model.SkipTooSmall},
		}}
	}

	listOnly = true
	configPath = writeTestConfig(t, t.TempDir())

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--list", "--config", configPath})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	out := buf.String()
	if !strings.Contains(out, "selected") || !strings.Contains(out, "skipped{too_small}") {
		t.Fatalf("unexpected plan output: %s", out)
	}
}

func TestExecuteCaptureListModeJSON(t *testing.T) {
	defer resetFlags()
	resetFlags()

	oldNew := newRunner
	defer func() { newRunner = oldNew }()
	newRunner = func() runner {
		return &fakeRunner{volumes: []model.Volume{
			{DevicePath: "/dev/sdb1", FSType: "ext4", SizeBytes: 1 << 30, Status: model.StatusSelected},
		}}
	}

	listOnly = true
	outputFormat = "json"
	configPath = writeTestConfig(t, t.TempDir())

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--list", "--format", "json", "--config", configPath})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []model.Volume
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v\nout:\n%s", err, buf.String())
	}
	if len(got) != 1 || got[0].DevicePath != "/dev/sdb1" {
		t.Fatalf("unexpected decoded plan: %+v", got)
	}
}

func TestExecuteCaptureRunModeExitCodeReflectsFailures(t *testing.T) {
	defer resetFlags()
	resetFlags()

	oldNew := newRunner
	defer func() { newRunner = oldNew }()
	record := &model.RunRecord{}
	record.Add(model.VolumeRecord{Volume: "vol-a", Status: model.StatusOK})
	record.Add(model.VolumeRecord{Volume: "vol-b", Status: model.StatusFailed, Reason: "mount: helper_missing"})
	newRunner = func() runner {
		return &fakeRunner{record: record}
	}

	configPath = writeTestConfig(t, t.TempDir())

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--config", configPath})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exitCode != 1 {
		t.Fatalf("expected exit code 1 (a volume failed), got %d", exitCode)
	}
}

func TestExecuteCaptureOrchestratorErrorYieldsExitCodeTwo(t *testing.T) {
	defer resetFlags()
	resetFlags()

	oldNew := newRunner
	defer func() { newRunner = oldNew }()
	newRunner = func() runner {
		return &fakeRunner{err: errors.New("spool directory unwritable")}
	}

	configPath = writeTestConfig(t, t.TempDir())

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--config", configPath})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error to propagate")
	}
	if exitCode != 2 {
		t.Fatalf("expected exit code 2, got %d", exitCode)
	}
}

func TestExecuteCaptureRejectsUnsupportedFormat(t *testing.T) {
	defer resetFlags()
	resetFlags()

	configPath = writeTestConfig(t, t.TempDir())

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--list", "--format", "xml", "--config", configPath})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for unsupported --format")
	}
}

func TestExecuteCaptureBadConfigPathYieldsExitCodeTwo(t *testing.T) {
	defer resetFlags()
	resetFlags()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"--config", "/nonexistent/coldcapture.toml"})

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing config file")
	}
	if exitCode != 2 {
		t.Fatalf("expected exit code 2, got %d", exitCode)
	}
}


package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coldcapture/coldcapture/internal/config"
	"github.com/coldcapture/coldcapture/internal/model"
)

// writeRunSummary persists the run record as JSON under
// Output.RunSummaryDir, one file per run plus (when PerVolumeJSON is set)
// one file per individual volume, so a run's outcome survives the process
// that produced it.
func writeRunSummary(cfg *config.Config, record *model.RunRecord) error {
	dir := cfg.Output.RunSummaryDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating run summary dir: %w", err)
	}

	runFile := filepath.Join(dir, fmt.Sprintf("%s-%s.json", record.RunAt.Format("20060102T150405"), record.HostToken))
	if err := writeSummaryJSON(runFile, record); err != nil {
		return err
	}

	if !cfg.Output.PerVolumeJSON {
		return nil
	}
	for _, v := range record.Volumes {
		if v.Volume == "" {
			continue
		}
		volFile := filepath.Join(dir, fmt.Sprintf("%s-%s-%s.json", record.RunAt.Format("20060102T150405"), record.HostToken, v.Volume))
		if err := writeSummaryJSON(volFile, v); err != nil {
			return err
		}
	}
	return nil
}

func writeSummaryJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

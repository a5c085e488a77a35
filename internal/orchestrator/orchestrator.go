// Package orchestrator drives one capture run end-to-end: layer
// activation, device/volume discovery, a bounded worker pool dispatching
// selected volumes largest-first, and per-volume mount→archive→compress→
// ship→release pipelines, collecting a RunRecord.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coldcapture/coldcapture/internal/archive"
	"github.com/coldcapture/coldcapture/internal/compress"
	"github.com/coldcapture/coldcapture/internal/config"
	"github.com/coldcapture/coldcapture/internal/device"
	"github.com/coldcapture/coldcapture/internal/layer"
	"github.com/coldcapture/coldcapture/internal/logging"
	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/mount"
	"github.com/coldcapture/coldcapture/internal/shellexec"
	"github.com/coldcapture/coldcapture/internal/ship"
	"github.com/coldcapture/coldcapture/internal/volume"
)

var log = logging.Logger()

// Options bundles everything one Run call needs.
type Options struct {
	Config       *config.Config
	Exec         shellexec.Executor
	Transport    ship.Transport // nil disables remote shipping (e.g. --dry-run)
	HostToken    string
	RunAt        time.Time
	Overrides    volume.Overrides
	ToolVersion  string
	ShowProgress bool
}

// DeriveWorkers computes the worker-pool size W: the configured override if
// positive, else max(1, min(8, cpu_count/2)).
func DeriveWorkers(configured int) int {
	if configured > 0 {
		return configured
	}
	w := runtime.NumCPU() / 2
	if w > 8 {
		w = 8
	}
	if w < 1 {
		w = 1
	}
	return w
}

// WorkerThreads computes t_worker = max(1, cpu_count/workers), the
// per-worker compression-thread budget. Run logs it at dispatch; the
// compressors do not receive it: the in-process zstd encoder sizes its
// concurrency to runtime.NumCPU() for every volume, and pigz runs with its
// own default thread count.
func WorkerThreads(workers int) int {
	t := runtime.NumCPU() / workers
	if t < 1 {
		t = 1
	}
	return t
}

// Plan runs layer activation and volume discovery only — no mount, no
// archive, no ship — for --list mode: enumerate and print the plan with
// reasons.
func Plan(ctx context.Context, opts Options) ([]model.Volume, error) {
	return discover(ctx, opts)
}

func discover(ctx context.Context, opts Options) ([]model.Volume, error) {
	assembler := layer.NewAssembler(opts.Exec)
	for _, w := range assembler.Activate(ctx, layer.Config{
		EnableMDRAID: opts.Config.Discovery.EnableMDRAID,
		EnableLVM:    opts.Config.Discovery.EnableLVM,
		EnableZFS:    opts.Config.Discovery.EnableZFS,
	}) {
		log.Warnw("layer activation warning", "error", w)
	}

	inspector := device.NewInspector(opts.Exec)
	topology, err := inspector.ListBlockDevices(ctx)
	if err != nil {
		return nil, err
	}

	boot, err := inspector.DetectBootSource(ctx, topology)
	if err != nil {
		log.Warnw("boot source detection failed; proceeding without boot exclusion", "error", err)
	}

	for _, d := range topology {
		if d.FSType == "" {
			continue
		}
		sig, err := inspector.ProbeSignature(ctx, d.Path)
		if err != nil {
			log.Warnw("signature probe failed; volume will be skipped rather than treated as unencrypted", "device", d.Path, "error", err)
			d.InspectionFailed = true
			continue
		}
		d.Encryption = sig
	}

	return volume.Enumerate(topology, opts.Config, boot, opts.Overrides, opts.HostToken, opts.RunAt), nil
}

// Run discovers volumes, dispatches selected ones to a bounded worker pool
// in largest-first order, and returns the aggregate RunRecord. Completion
// order across volumes is nondeterministic; dispatch order is not.
func Run(ctx context.Context, opts Options) (*model.RunRecord, error) {
	record := &model.RunRecord{HostToken: opts.HostToken, RunAt: opts.RunAt}

	volumes, err := discover(ctx, opts)
	if err != nil {
		return nil, err
	}

	var selected []model.Volume
	for _, v := range volumes {
		if v.Selected() {
			selected = append(selected, v)
			continue
		}
		record.Add(model.VolumeRecord{
			Volume: v.ArchiveBase,
			Status: model.StatusSkipped,
			Reason: string(v.SkipReason),
		})
	}

	workers := DeriveWorkers(opts.Config.Runtime.Workers)
	tWorker := WorkerThreads(workers)
	log.Infow("dispatching volumes", "selected", len(selected), "workers", workers, "t_worker", tWorker)

	results := make(chan model.VolumeRecord, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, v := range selected {
		v := v
		g.Go(func() error {
			results <- processVolume(gctx, opts, v, tWorker)
			return nil // per-volume failures live in the record, not the errgroup
		})
	}
	if err := g.Wait(); err != nil {
		return record, err
	}
	close(results)
	for rec := range results {
		record.Add(rec)
	}

	return record, nil
}

func processVolume(ctx context.Context, opts Options, v model.Volume, tWorker int) model.VolumeRecord {
	start := time.Now()
	rec := model.VolumeRecord{Volume: v.ArchiveBase}

	spoolDir := filepath.Join(opts.Config.Archive.SpoolDir, v.ArchiveBase)
	job := model.NewArchiveJob(spoolDir, v, opts.Config.Archive.ChunkSizeMB, opts.Config.Integrity.Algorithm)

	if err := os.MkdirAll(job.SpoolDir, 0o755); err != nil {
		job.Err = err
		return failRecord(rec, start, "spool", err)
	}

	scratchRoot := filepath.Join(opts.Config.Archive.SpoolDir, ".mnt")
	mgr := mount.NewManager(opts.Exec, scratchRoot)
	mnt, err := mgr.Acquire(ctx, job.Volume.DevicePath, job.Volume.FSType, job.Volume.ArchiveBase)
	if err != nil {
		job.Err = err
		return failRecord(rec, start, "mount", err)
	}
	defer func() {
		if rerr := mnt.Release(); rerr != nil {
			log.Warnw("mount release failed", "volume", job.Volume.ArchiveBase, "error", rerr)
		}
	}()

	pr, pw := io.Pipe()
	archiveErrCh := make(chan error, 1)
	var bytesIn int64
	go func() {
		n, aerr := archive.Stream(mnt.Mountpoint, archive.Options{
			MaxFileSizeBytes: int64(opts.Config.Filters.MaxFileSizeMB) << 20,
			PreserveXattrs:   opts.Config.Archive.PreserveXattrs,
		}, pw)
		bytesIn = n
		archiveErrCh <- aerr
		_ = pw.CloseWithError(aerr)
	}()

	selector := &compress.Selector{Exec: opts.Exec}
	compressorName, err := selector.Select(ctx, opts.Config.Archive.Compressor)
	if err != nil {
		_ = pr.CloseWithError(err)
		<-archiveErrCh
		job.Err = err
		return failRecord(rec, start, "compress", err)
	}

	manifest, err := compress.Run(ctx, pr, compress.Options{
		SpoolDir:        job.SpoolDir,
		ArchiveBase:     job.Volume.ArchiveBase,
		SourceDevice:    job.Volume.DevicePath,
		FSType:          job.Volume.FSType,
		VolumeSizeBytes: job.Volume.SizeBytes,
		Compressor:      compressorName,
		Level:           opts.Config.Archive.Level,
		ChunkSizeMB:     job.ChunkSizeMB,
		HashAlgorithm:   job.HashAlgorithm,
		ToolVersion:     opts.ToolVersion,
	}, opts.Exec)
	if err != nil {
		<-archiveErrCh
		job.Err = err
		return failRecord(rec, start, "compress", err)
	}
	job.Manifest = manifest
	if aerr := <-archiveErrCh; aerr != nil {
		job.Err = aerr
		return failRecord(rec, start, "archive", aerr)
	}

	if err := compress.WriteSidecars(job.SpoolDir, job.Manifest); err != nil {
		job.Err = err
		return failRecord(rec, start, "sidecars", err)
	}
	if err := compress.WriteManifest(job.SpoolDir, job.Manifest); err != nil {
		job.Err = err
		return failRecord(rec, start, "manifest", err)
	}

	var bytesOut int64
	for _, c := range job.Manifest.Chunks {
		bytesOut += c.Length
	}

	if opts.Transport != nil {
		shipper := &ship.Shipper{Transport: opts.Transport}
		remotePrefix := fmt.Sprintf("%s/%s/%s", opts.RunAt.Format("20060102"), opts.HostToken, job.Volume.ArchiveBase)
		out, serr := shipper.Ship(ctx, job.SpoolDir, job.Manifest, ship.Options{
			RemotePrefix:         remotePrefix,
			BandwidthBytesPerSec: int64(opts.Config.Server.BandwidthCapMBps) << 20,
			ShowProgress:         opts.ShowProgress,
		})
		if serr != nil {
			job.Err = serr
			return failRecord(rec, start, "ship", serr)
		}
		bytesOut = out.BytesOut
	}

	if !job.Done() {
		err := fmt.Errorf("manifest recorded but not every chunk is marked committed")
		job.Err = err
		return failRecord(rec, start, "manifest", err)
	}

	rec.Status = model.StatusOK
	rec.Elapsed = time.Since(start)
	rec.BytesIn = bytesIn
	rec.BytesOut = bytesOut
	rec.Chunks = len(job.Manifest.Chunks)
	return rec
}

func failRecord(rec model.VolumeRecord, start time.Time, stage string, err error) model.VolumeRecord {
	rec.Status = model.StatusFailed
	rec.Reason = fmt.Sprintf("%s: %v", stage, err)
	rec.Elapsed = time.Since(start)
	return rec
}

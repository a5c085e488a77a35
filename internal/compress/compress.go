// Package compress drives the compress→split→hash stage of the capture
// pipeline: it takes the tar byte stream produced by internal/archive,
// compresses it with zstd (in-process) or pigz (external process, as a
// fallback when zstd isn't usable), and fans the compressed bytes into
// fixed-size chunk files alongside their digests and a manifest.
package compress

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/coldcapture/coldcapture/internal/logging"
	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/shellexec"
)

var log = logging.Logger()

// Compressor names recognized in config and manifests.
const (
	Zstd = "zstd"
	Pigz = "pigz"
)

// Options configures one archive's compress-and-split pass.
type Options struct {
	SpoolDir        string
	ArchiveBase     string
	SourceDevice    string
	FSType          string
	VolumeSizeBytes int64
	Compressor      string // "zstd" or "pigz"
	Level           int
	ChunkSizeMB     int
	HashAlgorithm   string
	ToolVersion     string
}

// Selector picks an available compressor, preferring the configured choice
// and falling back to the other when it can't be used, per spec scenario 6
// (zstd configured but unavailable falls back to pigz).
type Selector struct {
	Exec shellexec.Executor

	// ZstdAvailable reports whether the in-process zstd encoder can be
	// used. It is always true in production (zstd runs entirely through
	// the klauspost/compress library, no external binary required); tests
	// override it to exercise the fallback-to-pigz path.
	ZstdAvailable func() bool
}

func (s *Selector) zstdOK() bool {
	if s.ZstdAvailable == nil {
		return true
	}
	return s.ZstdAvailable()
}

// Select returns the compressor name to actually use, or a
// StageCompressorMissing ArchiveError if neither is available.
func (s *Selector) Select(ctx context.Context, configured string) (string, error) {
	switch configured {
	case Zstd:
		if s.zstdOK() {
			return Zstd, nil
		}
		if s.binaryExists(ctx, "pigz") {
			return Pigz, nil
		}
	case Pigz:
		if s.binaryExists(ctx, "pigz") {
			return Pigz, nil
		}
		if s.zstdOK() {
			return Zstd, nil
		}
	}
	return "", &model.ArchiveError{Stage: model.StageCompressorMissing, Cause: errNoCompressor(configured)}
}

func (s *Selector) binaryExists(ctx context.Context, name string) bool {
	if s.Exec == nil {
		return false
	}
	_, err := s.Exec.Run(ctx, shellexec.Request{Argv: []string{"which", name}})
	return err == nil
}

type errNoCompressor string

func (e errNoCompressor) Error() string { return "no usable compressor for " + string(e) }

// Run streams src through the configured compressor and chunk-splitter,
// writing NAME.tar.EXT.partNNNN files plus .sha256 sidecars under
// opts.SpoolDir, and returns the resulting manifest. The manifest and its
// .parts/.whole.sha256 sidecars are not written here; callers persist them
// only after every chunk has been committed (WriteSidecars, then
// WriteManifest), so a crash mid-stream never leaves a manifest pointing at
// incomplete chunks. exec is only used for the pigz path.
func Run(ctx context.Context, src io.Reader, opts Options, exec shellexec.Executor) (*model.Manifest, error) {
	ext := extensionFor(opts.Compressor)
	split := newSplitWriter(opts.SpoolDir, opts.ArchiveBase, ext, opts.ChunkSizeMB)

	var runErr error
	switch opts.Compressor {
	case Zstd:
		runErr = runZstd(src, split, opts.Level)
	case Pigz:
		runErr = runPigz(ctx, exec, src, split, opts.Level)
	default:
		return nil, &model.ArchiveError{Stage: model.StageCompressorMissing, Cause: errNoCompressor(opts.Compressor)}
	}

	if runErr != nil {
		split.abort()
		return nil, &model.ArchiveError{Stage: model.StageCompress, Cause: runErr}
	}

	chunks, wholeDigest, err := split.Close()
	if err != nil {
		return nil, &model.ArchiveError{Stage: model.StageSplit, Cause: err}
	}

	manifest := &model.Manifest{
		ArchiveBase:       opts.ArchiveBase,
		SourceDevice:      opts.SourceDevice,
		FSType:            opts.FSType,
		VolumeSizeBytes:   opts.VolumeSizeBytes,
		Compressor:        opts.Compressor,
		Level:             opts.Level,
		ChunkSizeMB:       opts.ChunkSizeMB,
		HashAlgorithm:     opts.HashAlgorithm,
		Chunks:            chunks,
		WholeStreamDigest: wholeDigest,
		CreatedAt:         time.Now(),
		ToolVersion:       opts.ToolVersion,
	}
	return manifest, nil
}

// runZstd compresses in-process using a concurrent encoder, sized to the
// local CPU count so a single large volume still uses multiple cores.
func runZstd(src io.Reader, dst io.Writer, level int) error {
	lvl := zstd.EncoderLevelFromZstd(level)
	enc, err := zstd.NewWriter(dst,
		zstd.WithEncoderLevel(lvl),
		zstd.WithEncoderConcurrency(runtime.NumCPU()),
	)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// runPigz shells out to the pigz binary, piping src to its stdin and the
// splitter directly to its stdout via shellexec.RunStreaming so gigabyte
// volumes never sit fully in memory.
func runPigz(ctx context.Context, exec shellexec.Executor, src io.Reader, dst io.Writer, level int) error {
	if exec == nil {
		exec = &shellexec.DefaultExecutor{}
	}
	return exec.RunStreaming(ctx, pigzArgv(level), src, dst)
}

func pigzArgv(level int) []string {
	argv := []string{"pigz", "-c"}
	if level > 0 {
		argv = append(argv, levelFlag(level))
	}
	return argv
}

func levelFlag(level int) string {
	switch {
	case level >= 9:
		return "-9"
	case level <= 1:
		return "-1"
	default:
		return "-" + string(rune('0'+level))
	}
}

func extensionFor(compressor string) string {
	if compressor == Pigz {
		return "gz"
	}
	return "zst"
}

// writeAtomic writes data to name under dir via a temp-file-then-rename so
// readers never observe a partial file, fsyncing both the file and its
// containing directory entry.
func writeAtomic(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// WriteSidecars writes the ".parts" ordered-filename list and the
// ".whole.sha256" digest file, both relative to the volume's own spool
// subdirectory (the spool is partitioned one subdirectory per volume, so
// these names carry no archive-base prefix).
func WriteSidecars(spoolDir string, m *model.Manifest) error {
	var partsList []byte
	for _, c := range m.Chunks {
		partsList = append(partsList, []byte(c.Filename+"\n")...)
	}
	if err := writeAtomic(spoolDir, ".parts", partsList); err != nil {
		return err
	}
	whole := []byte(m.WholeStreamDigest + "  " + m.ArchiveBase + "\n")
	return writeAtomic(spoolDir, ".whole.sha256", whole)
}

// WriteManifest persists the manifest atomically. It must be called only
// after WriteSidecars and only after every chunk has been committed, so a
// crash mid-stream never leaves a manifest pointing at incomplete chunks.
func WriteManifest(spoolDir string, m *model.Manifest) error {
	data, err := marshalManifest(m)
	if err != nil {
		return err
	}
	if err := writeAtomic(spoolDir, ".manifest.json", data); err != nil {
		return err
	}
	log.Infow("manifest committed", "spool", spoolDir, "chunks", len(m.Chunks))
	return nil
}

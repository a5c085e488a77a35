package ship

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/coldcapture/coldcapture/internal/logging"
	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/progress"
)

var log = logging.Logger()

// Options configures one volume's ship pass.
type Options struct {
	// RemotePrefix is this run's per-volume remote namespace, e.g.
	// "DATE/TOKEN/ARCHIVE_BASE", so concurrent shippers never contend.
	RemotePrefix        string
	BandwidthBytesPerSec int64
	MaxElapsed          time.Duration // backoff ceiling per chunk; 0 = library default
	ShowProgress        bool          // render a per-chunk byte progress bar on stderr
}

// Outcome summarizes one Ship call.
type Outcome struct {
	BytesOut       int64
	ChunksShipped  int
	ChunksResumed  int // already present on the remote, verified by size
}

// Shipper transfers a volume's committed chunks and sidecars to a remote
// prefix, resuming at chunk granularity and retrying transient transport
// failures with exponential backoff.
type Shipper struct {
	Transport Transport
}

// Ship transfers every chunk in m, in manifest order, then the .parts,
// .whole.sha256, and .manifest.json sidecars. A chunk already present on
// the remote at the expected size is treated as previously shipped and is
// not re-sent (resumable at chunk granularity). A size mismatch after
// upload is an IntegrityMismatch; the chunk is retried once more before the
// volume is failed.
func (s *Shipper) Ship(ctx context.Context, spoolDir string, m *model.Manifest, opts Options) (Outcome, error) {
	var out Outcome

	for _, chunk := range m.Chunks {
		remotePath := opts.RemotePrefix + "/" + chunk.Filename
		shipped, bytesOut, err := s.shipChunk(ctx, spoolDir, chunk, remotePath, opts)
		if err != nil {
			return out, err
		}
		out.BytesOut += bytesOut
		if shipped {
			out.ChunksShipped++
		} else {
			out.ChunksResumed++
		}
	}

	for _, sidecar := range []string{".parts", ".whole.sha256", ".manifest.json"} {
		path := filepath.Join(spoolDir, sidecar)
		if _, err := os.Stat(path); err != nil {
			continue // absent sidecars are skipped
		}
		n, err := s.uploadWithRetry(ctx, path, opts.RemotePrefix+"/"+sidecar, opts)
		if err != nil {
			return out, err
		}
		out.BytesOut += n
	}

	return out, nil
}

// shipChunk returns (shipped, bytesOut, err). shipped is false when the
// chunk was already present remotely and verified by size.
func (s *Shipper) shipChunk(ctx context.Context, spoolDir string, chunk model.Chunk, remotePath string, opts Options) (bool, int64, error) {
	size, exists, err := s.Transport.Stat(ctx, remotePath)
	if err != nil {
		return false, 0, err
	}
	if exists && size == chunk.Length {
		log.Debugw("chunk already shipped, skipping", "chunk", chunk.Filename)
		return false, 0, nil
	}

	localPath := filepath.Join(spoolDir, chunk.Filename)
	if _, err := s.uploadWithRetry(ctx, localPath, remotePath, opts); err != nil {
		return false, 0, err
	}

	verifiedSize, verified, err := s.Transport.Stat(ctx, remotePath)
	if err != nil {
		return false, 0, err
	}
	if !verified || verifiedSize != chunk.Length {
		// One retry per spec's integrity-mismatch contract.
		if _, err := s.uploadWithRetry(ctx, localPath, remotePath, opts); err != nil {
			return false, 0, err
		}
		verifiedSize, verified, err = s.Transport.Stat(ctx, remotePath)
		if err != nil {
			return false, 0, err
		}
		if !verified || verifiedSize != chunk.Length {
			return false, 0, &model.IntegrityMismatch{Chunk: chunk.Filename}
		}
	}

	digestPath := localPath + ".sha256"
	if _, err := os.Stat(digestPath); err == nil {
		if _, err := s.uploadWithRetry(ctx, digestPath, remotePath+".sha256", opts); err != nil {
			return false, 0, err
		}
	}

	return true, chunk.Length, nil
}

// uploadWithRetry streams path to remotePath, retrying transient transport
// failures with exponential backoff (auth failures are not retried: they
// won't succeed on replay).
func (s *Shipper) uploadWithRetry(ctx context.Context, path, remotePath string, opts Options) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	size := info.Size()

	b := backoff.NewExponentialBackOff()
	if opts.MaxElapsed > 0 {
		b.MaxElapsedTime = opts.MaxElapsed
	}

	err = backoff.Retry(func() error {
		f, err := os.Open(path)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer f.Close()

		bar := progress.New(opts.ShowProgress, size, filepath.Base(path))
		r := io.TeeReader(newThrottledReader(f, opts.BandwidthBytesPerSec), bar)
		putErr := s.Transport.Put(ctx, remotePath, r, size)
		bar.Finish()
		if putErr == nil {
			return nil
		}
		if tErr, ok := putErr.(*model.TransportError); ok && tErr.Kind == model.TransportAuth {
			return backoff.Permanent(putErr)
		}
		log.Warnw("chunk upload failed, retrying", "path", path, "err", putErr)
		return putErr
	}, backoff.WithContext(b, ctx))

	if err != nil {
		return 0, err
	}
	return size, nil
}

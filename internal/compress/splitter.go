package compress

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"github.com/coldcapture/coldcapture/internal/model"
)

// splitWriter is an io.Writer that fans compressed bytes into fixed-size
// chunk files, computing a whole-stream digest and a per-chunk digest that
// resets at every chunk boundary. A chunk is only declared
// committed after its bytes are fsync'd and its sidecar .sha256 digest file
// is written; the manifest is written last by the caller, after Close.
type splitWriter struct {
	spoolDir    string
	archiveBase string
	ext         string
	chunkSize   int64 // 0 disables chunking: a single part holds everything

	ordinal     int
	partFile    *os.File
	partWritten int64
	partHasher  hash.Hash

	wholeHasher hash.Hash
	chunks      []model.Chunk
}

func newSplitWriter(spoolDir, archiveBase, ext string, chunkSizeMB int) *splitWriter {
	chunkSize := int64(0)
	if chunkSizeMB > 0 {
		chunkSize = int64(chunkSizeMB) << 20
	}
	return &splitWriter{
		spoolDir:    spoolDir,
		archiveBase: archiveBase,
		ext:         ext,
		chunkSize:   chunkSize,
		wholeHasher: sha256.New(),
	}
}

func (s *splitWriter) partName(ordinal int) string {
	return fmt.Sprintf("%s.tar.%s.part%04d", s.archiveBase, s.ext, ordinal)
}

func (s *splitWriter) openNextPart() error {
	s.ordinal++
	path := filepath.Join(s.spoolDir, s.partName(s.ordinal))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	s.partFile = f
	s.partWritten = 0
	s.partHasher = sha256.New()
	return nil
}

// Write implements io.Writer, splitting at exactly chunkSize bytes per
// part; the final part may be shorter. chunkSize==0 means a
// single unbounded part.
func (s *splitWriter) Write(p []byte) (int, error) {
	total := len(p)
	if s.partFile == nil {
		if err := s.openNextPart(); err != nil {
			return 0, err
		}
	}

	for len(p) > 0 {
		var n int
		if s.chunkSize <= 0 {
			n = len(p)
		} else {
			remaining := s.chunkSize - s.partWritten
			if remaining <= 0 {
				if err := s.commitCurrentPart(); err != nil {
					return total - len(p), err
				}
				if err := s.openNextPart(); err != nil {
					return total - len(p), err
				}
				remaining = s.chunkSize
			}
			n = len(p)
			if int64(n) > remaining {
				n = int(remaining)
			}
		}

		if _, err := s.partFile.Write(p[:n]); err != nil {
			return total - len(p), err
		}
		s.partHasher.Write(p[:n])
		s.wholeHasher.Write(p[:n])
		s.partWritten += int64(n)
		p = p[n:]
	}

	return total, nil
}

// commitCurrentPart fsyncs the chunk and writes its sidecar digest file,
// only after which the chunk is considered committed.
func (s *splitWriter) commitCurrentPart() error {
	if s.partFile == nil {
		return nil
	}
	if err := s.partFile.Sync(); err != nil {
		s.partFile.Close()
		return err
	}
	name := filepath.Base(s.partFile.Name())
	if err := s.partFile.Close(); err != nil {
		return err
	}

	digest := hex.EncodeToString(s.partHasher.Sum(nil))
	digestPath := filepath.Join(s.spoolDir, name+".sha256")
	if err := os.WriteFile(digestPath, []byte(digest+"  "+name+"\n"), 0o644); err != nil {
		return err
	}
	if f, err := os.Open(digestPath); err == nil {
		_ = f.Sync()
		f.Close()
	}

	s.chunks = append(s.chunks, model.Chunk{
		Ordinal:   s.ordinal,
		Filename:  name,
		Length:    s.partWritten,
		Digest:    digest,
		Committed: true,
	})
	s.partFile = nil
	return nil
}

// Close commits any in-flight part (the final, possibly-short one) and
// returns the ordered chunk list plus the whole-stream digest.
func (s *splitWriter) Close() ([]model.Chunk, string, error) {
	if s.partFile != nil {
		if err := s.commitCurrentPart(); err != nil {
			return nil, "", err
		}
	}
	return s.chunks, hex.EncodeToString(s.wholeHasher.Sum(nil)), nil
}

// abort removes the in-progress (non-committed) final chunk and any
// digest-less files, per the splitter's failure contract; already-committed
// chunks are left on disk to enable resume.
func (s *splitWriter) abort() {
	if s.partFile != nil {
		name := s.partFile.Name()
		s.partFile.Close()
		_ = os.Remove(name)
		s.partFile = nil
	}
}

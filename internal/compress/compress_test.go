package compress

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"

	"github.com/coldcapture/coldcapture/internal/model"
	"github.com/coldcapture/coldcapture/internal/shellexec"
)

func TestSelectorPrefersConfiguredZstd(t *testing.T) {
	s := &Selector{}
	got, err := s.Select(context.Background(), Zstd)
	if err != nil || got != Zstd {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestSelectorFallsBackToPigzWhenZstdUnavailable(t *testing.T) {
	exec := &alwaysOKExecutor{}
	s := &Selector{Exec: exec, ZstdAvailable: func() bool { return false }}
	got, err := s.Select(context.Background(), Zstd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Pigz {
		t.Fatalf("expected fallback to pigz, got %q", got)
	}
}

func TestSelectorReturnsCompressorMissingWhenNeitherAvailable(t *testing.T) {
	s := &Selector{Exec: &alwaysFailExecutor{}, ZstdAvailable: func() bool { return false }}
	_, err := s.Select(context.Background(), Zstd)
	aErr, ok := err.(*model.ArchiveError)
	if !ok || aErr.Stage != model.StageCompressorMissing {
		t.Fatalf("expected StageCompressorMissing, got %v", err)
	}
}

func TestRunZstdSplitsAtExactChunkBoundaries(t *testing.T) {
	dir := t.TempDir()
	// Produce a payload whose compressed size is predictable: seeded
	// pseudo-random bytes are incompressible, so zstd can't shrink it below
	// the chunk size.
	payload := make([]byte, 3<<20) // 3 MiB
	rand.New(rand.NewSource(1)).Read(payload)

	manifest, err := Run(context.Background(), bytes.NewReader(payload), Options{
		SpoolDir:      dir,
		ArchiveBase:   "vol",
		Compressor:    Zstd,
		Level:         1,
		ChunkSizeMB:   1,
		HashAlgorithm: "sha256",
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(manifest.Chunks) < 2 {
		t.Fatalf("expected multiple chunks for 3MiB input at 1MiB chunk size, got %d", len(manifest.Chunks))
	}
	for i, c := range manifest.Chunks {
		if c.Ordinal != i+1 {
			t.Fatalf("expected contiguous 1-based ordinals, got %d at index %d", c.Ordinal, i)
		}
		if !c.Committed {
			t.Fatalf("expected chunk %d to be committed", c.Ordinal)
		}
		if i < len(manifest.Chunks)-1 && c.Length != 1<<20 {
			t.Fatalf("expected non-final chunk %d to be exactly 1 MiB, got %d bytes", c.Ordinal, c.Length)
		}
		path := filepath.Join(dir, c.Filename)
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading chunk file: %v", err)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != c.Digest {
			t.Fatalf("chunk %d digest mismatch", c.Ordinal)
		}
		digestSidecar, err := os.ReadFile(path + ".sha256")
		if err != nil {
			t.Fatalf("reading digest sidecar: %v", err)
		}
		if !strings.HasPrefix(string(digestSidecar), c.Digest) {
			t.Fatalf("sidecar digest mismatch for chunk %d", c.Ordinal)
		}
	}
}

func TestRunZstdChunkSizeZeroProducesSinglePart(t *testing.T) {
	dir := t.TempDir()
	payload := bytes.Repeat([]byte("x"), 1<<20)

	manifest, err := Run(context.Background(), bytes.NewReader(payload), Options{
		SpoolDir:    dir,
		ArchiveBase: "vol",
		Compressor:  Zstd,
		ChunkSizeMB: 0,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifest.Chunks) != 1 {
		t.Fatalf("expected exactly one part, got %d", len(manifest.Chunks))
	}
}

func TestRunWholeStreamDigestMatchesConcatenation(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 2<<20)
	for i := range payload {
		payload[i] = byte(i % 199)
	}

	manifest, err := Run(context.Background(), bytes.NewReader(payload), Options{
		SpoolDir:    dir,
		ArchiveBase: "vol",
		Compressor:  Zstd,
		Level:       1,
		ChunkSizeMB: 1,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	h := sha256.New()
	for _, c := range manifest.Chunks {
		data, err := os.ReadFile(filepath.Join(dir, c.Filename))
		if err != nil {
			t.Fatal(err)
		}
		h.Write(data)
	}
	if hex.EncodeToString(h.Sum(nil)) != manifest.WholeStreamDigest {
		t.Fatal("whole stream digest does not equal concatenation of chunk bytes")
	}
}

func TestWriteSidecarsAndManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	manifest := &model.Manifest{
		ArchiveBase:       "vol",
		WholeStreamDigest: "deadbeef",
		Chunks: []model.Chunk{
			{Ordinal: 1, Filename: "vol.tar.zst.part0001", Length: 10, Digest: "aa", Committed: true},
			{Ordinal: 2, Filename: "vol.tar.zst.part0002", Length: 5, Digest: "bb", Committed: true},
		},
	}
	if err := WriteSidecars(dir, manifest); err != nil {
		t.Fatalf("WriteSidecars: %v", err)
	}
	if err := WriteManifest(dir, manifest); err != nil {
		t.Fatalf("WriteManifest: %v", err)
	}

	parts, err := os.ReadFile(filepath.Join(dir, ".parts"))
	if err != nil {
		t.Fatal(err)
	}
	want := "vol.tar.zst.part0001\nvol.tar.zst.part0002\n"
	if string(parts) != want {
		t.Fatalf("got %q, want %q", parts, want)
	}

	whole, err := os.ReadFile(filepath.Join(dir, ".whole.sha256"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(whole), "deadbeef") {
		t.Fatalf("unexpected whole digest sidecar: %q", whole)
	}

	manifestBytes, err := os.ReadFile(filepath.Join(dir, ".manifest.json"))
	if err != nil {
		t.Fatalf("expected manifest file: %v", err)
	}
	var decoded model.Manifest
	if err := json.Unmarshal(manifestBytes, &decoded); err != nil {
		t.Fatalf("decoding written manifest: %v", err)
	}
	if diff := cmp.Diff(*manifest, decoded); diff != "" {
		t.Fatalf("manifest round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRunPigzFallbackNamesPartsWithGzExtension(t *testing.T) {
	dir := t.TempDir()
	manifest, err := Run(context.Background(), bytes.NewReader([]byte("hello world")), Options{
		SpoolDir:    dir,
		ArchiveBase: "vol",
		Compressor:  Pigz,
		ChunkSizeMB: 0,
	}, &fakePigzExecutor{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifest.Chunks) != 1 {
		t.Fatalf("expected one part, got %d", len(manifest.Chunks))
	}
	if !strings.HasSuffix(manifest.Chunks[0].Filename, ".tar.gz.part0001") {
		t.Fatalf("expected .tar.gz extension, got %q", manifest.Chunks[0].Filename)
	}
}

// alwaysOKExecutor simulates `which` succeeding for any binary.
type alwaysOKExecutor struct{}

func (alwaysOKExecutor) Run(context.Context, shellexec.Request) (shellexec.Result, error) {
	return shellexec.Result{}, nil
}
func (alwaysOKExecutor) RunStreaming(context.Context, []string, io.Reader, io.Writer) error {
	return nil
}

// alwaysFailExecutor simulates `which` never finding a binary.
type alwaysFailExecutor struct{}

func (alwaysFailExecutor) Run(context.Context, shellexec.Request) (shellexec.Result, error) {
	return shellexec.Result{}, &model.ExecError{Kind: model.ExecNonZero}
}
func (alwaysFailExecutor) RunStreaming(context.Context, []string, io.Reader, io.Writer) error {
	return &model.ExecError{Kind: model.ExecNonZero}
}

// fakePigzExecutor stands in for a real pigz binary by running an
// in-process zstd encoder instead, so the test exercises the pigz code path
// (argv construction, RunStreaming wiring, .gz extension) without requiring
// the binary to be installed.
type fakePigzExecutor struct{}

func (fakePigzExecutor) Run(context.Context, shellexec.Request) (shellexec.Result, error) {
	return shellexec.Result{}, nil
}

func (fakePigzExecutor) RunStreaming(_ context.Context, argv []string, stdin io.Reader, stdout io.Writer) error {
	enc, err := zstd.NewWriter(stdout)
	if err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := stdin.Read(buf)
		if n > 0 {
			if _, werr := enc.Write(buf[:n]); werr != nil {
				enc.Close()
				return werr
			}
		}
		if rerr != nil {
			break
		}
	}
	return enc.Close()
}

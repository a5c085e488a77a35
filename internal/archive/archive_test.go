package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func mustWriteFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("a"), size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func namesInArchive(t *testing.T, buf *bytes.Buffer) map[string]int64 {
	t.Helper()
	out := make(map[string]int64)
	tr := tar.NewReader(buf)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		out[hdr.Name] = hdr.Size
	}
	return out
}

func TestStreamExcludesOversizeFilesKeepsDirs(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "small.txt"), 10)
	mustWriteFile(t, filepath.Join(root, "big", "huge.bin"), 1000)

	var buf bytes.Buffer
	_, err := Stream(root, Options{MaxFileSizeBytes: 100}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := namesInArchive(t, &buf)
	if _, ok := names["small.txt"]; !ok {
		t.Fatal("expected small.txt to be archived")
	}
	if _, ok := names["big/huge.bin"]; ok {
		t.Fatal("expected huge.bin to be excluded")
	}
	if _, ok := names["big/"]; !ok {
		t.Fatal("expected big/ directory structure to be preserved")
	}
}

func TestStreamMaxFileSizeZeroArchivesOnlyDirectories(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "dir", "file.txt"), 5)

	var buf bytes.Buffer
	_, err := Stream(root, Options{MaxFileSizeBytes: 0}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := namesInArchive(t, &buf)
	if _, ok := names["dir/file.txt"]; ok {
		t.Fatal("expected no files archived when max_file_size_mb==0")
	}
	if _, ok := names["dir/"]; !ok {
		t.Fatal("expected directory structure preserved")
	}
}

func TestStreamPrunesPseudoFilesystems(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "proc", "cpuinfo"), 5)
	mustWriteFile(t, filepath.Join(root, "etc", "hostname"), 5)

	var buf bytes.Buffer
	_, err := Stream(root, Options{MaxFileSizeBytes: 1 << 20}, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := namesInArchive(t, &buf)
	if _, ok := names["proc/cpuinfo"]; ok {
		t.Fatal("expected proc/ to be pruned")
	}
	if _, ok := names["etc/hostname"]; !ok {
		t.Fatal("expected etc/hostname to be archived")
	}
}

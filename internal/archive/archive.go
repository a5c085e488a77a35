// Package archive builds a tar stream of a mounted filesystem root, with
// oversize files excluded (directory structure kept) and pseudo
// filesystems pruned. Sparse files are archived at their full apparent
// size; holes are written out as zero bytes. The streamer only produces bytes — it does not compress, hash,
// or split; that is internal/compress's job.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"

	"github.com/coldcapture/coldcapture/internal/logging"
)

var log = logging.Logger()

// pseudoFSNames are mountpoints that can appear nested under a captured
// root (e.g. a chroot-like layout) and must never be walked into.
var pseudoFSNames = map[string]bool{
	"proc": true, "sys": true, "dev": true, "run": true, "tmp": true,
}

// Options controls streaming policy. MaxFileSizeBytes is the
// filters.max_file_size_mb config value converted to bytes; at 0, every
// file is excluded and only directory structure is archived.
type Options struct {
	MaxFileSizeBytes int64
	PreserveXattrs   bool
}

// Stream writes a tar archive of root to w, applying Options. It returns
// the number of source bytes read (the uncompressed, pre-archive total of
// included file content) for bytes_in accounting.
func Stream(root string, opts Options, w io.Writer) (int64, error) {
	tw := tar.NewWriter(w)
	defer tw.Close()

	var bytesIn int64

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Forensic capture must not abort on a single unreadable
			// entry; log and skip it.
			log.Warnw("skipping unreadable path", "path", path, "error", err)
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}

		if info.IsDir() && pseudoFSNames[info.Name()] && filepath.Dir(rel) == "." {
			return filepath.SkipDir
		}

		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				log.Warnw("skipping unreadable symlink", "path", path, "error", err)
				return nil
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}

		if opts.PreserveXattrs {
			if err := applyXattrs(path, hdr); err != nil {
				log.Warnw("failed to preserve xattrs, continuing without them", "path", path, "error", err)
			}
		}

		if !info.IsDir() && opts.MaxFileSizeBytes == 0 {
			// A zero limit archives directory structure only.
			return nil
		}

		if !info.IsDir() && !info.Mode().IsRegular() && link == "" {
			// device nodes, sockets, fifos: header only, no content.
			return tw.WriteHeader(hdr)
		}

		if !info.IsDir() && link == "" && info.Size() > opts.MaxFileSizeBytes {
			// Excluded file: parent directories are retained, this entry is not.
			return nil
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() || link != "" {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			log.Warnw("skipping unreadable file", "path", path, "error", err)
			return nil
		}
		defer f.Close()

		n, err := io.Copy(tw, f)
		bytesIn += n
		return err
	})

	return bytesIn, err
}

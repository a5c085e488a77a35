package archive

import (
	"archive/tar"

	"github.com/pkg/xattr"
)

// applyXattrs copies extended attributes from path onto hdr.PAXRecords,
// using the same pkg/xattr library the image composer uses for preserving
// xattrs across image conversion. Failure to read a given attribute is not
// fatal; the caller logs and continues.
func applyXattrs(path string, hdr *tar.Header) error {
	names, err := xattr.List(path)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	if hdr.PAXRecords == nil {
		hdr.PAXRecords = make(map[string]string)
	}
	for _, name := range names {
		val, err := xattr.Get(path, name)
		if err != nil {
			continue
		}
		hdr.PAXRecords["SCHILY.xattr."+name] = string(val)
	}
	return nil
}

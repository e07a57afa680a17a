// Package fsutil holds small file helpers shared by the writers.
package fsutil

import (
	"os"
	"path/filepath"

	"emperror.dev/errors"
)

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp")
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return errors.Wrap(err, "chmod temp")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "atomic replace")
	}
	return nil
}

// Package atomicfile is the single sanctioned way any litani component
// updates a persistent file: write to a unique temporary file in the
// target's directory, flush, then rename over the target path. Readers
// (chiefly the reporter loop) must never observe a partial write even while
// many job wrappers write concurrently.
package atomicfile

import (
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/litani-build/litani/internal/litanimodel"
)

// WriteBytes atomically replaces dest with b.
func WriteBytes(dest string, b []byte) error {
	f, err := renameio.TempFile(filepath.Dir(dest), dest)
	if err != nil {
		return xerrors.Errorf("creating temp file for %s: %w", dest, err)
	}
	defer f.Cleanup()
	if _, err := f.Write(b); err != nil {
		return xerrors.Errorf("writing %s: %w", dest, err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("replacing %s: %w", dest, err)
	}
	return nil
}

// WriteJSON marshals v with litanimodel's pretty-printed 2-space format and
// atomically replaces dest with it.
func WriteJSON(dest string, v interface{}) error {
	b, err := litanimodel.Marshal(v)
	if err != nil {
		return xerrors.Errorf("marshaling for %s: %w", dest, err)
	}
	return WriteBytes(dest, b)
}

// Symlink atomically makes dest a symlink pointing at oldname, replacing any
// existing file or symlink at dest. Used for the run-store latest pointer.
func Symlink(oldname, dest string) error {
	if err := renameio.Symlink(oldname, dest); err != nil {
		return xerrors.Errorf("symlinking %s -> %s: %w", dest, oldname, err)
	}
	return nil
}

// Package atomicfile implements the small temp-file-then-rename write
// pattern SPEC_FULL.md's AMBIENT STACK names for control files too small
// to warrant the FS Cache's append-only flat-file treatment, grounded on
// the teacher's node/store/manifest.go writeManifestAtomic and
// node/chainstate.go writeFileAtomic.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces path's contents with data: write a temp file
// in the same directory, fsync it, rename it over path, then fsync the
// containing directory so the rename itself is durable. A reader never
// observes a partially written file.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // #nosec G104 -- no-op once the rename below succeeds.

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicfile: write temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicfile: chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("atomicfile: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomicfile: rename: %w", err)
	}

	dirFile, err := os.Open(dir) // #nosec G304 -- dir is the caller-controlled datadir, not attacker input.
	if err != nil {
		return fmt.Errorf("atomicfile: open dir for fsync: %w", err)
	}
	defer dirFile.Close()
	if err := dirFile.Sync(); err != nil {
		return fmt.Errorf("atomicfile: fsync dir: %w", err)
	}
	return nil
}

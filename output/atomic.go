// Package output publishes run artifacts to disk. Every file is written to
// a temp file in the destination directory and renamed into place, so a
// reader never observes a partial artifact.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic calls write with a temp file beside path and renames it
// into place only when write and fsync both succeed.
func WriteAtomic(path string, write func(io.Writer) error) error {
	tmpPath, err := writeTemp(path, write)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publish %s: %w", path, err)
	}
	// best effort; the rename already happened
	_ = syncDir(filepath.Dir(path))
	return nil
}

// writeTemp writes a synced, closed temp file in path's directory and
// returns its name. The temp file is removed on failure.
func writeTemp(path string, write func(io.Writer) error) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return "", fmt.Errorf("publish %s: destination is a directory", path)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", err
	}

	if err := write(tmp); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync %s: %w", path, err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod %s: %w", path, err)
	}
	return tmpPath, nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

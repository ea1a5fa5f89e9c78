package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Batch publishes a set of files together. Stage writes every file to a
// temp sibling; Commit renames them all into place, keeping the files they
// replace until Finalize. A failed Commit, or a Rollback after Commit,
// restores the previous set, so readers never see files from two runs.
type Batch struct {
	entries   []*batchEntry
	committed bool
	closed    bool
}

type batchEntry struct {
	dest   string
	tmp    string
	backup string // previous file moved aside by Commit, "" if none
	placed bool
}

func NewBatch() *Batch { return &Batch{} }

// Stage writes one file to a temp sibling of path.
func (b *Batch) Stage(path string, write func(io.Writer) error) error {
	if b.committed || b.closed {
		return errors.New("batch already committed")
	}
	tmp, err := writeTemp(path, write)
	if err != nil {
		return err
	}
	b.entries = append(b.entries, &batchEntry{dest: path, tmp: tmp})
	return nil
}

// Paths returns the destination of every staged file in staging order.
func (b *Batch) Paths() []string {
	out := make([]string, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.dest
	}
	return out
}

// Commit moves every staged file into place. On failure the files already
// moved are put back and the error is returned.
func (b *Batch) Commit() error {
	if b.committed || b.closed {
		return errors.New("batch already committed")
	}
	for _, e := range b.entries {
		if err := e.place(); err != nil {
			_ = b.restore()
			b.closed = true
			return err
		}
	}
	b.committed = true
	for _, dir := range b.dirs() {
		_ = syncDir(dir)
	}
	return nil
}

func (e *batchEntry) place() error {
	fi, err := os.Lstat(e.dest)
	switch {
	case err == nil && fi.IsDir():
		return fmt.Errorf("publish %s: destination is a directory", e.dest)
	case err == nil:
		bk, err := os.CreateTemp(filepath.Dir(e.dest), ".prev-*")
		if err != nil {
			return fmt.Errorf("backup %s: %w", e.dest, err)
		}
		_ = bk.Close()
		if err := os.Rename(e.dest, bk.Name()); err != nil {
			_ = os.Remove(bk.Name())
			return fmt.Errorf("backup %s: %w", e.dest, err)
		}
		e.backup = bk.Name()
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("stat %s: %w", e.dest, err)
	}
	if err := os.Rename(e.tmp, e.dest); err != nil {
		if e.backup != "" {
			_ = os.Rename(e.backup, e.dest)
			e.backup = ""
		}
		return fmt.Errorf("publish %s: %w", e.dest, err)
	}
	e.placed = true
	return nil
}

// restore undoes placed entries in reverse order and removes temp files.
func (b *Batch) restore() error {
	var errs []error
	for i := len(b.entries) - 1; i >= 0; i-- {
		e := b.entries[i]
		if e.placed {
			if e.backup != "" {
				errs = append(errs, os.Rename(e.backup, e.dest))
			} else {
				errs = append(errs, os.Remove(e.dest))
			}
			e.placed, e.backup = false, ""
			continue
		}
		if e.tmp != "" {
			_ = os.Remove(e.tmp)
		}
	}
	return errors.Join(errs...)
}

// Rollback discards the batch: before Commit it removes the temp files,
// after Commit it puts the previous files back. It is a no-op after
// Finalize.
func (b *Batch) Rollback() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.restore()
}

// Finalize drops the files Commit replaced. Call it once nothing else in
// the run can fail.
func (b *Batch) Finalize() {
	if b.closed {
		return
	}
	b.closed = true
	for _, e := range b.entries {
		if e.backup != "" {
			_ = os.Remove(e.backup)
			e.backup = ""
		}
	}
}

func (b *Batch) dirs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range b.entries {
		if d := filepath.Dir(e.dest); !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}

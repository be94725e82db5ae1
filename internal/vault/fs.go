// Package vault provides file-system access to the markdown document tree:
// path containment, the one-shot startup scan, and the atomic write used to
// apply remote-originated updates.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikaelwills/spacenotes/internal/apperr"
)

// FS is rooted at the vault directory. All paths passed to its methods are
// relative to the root; anything resolving outside the root is rejected.
type FS struct {
	root string // absolute path to vault directory
}

// NewFS creates an FS rooted at the given directory, which must exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("vault: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute vault root.
func (f *FS) Root() string {
	return f.root
}

// Rel converts an absolute path inside the vault into a root-relative one.
func (f *FS) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("vault: %s: %w", abs, apperr.ErrOutsideVault)
	}
	return filepath.ToSlash(rel), nil
}

// safePath resolves a relative path against the root and rejects any result
// that escapes it (directory traversal, absolute paths).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("vault: absolute paths not allowed: %s: %w", rel, apperr.ErrOutsideVault)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("vault: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("vault: %s: %w", rel, apperr.ErrOutsideVault)
	}
	return abs, nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(rel string) ([]byte, error) {
	abs, err := f.safePath(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("vault: read %s: %w", rel, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("vault: read %s: %w", rel, err)
	}
	return data, nil
}

// WriteAtomic writes content so that a reader observes either the old file
// or the complete new one: tmp file in the target directory, fsync, then
// rename onto the final path.
func (f *FS) WriteAtomic(rel string, content []byte) error {
	abs, err := f.safePath(rel)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".spacenotes-tmp-*")
	if err != nil {
		return fmt.Errorf("vault: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("vault: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("vault: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("vault: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("vault: rename: %w", err)
	}
	success = true
	return nil
}

// Remove deletes a file from the vault. Removing a missing file is not an
// error: the goal state is already reached.
func (f *FS) Remove(rel string) error {
	abs, err := f.safePath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vault: remove %s: %w", rel, err)
	}
	return nil
}

// Rename moves a file or directory within the vault, creating the target's
// parent directory when needed.
func (f *FS) Rename(oldRel, newRel string) error {
	absOld, err := f.safePath(oldRel)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newRel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("vault: mkdir for rename: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("vault: rename %s -> %s: %w", oldRel, newRel, err)
	}
	return nil
}

// MkdirAll creates a directory (and parents) inside the vault.
func (f *FS) MkdirAll(rel string) error {
	abs, err := f.safePath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("vault: mkdir %s: %w", rel, err)
	}
	return nil
}

// RemoveAll deletes a directory tree inside the vault.
func (f *FS) RemoveAll(rel string) error {
	if rel == "" || rel == "." {
		return fmt.Errorf("vault: refusing to remove vault root")
	}
	abs, err := f.safePath(rel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("vault: remove all %s: %w", rel, err)
	}
	return nil
}

// Chtimes sets the modification time of a vault file from epoch milliseconds.
func (f *FS) Chtimes(rel string, modifiedMs uint64) error {
	abs, err := f.safePath(rel)
	if err != nil {
		return err
	}
	mtime := msToTime(modifiedMs)
	if err := os.Chtimes(abs, mtime, mtime); err != nil {
		return fmt.Errorf("vault: chtimes %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether rel names an existing file or directory.
func (f *FS) Exists(rel string) bool {
	abs, err := f.safePath(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// IsDir reports whether rel names an existing directory.
func (f *FS) IsDir(rel string) bool {
	abs, err := f.safePath(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}

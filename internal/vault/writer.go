package vault

import (
	"github.com/mikaelwills/spacenotes/internal/frontmatter"
	"github.com/mikaelwills/spacenotes/internal/models"
	"github.com/mikaelwills/spacenotes/internal/tracker"
)

// Writer applies remote-originated changes to the vault. Every write seeds
// the content tracker first, so the filesystem notification the write causes
// is classified as an echo rather than a new local edit.
type Writer struct {
	fs      *FS
	tracker *tracker.Tracker
}

// NewWriter creates a Writer over the given vault and tracker.
func NewWriter(fs *FS, tr *tracker.Tracker) *Writer {
	return &Writer{fs: fs, tracker: tr}
}

// WriteNote serializes the note (frontmatter with identity, then body) and
// writes it atomically. The file's mtime is set to the record's modified
// time so startup reconciliation stays stable.
func (w *Writer) WriteNote(n models.Note) error {
	m := frontmatter.FromJSON(n.Frontmatter)
	m.Set(frontmatter.IDKey, n.ID)
	content := frontmatter.Serialize(m, n.Content)

	// Seed before the write: the notification can race our return.
	w.tracker.Seed(n.ID, n.Content)

	if err := w.fs.WriteAtomic(n.Path, []byte(content)); err != nil {
		return err
	}
	_ = w.fs.Chtimes(n.Path, n.ModifiedTime)
	return nil
}

// RemoveNote deletes the note's file and clears its fingerprint.
func (w *Writer) RemoveNote(n models.Note) error {
	if err := w.fs.Remove(n.Path); err != nil {
		return err
	}
	w.tracker.Remove(n.ID)
	return nil
}

// RemoveFile deletes a file at rel without touching the tracker; used for
// the old path of a remote-originated rename, where the identity keeps its
// fingerprint.
func (w *Writer) RemoveFile(rel string) error {
	return w.fs.Remove(rel)
}

// EnsureFolder creates a directory for a remote folder record.
func (w *Writer) EnsureFolder(path string) error {
	return w.fs.MkdirAll(path)
}

// RemoveFolder deletes a directory for a remote folder deletion. Contained
// documents are orphaned remotely rather than cascaded; that matches the
// remote store's behavior.
func (w *Writer) RemoveFolder(path string) error {
	return w.fs.RemoveAll(path)
}

// RenameFolder applies a remote folder move.
func (w *Writer) RenameFolder(oldPath, newPath string) error {
	return w.fs.Rename(oldPath, newPath)
}

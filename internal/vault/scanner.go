package vault

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mikaelwills/spacenotes/internal/apperr"
	"github.com/mikaelwills/spacenotes/internal/frontmatter"
	"github.com/mikaelwills/spacenotes/internal/models"
	"github.com/mikaelwills/spacenotes/internal/pathutil"
)

// ReadNote reads the markdown file at rel and builds its Note record.
// Returns apperr.ErrNotFound when the path is missing, a directory, or not
// a markdown file.
func (f *FS) ReadNote(rel string) (models.Note, error) {
	abs, err := f.safePath(rel)
	if err != nil {
		return models.Note{}, err
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() || !strings.HasSuffix(abs, ".md") {
		return models.Note{}, fmt.Errorf("vault: note %s: %w", rel, apperr.ErrNotFound)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return models.Note{}, fmt.Errorf("vault: read note %s: %w", rel, err)
	}

	content := string(data)
	id := frontmatter.ID(content)
	m, body := frontmatter.Parse(content)

	modified := timeToMs(info.ModTime())
	// Creation time is not portably available; mtime is close enough for
	// last-write-wins reconciliation.
	created := modified

	note := models.NewNote(id, pathutil.Rel(rel), body, m.JSON(),
		uint64(info.Size()), created, modified)
	return note, nil
}

// Scan walks the vault once and returns every markdown document and folder,
// skipping hidden and housekeeping entries. Notes lacking an identity get
// one from idFn, persisted into their frontmatter on the spot. Scanning the
// same unchanged tree twice yields identical records apart from timestamps
// the filesystem itself reports differently.
func (f *FS) Scan(logger *slog.Logger, idFn func() string) ([]models.Note, []models.Folder, error) {
	var notes []models.Note
	var folders []models.Folder

	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := d.Name()
		if path != f.root && (strings.HasPrefix(name, ".") || name == "@eaDir") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := f.Rel(path)
		if relErr != nil {
			return nil
		}

		if d.IsDir() {
			if path != f.root {
				folders = append(folders, models.NewFolder(pathutil.Rel(rel)))
			}
			return nil
		}
		if !strings.HasSuffix(name, ".md") {
			return nil
		}

		if idFn != nil {
			if injErr := f.ensureID(rel, idFn); injErr != nil {
				logger.Warn("scan: identity injection failed",
					slog.String("path", rel),
					slog.String("error", injErr.Error()))
				return nil
			}
		}

		note, readErr := f.ReadNote(rel)
		if readErr != nil {
			logger.Warn("scan: read failed",
				slog.String("path", rel),
				slog.String("error", readErr.Error()))
			return nil
		}
		notes = append(notes, note)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("vault: scan: %w", err)
	}
	return notes, folders, nil
}

// ensureID injects a fresh identity into the note at rel if it lacks one.
// Injection is idempotent: a note that already carries an identity is left
// untouched and no write happens.
func (f *FS) ensureID(rel string, idFn func() string) error {
	data, err := f.Read(rel)
	if err != nil {
		return err
	}
	updated, changed := frontmatter.WithID(string(data), idFn())
	if !changed {
		return nil
	}
	return f.WriteAtomic(rel, []byte(updated))
}

// FindNoteByID walks the vault looking for the note carrying the given
// identity. Used to recognize moves when a file disappears from its old
// path: if the identity is found elsewhere, the note was renamed, not
// deleted.
func (f *FS) FindNoteByID(id string) (models.Note, bool) {
	var found models.Note
	var ok bool

	_ = filepath.WalkDir(f.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		name := d.Name()
		if path != f.root && (strings.HasPrefix(name, ".") || name == "@eaDir") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(name, ".md") {
			return nil
		}
		rel, relErr := f.Rel(path)
		if relErr != nil {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		if frontmatter.ID(string(data)) == id {
			if note, noteErr := f.ReadNote(rel); noteErr == nil {
				found, ok = note, true
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found, ok
}

func timeToMs(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

func msToTime(ms uint64) time.Time {
	return time.UnixMilli(int64(ms))
}

// Package syncer contains the bidirectional sync engine: it turns debounced
// local change events into remote reducer calls, applies server-pushed
// changes to the vault, and reconciles both sides at startup.
package syncer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mikaelwills/spacenotes/internal/frontmatter"
	"github.com/mikaelwills/spacenotes/internal/models"
	"github.com/mikaelwills/spacenotes/internal/pathutil"
	"github.com/mikaelwills/spacenotes/internal/tracker"
	"github.com/mikaelwills/spacenotes/internal/vault"
	"github.com/mikaelwills/spacenotes/internal/watcher"
)

// Remote is the mutation and cache-read surface of the remote store the
// engine needs. *spacetime.Client satisfies it.
type Remote interface {
	UpsertNote(ctx context.Context, n models.Note) error
	UpsertFolder(ctx context.Context, f models.Folder) error
	DeleteNote(ctx context.Context, id string) error
	DeleteFolder(ctx context.Context, path string) error
	MoveNote(ctx context.Context, id, newPath string) error
	MoveFolder(ctx context.Context, oldPath, newPath string) error
	BulkSync(ctx context.Context, notes []models.Note, folders []models.Folder) error

	NoteByID(id string) (models.Note, bool)
	NoteByPath(path string) (models.Note, bool)
	AllNotes() []models.Note
	AllFolders() []models.Folder
}

// Engine drives local-to-remote sync. Remote call failures are logged and
// swallowed: the local filesystem stays authoritative and the next change or
// startup reconciliation retries the divergence.
type Engine struct {
	fs      *vault.FS
	writer  *vault.Writer
	tracker *tracker.Tracker
	remote  Remote
	logger  *slog.Logger
	newID   func() string
}

// NewEngine wires the sync engine.
func NewEngine(fs *vault.FS, w *vault.Writer, tr *tracker.Tracker, remote Remote, logger *slog.Logger) *Engine {
	return &Engine{
		fs:      fs,
		writer:  w,
		tracker: tr,
		remote:  remote,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Run consumes debounced change events until ctx is cancelled or the event
// channel closes.
func (e *Engine) Run(ctx context.Context, events <-chan watcher.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Handle(ctx, ev)
		}
	}
}

// Handle dispatches one debounced event. The decision between "changed" and
// "gone" is taken from the filesystem state now, not from the event kind:
// by dispatch time the file may have changed again.
func (e *Engine) Handle(ctx context.Context, ev watcher.Event) {
	if strings.HasSuffix(ev.Path, ".md") {
		if e.fs.Exists(ev.Path) {
			e.handleNoteChange(ctx, ev.Path)
		} else {
			e.handleNoteGone(ctx, ev.Path)
		}
		return
	}
	if e.fs.IsDir(ev.Path) {
		e.handleFolderPresent(ctx, ev.Path)
	} else {
		e.handleFolderGone(ctx, ev.Path)
	}
}

// handleNoteChange processes a markdown file that exists on disk: echo
// suppression, identity injection, move detection, then upsert.
func (e *Engine) handleNoteChange(ctx context.Context, rel string) {
	note, err := e.fs.ReadNote(rel)
	if err != nil {
		e.logger.Warn("sync: read note failed",
			slog.String("path", rel), slog.String("error", err.Error()))
		return
	}

	// Echo suppression: our own writer seeded this exact content before
	// writing, so the notification it caused matches the fingerprint.
	if note.ID != "" && !e.tracker.HasChanged(note.ID, note.Content) {
		e.logger.Debug("sync: echo suppressed", slog.String("path", rel))
		return
	}

	if note.ID == "" {
		injected, ok := e.injectIdentity(rel, note.Path)
		if !ok {
			return
		}
		note = injected
	}

	// Move detection keyed by identity: same note, different remote path.
	if prev, ok := e.remote.NoteByID(note.ID); ok && prev.Path != note.Path {
		if err := e.remote.MoveNote(ctx, note.ID, note.Path); err != nil {
			e.logger.Error("sync: move note failed",
				slog.String("id", note.ID),
				slog.String("path", note.Path),
				slog.String("error", err.Error()))
		} else {
			e.logger.Info("sync: note moved",
				slog.String("from", prev.Path), slog.String("to", note.Path))
		}
	}

	if !e.tracker.IsModified(note.ID, note.Content) {
		return // move without a content change
	}

	if err := e.remote.UpsertNote(ctx, note); err != nil {
		e.logger.Error("sync: upsert note failed",
			slog.String("path", note.Path), slog.String("error", err.Error()))
		return
	}
	e.logger.Info("sync: note upserted", slog.String("path", note.Path))
}

// injectIdentity assigns a fresh identity to a note that has none, guarding
// against the two split-brain cases: a remote record already claims the
// path, or the raw text contains the identity key that Parse could not read
// (malformed frontmatter hiding an existing identity).
func (e *Engine) injectIdentity(rel, recordPath string) (models.Note, bool) {
	if _, exists := e.remote.NoteByPath(recordPath); exists {
		e.logger.Warn("sync: remote record exists for path without local identity, skipping",
			slog.String("path", recordPath))
		return models.Note{}, false
	}

	raw, err := e.fs.Read(rel)
	if err != nil {
		e.logger.Warn("sync: read for identity injection failed",
			slog.String("path", rel), slog.String("error", err.Error()))
		return models.Note{}, false
	}
	if strings.Contains(string(raw), frontmatter.IDKey+":") {
		e.logger.Error("sync: identity present but unparseable, skipping",
			slog.String("path", rel))
		return models.Note{}, false
	}

	updated, changed := frontmatter.WithID(string(raw), e.newID())
	if changed {
		if err := e.fs.WriteAtomic(rel, []byte(updated)); err != nil {
			e.logger.Error("sync: identity injection write failed",
				slog.String("path", rel), slog.String("error", err.Error()))
			return models.Note{}, false
		}
	}

	note, err := e.fs.ReadNote(rel)
	if err != nil || note.ID == "" {
		e.logger.Error("sync: note unreadable after identity injection",
			slog.String("path", rel))
		return models.Note{}, false
	}
	// A fingerprint recorded under the path before the identity existed
	// moves to the identity key.
	e.tracker.Rename(note.Path, note.ID)
	return note, true
}

// handleNoteGone processes a markdown path with no file behind it: either
// the note moved elsewhere in the vault (recognized by identity) or it was
// deleted.
func (e *Engine) handleNoteGone(ctx context.Context, rel string) {
	recordPath := pathutil.Rel(rel)
	prev, ok := e.remote.NoteByPath(recordPath)
	if !ok {
		e.logger.Debug("sync: vanished path has no remote record",
			slog.String("path", recordPath))
		return
	}

	if cur, found := e.fs.FindNoteByID(prev.ID); found {
		if err := e.remote.MoveNote(ctx, prev.ID, cur.Path); err != nil {
			e.logger.Error("sync: move note failed",
				slog.String("id", prev.ID),
				slog.String("path", cur.Path),
				slog.String("error", err.Error()))
			return
		}
		e.logger.Info("sync: note moved",
			slog.String("from", recordPath), slog.String("to", cur.Path))
		return
	}

	if err := e.remote.DeleteNote(ctx, prev.ID); err != nil {
		e.logger.Error("sync: delete note failed",
			slog.String("id", prev.ID), slog.String("error", err.Error()))
		return
	}
	e.tracker.Remove(prev.ID)
	e.logger.Info("sync: note deleted", slog.String("path", recordPath))
}

// handleFolderPresent upserts the record for a directory that exists.
func (e *Engine) handleFolderPresent(ctx context.Context, rel string) {
	f := models.NewFolder(pathutil.Rel(rel))
	if err := e.remote.UpsertFolder(ctx, f); err != nil {
		e.logger.Error("sync: upsert folder failed",
			slog.String("path", f.Path), slog.String("error", err.Error()))
		return
	}
	e.logger.Info("sync: folder upserted", slog.String("path", f.Path))
}

// handleFolderGone processes a directory path with nothing behind it. A
// rename is recognized when a note that lived directly in the folder is
// found elsewhere in the vault; the folder move is then replayed as one
// move call and the server rewrites contained paths. Otherwise the folder
// was deleted: contained notes found elsewhere are moves, the rest are
// deletions, and finally the folder records themselves are dropped without
// cascading.
func (e *Engine) handleFolderGone(ctx context.Context, rel string) {
	oldPath := pathutil.Rel(rel)
	if !e.remoteFolderExists(oldPath) {
		e.logger.Debug("sync: vanished folder has no remote record",
			slog.String("path", oldPath))
		return
	}

	contained := e.remoteNotesUnder(oldPath)

	if newPath, ok := e.detectFolderRename(oldPath, contained); ok {
		if err := e.remote.MoveFolder(ctx, oldPath, newPath); err != nil {
			e.logger.Error("sync: move folder failed",
				slog.String("from", oldPath),
				slog.String("to", newPath),
				slog.String("error", err.Error()))
			return
		}
		e.logger.Info("sync: folder moved",
			slog.String("from", oldPath), slog.String("to", newPath))
		return
	}

	for _, n := range contained {
		if cur, found := e.fs.FindNoteByID(n.ID); found {
			if err := e.remote.MoveNote(ctx, n.ID, cur.Path); err != nil {
				e.logger.Error("sync: move note failed",
					slog.String("id", n.ID), slog.String("error", err.Error()))
			}
			continue
		}
		if err := e.remote.DeleteNote(ctx, n.ID); err != nil {
			e.logger.Error("sync: delete note failed",
				slog.String("id", n.ID), slog.String("error", err.Error()))
			continue
		}
		e.tracker.Remove(n.ID)
	}

	for _, f := range e.remoteFoldersUnder(oldPath) {
		if err := e.remote.DeleteFolder(ctx, f.Path); err != nil {
			e.logger.Error("sync: delete folder failed",
				slog.String("path", f.Path), slog.String("error", err.Error()))
		}
	}
	e.logger.Info("sync: folder deleted", slog.String("path", oldPath))
}

// detectFolderRename looks for a directly contained note whose identity now
// lives under a different folder; that folder is the rename target. The
// target must actually exist as a directory, otherwise the notes moved
// individually and this is not a folder rename.
func (e *Engine) detectFolderRename(oldPath string, contained []models.Note) (string, bool) {
	for _, n := range contained {
		if n.FolderPath != oldPath {
			continue
		}
		cur, found := e.fs.FindNoteByID(n.ID)
		if !found || cur.FolderPath == oldPath {
			continue
		}
		if e.fs.IsDir(cur.FolderPath) {
			return cur.FolderPath, true
		}
	}
	return "", false
}

func (e *Engine) remoteFolderExists(path string) bool {
	for _, f := range e.remote.AllFolders() {
		if f.Path == path {
			return true
		}
	}
	return false
}

// remoteNotesUnder returns cached notes directly or transitively inside path.
func (e *Engine) remoteNotesUnder(path string) []models.Note {
	var out []models.Note
	for _, n := range e.remote.AllNotes() {
		if n.FolderPath == path || strings.HasPrefix(n.FolderPath, path+"/") {
			out = append(out, n)
		}
	}
	return out
}

// remoteFoldersUnder returns cached folders at or inside path, deepest first
// so children are deleted before their parents.
func (e *Engine) remoteFoldersUnder(path string) []models.Folder {
	var out []models.Folder
	for _, f := range e.remote.AllFolders() {
		if f.Path == path || strings.HasPrefix(f.Path, path+"/") {
			out = append(out, f)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Depth > out[i].Depth {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

package syncer

import (
	"log/slog"

	"github.com/mikaelwills/spacenotes/internal/models"
	"github.com/mikaelwills/spacenotes/internal/pathutil"
)

// RemoteEvents is the callback registration surface of the subscription
// client. *spacetime.Client satisfies it.
type RemoteEvents interface {
	OnNoteInserted(fn func(models.Note))
	OnNoteUpdated(fn func(old, new models.Note))
	OnNoteDeleted(fn func(models.Note))
	OnFolderInserted(fn func(models.Folder))
	OnFolderUpdated(fn func(old, new models.Folder))
	OnFolderDeleted(fn func(models.Folder))
}

// AttachRemote registers the handlers that replay server-pushed changes into
// the vault. Each handler must tolerate echoes of this daemon's own reducer
// calls, which the server confirms back over the same subscription.
func (e *Engine) AttachRemote(src RemoteEvents) {
	src.OnNoteInserted(e.applyRemoteNote)
	src.OnNoteUpdated(e.applyRemoteNoteUpdate)
	src.OnNoteDeleted(e.applyRemoteNoteDelete)
	src.OnFolderInserted(e.applyRemoteFolder)
	src.OnFolderUpdated(e.applyRemoteFolderMove)
	src.OnFolderDeleted(e.applyRemoteFolderDelete)
}

// applyRemoteNote writes a server-originated note to the vault. An insert
// whose content matches the fingerprint is the confirmation of our own
// upsert and is skipped.
func (e *Engine) applyRemoteNote(n models.Note) {
	if pathutil.Hidden(n.Path) {
		return
	}
	if !e.tracker.IsModified(n.ID, n.Content) {
		e.logger.Debug("remote: echo suppressed", slog.String("path", n.Path))
		return
	}
	if n.FolderPath != "" {
		if err := e.writer.EnsureFolder(n.FolderPath); err != nil {
			e.logger.Error("remote: create folder failed",
				slog.String("path", n.FolderPath), slog.String("error", err.Error()))
			return
		}
	}
	if err := e.writer.WriteNote(n); err != nil {
		e.logger.Error("remote: write note failed",
			slog.String("path", n.Path), slog.String("error", err.Error()))
		return
	}
	e.logger.Info("remote: note written", slog.String("path", n.Path))
}

// applyRemoteNoteUpdate handles a server-side update. A path change removes
// the old file and writes the new one regardless of content; a pure content
// change goes through the same echo gate as an insert.
func (e *Engine) applyRemoteNoteUpdate(old, new models.Note) {
	if pathutil.Hidden(new.Path) {
		return
	}
	if old.Path != new.Path {
		if err := e.writer.RemoveFile(old.Path); err != nil {
			e.logger.Warn("remote: remove old path failed",
				slog.String("path", old.Path), slog.String("error", err.Error()))
		}
		e.tracker.Seed(new.ID, new.Content)
		if new.FolderPath != "" {
			if err := e.writer.EnsureFolder(new.FolderPath); err != nil {
				e.logger.Error("remote: create folder failed",
					slog.String("path", new.FolderPath), slog.String("error", err.Error()))
				return
			}
		}
		if err := e.writer.WriteNote(new); err != nil {
			e.logger.Error("remote: write note failed",
				slog.String("path", new.Path), slog.String("error", err.Error()))
			return
		}
		e.logger.Info("remote: note moved",
			slog.String("from", old.Path), slog.String("to", new.Path))
		return
	}
	e.applyRemoteNote(new)
}

// applyRemoteNoteDelete removes the local file for a server-side deletion.
// If we deleted it ourselves the file is already gone and Remove is a no-op.
func (e *Engine) applyRemoteNoteDelete(n models.Note) {
	if pathutil.Hidden(n.Path) {
		return
	}
	if err := e.writer.RemoveNote(n); err != nil {
		e.logger.Error("remote: remove note failed",
			slog.String("path", n.Path), slog.String("error", err.Error()))
		return
	}
	e.logger.Info("remote: note removed", slog.String("path", n.Path))
}

func (e *Engine) applyRemoteFolder(f models.Folder) {
	if pathutil.Hidden(f.Path) {
		return
	}
	if e.fs.IsDir(f.Path) {
		return // already present, likely our own upsert confirmed
	}
	if err := e.writer.EnsureFolder(f.Path); err != nil {
		e.logger.Error("remote: create folder failed",
			slog.String("path", f.Path), slog.String("error", err.Error()))
		return
	}
	e.logger.Info("remote: folder created", slog.String("path", f.Path))
}

func (e *Engine) applyRemoteFolderMove(old, new models.Folder) {
	if pathutil.Hidden(new.Path) {
		return
	}
	if e.fs.IsDir(new.Path) {
		return // already renamed locally
	}
	if err := e.writer.RenameFolder(old.Path, new.Path); err != nil {
		e.logger.Error("remote: rename folder failed",
			slog.String("from", old.Path),
			slog.String("to", new.Path),
			slog.String("error", err.Error()))
		return
	}
	e.logger.Info("remote: folder moved",
		slog.String("from", old.Path), slog.String("to", new.Path))
}

func (e *Engine) applyRemoteFolderDelete(f models.Folder) {
	if pathutil.Hidden(f.Path) {
		return
	}
	if !e.fs.IsDir(f.Path) {
		return // already gone
	}
	if err := e.writer.RemoveFolder(f.Path); err != nil {
		e.logger.Error("remote: remove folder failed",
			slog.String("path", f.Path), slog.String("error", err.Error()))
		return
	}
	e.logger.Info("remote: folder removed", slog.String("path", f.Path))
}

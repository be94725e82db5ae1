package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mikaelwills/spacenotes/internal/checksum"
	"github.com/mikaelwills/spacenotes/internal/models"
)

// Reconcile converges the vault and the remote store after startup, once the
// initial subscription is applied. Conflicts resolve last-write-wins on
// modified time; equal content just refreshes the fingerprint. All local
// uploads go out as one bulk call.
func (e *Engine) Reconcile(ctx context.Context) error {
	localNotes, localFolders, err := e.fs.Scan(e.logger, e.newID)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	remoteByID := make(map[string]models.Note)
	for _, n := range e.remote.AllNotes() {
		remoteByID[n.ID] = n
	}

	var uploads []models.Note
	var pulled, seeded int

	for _, ln := range localNotes {
		rn, ok := remoteByID[ln.ID]
		if !ok {
			e.tracker.Seed(ln.ID, ln.Content)
			uploads = append(uploads, ln)
			continue
		}
		delete(remoteByID, ln.ID)

		if checksum.SumString(ln.Content) == checksum.SumString(rn.Content) {
			e.tracker.Seed(ln.ID, ln.Content)
			seeded++
			continue
		}

		if rn.ModifiedTime >= ln.ModifiedTime {
			// Server wins; WriteNote seeds the fingerprint itself.
			if err := e.writer.WriteNote(rn); err != nil {
				e.logger.Error("reconcile: write note failed",
					slog.String("path", rn.Path), slog.String("error", err.Error()))
				continue
			}
			pulled++
		} else {
			e.tracker.Seed(ln.ID, ln.Content)
			uploads = append(uploads, ln)
		}
	}

	// Notes only the server has come down.
	for _, rn := range remoteByID {
		if rn.FolderPath != "" {
			if err := e.writer.EnsureFolder(rn.FolderPath); err != nil {
				e.logger.Error("reconcile: create folder failed",
					slog.String("path", rn.FolderPath), slog.String("error", err.Error()))
				continue
			}
		}
		if err := e.writer.WriteNote(rn); err != nil {
			e.logger.Error("reconcile: write note failed",
				slog.String("path", rn.Path), slog.String("error", err.Error()))
			continue
		}
		pulled++
	}

	missingRemote := e.reconcileFolders(localFolders)

	if len(uploads) > 0 || missingRemote {
		if err := e.remote.BulkSync(ctx, uploads, localFolders); err != nil {
			return fmt.Errorf("reconcile: bulk sync: %w", err)
		}
	}

	e.logger.Info("reconcile: done",
		slog.Int("local", len(localNotes)),
		slog.Int("uploaded", len(uploads)),
		slog.Int("pulled", pulled),
		slog.Int("unchanged", seeded))
	return nil
}

// reconcileFolders creates local directories for server-only folders and
// reports whether any local folder is missing remotely.
func (e *Engine) reconcileFolders(localFolders []models.Folder) bool {
	local := make(map[string]bool, len(localFolders))
	for _, f := range localFolders {
		local[f.Path] = true
	}

	remote := make(map[string]bool)
	for _, f := range e.remote.AllFolders() {
		remote[f.Path] = true
		if !local[f.Path] {
			if err := e.writer.EnsureFolder(f.Path); err != nil {
				e.logger.Error("reconcile: create folder failed",
					slog.String("path", f.Path), slog.String("error", err.Error()))
			}
		}
	}

	for _, f := range localFolders {
		if !remote[f.Path] {
			return true
		}
	}
	return false
}

package syncer

import (
	"context"
	"strings"
	"testing"

	"github.com/mikaelwills/spacenotes/internal/models"
	"github.com/mikaelwills/spacenotes/internal/watcher"
)

type fakeEvents struct {
	noteInserted func(models.Note)
	noteUpdated  func(old, new models.Note)
	noteDeleted  func(models.Note)
	folderIns    func(models.Folder)
	folderUpd    func(old, new models.Folder)
	folderDel    func(models.Folder)
}

func (f *fakeEvents) OnNoteInserted(fn func(models.Note))         { f.noteInserted = fn }
func (f *fakeEvents) OnNoteUpdated(fn func(old, new models.Note)) { f.noteUpdated = fn }
func (f *fakeEvents) OnNoteDeleted(fn func(models.Note))          { f.noteDeleted = fn }
func (f *fakeEvents) OnFolderInserted(fn func(models.Folder))     { f.folderIns = fn }
func (f *fakeEvents) OnFolderUpdated(fn func(o, n models.Folder)) { f.folderUpd = fn }
func (f *fakeEvents) OnFolderDeleted(fn func(models.Folder))      { f.folderDel = fn }

func TestAttachRemote_RegistersAllHandlers(t *testing.T) {
	e, _, _ := newTestEngine(t)
	src := &fakeEvents{}
	e.AttachRemote(src)

	if src.noteInserted == nil || src.noteUpdated == nil || src.noteDeleted == nil ||
		src.folderIns == nil || src.folderUpd == nil || src.folderDel == nil {
		t.Error("not all handlers registered")
	}
}

func TestRemote_InsertWritesLocalFile(t *testing.T) {
	e, _, fs := newTestEngine(t)

	e.applyRemoteNote(models.NewNote("id-1", "inbox/s.md", "pushed", "{}", 6, 100, 200))

	data, err := fs.Read("inbox/s.md")
	if err != nil {
		t.Fatalf("pushed note missing: %v", err)
	}
	if !strings.Contains(string(data), "pushed") ||
		!strings.Contains(string(data), "spacetime_id: id-1") {
		t.Errorf("file = %q", data)
	}
}

func TestRemote_OwnUpsertEchoSkipped(t *testing.T) {
	e, _, fs := newTestEngine(t)

	// A local edit fingerprints the content on its way out; the server's
	// confirmation of that upsert must not rewrite the file.
	e.tracker.Seed("id-1", "body")

	e.applyRemoteNote(models.NewNote("id-1", "a.md", "body", "{}", 4, 0, 0))

	if fs.Exists("a.md") {
		t.Error("echoed insert rewrote the file")
	}
}

func TestRemote_UpdateWithPathChangeMovesFile(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	old := models.NewNote("id-1", "old/a.md", "body", "{}", 4, 100, 200)
	if err := e.writer.WriteNote(old); err != nil {
		t.Fatal(err)
	}

	updated := models.NewNote("id-1", "new/a.md", "body", "{}", 4, 100, 300)
	e.applyRemoteNoteUpdate(old, updated)

	if fs.Exists("old/a.md") {
		t.Error("old path still present after remote move")
	}
	data, err := fs.Read("new/a.md")
	if err != nil {
		t.Fatalf("new path missing: %v", err)
	}
	if !strings.Contains(string(data), "body") {
		t.Errorf("file = %q", data)
	}

	// The notification caused by the rewrite reads as an echo.
	e.Handle(context.Background(), watcher.Event{Path: "new/a.md", Kind: watcher.Created})
	if len(remote.calls) != 0 {
		t.Errorf("calls = %v, remote move echoed back to the server", remote.calls)
	}
}

func TestRemote_ContentUpdateRewritesFile(t *testing.T) {
	e, _, fs := newTestEngine(t)
	old := models.NewNote("id-1", "a.md", "v1", "{}", 2, 100, 200)
	if err := e.writer.WriteNote(old); err != nil {
		t.Fatal(err)
	}

	updated := models.NewNote("id-1", "a.md", "v2", "{}", 2, 100, 300)
	e.applyRemoteNoteUpdate(old, updated)

	data, _ := fs.Read("a.md")
	if !strings.Contains(string(data), "v2") {
		t.Errorf("file = %q, want server content", data)
	}
}

func TestRemote_DeleteRemovesLocalFile(t *testing.T) {
	e, _, fs := newTestEngine(t)
	n := models.NewNote("id-1", "a.md", "body", "{}", 4, 100, 200)
	if err := e.writer.WriteNote(n); err != nil {
		t.Fatal(err)
	}

	e.applyRemoteNoteDelete(n)

	if fs.Exists("a.md") {
		t.Error("file still present after remote delete")
	}
	if e.tracker.Len() != 0 {
		t.Error("fingerprint not cleared")
	}
}

func TestRemote_FolderLifecycle(t *testing.T) {
	e, _, fs := newTestEngine(t)

	e.applyRemoteFolder(models.NewFolder("projects"))
	if !fs.IsDir("projects") {
		t.Fatal("folder not created")
	}

	e.applyRemoteFolderMove(models.NewFolder("projects"), models.NewFolder("archive"))
	if fs.IsDir("projects") || !fs.IsDir("archive") {
		t.Error("folder not renamed")
	}

	e.applyRemoteFolderDelete(models.NewFolder("archive"))
	if fs.IsDir("archive") {
		t.Error("folder not removed")
	}
}

func TestRemote_HousekeepingPathsIgnored(t *testing.T) {
	e, _, fs := newTestEngine(t)

	e.applyRemoteFolder(models.NewFolder("@eaDir"))
	e.applyRemoteNote(models.NewNote("id-1", ".obsidian/cache.md", "x", "{}", 1, 0, 0))

	if fs.IsDir("@eaDir") || fs.Exists(".obsidian/cache.md") {
		t.Error("housekeeping path written locally")
	}
}

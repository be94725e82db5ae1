package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mikaelwills/spacenotes/internal/models"
	"github.com/mikaelwills/spacenotes/internal/tracker"
	"github.com/mikaelwills/spacenotes/internal/vault"
	"github.com/mikaelwills/spacenotes/internal/watcher"
)

// fakeRemote records reducer calls and maintains the same cache shape the
// real client does.
type fakeRemote struct {
	mu      sync.Mutex
	notes   map[string]models.Note // by id
	folders map[string]models.Folder
	calls   []string
	fail    bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		notes:   make(map[string]models.Note),
		folders: make(map[string]models.Folder),
	}
}

func (r *fakeRemote) record(format string, args ...interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("remote unavailable")
	}
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	return nil
}

func (r *fakeRemote) UpsertNote(_ context.Context, n models.Note) error {
	if err := r.record("upsert_note:%s", n.Path); err != nil {
		return err
	}
	r.mu.Lock()
	r.notes[n.ID] = n
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) UpsertFolder(_ context.Context, f models.Folder) error {
	if err := r.record("upsert_folder:%s", f.Path); err != nil {
		return err
	}
	r.mu.Lock()
	r.folders[f.Path] = f
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) DeleteNote(_ context.Context, id string) error {
	if err := r.record("delete_note:%s", id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.notes, id)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) DeleteFolder(_ context.Context, path string) error {
	if err := r.record("delete_folder:%s", path); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.folders, path)
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) MoveNote(_ context.Context, id, newPath string) error {
	if err := r.record("move_note:%s:%s", id, newPath); err != nil {
		return err
	}
	r.mu.Lock()
	if n, ok := r.notes[id]; ok {
		n.Path = newPath
		n.FolderPath = models.FolderPathOf(newPath)
		r.notes[id] = n
	}
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) MoveFolder(_ context.Context, oldPath, newPath string) error {
	return r.record("move_folder:%s:%s", oldPath, newPath)
}

func (r *fakeRemote) BulkSync(_ context.Context, notes []models.Note, folders []models.Folder) error {
	if err := r.record("bulk_sync:%d:%d", len(notes), len(folders)); err != nil {
		return err
	}
	r.mu.Lock()
	for _, n := range notes {
		r.notes[n.ID] = n
	}
	for _, f := range folders {
		r.folders[f.Path] = f
	}
	r.mu.Unlock()
	return nil
}

func (r *fakeRemote) NoteByID(id string) (models.Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[id]
	return n, ok
}

func (r *fakeRemote) NoteByPath(path string) (models.Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notes {
		if n.Path == path {
			return n, true
		}
	}
	return models.Note{}, false
}

func (r *fakeRemote) AllNotes() []models.Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Note, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n)
	}
	return out
}

func (r *fakeRemote) AllFolders() []models.Folder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Folder, 0, len(r.folders))
	for _, f := range r.folders {
		out = append(out, f)
	}
	return out
}

func (r *fakeRemote) callCount(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (r *fakeRemote) hasCall(call string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == call {
			return true
		}
	}
	return false
}

// --- fixtures --------------------------------------------------------------

func newTestEngine(t *testing.T) (*Engine, *fakeRemote, *vault.FS) {
	t.Helper()
	root := t.TempDir()
	fs, err := vault.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	tr := tracker.New(nil)
	w := vault.NewWriter(fs, tr)
	remote := newFakeRemote()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	e := NewEngine(fs, w, tr, remote, logger)
	ids := 0
	e.newID = func() string {
		ids++
		return fmt.Sprintf("test-id-%d", ids)
	}
	return e, remote, fs
}

func writeVaultFile(t *testing.T, fs *vault.FS, rel, content string) {
	t.Helper()
	abs := filepath.Join(fs.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func noteContent(id, body string) string {
	return "---\nspacetime_id: " + id + "\n---\n\n" + body
}

// --- local changes -----------------------------------------------------------

func TestHandle_NewNoteInjectsIdentityAndUpserts(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	writeVaultFile(t, fs, "notes/a.md", "hello world")

	e.Handle(context.Background(), watcher.Event{Path: "notes/a.md", Kind: watcher.Created})

	if !remote.hasCall("upsert_note:notes/a.md") {
		t.Fatalf("calls = %v, want upsert_note:notes/a.md", remote.calls)
	}
	n, ok := remote.NoteByID("test-id-1")
	if !ok {
		t.Fatal("note not upserted under injected identity")
	}
	if n.FolderPath != "notes" || n.Content != "hello world" {
		t.Errorf("note = %+v", n)
	}

	// Identity persisted into the file.
	data, _ := fs.Read("notes/a.md")
	if !strings.Contains(string(data), "spacetime_id: test-id-1") {
		t.Errorf("identity not written to file: %q", data)
	}
}

func TestHandle_EchoSuppressed(t *testing.T) {
	e, remote, _ := newTestEngine(t)

	// A remote-originated write seeds the tracker before touching disk.
	n := models.NewNote("id-1", "a.md", "remote body", "{}", 11, 100, 200)
	if err := e.writer.WriteNote(n); err != nil {
		t.Fatal(err)
	}

	e.Handle(context.Background(), watcher.Event{Path: "a.md", Kind: watcher.Modified})

	if len(remote.calls) != 0 {
		t.Errorf("calls = %v, want none for echoed write", remote.calls)
	}
}

func TestHandle_RealEditAfterEchoUpserts(t *testing.T) {
	e, remote, fs := newTestEngine(t)

	n := models.NewNote("id-1", "a.md", "remote body", "{}", 11, 100, 200)
	if err := e.writer.WriteNote(n); err != nil {
		t.Fatal(err)
	}
	writeVaultFile(t, fs, "a.md", noteContent("id-1", "edited body"))

	e.Handle(context.Background(), watcher.Event{Path: "a.md", Kind: watcher.Modified})

	if !remote.hasCall("upsert_note:a.md") {
		t.Errorf("calls = %v, want upsert after real edit", remote.calls)
	}
}

func TestHandle_SplitBrainRemotePathClaimed(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	remote.notes["other-id"] = models.NewNote("other-id", "a.md", "theirs", "{}", 6, 0, 0)
	writeVaultFile(t, fs, "a.md", "mine, no identity")

	e.Handle(context.Background(), watcher.Event{Path: "a.md", Kind: watcher.Created})

	if len(remote.calls) != 0 {
		t.Errorf("calls = %v, want none when remote claims the path", remote.calls)
	}
	data, _ := fs.Read("a.md")
	if strings.Contains(string(data), "spacetime_id") {
		t.Error("identity injected despite remote claim on path")
	}
}

func TestHandle_SplitBrainUnparseableIdentity(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	// Malformed frontmatter that still names the identity key.
	writeVaultFile(t, fs, "a.md", "---\nspacetime_id: [broken\n---\n\nbody")

	e.Handle(context.Background(), watcher.Event{Path: "a.md", Kind: watcher.Modified})

	if len(remote.calls) != 0 {
		t.Errorf("calls = %v, want none for unparseable identity", remote.calls)
	}
}

func TestHandle_MoveDetectedByIdentity(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	remote.notes["id-1"] = models.NewNote("id-1", "old/a.md", "body", "{}", 4, 0, 0)
	writeVaultFile(t, fs, "new/a.md", noteContent("id-1", "body"))

	// The old path vanished; the identity lives elsewhere now.
	e.Handle(context.Background(), watcher.Event{Path: "old/a.md", Kind: watcher.Renamed})

	if !remote.hasCall("move_note:id-1:new/a.md") {
		t.Fatalf("calls = %v, want move_note", remote.calls)
	}
	if remote.callCount("delete_note") != 0 || remote.callCount("upsert_note") != 0 {
		t.Errorf("calls = %v, move must not be delete+create", remote.calls)
	}
}

func TestHandle_MoveWithEditMovesThenUpserts(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	remote.notes["id-1"] = models.NewNote("id-1", "old/a.md", "body", "{}", 4, 0, 0)
	writeVaultFile(t, fs, "new/a.md", noteContent("id-1", "edited"))

	e.Handle(context.Background(), watcher.Event{Path: "new/a.md", Kind: watcher.Created})

	if !remote.hasCall("move_note:id-1:new/a.md") {
		t.Fatalf("calls = %v, want move_note first", remote.calls)
	}
	if !remote.hasCall("upsert_note:new/a.md") {
		t.Errorf("calls = %v, want upsert for the edit", remote.calls)
	}
}

func TestHandle_DeleteRemovesRemoteRecord(t *testing.T) {
	e, remote, _ := newTestEngine(t)
	remote.notes["id-1"] = models.NewNote("id-1", "a.md", "body", "{}", 4, 0, 0)
	e.tracker.Seed("id-1", "body")

	e.Handle(context.Background(), watcher.Event{Path: "a.md", Kind: watcher.Removed})

	if !remote.hasCall("delete_note:id-1") {
		t.Fatalf("calls = %v, want delete_note", remote.calls)
	}
	if e.tracker.Len() != 0 {
		t.Error("fingerprint not cleared after delete")
	}
}

func TestHandle_DeleteUnknownPathIgnored(t *testing.T) {
	e, remote, _ := newTestEngine(t)

	e.Handle(context.Background(), watcher.Event{Path: "never-synced.md", Kind: watcher.Removed})

	if len(remote.calls) != 0 {
		t.Errorf("calls = %v, want none", remote.calls)
	}
}

func TestHandle_RemoteFailureSwallowed(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	remote.fail = true
	writeVaultFile(t, fs, "a.md", noteContent("id-1", "body"))

	// Must not panic and must leave the daemon running.
	e.Handle(context.Background(), watcher.Event{Path: "a.md", Kind: watcher.Modified})
}

func TestHandle_NewFolderUpserted(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	if err := fs.MkdirAll("projects/ideas"); err != nil {
		t.Fatal(err)
	}

	e.Handle(context.Background(), watcher.Event{Path: "projects/ideas", Kind: watcher.Created})

	if !remote.hasCall("upsert_folder:projects/ideas") {
		t.Errorf("calls = %v, want upsert_folder", remote.calls)
	}
}

func TestHandle_FolderRenameReplayedAsMove(t *testing.T) {
	e, remote, fs := newTestEngine(t)
	remote.folders["old"] = models.NewFolder("old")
	remote.notes["id-1"] = models.NewNote("id-1", "old/a.md", "body", "{}", 4, 0, 0)
	writeVaultFile(t, fs, "renamed/a.md", noteContent("id-1", "body"))

	e.Handle(context.Background(), watcher.Event{Path: "old", Kind: watcher.Renamed})

	if !remote.hasCall("move_folder:old:renamed") {
		t.Fatalf("calls = %v, want move_folder", remote.calls)
	}
	if remote.callCount("delete_folder") != 0 {
		t.Errorf("calls = %v, rename must not delete", remote.calls)
	}
}

func TestHandle_FolderDeleteDropsNotesAndRecordsChildrenFirst(t *testing.T) {
	e, remote, _ := newTestEngine(t)
	remote.folders["old"] = models.NewFolder("old")
	remote.folders["old/sub"] = models.NewFolder("old/sub")
	remote.notes["id-1"] = models.NewNote("id-1", "old/a.md", "body", "{}", 4, 0, 0)
	remote.notes["id-2"] = models.NewNote("id-2", "old/sub/b.md", "body", "{}", 4, 0, 0)

	e.Handle(context.Background(), watcher.Event{Path: "old", Kind: watcher.Removed})

	if remote.callCount("delete_note") != 2 {
		t.Errorf("calls = %v, want both notes deleted", remote.calls)
	}
	var folderDeletes []string
	for _, c := range remote.calls {
		if strings.HasPrefix(c, "delete_folder:") {
			folderDeletes = append(folderDeletes, c)
		}
	}
	want := []string{"delete_folder:old/sub", "delete_folder:old"}
	if len(folderDeletes) != 2 || folderDeletes[0] != want[0] || folderDeletes[1] != want[1] {
		t.Errorf("folder deletes = %v, want %v", folderDeletes, want)
	}
}

package vault

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikaelwills/spacenotes/internal/frontmatter"
	"github.com/mikaelwills/spacenotes/internal/models"
	"github.com/mikaelwills/spacenotes/internal/tracker"
)

func testWriter(t *testing.T) (*Writer, *FS, *tracker.Tracker) {
	t.Helper()
	f, _ := testFS(t)
	tr := tracker.New(nil)
	return NewWriter(f, tr), f, tr
}

func TestWriteNote_EchoSuppressed(t *testing.T) {
	w, f, tr := testWriter(t)

	n := models.NewNote("id-1", "notes/a.md", "remote text", "{}", 0, 1000, 2000)
	if err := w.WriteNote(n); err != nil {
		t.Fatal(err)
	}

	// The next filesystem notification re-reads the file; the tracker must
	// classify the body as unchanged.
	note, err := f.ReadNote("notes/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if note.Content != "remote text" {
		t.Errorf("Content = %q", note.Content)
	}
	if tr.HasChanged(n.ID, note.Content) {
		t.Error("own write reported as a change")
	}
}

func TestWriteNote_IdentityInFrontmatter(t *testing.T) {
	w, f, _ := testWriter(t)

	n := models.NewNote("id-2", "a.md", "body", `{"title":"T"}`, 0, 0, 5000)
	if err := w.WriteNote(n); err != nil {
		t.Fatal(err)
	}
	data, _ := f.Read("a.md")
	if frontmatter.ID(string(data)) != "id-2" {
		t.Errorf("identity missing from written file: %q", data)
	}
	m, _ := frontmatter.Parse(string(data))
	if v, _ := m.Get("title"); v != "T" {
		t.Errorf("remote frontmatter lost: title = %q", v)
	}
}

func TestWriteNote_SetsModTime(t *testing.T) {
	w, f, _ := testWriter(t)

	var ms uint64 = 1_700_000_000_000
	n := models.NewNote("id-3", "a.md", "body", "{}", 0, ms, ms)
	if err := w.WriteNote(n); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(f.Root(), "a.md"))
	if err != nil {
		t.Fatal(err)
	}
	want := time.UnixMilli(int64(ms))
	if !info.ModTime().Equal(want) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), want)
	}
}

func TestRemoveNote_ClearsFingerprint(t *testing.T) {
	w, f, tr := testWriter(t)

	n := models.NewNote("id-4", "a.md", "body", "{}", 0, 0, 0)
	if err := w.WriteNote(n); err != nil {
		t.Fatal(err)
	}
	if err := w.RemoveNote(n); err != nil {
		t.Fatal(err)
	}
	if f.Exists("a.md") {
		t.Error("file still present")
	}
	if !tr.HasChanged("id-4", "body") {
		t.Error("fingerprint not cleared")
	}
}

func TestFolderOps(t *testing.T) {
	w, f, _ := testWriter(t)

	if err := w.EnsureFolder("projects/music"); err != nil {
		t.Fatal(err)
	}
	if !f.IsDir("projects/music") {
		t.Error("folder not created")
	}
	if err := w.RenameFolder("projects/music", "projects/sound"); err != nil {
		t.Fatal(err)
	}
	if f.IsDir("projects/music") || !f.IsDir("projects/sound") {
		t.Error("rename not applied")
	}
	if err := w.RemoveFolder("projects/sound"); err != nil {
		t.Fatal(err)
	}
	if f.IsDir("projects/sound") {
		t.Error("folder not removed")
	}
}

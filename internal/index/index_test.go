package index

import (
	"os"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "spacenotes-index-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutLoadDelete(t *testing.T) {
	db := testDB(t)

	if err := db.Put("id-1", "aaa"); err != nil {
		t.Fatal(err)
	}
	if err := db.Put("id-1", "bbb"); err != nil {
		t.Fatal(err)
	}
	if err := db.Put("notes/x.md", "ccc"); err != nil {
		t.Fatal(err)
	}

	got, err := db.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got["id-1"] != "bbb" {
		t.Errorf("id-1 = %q, want bbb (upsert should replace)", got["id-1"])
	}
	if got["notes/x.md"] != "ccc" {
		t.Errorf("notes/x.md = %q", got["notes/x.md"])
	}

	if err := db.Delete("id-1"); err != nil {
		t.Fatal(err)
	}
	got, err = db.Load()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["id-1"]; ok {
		t.Error("id-1 still present after delete")
	}
}

func TestLoad_Empty(t *testing.T) {
	db := testDB(t)
	got, err := db.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty, got %d rows", len(got))
	}
}

// Package tracker owns the fingerprint table that decides whether a note's
// content differs from the last synced state. It is the single arbiter of
// "is this a real change": the watch pipeline and the atomic writer both go
// through it, which is what keeps the daemon's own writes from echoing back
// into remote calls.
package tracker

import (
	"sync"

	"github.com/mikaelwills/spacenotes/internal/checksum"
)

// Store persists fingerprints across restarts. Implementations must tolerate
// concurrent calls. All Store errors are swallowed: persistence is an
// optimization, the in-memory table is authoritative.
type Store interface {
	Put(key, digest string) error
	Delete(key string) error
	Load() (map[string]string, error)
}

// Tracker maps a note identity (or path, before identity is known) to the
// digest of its last synced content. All methods are safe for concurrent
// use and never fail; an absent prior fingerprint means "definitely changed".
type Tracker struct {
	mu    sync.Mutex
	table map[string]string
	store Store
}

// New creates a Tracker. When store is non-nil, previously persisted
// fingerprints are loaded and later mutations are written through.
func New(store Store) *Tracker {
	t := &Tracker{table: make(map[string]string), store: store}
	if store != nil {
		if persisted, err := store.Load(); err == nil {
			for k, v := range persisted {
				t.table[k] = v
			}
		}
	}
	return t
}

// HasChanged reports whether content differs from the stored fingerprint
// for key. It never mutates state, so an echo check does not consume the
// information a later real-change check needs.
func (t *Tracker) HasChanged(key, content string) bool {
	digest := checksum.SumString(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.table[key]
	return !ok || prev != digest
}

// IsModified reports whether content differs from the stored fingerprint,
// and when it does, atomically replaces the fingerprint with the new digest.
func (t *Tracker) IsModified(key, content string) bool {
	digest := checksum.SumString(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.table[key]; ok && prev == digest {
		return false
	}
	t.table[key] = digest
	t.persist(key, digest)
	return true
}

// Seed unconditionally stores the fingerprint for content without reporting
// anything. The atomic writer seeds around each remote-originated write so
// the resulting filesystem notification reads as "unchanged".
func (t *Tracker) Seed(key, content string) {
	digest := checksum.SumString(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table[key] = digest
	t.persist(key, digest)
}

// Remove drops the fingerprint for key, e.g. after a deletion.
func (t *Tracker) Remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.table, key)
	if t.store != nil {
		_ = t.store.Delete(key)
	}
}

// Rename moves a fingerprint from one key to another, preserving the digest.
// Used when a note tracked by path acquires its identity.
func (t *Tracker) Rename(oldKey, newKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	digest, ok := t.table[oldKey]
	if !ok {
		return
	}
	delete(t.table, oldKey)
	t.table[newKey] = digest
	if t.store != nil {
		_ = t.store.Delete(oldKey)
	}
	t.persist(newKey, digest)
}

// Len returns the number of tracked fingerprints.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.table)
}

// persist writes through to the store. Callers hold t.mu.
func (t *Tracker) persist(key, digest string) {
	if t.store != nil {
		_ = t.store.Put(key, digest)
	}
}

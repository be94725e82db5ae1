// Package spacetime implements the client for the remote SpacetimeDB store:
// reducer calls over its HTTP API and a table subscription over its
// WebSocket API, with a local cache of the subscribed rows. This package is
// the only caller of the remote mutation surface.
package spacetime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mikaelwills/spacenotes/internal/apperr"
	"github.com/mikaelwills/spacenotes/internal/models"
)

// Config holds connection settings for the remote store.
type Config struct {
	Host           string // e.g. http://localhost:3003
	Database       string // module name
	Token          string // optional bearer token
	ConnectTimeout time.Duration
}

// Client talks to one SpacetimeDB database. Mutations go through reducer
// calls; reads are served from the subscription cache, which the server
// keeps current by pushing row changes.
type Client struct {
	cfg    Config
	httpc  *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	notesByID map[string]models.Note
	idByPath  map[string]string
	folders   map[string]models.Folder

	handlers handlers

	synced     chan struct{}
	syncedOnce sync.Once

	closeConn func() // set by the subscription dial
}

type handlers struct {
	mu            sync.RWMutex
	noteInserted  func(models.Note)
	noteUpdated   func(old, new models.Note)
	noteDeleted   func(models.Note)
	folderInsert  func(models.Folder)
	folderUpdated func(old, new models.Folder)
	folderDeleted func(models.Folder)
}

// Connect dials the subscription socket, requests the note and folder
// tables, and starts the read loop. Use WaitForSync before relying on the
// cache.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	c := &Client{
		cfg:       cfg,
		httpc:     &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
		notesByID: make(map[string]models.Note),
		idByPath:  make(map[string]string),
		folders:   make(map[string]models.Folder),
		synced:    make(chan struct{}),
	}
	if err := c.subscribe(ctx); err != nil {
		return nil, fmt.Errorf("spacetime: connect %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	logger.Info("spacetime: connected",
		slog.String("host", cfg.Host),
		slog.String("database", cfg.Database))
	return c, nil
}

// WaitForSync blocks until the initial subscription data has been applied.
// Without it no reconciliation is possible, so callers treat a timeout as
// fatal.
func (c *Client) WaitForSync(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-c.synced:
		return nil
	case <-timer.C:
		return fmt.Errorf("spacetime: timeout waiting for subscription: %w", apperr.ErrNotSynced)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Synced reports whether the initial subscription has been applied.
func (c *Client) Synced() bool {
	select {
	case <-c.synced:
		return true
	default:
		return false
	}
}

// Close tears down the subscription socket.
func (c *Client) Close() error {
	if c.closeConn != nil {
		c.closeConn()
	}
	return nil
}

// --- reducer calls -----------------------------------------------------

// call invokes a reducer over the HTTP API with a JSON argument array.
func (c *Client) call(ctx context.Context, reducer string, args ...interface{}) error {
	if args == nil {
		args = []interface{}{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("spacetime: encode %s args: %w", reducer, err)
	}

	url := fmt.Sprintf("%s/v1/database/%s/call/%s",
		strings.TrimRight(c.cfg.Host, "/"), c.cfg.Database, reducer)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("spacetime: build %s request: %w", reducer, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("spacetime: call %s: %w", reducer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("spacetime: call %s: status %d: %s",
			reducer, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// UpsertNote creates or replaces the remote record for a note.
func (c *Client) UpsertNote(ctx context.Context, n models.Note) error {
	return c.call(ctx, "upsert_note",
		n.ID, n.Path, n.Name, n.Content, n.FolderPath, n.Depth,
		n.Frontmatter, n.Size, n.CreatedTime, n.ModifiedTime)
}

// UpsertFolder creates or replaces the remote record for a folder.
func (c *Client) UpsertFolder(ctx context.Context, f models.Folder) error {
	return c.call(ctx, "upsert_folder", f.Path, f.Name, f.Depth)
}

// DeleteNote removes the remote record by identity.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return c.call(ctx, "delete_note", id)
}

// DeleteFolder removes the remote folder record. Contained note records are
// left in place (no cascade).
func (c *Client) DeleteFolder(ctx context.Context, path string) error {
	return c.call(ctx, "delete_folder", path)
}

// MoveNote records a rename. Keyed by identity so the remote record keeps
// its history: one move call, never a delete+create pair. The old path is
// resolved from the cache.
func (c *Client) MoveNote(ctx context.Context, id, newPath string) error {
	n, ok := c.NoteByID(id)
	if !ok {
		return fmt.Errorf("spacetime: move note %s: %w", id, apperr.ErrNotFound)
	}
	return c.call(ctx, "move_note", n.Path, newPath)
}

// MoveFolder records a folder rename.
func (c *Client) MoveFolder(ctx context.Context, oldPath, newPath string) error {
	return c.call(ctx, "move_folder", oldPath, newPath)
}

// BulkSync populates the store with the full local document and folder
// sets in a single call; used by startup reconciliation.
func (c *Client) BulkSync(ctx context.Context, notes []models.Note, folders []models.Folder) error {
	if notes == nil {
		notes = []models.Note{}
	}
	if folders == nil {
		folders = []models.Folder{}
	}
	return c.call(ctx, "bulk_sync", notes, folders)
}

// ClearAll wipes every remote record. Maintenance only.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.call(ctx, "clear_all")
}

// --- cache reads -------------------------------------------------------

// NoteByID returns the cached note with the given identity.
func (c *Client) NoteByID(id string) (models.Note, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.notesByID[id]
	return n, ok
}

// NoteByPath returns the cached note at the given record path.
func (c *Client) NoteByPath(path string) (models.Note, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.idByPath[path]
	if !ok {
		return models.Note{}, false
	}
	n, ok := c.notesByID[id]
	return n, ok
}

// AllNotes returns a snapshot of every cached note.
func (c *Client) AllNotes() []models.Note {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Note, 0, len(c.notesByID))
	for _, n := range c.notesByID {
		out = append(out, n)
	}
	return out
}

// AllFolders returns a snapshot of every cached folder.
func (c *Client) AllFolders() []models.Folder {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Folder, 0, len(c.folders))
	for _, f := range c.folders {
		out = append(out, f)
	}
	return out
}

// Counts returns the number of cached notes and folders.
func (c *Client) Counts() (notes, folders int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.notesByID), len(c.folders)
}

// --- change handlers ---------------------------------------------------

// OnNoteInserted registers the handler for server-pushed note inserts.
func (c *Client) OnNoteInserted(fn func(models.Note)) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.noteInserted = fn
}

// OnNoteUpdated registers the handler for server-pushed note updates.
func (c *Client) OnNoteUpdated(fn func(old, new models.Note)) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.noteUpdated = fn
}

// OnNoteDeleted registers the handler for server-pushed note deletions.
func (c *Client) OnNoteDeleted(fn func(models.Note)) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.noteDeleted = fn
}

// OnFolderInserted registers the handler for server-pushed folder inserts.
func (c *Client) OnFolderInserted(fn func(models.Folder)) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.folderInsert = fn
}

// OnFolderUpdated registers the handler for server-pushed folder renames.
func (c *Client) OnFolderUpdated(fn func(old, new models.Folder)) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.folderUpdated = fn
}

// OnFolderDeleted registers the handler for server-pushed folder deletions.
func (c *Client) OnFolderDeleted(fn func(models.Folder)) {
	c.handlers.mu.Lock()
	defer c.handlers.mu.Unlock()
	c.handlers.folderDeleted = fn
}

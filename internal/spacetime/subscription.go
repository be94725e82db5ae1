package spacetime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/mikaelwills/spacenotes/internal/models"
)

// v1 JSON WebSocket protocol of SpacetimeDB.
const subProtocol = "v1.json.spacetimedb"

var subQueries = []string{
	"SELECT * FROM note",
	"SELECT * FROM folder",
}

// --- wire frames ---------------------------------------------------------

type clientMessage struct {
	Subscribe *subscribeMsg `json:"Subscribe,omitempty"`
}

type subscribeMsg struct {
	RequestID    uint32   `json:"request_id"`
	QueryStrings []string `json:"query_strings"`
}

type serverMessage struct {
	InitialSubscription *struct {
		DatabaseUpdate databaseUpdate `json:"database_update"`
	} `json:"InitialSubscription"`
	TransactionUpdate *struct {
		Status struct {
			Committed *databaseUpdate `json:"Committed"`
		} `json:"status"`
	} `json:"TransactionUpdate"`
}

type databaseUpdate struct {
	Tables []tableUpdate `json:"tables"`
}

type tableUpdate struct {
	TableName string     `json:"table_name"`
	Updates   []rowDelta `json:"updates"`
}

// Rows travel as JSON-encoded strings, each holding a positional array of
// column values.
type rowDelta struct {
	Inserts []string `json:"inserts"`
	Deletes []string `json:"deletes"`
}

// --- dial and read loop --------------------------------------------------

// subscribe dials the subscription endpoint, sends the table queries, and
// starts the read loop.
func (c *Client) subscribe(ctx context.Context) error {
	wsURL := subscribeURL(c.cfg.Host, c.cfg.Database)

	opts := &websocket.DialOptions{Subprotocols: []string{subProtocol}}
	if c.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.cfg.Token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	// Initial snapshots of large vaults exceed the default read limit.
	conn.SetReadLimit(64 << 20)

	readCtx, cancel := context.WithCancel(context.Background())
	c.closeConn = func() {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "shutdown")
	}

	sub := clientMessage{Subscribe: &subscribeMsg{RequestID: 1, QueryStrings: subQueries}}
	payload, err := json.Marshal(sub)
	if err != nil {
		c.closeConn()
		return fmt.Errorf("encode subscribe: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		c.closeConn()
		return fmt.Errorf("send subscribe: %w", err)
	}

	go c.readLoop(readCtx, conn)
	return nil
}

func subscribeURL(host, database string) string {
	u := strings.TrimRight(host, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return fmt.Sprintf("%s/v1/database/%s/subscribe", u, database)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("spacetime: subscription closed",
					slog.String("error", err.Error()))
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("spacetime: undecodable frame",
				slog.String("error", err.Error()))
			continue
		}

		switch {
		case msg.InitialSubscription != nil:
			c.applyUpdate(msg.InitialSubscription.DatabaseUpdate, true)
			c.syncedOnce.Do(func() { close(c.synced) })
			notes, folders := c.Counts()
			c.logger.Info("spacetime: initial subscription applied",
				slog.Int("notes", notes),
				slog.Int("folders", folders))

		case msg.TransactionUpdate != nil:
			if committed := msg.TransactionUpdate.Status.Committed; committed != nil {
				c.applyUpdate(*committed, false)
			}
		}
	}
}

// --- cache application ---------------------------------------------------

type noteChange struct {
	old, new models.Note
	kind     changeKind
}

type folderChange struct {
	old, new models.Folder
	kind     changeKind
}

type changeKind int

const (
	changeInsert changeKind = iota
	changeUpdate
	changeDelete
)

// applyUpdate folds a database update into the cache. A delete and an insert
// for the same primary key inside one transaction is an update. Handlers run
// after the cache mutation so they observe the new state; during the initial
// snapshot no handlers fire.
func (c *Client) applyUpdate(u databaseUpdate, initial bool) {
	var noteChanges []noteChange
	var folderChanges []folderChange

	c.mu.Lock()
	for _, tbl := range u.Tables {
		switch tbl.TableName {
		case "note":
			noteChanges = append(noteChanges, c.applyNoteDeltasLocked(tbl.Updates)...)
		case "folder":
			folderChanges = append(folderChanges, c.applyFolderDeltasLocked(tbl.Updates)...)
		}
	}
	c.mu.Unlock()

	if initial {
		return
	}
	c.fireNoteChanges(noteChanges)
	c.fireFolderChanges(folderChanges)
}

func (c *Client) applyNoteDeltasLocked(deltas []rowDelta) []noteChange {
	var changes []noteChange
	for _, delta := range deltas {
		deleted := make(map[string]models.Note)
		for _, row := range delta.Deletes {
			n, err := decodeNoteRow(row)
			if err != nil {
				c.logger.Warn("spacetime: bad note row", slog.String("error", err.Error()))
				continue
			}
			deleted[n.ID] = n
		}

		for _, row := range delta.Inserts {
			n, err := decodeNoteRow(row)
			if err != nil {
				c.logger.Warn("spacetime: bad note row", slog.String("error", err.Error()))
				continue
			}
			if old, ok := deleted[n.ID]; ok {
				delete(deleted, n.ID)
				delete(c.idByPath, old.Path)
				c.notesByID[n.ID] = n
				c.idByPath[n.Path] = n.ID
				changes = append(changes, noteChange{old: old, new: n, kind: changeUpdate})
				continue
			}
			c.notesByID[n.ID] = n
			c.idByPath[n.Path] = n.ID
			changes = append(changes, noteChange{new: n, kind: changeInsert})
		}

		for _, old := range deleted {
			delete(c.notesByID, old.ID)
			delete(c.idByPath, old.Path)
			changes = append(changes, noteChange{old: old, kind: changeDelete})
		}
	}
	return changes
}

func (c *Client) applyFolderDeltasLocked(deltas []rowDelta) []folderChange {
	var changes []folderChange
	for _, delta := range deltas {
		deleted := make(map[string]models.Folder)
		for _, row := range delta.Deletes {
			f, err := decodeFolderRow(row)
			if err != nil {
				c.logger.Warn("spacetime: bad folder row", slog.String("error", err.Error()))
				continue
			}
			deleted[f.Path] = f
		}

		for _, row := range delta.Inserts {
			f, err := decodeFolderRow(row)
			if err != nil {
				c.logger.Warn("spacetime: bad folder row", slog.String("error", err.Error()))
				continue
			}
			if old, ok := deleted[f.Path]; ok {
				delete(deleted, f.Path)
				c.folders[f.Path] = f
				changes = append(changes, folderChange{old: old, new: f, kind: changeUpdate})
				continue
			}
			c.folders[f.Path] = f
			changes = append(changes, folderChange{new: f, kind: changeInsert})
		}

		for _, old := range deleted {
			delete(c.folders, old.Path)
			changes = append(changes, folderChange{old: old, kind: changeDelete})
		}
	}
	return changes
}

func (c *Client) fireNoteChanges(changes []noteChange) {
	c.handlers.mu.RLock()
	inserted, updated, removed := c.handlers.noteInserted, c.handlers.noteUpdated, c.handlers.noteDeleted
	c.handlers.mu.RUnlock()

	for _, ch := range changes {
		switch ch.kind {
		case changeInsert:
			if inserted != nil {
				inserted(ch.new)
			}
		case changeUpdate:
			if updated != nil {
				updated(ch.old, ch.new)
			}
		case changeDelete:
			if removed != nil {
				removed(ch.old)
			}
		}
	}
}

func (c *Client) fireFolderChanges(changes []folderChange) {
	c.handlers.mu.RLock()
	inserted, updated, removed := c.handlers.folderInsert, c.handlers.folderUpdated, c.handlers.folderDeleted
	c.handlers.mu.RUnlock()

	for _, ch := range changes {
		switch ch.kind {
		case changeInsert:
			if inserted != nil {
				inserted(ch.new)
			}
		case changeUpdate:
			if updated != nil {
				updated(ch.old, ch.new)
			}
		case changeDelete:
			if removed != nil {
				removed(ch.old)
			}
		}
	}
}

// --- row decoding ----------------------------------------------------------

// decodeNoteRow decodes a positional note row. Trailing columns beyond the
// ones we track are ignored.
func decodeNoteRow(row string) (models.Note, error) {
	var cols []json.RawMessage
	if err := json.Unmarshal([]byte(row), &cols); err != nil {
		return models.Note{}, fmt.Errorf("note row: %w", err)
	}
	if len(cols) < 10 {
		return models.Note{}, fmt.Errorf("note row: %d columns, want 10", len(cols))
	}
	var n models.Note
	fields := []interface{}{
		&n.ID, &n.Path, &n.Name, &n.Content, &n.FolderPath,
		&n.Depth, &n.Frontmatter, &n.Size, &n.CreatedTime, &n.ModifiedTime,
	}
	for i, dst := range fields {
		if err := json.Unmarshal(cols[i], dst); err != nil {
			return models.Note{}, fmt.Errorf("note row column %d: %w", i, err)
		}
	}
	return n, nil
}

func decodeFolderRow(row string) (models.Folder, error) {
	var cols []json.RawMessage
	if err := json.Unmarshal([]byte(row), &cols); err != nil {
		return models.Folder{}, fmt.Errorf("folder row: %w", err)
	}
	if len(cols) < 3 {
		return models.Folder{}, fmt.Errorf("folder row: %d columns, want 3", len(cols))
	}
	var f models.Folder
	fields := []interface{}{&f.Path, &f.Name, &f.Depth}
	for i, dst := range fields {
		if err := json.Unmarshal(cols[i], dst); err != nil {
			return models.Folder{}, fmt.Errorf("folder row column %d: %w", i, err)
		}
	}
	return f, nil
}

// Package index provides the SQLite-backed persistence for the content
// tracker's fingerprint table, so a daemon restart does not treat every
// vault file as freshly changed before reconciliation completes.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mikaelwills/spacenotes/internal/tracker"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fingerprints (
	key        TEXT PRIMARY KEY,
	digest     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB holding persisted fingerprints.
type DB struct {
	conn *sql.DB
}

// Verify *DB satisfies tracker.Store at compile time.
var _ tracker.Store = (*DB)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Put stores or replaces the digest for key.
func (db *DB) Put(key, digest string) error {
	_, err := db.conn.Exec(`
		INSERT INTO fingerprints (key, digest, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			digest     = excluded.digest,
			updated_at = excluded.updated_at
	`, key, digest)
	if err != nil {
		return fmt.Errorf("index: put: %w", err)
	}
	return nil
}

// Delete removes the fingerprint for key.
func (db *DB) Delete(key string) error {
	if _, err := db.conn.Exec(`DELETE FROM fingerprints WHERE key = ?`, key); err != nil {
		return fmt.Errorf("index: delete: %w", err)
	}
	return nil
}

// Load returns every persisted fingerprint.
func (db *DB) Load() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT key, digest FROM fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("index: load: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, d string
		if err := rows.Scan(&k, &d); err != nil {
			return nil, err
		}
		out[k] = d
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

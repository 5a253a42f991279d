// Package store archives completed briefs in SQLite. The per-request object
// graph itself is never persisted; only finished briefs land here so the
// web UI and the status command can show history.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS briefs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	generated_at TEXT NOT NULL,
	tickers TEXT NOT NULL DEFAULT '',
	topics TEXT NOT NULL DEFAULT '',
	sections_json TEXT NOT NULL,
	quotes_json TEXT NOT NULL DEFAULT '[]',
	articles_json TEXT NOT NULL DEFAULT '[]',
	warnings_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_briefs_generated_at ON briefs(generated_at);
`

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

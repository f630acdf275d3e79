// Package database keeps the application's state in one SQLite file: a
// single kv table holding the preferences, notification permission, alert log
// and sync watermark as JSON blobs. DB implements BlobStore over that table;
// Memory is the in-process BlobStore used in tests.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// connPragmas run on open, before migrating.
var connPragmas = []struct {
	name, stmt string
}{
	{"journal mode", "PRAGMA journal_mode=WAL"},
	{"busy timeout", "PRAGMA busy_timeout=5000"},
}

// DB is the SQLite-backed BlobStore.
type DB struct {
	conn *sqlx.DB
	path string
}

// Open creates or opens the state database at dbPath and brings its kv
// schema up to date.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state database: %w", err)
	}
	for _, p := range connPragmas {
		if _, err := conn.Exec(p.stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting %s: %w", p.name, err)
		}
	}

	if _, err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating kv schema: %w", err)
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

// Package db persists epoch reports to SQLite and serves the
// operational surfaces built on top of the journal: retention
// sweeps, admin routes, and backups.
package db

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle so journal helpers can hang off it.
type DB struct {
	*sql.DB

	path string
}

// NewDB opens (creating if needed) the SQLite database at path. The
// connection string applies the pragmas to every pooled connection:
// WAL journaling so readers never block the sighting pipeline, a busy
// timeout instead of immediate SQLITE_BUSY, and relaxed sync since a
// lost tail of reports is acceptable after power loss.
//
// The schema is not touched here. Call MigrateUp to bring it current.
func NewDB(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, pragmaParams())
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the filesystem path the database was opened with.
func (d *DB) Path() string { return d.path }

// pragmaParams builds the _pragma query parameters understood by the
// modernc driver. Declared once so tests can assert the set matches
// what a live connection reports.
func pragmaParams() string {
	pragmas := []string{
		"journal_mode(WAL)",
		"busy_timeout(5000)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"foreign_keys(ON)",
	}
	params := url.Values{}
	for _, p := range pragmas {
		params.Add("_pragma", p)
	}
	return params.Encode()
}

// Package sqlite provides a SQLite-backed sample store using the pure Go
// modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"onebreath/internal/infra/persistence/sqldoc"
	"onebreath/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "onebreath.db"

var dialect = sqldoc.Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	Schema: []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS samples (
			chip_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			ts INTEGER NOT NULL,
			due_at INTEGER,
			version INTEGER NOT NULL DEFAULT 1,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS samples_status_due ON samples (status, due_at)`,
		`CREATE TABLE IF NOT EXISTS analyzed (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL DEFAULT '',
			doc TEXT NOT NULL
		)`,
	},
}

// Store is a sqldoc store bound to a SQLite file.
type Store struct {
	*sqldoc.Store
	path string
}

// NewStore opens (creating if needed) the SQLite database at path.
func NewStore(ctx context.Context, path string, clock domain.Clock) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	inner, err := sqldoc.New(ctx, db, dialect, clock)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

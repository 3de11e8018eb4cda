// Package postgres provides a Postgres-backed sample store. Documents live in
// JSONB columns next to the indexed fields the lifecycle monitor queries.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"onebreath/internal/infra/persistence/sqldoc"
	"onebreath/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	// DefaultDSN targets a local development database.
	DefaultDSN = "postgres://localhost/onebreath?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var dialect = sqldoc.Dialect{
	Name:        "postgres",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS samples (
			chip_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			ts BIGINT NOT NULL,
			due_at BIGINT,
			version BIGINT NOT NULL DEFAULT 1,
			doc JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS samples_status_due ON samples (status, due_at)`,
		`CREATE TABLE IF NOT EXISTS analyzed (
			id BIGSERIAL PRIMARY KEY,
			ts TEXT NOT NULL DEFAULT '',
			doc JSONB NOT NULL
		)`,
	},
}

// Store is a sqldoc store bound to Postgres.
type Store struct {
	*sqldoc.Store
}

// NewStore opens a Postgres-backed store using dsn (falls back to DefaultDSN),
// verifies connectivity, and ensures the schema exists.
func NewStore(ctx context.Context, dsn string, clock domain.Clock) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.Wrap(domain.KindUpstreamUnavailable, "ping postgres", err)
	}
	inner, err := sqldoc.New(ctx, db, dialect, clock)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sql.Open hook for tests and returns a restore func.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

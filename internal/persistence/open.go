// Package persistence selects and opens the configured sample store driver.
package persistence

import (
	"context"
	"fmt"

	"onebreath/internal/config"
	"onebreath/internal/infra/persistence/memory"
	"onebreath/internal/infra/persistence/mongo"
	"onebreath/internal/infra/persistence/postgres"
	"onebreath/internal/infra/persistence/sqlite"
	"onebreath/pkg/domain"
)

// Driver names accepted in store.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// Open connects to the store selected by cfg.Driver. Connection attempts are
// bounded by cfg.Timeout.
func Open(ctx context.Context, cfg config.StoreConfig, clock domain.Clock) (domain.Store, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	switch cfg.Driver {
	case DriverMemory:
		return memory.NewStore(clock), nil
	case DriverSQLite, "":
		return sqlite.NewStore(ctx, cfg.SQLitePath, clock)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN, clock)
	case DriverMongo:
		return mongo.NewStore(ctx, mongo.Config{
			URI:                cfg.MongoURI,
			Database:           cfg.Database,
			SamplesCollection:  cfg.SamplesCollection,
			AnalyzedCollection: cfg.AnalyzedCollection,
			Timeout:            cfg.Timeout,
		}, clock)
	default:
		return nil, fmt.Errorf("unknown store driver %s", cfg.Driver)
	}
}

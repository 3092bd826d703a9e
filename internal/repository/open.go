package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/asset-delivery-engine/internal/config"
)

// OpenStore opens the store selected by STORE_DRIVER.
func OpenStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		return NewMemoryStore(), nil
	case config.StoreDriverSQLite:
		store, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreDriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := EnsurePostgresSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

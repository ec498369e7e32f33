package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaidyasetu/vaidyasetu/internal/config"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/db"
	"github.com/vaidyasetu/vaidyasetu/internal/platform/kv"
	"github.com/vaidyasetu/vaidyasetu/migrations"
)

// backend is the kv store selected by STORE_DRIVER plus whatever it needs to
// be health-checked and closed.
type backend struct {
	driver string
	store  kv.Store
	pinger db.Pinger
	pool   *pgxpool.Pool
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		s, err := kv.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{driver: cfg.StoreDriver, store: s, pinger: s}, nil

	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate kv store: %w", err)
		}
		return &backend{driver: cfg.StoreDriver, store: kv.NewPostgresStore(pool), pinger: pool, pool: pool}, nil

	default:
		return &backend{driver: config.StoreMemory, store: kv.NewMemoryStore()}, nil
	}
}

func (b *backend) Close() error {
	err := b.store.Close()
	if b.pool != nil {
		b.pool.Close()
	}
	return err
}

package postgres

import (
	"context"
	"fmt"

	"perp_bot/internal/history"
	"perp_bot/internal/modules/config"
	"perp_bot/pkg/db"
	"perp_bot/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the trade-history store. With a DSN configured the store
// is Postgres-backed and migrated on start; without one the engine runs on
// the in-memory store and the journal file is the only durable sink.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config) (history.Store, error) {
				if cfg.DB == "" {
					logger.Info("postgres: no DSN configured, using in-memory history store")
					return history.NewMemory(), nil
				}

				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					return nil, err
				}

				store := history.NewPG(db.NewPgTxManager(poolMaster))
				if err := store.Migrate(ctx); err != nil {
					return nil, err
				}
				return store, nil
			},
		),
	)
}

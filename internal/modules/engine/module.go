package engine

import (
	"context"

	"perp_bot/internal/engine/executor"
	"perp_bot/internal/engine/ledger"
	"perp_bot/internal/engine/manager"
	"perp_bot/internal/engine/milestone"
	"perp_bot/internal/engine/physical"
	"perp_bot/internal/engine/table"
	"perp_bot/internal/exchange"
	"perp_bot/internal/history"
	"perp_bot/internal/journal"
	"perp_bot/internal/models"
	"perp_bot/internal/modules/config"
	metricssvc "perp_bot/internal/modules/metrics/service"

	"go.uber.org/fx"
)

// Module assembles the position & capital engine: ledger, per-side tables,
// physical cache, milestone tree, journals, exchange adapter, executor and
// the orchestrating manager.
func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			ledger.New,
			physical.NewCache,
			milestone.NewTree,

			func() map[models.Side]*table.Table {
				tables := make(map[models.Side]*table.Table, 2)
				for _, side := range models.Sides() {
					tables[side] = table.New(side)
				}
				return tables
			},

			func(lc fx.Lifecycle, cfg *config.Config) (*journal.Journal, error) {
				j, err := journal.New(cfg.Journal.TerminalPath)
				if err != nil {
					return nil, err
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error { return j.Close() },
				})
				return j, nil
			},
			func(cfg *config.Config) *journal.SnapshotWriter {
				return journal.NewSnapshotWriter(cfg.Journal.SnapshotPath, cfg.Journal.SnapshotMaxLines)
			},

			func(cfg *config.Config) *exchange.Client {
				c := exchange.NewClient(cfg.Exchange.Testnet)
				c.SetCreds(cfg.Exchange.APIKey, cfg.Exchange.APISecret)
				return c
			},
			func(cfg *config.Config, client *exchange.Client) exchange.Adapter {
				if cfg.Exchange.Live {
					return client
				}
				return exchange.NewSim(cfg.Balances.Long + cfg.Balances.Short)
			},

			func(
				cfg *config.Config,
				adapter exchange.Adapter,
				led *ledger.Ledger,
				tables map[models.Side]*table.Table,
				cache *physical.Cache,
				jrnl *journal.Journal,
				store history.Store,
			) *executor.Executor {
				return executor.New(executor.Options{
					Symbol:              cfg.Exchange.Symbol,
					Account:             cfg.Exchange.Account,
					Coin:                cfg.Exchange.Coin,
					Live:                cfg.Exchange.Live,
					Leverage:            cfg.Session.Leverage,
					QtyStep:             cfg.Exchange.QtyStep,
					MinQty:              cfg.Exchange.MinQty,
					CommissionRate:      cfg.Session.CommissionRate,
					ReinvestFraction:    cfg.Session.ReinvestPct / 100,
					ReconcileAttempts:   cfg.Session.ReconcileAttempts,
					ReconcileDelay:      cfg.Session.ReconcileDelay,
					ResyncDelay:         cfg.Session.ResyncDelay,
					TransferRetries:     cfg.Session.TransferRetries,
					TransferFromAccount: cfg.Exchange.TransferFromAccount,
					TransferToAccount:   cfg.Exchange.TransferToAccount,
				}, adapter, led, tables, cache, jrnl, store)
			},

			func(
				cfg *config.Config,
				led *ledger.Ledger,
				tables map[models.Side]*table.Table,
				cache *physical.Cache,
				exec *executor.Executor,
				tree *milestone.Tree,
				adapter exchange.Adapter,
				metrics *metricssvc.Metrics,
				snapshot *journal.SnapshotWriter,
			) *manager.Manager {
				return manager.New(manager.Options{
					Mode:                    models.TradingMode(cfg.Session.TradingMode),
					BaseSizeUSDT:            cfg.Session.BaseSizeUSDT,
					MaxSlots:                cfg.Session.MaxSlots,
					Leverage:                cfg.Session.Leverage,
					StopLossPct:             cfg.Session.StopLossPct,
					TrailActivationPct:      cfg.Session.TrailActivationPct,
					TrailDistancePct:        cfg.Session.TrailDistancePct,
					SessionStopLossROIPct:   cfg.Session.SessionStopLossROIPct,
					SessionTakeProfitROIPct: cfg.Session.SessionTakeProfitROIPct,
					Live:                    cfg.Exchange.Live,
					PreOpenReconcile:        cfg.Session.PreOpenReconcile,
					SizeTolerance:           cfg.Session.SizeTolerance,
					BalanceToleranceUSDT:    cfg.Session.BalanceToleranceUSDT,
				}, led, tables, cache, exec, tree, adapter, metrics, snapshot)
			},
		),
	)
}

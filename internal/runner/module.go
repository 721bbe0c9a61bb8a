package runner

import (
	"context"

	"perp_bot/internal/models"
	"perp_bot/internal/modules/config"
	"perp_bot/internal/notify"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func() SignalSource { return Hold{} },
			func(cfg *config.Config) TrendEvaluator {
				return FixedTrend{Tendency: models.TradingMode(cfg.Session.TradingMode)}
			},
			func(events chan models.Intervention) <-chan models.Intervention {
				return events
			},
			New, // *Runner
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			r *Runner,
			tg *notify.Telegram,
			ctx context.Context,
		) {
			if tg != nil {
				tg.StatusFn = r.Status
			}
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					return r.Start(ctx)
				},
				OnStop: func(_ context.Context) error {
					r.Stop()
					return nil
				},
			})
		}),
	)
}

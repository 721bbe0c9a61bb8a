package notify

import (
	"context"

	"perp_bot/internal/models"
	"perp_bot/internal/modules/config"
	"perp_bot/pkg/logger"

	"go.uber.org/fx"
)

// Module provides the intervention channel and the operator notifier.
// Without a telegram token the engine runs headless on the stdout notifier;
// interventions then only come from milestones.
func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func() chan models.Intervention {
				return make(chan models.Intervention, 16)
			},
			func(cfg *config.Config, events chan models.Intervention) (Notifier, *Telegram, error) {
				if cfg.Telegram.Token == "" {
					logger.Info("notify: no telegram token, using stdout notifier")
					return NewStdout(), nil, nil
				}
				tg, err := NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, events)
				if err != nil {
					return nil, nil, err
				}
				return tg, tg, nil
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, tg *Telegram, ctx context.Context) {
			if tg == nil {
				return
			}
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					return tg.Start(ctx)
				},
			})
		}),
	)
}

package metrics

import (
	"go.uber.org/fx"

	"perp_bot/internal/modules/metrics/service"
)

func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(
			service.New,
		),
	)
}

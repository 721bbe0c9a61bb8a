package main

import (
	"context"
	"log"

	"perp_bot/internal/modules/config"
	"perp_bot/internal/modules/engine"
	"perp_bot/internal/modules/health"
	"perp_bot/internal/modules/metrics"
	"perp_bot/internal/modules/postgres"
	"perp_bot/internal/notify"
	"perp_bot/internal/runner"
	"perp_bot/pkg/logger"
	"perp_bot/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	logger.SetServiceName("perp_bot")
	tracing.SetServiceName("perp_bot")
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(),
		postgres.Module(),
		metrics.Module(),
		health.Module(),
		engine.Module(),
		notify.Module(),
		runner.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			if cfg.Jaeger.Host == "" {
				return
			}
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.Jaeger.Host,
				Port: cfg.Jaeger.Port,
			})
			if err != nil {
				logger.Error("tracing init: %v", err)
				return
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closeTracer()
					return nil
				},
			})
		}),
	)
	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
}

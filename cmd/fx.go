package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/webitel/cellmesh/config"
	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/dbgateway"
	"github.com/webitel/cellmesh/internal/handlers"
	"github.com/webitel/cellmesh/internal/periodic"
	"github.com/webitel/cellmesh/internal/router"
	"github.com/webitel/cellmesh/internal/scheduler"
	"github.com/webitel/cellmesh/internal/transport/amqp"
)

// NewApp wires every component module against the single decoded *config.Config,
// mirroring the teacher's NewApp shape (cmd/fx.go) but swapping the
// postgres/gRPC stack for the cell-mesh one: dbgateway, cellstate, router,
// handlers, scheduler and periodic, all fed their own Config value derived
// from cfg by one of the ToXConfig conversion methods.
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			newLogger,
			(*config.Config).ToCellstateConfig,
			(*config.Config).ToRouterConfig,
			(*config.Config).ToSchedulerConfig,
			(*config.Config).ToHealConfig,
			(*config.Config).ToPeriodicConfig,
			(*config.Config).ToPoolConfig,
			(*config.Config).ToAMQPConfig,
		),
		dbgateway.Module,
		cellstate.Module,
		amqp.Module,
		router.Module,
		handlers.Module,
		scheduler.Module,
		periodic.Module,
	)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

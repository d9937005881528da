package dbgateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/cellmesh/internal/dbgateway/pool"
	"github.com/webitel/cellmesh/internal/handlers"
	"github.com/webitel/cellmesh/internal/periodic"
	"github.com/webitel/cellmesh/internal/scheduler"
	"go.uber.org/fx"
)

var Module = fx.Module("dbgateway",
	fx.Provide(
		func(cfg pool.Config) (*pool.Pool, error) {
			return pool.Open(cfg)
		},
		New,
		fx.Annotate(
			func(g *Gateway) handlers.DB { return g },
			fx.As(new(handlers.DB)),
		),
		fx.Annotate(
			func(g *Gateway) scheduler.DB { return g },
			fx.As(new(scheduler.DB)),
		),
		fx.Annotate(
			func(g *Gateway) periodic.DB { return g },
			fx.As(new(periodic.DB)),
		),
		func(p *pool.Pool, logger *slog.Logger) *SchemaMonitor {
			return NewSchemaMonitor(p, 5*time.Second, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, p *pool.Pool, mon *SchemaMonitor) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				mon.Start(ctx)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				mon.Stop()
				return p.Close()
			},
		})
	}),
)

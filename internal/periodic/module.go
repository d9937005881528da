package periodic

import (
	"context"
	"log/slog"

	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/router"
	"go.uber.org/fx"
)

var Module = fx.Module("periodic",
	fx.Provide(
		func(state *cellstate.Manager, db DB, r *router.Router, cfg HealConfig, logger *slog.Logger) *Healer {
			return NewHealer(state, db, r, cfg, logger)
		},
		func(state *cellstate.Manager, healer *Healer, r *router.Router, cfg Config, logger *slog.Logger) *Loop {
			return NewLoop(state, healer, r, cfg, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, l *Loop) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				l.Start(ctx)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				l.Stop()
				return nil
			},
		})
	}),
)

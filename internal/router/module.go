package router

import (
	"context"
	"log/slog"

	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/transport"
	"go.uber.org/fx"
)

// NewFromState builds a Router for the cell state's own identity, so callers
// wiring the fx graph never have to thread selfName through separately.
func NewFromState(state *cellstate.Manager, bus transport.Bus, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Router {
	return New(state.GetMyInfo().Name, state, bus, dispatcher, cfg, logger)
}

var Module = fx.Module("router",
	fx.Provide(
		NewFromState,
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Router, logger *slog.Logger) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return r.Start(ctx)
			},
		})
	}),
)

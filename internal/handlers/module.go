package handlers

import (
	"context"
	"log/slog"

	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/model"
	"github.com/webitel/cellmesh/internal/router"
	"go.uber.org/fx"
)

// noopComputeAPI is used when no ComputeAPI implementation is wired in
// (every example in this module's scope stops at the DB Gateway boundary).
// It satisfies the ComputeAPI contract so run_compute_api_method behaves
// predictably (it logs a warning and returns a nil result with no error)
// instead of panicking on a nil call.
type noopComputeAPI struct{ logger *slog.Logger }

func (n noopComputeAPI) Invoke(_ context.Context, _ model.RequestContext, _ *model.Instance, methodName string, _ []any, _ map[string]any) (any, error) {
	n.logger.Warn("handlers: compute API method invoked with no ComputeAPI wired", "method", methodName)
	return nil, nil
}

var Module = fx.Module("handlers",
	fx.Provide(
		func(state *cellstate.Manager, db DB, scheduler Scheduler, r *router.Router, logger *slog.Logger) *Registry {
			return New(state, db, scheduler, noopComputeAPI{logger: logger}, r, logger)
		},
		fx.Annotate(
			func(reg *Registry) router.Dispatcher { return reg },
			fx.As(new(router.Dispatcher)),
		),
	),
)

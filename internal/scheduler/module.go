package scheduler

import (
	"context"
	"log/slog"

	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/model"
	"github.com/webitel/cellmesh/internal/handlers"
	"github.com/webitel/cellmesh/internal/router"
	"go.uber.org/fx"
)

// noopHostScheduler is used when no host-level scheduler RPC client is
// wired in; placing an instance on a physical host is outside this
// module's scope (spec.md section 1, "the host-level scheduler ... is out
// of scope").
type noopHostScheduler struct{ logger *slog.Logger }

func (n noopHostScheduler) RunInstance(_ context.Context, _ model.RequestContext, _ map[string]any) error {
	n.logger.Debug("scheduler: host scheduler RPC is a no-op stub")
	return nil
}

var Module = fx.Module("scheduler",
	fx.Provide(
		func(state *cellstate.Manager, db DB, r *router.Router, cfg Config, logger *slog.Logger) *Scheduler {
			return New(state, db, r, noopHostScheduler{logger: logger}, cfg, logger)
		},
		fx.Annotate(
			func(s *Scheduler) handlers.Scheduler { return s },
			fx.As(new(handlers.Scheduler)),
		),
	),
)

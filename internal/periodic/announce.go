package periodic

import (
	"context"
	"log/slog"

	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// AnnounceUpward sends this cell's aggregate capabilities and capacities to
// every configured parent, the Go equivalent of the original's
// tell_parents_our_capabilities/tell_parents_our_capacities pair
// (nova/cells/manager.py, run once on startup and again every
// _update_our_parents tick for leaf cells).
func AnnounceUpward(ctx context.Context, state *cellstate.Manager, forwarder Forwarder, logger *slog.Logger) {
	me := state.GetMyInfo()
	parents := state.GetParentCells()
	if len(parents) == 0 {
		return
	}
	caps := state.AggregateCapabilities()
	capacs := state.AggregateCapacities()
	for _, parent := range parents {
		target := cellpath.Path{me.Name, parent.Name}
		sendAnnounce(ctx, forwarder, target, "update_capabilities", map[string]any{"cell_name": me.Name, "capabilities": caps}, logger)
		sendAnnounce(ctx, forwarder, target, "update_capacities", map[string]any{"cell_name": me.Name, "capacities": capacs}, logger)
	}
}

func sendAnnounce(ctx context.Context, forwarder Forwarder, target cellpath.Path, method string, kwargs map[string]any, logger *slog.Logger) {
	env := forwarder.CreateTargetedMessage(model.RequestContext{}, method, kwargs, model.DirectionUp, target, false, false)
	if _, err := forwarder.SendTargeted(ctx, env); err != nil {
		logger.Warn("periodic: announce upward failed", "method", method, "to", target.String(), "err", err)
	}
}

// AskChildrenForState asks every child cell to (re-)announce its
// capabilities/capacities, the Go equivalent of
// _ask_children_for_capabilities/_ask_children_for_capacities, run once at
// startup so this cell doesn't have to wait for children's own periodic
// announce tick.
func AskChildrenForState(ctx context.Context, state *cellstate.Manager, forwarder Forwarder, logger *slog.Logger) {
	me := state.GetMyInfo()
	for _, child := range state.GetChildCells() {
		target := cellpath.Path{me.Name, child.Name}
		env := forwarder.CreateTargetedMessage(model.RequestContext{}, "announce_capabilities", nil, model.DirectionDown, target, false, false)
		if _, err := forwarder.SendTargeted(ctx, env); err != nil {
			logger.Warn("periodic: ask child for capabilities failed", "child", child.Name, "err", err)
		}
		env = forwarder.CreateTargetedMessage(model.RequestContext{}, "announce_capacities", nil, model.DirectionDown, target, false, false)
		if _, err := forwarder.SendTargeted(ctx, env); err != nil {
			logger.Warn("periodic: ask child for capacities failed", "child", child.Name, "err", err)
		}
	}
}

package handlers

import (
	"context"

	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
)

type cellCapabilitiesArgs struct {
	CellName     string              `mapstructure:"cell_name"`
	Capabilities model.Capabilities  `mapstructure:"capabilities"`
}

type cellCapacitiesArgs struct {
	CellName   string            `mapstructure:"cell_name"`
	Capacities model.Capacities  `mapstructure:"capacities"`
}

// updateCapabilities merges a child's announced capabilities into the
// state manager, then re-announces our own aggregate upward — grounded on
// the original's update_capabilities calling tell_parents_our_capabilities
// before returning (test_cells_messaging.py TestTargetedMethods).
func (reg *Registry) updateCapabilities(ctx context.Context, _ *model.Envelope, args *cellCapabilitiesArgs) (any, error) {
	reg.state.UpdateCellCapabilities(args.CellName, args.Capabilities)
	reg.announceUpward(ctx, model.RequestContext{}, announceKindCapabilities)
	return nil, nil
}

func (reg *Registry) updateCapacities(ctx context.Context, _ *model.Envelope, args *cellCapacitiesArgs) (any, error) {
	reg.state.UpdateCellCapacities(args.CellName, args.Capacities)
	reg.announceUpward(ctx, model.RequestContext{}, announceKindCapacities)
	return nil, nil
}

// announceCapabilities / announceCapacities are the wire-triggerable form of
// "tell our parents what we've got" — used as a direct RPC (a parent
// asking a newly-discovered child to announce immediately).
// updateCapabilities/updateCapacities call the same announceUpward once
// they've absorbed an update.
func (reg *Registry) announceCapabilities(ctx context.Context, env *model.Envelope, _ *struct{}) (any, error) {
	reg.announceUpward(ctx, env.Ctxt, announceKindCapabilities)
	return nil, nil
}

func (reg *Registry) announceCapacities(ctx context.Context, env *model.Envelope, _ *struct{}) (any, error) {
	reg.announceUpward(ctx, env.Ctxt, announceKindCapacities)
	return nil, nil
}

type announceKind int

const (
	announceKindCapabilities announceKind = iota
	announceKindCapacities
)

// announceUpward sends this cell's merged self+descendant capabilities (or
// capacities) to every immediate parent as an update_capabilities /
// update_capacities targeted message. A leaf with no parents is a no-op.
func (reg *Registry) announceUpward(ctx context.Context, ctxt model.RequestContext, kind announceKind) {
	me := reg.state.GetMyInfo()
	for _, parent := range reg.state.GetParentCells() {
		target := cellpath.Path{me.Name, parent.Name}
		var method string
		var kwargs map[string]any
		switch kind {
		case announceKindCapabilities:
			method = "update_capabilities"
			kwargs = map[string]any{"cell_name": me.Name, "capabilities": reg.state.AggregateCapabilities()}
		case announceKindCapacities:
			method = "update_capacities"
			kwargs = map[string]any{"cell_name": me.Name, "capacities": reg.state.AggregateCapacities()}
		}
		env := reg.forwarder.CreateTargetedMessage(ctxt, method, kwargs, model.DirectionUp, target, false, false)
		if _, err := reg.forwarder.SendTargeted(ctx, env); err != nil {
			reg.logger.Warn("handlers: announce upward failed", "method", method, "to", parent.Name, "err", err)
		}
	}
}

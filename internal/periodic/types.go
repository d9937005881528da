// Package periodic is the Periodic Loops component (C6): the background
// work a cell does without being asked — announcing its aggregate
// capabilities/capacities upward, healing parent cells' view of instances
// that changed since the last sync, and dropping stale child state.
// Grounded on the teacher's registry.Hub.runEvictor ticker-loop shape
// (internal/domain/registry/hub.go), generalized from "evict idle user
// cells on a ticker" to "run N self-gated periodic tasks on a shared tick",
// the same structure original_source's nova/cells/manager.py uses for its
// own @periodic_task methods sharing one scheduler tick.
package periodic

import (
	"context"

	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// DB is the read surface the heal loop needs: the same instance listing
// handlers.DB exposes, narrowed to what this package actually calls.
type DB interface {
	InstanceGetAll(ctx context.Context, projectID string, updatedSince *string, includeDeleted bool) ([]*model.Instance, error)
}

// Forwarder is declared locally (mirroring handlers.Forwarder and
// scheduler.Forwarder) so periodic never imports either of those packages;
// *router.Router satisfies it structurally.
type Forwarder interface {
	CreateTargetedMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, target cellpath.Path, needResponse, fanout bool) *model.Envelope
	CreateBroadcastMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, runLocally, needResponse bool) *model.Envelope
	SendTargeted(ctx context.Context, env *model.Envelope) (*model.Response, error)
	SendBroadcast(ctx context.Context, env *model.Envelope) ([]*model.Response, error)
}

// Package scheduler implements the cells Scheduler (C5): a filter/weigh
// pipeline over candidate cells with retry, grounded on
// other_examples' repomedic engine scheduler for the filter -> weigh -> pick
// loop shape and on the nomad scheduler util's stable-sort-by-weight idiom.
package scheduler

import (
	"context"

	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// FilterResult is what a Filter's FilterCells returns: either a hard
// short-circuit to one target cell (DirectRoute), or a set of candidate
// names to drop from further consideration. Both are optional; a filter
// that does neither leaves the candidate set untouched.
type FilterResult struct {
	DirectRoute *cellpath.Path
	Drop        []string
}

// Filter narrows (or short-circuits) the candidate set before weighing.
type Filter interface {
	FilterCells(cells []*model.CellRecord, properties map[string]any) FilterResult
}

// Weigher assigns a numeric score to one candidate; scores from every
// configured weigher are summed per cell.
type Weigher interface {
	Weigh(cell *model.CellRecord, properties map[string]any) float64
}

// WeighedCell is one candidate's aggregate score, produced by runWeighers
// and consumed best-to-worst by runOnce.
type WeighedCell struct {
	Cell   *model.CellRecord
	Weight float64
}

// DB is the subset of the DB Gateway the scheduler needs: creating the
// instance row a selected cell is responsible for, and marking an instance
// into ERROR state when scheduling fails everywhere.
type DB interface {
	InstanceCreate(ctx context.Context, uuid string, properties map[string]any) error
	InstanceUpdate(ctx context.Context, uuid string, updates map[string]any) (*model.Instance, error)
}

// Forwarder is the subset of *router.Router the scheduler needs: forwarding
// schedule_run_instance to a chosen child, and broadcasting
// instance_update_at_top once a new instance's DB row has been created
// locally. Declared locally, mirroring router.Dispatcher and
// handlers.Forwarder, to avoid an import cycle.
type Forwarder interface {
	CreateTargetedMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, target cellpath.Path, needResponse, fanout bool) *model.Envelope
	CreateBroadcastMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, runLocally, needResponse bool) *model.Envelope
	SendTargeted(ctx context.Context, env *model.Envelope) (*model.Response, error)
	SendBroadcast(ctx context.Context, env *model.Envelope) ([]*model.Response, error)
}

// HostScheduler is the out-of-tree, per-host placement step a selected cell
// delegates to once its instance DB rows exist (spec.md section 4.5, step
// 5: "delegate to the host scheduler via RPC"). Its concrete implementation
// is outside this module's scope.
type HostScheduler interface {
	RunInstance(ctx context.Context, ctxt model.RequestContext, hostSchedKwargs map[string]any) error
}

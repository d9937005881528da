package periodic

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// HealConfig holds the `cells.instance_update_*` knobs (SPEC_FULL.md
// section 6), unchanged in meaning from nova/cells/manager.py's
// cell_manager_opts.
type HealConfig struct {
	UpdateInterval      time.Duration
	UpdatedAtThreshold  time.Duration
	NumInstancesPerTick int
}

func DefaultHealConfig() HealConfig {
	return HealConfig{
		UpdateInterval:      60 * time.Second,
		UpdatedAtThreshold:  time.Hour,
		NumInstancesPerTick: 1,
	}
}

// Healer pushes instance_update_at_top/instance_destroy_at_top for a few
// instances per tick toward parent cells, so a parent cell's view heals
// even if the real-time sync broadcast for some instance was lost. It
// exhausts one shuffled batch fetched from the DB before asking for a fresh
// one, matching the original's instances_to_heal iterator
// (_heal_instances/_next_instance).
type Healer struct {
	state     *cellstate.Manager
	db        DB
	forwarder Forwarder
	cfg       HealConfig
	logger    *slog.Logger

	lastRun time.Time
	batch   []*model.Instance
	pos     int
}

func NewHealer(state *cellstate.Manager, db DB, forwarder Forwarder, cfg HealConfig, logger *slog.Logger) *Healer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Healer{state: state, db: db, forwarder: forwarder, cfg: cfg, logger: logger}
}

// Tick runs the self-gated heal pass: a no-op unless UpdateInterval has
// elapsed since the last run, and unless this cell has any parent to heal
// state toward.
func (h *Healer) Tick(ctx context.Context, now time.Time) {
	if h.cfg.UpdateInterval == 0 {
		return
	}
	if len(h.state.GetParentCells()) == 0 {
		return
	}
	if !h.lastRun.IsZero() && now.Before(h.lastRun.Add(h.cfg.UpdateInterval)) {
		return
	}
	h.lastRun = now

	refreshedOnce := false
	for i := 0; i < h.cfg.NumInstancesPerTick; i++ {
		inst, ok := h.nextInstance(ctx, &refreshedOnce)
		if !ok {
			return
		}
		h.syncOne(ctx, inst)
	}
}

func (h *Healer) nextInstance(ctx context.Context, refreshedOnce *bool) (*model.Instance, bool) {
	if h.pos < len(h.batch) {
		inst := h.batch[h.pos]
		h.pos++
		return inst, true
	}
	if *refreshedOnce {
		return nil, false
	}
	*refreshedOnce = true
	h.refreshBatch(ctx)
	if h.pos < len(h.batch) {
		inst := h.batch[h.pos]
		h.pos++
		return inst, true
	}
	return nil, false
}

func (h *Healer) refreshBatch(ctx context.Context) {
	var since *string
	if h.cfg.UpdatedAtThreshold > 0 {
		s := time.Now().Add(-h.cfg.UpdatedAtThreshold).UTC().Format(time.RFC3339)
		since = &s
	}
	instances, err := h.db.InstanceGetAll(ctx, "", since, true)
	if err != nil {
		h.logger.Warn("periodic: refresh instances-to-heal failed", "err", err)
		h.batch, h.pos = nil, 0
		return
	}
	rand.Shuffle(len(instances), func(i, j int) { instances[i], instances[j] = instances[j], instances[i] })
	h.batch, h.pos = instances, 0
}

func (h *Healer) syncOne(ctx context.Context, inst *model.Instance) {
	ctxt := model.RequestContext{}
	if inst.Deleted {
		env := h.forwarder.CreateBroadcastMessage(ctxt, "instance_destroy_at_top",
			map[string]any{"instance": map[string]any{"uuid": inst.UUID}}, model.DirectionUp, false, false)
		if _, err := h.forwarder.SendBroadcast(ctx, env); err != nil {
			h.logger.Warn("periodic: heal destroy broadcast failed", "uuid", inst.UUID, "err", err)
		}
		return
	}
	env := h.forwarder.CreateBroadcastMessage(ctxt, "instance_update_at_top",
		map[string]any{"instance": instanceToMap(inst)}, model.DirectionUp, false, false)
	if _, err := h.forwarder.SendBroadcast(ctx, env); err != nil {
		h.logger.Warn("periodic: heal update broadcast failed", "uuid", inst.UUID, "err", err)
	}
}

func instanceToMap(inst *model.Instance) map[string]any {
	return map[string]any{
		"uuid":            inst.UUID,
		"vm_state":        inst.VMState,
		"task_state":      inst.TaskState,
		"deleted":         inst.Deleted,
		"hostname":        inst.Hostname,
		"metadata":        inst.Metadata,
		"system_metadata": inst.SystemMetadata,
		"updated_at":      inst.UpdatedAt,
	}
}

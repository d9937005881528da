package handlers

import (
	"context"

	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
)

type instanceUpdateArgs struct {
	Instance map[string]any `mapstructure:"instance"`
}

type instanceUpdateUUIDArgs struct {
	UUID              string   `mapstructure:"uuid"`
	VMState           string   `mapstructure:"vm_state"`
	ExpectedVMState   []string `mapstructure:"expected_vm_state"`
	ExpectedTaskState []string `mapstructure:"expected_task_state"`
}

// instanceUpdate is the targeted counterpart the scheduler sends upward
// when it needs to stamp a single instance's vm_state from a non-top cell.
// It persists directly once it reaches the top; an intermediate cell that
// receives it (having itself been targeted as the next hop toward its own
// parent) forwards it one hop further rather than writing locally.
//
// When the caller supplies expected_vm_state/expected_task_state (an
// optimistic-concurrency guard against clobbering a state another writer
// already moved past), the pre-update row is compared
// against them inside the same transaction as the write; a mismatch raises
// cellerr.ErrUnexpectedVMState/ErrUnexpectedTaskState instead of applying
// the update.
func (reg *Registry) instanceUpdate(ctx context.Context, env *model.Envelope, args *instanceUpdateUUIDArgs) (any, error) {
	if args.UUID == "" {
		return nil, nil
	}
	if reg.state.IsTop() {
		if len(args.ExpectedVMState) == 0 && len(args.ExpectedTaskState) == 0 {
			_, err := reg.db.InstanceUpdate(ctx, args.UUID, map[string]any{"vm_state": args.VMState})
			return nil, err
		}
		_, _, err := reg.db.InstanceUpdateAndGetOriginal(ctx, args.UUID,
			map[string]any{"vm_state": args.VMState}, args.ExpectedVMState, args.ExpectedTaskState)
		return nil, err
	}
	me := reg.state.GetMyInfo()
	for _, parent := range reg.state.GetParentCells() {
		target := cellpath.Path{me.Name, parent.Name}
		fwd := reg.forwarder.CreateTargetedMessage(env.Ctxt, "instance_update", env.MethodKwargs, model.DirectionUp, target, false, false)
		if _, err := reg.forwarder.SendTargeted(ctx, fwd); err != nil {
			reg.logger.Warn("handlers: forward instance_update upward failed", "to", parent.Name, "err", err)
		}
	}
	return nil, nil
}

// instanceUpdateAtTop persists an instance's synchronizable attributes at
// the top-level cell only (spec.md section 4.6; original's _at_the_top
// gate, test_cells_messaging.py TestBroadcastMethods.test_at_the_top).
// Every cell the broadcast is forwarded to runs the handler too (the router
// sets RunLocally on each forwarded hop) but no-ops unless it is the top.
func (reg *Registry) instanceUpdateAtTop(ctx context.Context, _ *model.Envelope, args *instanceUpdateArgs) (any, error) {
	if !reg.state.IsTop() {
		return nil, nil
	}
	uuid, _ := args.Instance["uuid"].(string)
	if uuid == "" {
		return nil, nil
	}
	if _, seen := reg.destroyed.Get(uuid); seen {
		return nil, nil
	}
	updates := make(map[string]any, len(args.Instance))
	for _, attr := range model.SyncAttributes {
		if v, ok := args.Instance[attr]; ok {
			updates[attr] = v
		}
	}
	if infoCache, ok := args.Instance["info_cache"].(map[string]any); ok {
		if err := reg.db.InstanceInfoCacheUpdate(ctx, uuid, infoCache); err != nil {
			return nil, err
		}
	}
	_, err := reg.db.InstanceUpdate(ctx, uuid, updates)
	return nil, err
}

type instanceDestroyArgs struct {
	Instance map[string]any `mapstructure:"instance"`
}

// instanceDestroyAtTop is the terminal variant of instance sync: once a
// UUID is known destroyed, repeat deliveries (the bus gives no at-most-once
// guarantee) are silent no-ops instead of a second delete or a
// "not found" error bubbling up (resolves spec.md section 9's open
// question on destroy idempotency).
func (reg *Registry) instanceDestroyAtTop(ctx context.Context, _ *model.Envelope, args *instanceDestroyArgs) (any, error) {
	if !reg.state.IsTop() {
		return nil, nil
	}
	uuid, _ := args.Instance["uuid"].(string)
	if uuid == "" {
		return nil, nil
	}
	if _, seen := reg.destroyed.Get(uuid); seen {
		return nil, nil
	}
	if err := reg.db.InstanceDestroy(ctx, uuid); err != nil {
		return nil, err
	}
	reg.destroyed.Add(uuid, struct{}{})
	return nil, nil
}

type instanceDeleteEverywhereArgs struct {
	Instance   map[string]any `mapstructure:"instance"`
	DeleteType string         `mapstructure:"delete_type"`
}

// instanceDeleteEverywhere runs unconditionally at every cell in the
// reached subtree (no _at_the_top gate), because the API cell issuing it
// doesn't know which cell actually owns the instance.
func (reg *Registry) instanceDeleteEverywhere(ctx context.Context, _ *model.Envelope, args *instanceDeleteEverywhereArgs) (any, error) {
	uuid, _ := args.Instance["uuid"].(string)
	if uuid == "" {
		return nil, nil
	}
	inst, err := reg.db.InstanceGetByUUID(ctx, uuid)
	if err != nil || inst == nil {
		return nil, nil
	}
	return nil, reg.db.InstanceDestroy(ctx, uuid)
}

type instanceFaultArgs struct {
	InstanceFault map[string]any `mapstructure:"instance_fault"`
}

func (reg *Registry) instanceFaultCreateAtTop(ctx context.Context, _ *model.Envelope, args *instanceFaultArgs) (any, error) {
	if !reg.state.IsTop() {
		return nil, nil
	}
	return nil, reg.db.InstanceFaultCreate(ctx, args.InstanceFault)
}

type bwUsageArgs struct {
	BWUpdateInfo map[string]any `mapstructure:"bw_update_info"`
}

func (reg *Registry) bwUsageUpdateAtTop(ctx context.Context, _ *model.Envelope, args *bwUsageArgs) (any, error) {
	if !reg.state.IsTop() {
		return nil, nil
	}
	return nil, reg.db.BWUsageUpdate(ctx, args.BWUpdateInfo)
}

type syncInstancesArgs struct {
	ProjectID     string  `mapstructure:"project_id"`
	UpdatedSince  *string `mapstructure:"updated_since"`
	Deleted       bool    `mapstructure:"deleted"`
}

// syncInstances re-broadcasts instance_update_at_top/instance_destroy_at_top
// for every instance this cell directly owns that matches the filter. It is
// sent with run_locally=true from the API cell so every cell in the tree
// executes its own local slice of the sync.
func (reg *Registry) syncInstances(ctx context.Context, _ *model.Envelope, args *syncInstancesArgs) (any, error) {
	instances, err := reg.db.InstanceGetAll(ctx, args.ProjectID, args.UpdatedSince, args.Deleted)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		reg.syncOneInstance(ctx, inst)
	}
	return nil, nil
}

func (reg *Registry) syncOneInstance(ctx context.Context, inst *model.Instance) {
	ctxt := model.RequestContext{}
	if inst.Deleted {
		env := reg.forwarder.CreateBroadcastMessage(ctxt, "instance_destroy_at_top",
			map[string]any{"instance": map[string]any{"uuid": inst.UUID}}, model.DirectionUp, false, false)
		if _, err := reg.forwarder.SendBroadcast(ctx, env); err != nil {
			reg.logger.Warn("handlers: sync destroy broadcast failed", "uuid", inst.UUID, "err", err)
		}
		return
	}
	env := reg.forwarder.CreateBroadcastMessage(ctxt, "instance_update_at_top",
		map[string]any{"instance": instanceToMap(inst)}, model.DirectionUp, false, false)
	if _, err := reg.forwarder.SendBroadcast(ctx, env); err != nil {
		reg.logger.Warn("handlers: sync update broadcast failed", "uuid", inst.UUID, "err", err)
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

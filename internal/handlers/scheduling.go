package handlers

import (
	"context"

	"github.com/webitel/cellmesh/internal/domain/cellerr"
	"github.com/webitel/cellmesh/internal/domain/model"
)

type scheduleRunInstanceArgs struct {
	FilterProperties map[string]any `mapstructure:"filter_properties"`
	// Remaining keys ride along in the raw kwargs; the scheduler decodes
	// the request-shaped fields itself.
}

// scheduleRunInstance hands the raw request straight to the Scheduler (C5)
// rather than re-decoding it into a narrower struct here — the scheduler
// owns the full host_sched_kwargs shape.
func (reg *Registry) scheduleRunInstance(ctx context.Context, env *model.Envelope, _ *scheduleRunInstanceArgs) (any, error) {
	return reg.scheduler.RunInstance(ctx, env.Ctxt, env.MethodKwargs)
}

type runComputeAPIMethodArgs struct {
	MethodInfo map[string]any `mapstructure:"method_info"`
}

// runComputeAPIMethod resolves the target instance locally and forwards to
// the compute API; an unknown instance broadcasts instance_destroy_at_top
// upward before failing, matching the original's
// test_call_compute_api_method_unknown_instance behavior.
func (reg *Registry) runComputeAPIMethod(ctx context.Context, env *model.Envelope, args *runComputeAPIMethodArgs) (any, error) {
	instanceUUID, _ := args.MethodInfo["instance_uuid"].(string)
	methodName, _ := args.MethodInfo["method"].(string)
	var methodArgs []any
	if raw, ok := args.MethodInfo["method_args"].([]any); ok {
		methodArgs = raw
	}
	var methodKwargs map[string]any
	if raw, ok := args.MethodInfo["method_kwargs"].(map[string]any); ok {
		methodKwargs = raw
	}

	inst, err := reg.db.InstanceGetByUUID(ctx, instanceUUID)
	if err != nil {
		bcast := reg.forwarder.CreateBroadcastMessage(env.Ctxt, "instance_destroy_at_top",
			map[string]any{"instance": map[string]any{"uuid": instanceUUID}}, model.DirectionUp, false, false)
		if _, bErr := reg.forwarder.SendBroadcast(ctx, bcast); bErr != nil {
			reg.logger.Warn("handlers: instance_destroy_at_top broadcast on missing instance failed", "uuid", instanceUUID, "err", bErr)
		}
		return nil, cellerr.ErrInstanceNotFound
	}

	return reg.compute.Invoke(ctx, env.Ctxt, inst, methodName, methodArgs, methodKwargs)
}

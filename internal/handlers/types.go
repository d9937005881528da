// Package handlers is the Handler Registry (C4): the targeted/broadcast
// method dispatch tables a Router's Dispatcher delegates to, generalized
// from the teacher's per-user Bind[T]/MessageHandler pair
// (internal/handler/amqp/bind.go, router.go) into a per-cell-method
// dispatch table keyed by method name instead of by AMQP routing key.
package handlers

import (
	"context"

	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// DB is the subset of the DB Gateway (C1) the handler registry needs.
// Declared here, rather than imported from package dbgateway, so dbgateway
// can depend on model/cellerr without creating an import cycle back to
// handlers.
type DB interface {
	InstanceGetByUUID(ctx context.Context, uuid string) (*model.Instance, error)
	InstanceUpdate(ctx context.Context, uuid string, updates map[string]any) (*model.Instance, error)
	InstanceUpdateAndGetOriginal(ctx context.Context, uuid string, updates map[string]any, expectedVMState, expectedTaskState []string) (original, updated *model.Instance, err error)
	InstanceDestroy(ctx context.Context, uuid string) error
	InstanceMetadataReplace(ctx context.Context, uuid string, metadata map[string]string) error
	InstanceSystemMetadataReplace(ctx context.Context, uuid string, metadata map[string]string) error
	InstanceInfoCacheUpdate(ctx context.Context, uuid string, infoCache map[string]any) error
	InstanceFaultCreate(ctx context.Context, fault map[string]any) error
	BWUsageUpdate(ctx context.Context, update map[string]any) error
	InstanceGetAll(ctx context.Context, projectID string, updatedSince *string, includeDeleted bool) ([]*model.Instance, error)
}

// Scheduler is the subset of the Scheduler (C5) the handler registry
// forwards host-selection requests to.
type Scheduler interface {
	RunInstance(ctx context.Context, ctxt model.RequestContext, hostSchedKwargs map[string]any) (any, error)
}

// ComputeAPI is the out-of-tree compute-side entry point run_compute_api_method
// invokes once it has resolved an instance locally. Its concrete
// implementation is outside this module's scope (spec.md Non-goals); the
// registry only needs somewhere to forward the call.
type ComputeAPI interface {
	Invoke(ctx context.Context, ctxt model.RequestContext, instance *model.Instance, methodName string, methodArgs []any, methodKwargs map[string]any) (any, error)
}

// Forwarder is the subset of *router.Router the registry needs to originate
// new messages of its own (re-announcing capabilities upward, broadcasting
// instance_destroy_at_top on a stale lookup). Declared locally, mirroring
// router.Dispatcher, so this package can import router without router
// importing handlers.
type Forwarder interface {
	CreateTargetedMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, target cellpath.Path, needResponse, fanout bool) *model.Envelope
	CreateBroadcastMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, runLocally, needResponse bool) *model.Envelope
	SendTargeted(ctx context.Context, env *model.Envelope) (*model.Response, error)
	SendBroadcast(ctx context.Context, env *model.Envelope) ([]*model.Response, error)
}

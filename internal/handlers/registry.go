package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/cellerr"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// destroyedCacheSize bounds the LRU used to make instance_destroy_at_top
// terminal: once a UUID has been seen destroyed, a repeat delivery (the bus
// makes no at-most-once guarantee) is a silent no-op rather than a second
// DB round trip or error.
const destroyedCacheSize = 4096

// Registry is the Handler Registry: it implements router.Dispatcher by
// looking a method name up in one of two dispatch tables and decoding
// method_kwargs into that handler's argument type.
type Registry struct {
	mu        sync.RWMutex
	targeted  map[string]TargetedFunc
	broadcast map[string]BroadcastFunc

	state     *cellstate.Manager
	db        DB
	scheduler Scheduler
	compute   ComputeAPI
	forwarder Forwarder
	logger    *slog.Logger

	destroyed *lru.Cache[string, struct{}]
}

func New(state *cellstate.Manager, db DB, scheduler Scheduler, compute ComputeAPI, forwarder Forwarder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	destroyed, err := lru.New[string, struct{}](destroyedCacheSize)
	if err != nil {
		// Only fails for a non-positive size, which destroyedCacheSize never is.
		panic(err)
	}
	reg := &Registry{
		targeted:  make(map[string]TargetedFunc),
		broadcast: make(map[string]BroadcastFunc),
		state:     state,
		db:        db,
		scheduler: scheduler,
		compute:   compute,
		forwarder: forwarder,
		logger:    logger,
		destroyed: destroyed,
	}
	reg.registerDefaults()
	return reg
}

// RegisterTargeted and RegisterBroadcast let callers (tests, or a future
// plugin) extend the dispatch tables beyond the required method set.
func (reg *Registry) RegisterTargeted(method string, fn TargetedFunc) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.targeted[method] = fn
}

func (reg *Registry) RegisterBroadcast(method string, fn BroadcastFunc) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.broadcast[method] = fn
}

func (reg *Registry) registerDefaults() {
	reg.RegisterTargeted("schedule_run_instance", Bind(reg.scheduleRunInstance))
	reg.RegisterTargeted("run_compute_api_method", Bind(reg.runComputeAPIMethod))
	reg.RegisterTargeted("update_capabilities", Bind(reg.updateCapabilities))
	reg.RegisterTargeted("update_capacities", Bind(reg.updateCapacities))
	reg.RegisterTargeted("announce_capabilities", Bind(reg.announceCapabilities))
	reg.RegisterTargeted("announce_capacities", Bind(reg.announceCapacities))
	reg.RegisterTargeted("instance_update", Bind(reg.instanceUpdate))

	reg.RegisterBroadcast("instance_update_at_top", Bind(reg.instanceUpdateAtTop))
	reg.RegisterBroadcast("instance_destroy_at_top", Bind(reg.instanceDestroyAtTop))
	reg.RegisterBroadcast("instance_delete_everywhere", Bind(reg.instanceDeleteEverywhere))
	reg.RegisterBroadcast("instance_fault_create_at_top", Bind(reg.instanceFaultCreateAtTop))
	reg.RegisterBroadcast("bw_usage_update_at_top", Bind(reg.bwUsageUpdateAtTop))
	reg.RegisterBroadcast("sync_instances", Bind(reg.syncInstances))
}

// DispatchTargeted implements router.Dispatcher.
func (reg *Registry) DispatchTargeted(ctx context.Context, env *model.Envelope) (any, error) {
	reg.mu.RLock()
	fn, ok := reg.targeted[env.MethodName]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", env.MethodName, cellerr.ErrMethodNotFound)
	}
	return fn(ctx, env)
}

// DispatchBroadcast implements router.Dispatcher.
func (reg *Registry) DispatchBroadcast(ctx context.Context, env *model.Envelope) (any, error) {
	reg.mu.RLock()
	fn, ok := reg.broadcast[env.MethodName]
	reg.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", env.MethodName, cellerr.ErrMethodNotFound)
	}
	return fn(ctx, env)
}

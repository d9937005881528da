// Package router implements the Message Router (C3): envelope construction,
// next-hop selection, hop/loop-limit enforcement and response collection.
// It is grounded on other_examples' connectivity-router.go for the
// next-hop/dispatch shape and on the teacher's internal/handler/amqp
// bind.go/router.go for the panic-recovery, ack-style dispatch wrapper,
// generalized from "per-user AMQP consumer" to "per-cell message processor".
package router

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/concurrency"
	"github.com/webitel/cellmesh/internal/domain/cellerr"
	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
	"github.com/webitel/cellmesh/internal/transport"
	"golang.org/x/sync/errgroup"
)

// Dispatcher is the Handler Registry's contract, as seen by the router. It
// is declared here (rather than imported from package handlers) so handlers
// can in turn depend on Router for forwarding sub-messages without an
// import cycle.
type Dispatcher interface {
	DispatchTargeted(ctx context.Context, env *model.Envelope) (any, error)
	DispatchBroadcast(ctx context.Context, env *model.Envelope) (any, error)
}

// Config holds the router's tunables, sourced from the `cells.*` knobs in
// SPEC_FULL.md section 6.
type Config struct {
	MaxHopCount int
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{MaxHopCount: 99, CallTimeout: 30 * time.Second}
}

type waiter struct {
	ch chan *model.Response
}

// Router is this process's view of the Message Router. One Router instance
// exists per cell process.
type Router struct {
	selfName string
	hostname string
	cfg      Config

	state      *cellstate.Manager
	bus        transport.Bus
	dispatcher Dispatcher
	logger     *slog.Logger

	mu      sync.Mutex
	waiters map[string]*waiter
}

func New(selfName string, state *cellstate.Manager, bus transport.Bus, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = selfName
	}
	return &Router{
		selfName:   selfName,
		hostname:   hostname,
		cfg:        cfg,
		state:      state,
		bus:        bus,
		dispatcher: dispatcher,
		logger:     logger,
		waiters:    make(map[string]*waiter),
	}
}

// Start subscribes this cell's request and response topics. Must be called
// once before any Process* call can receive inbound traffic.
func (r *Router) Start(ctx context.Context) error {
	for _, kind := range []model.Kind{model.KindTargeted, model.KindBroadcast} {
		topic := transport.RequestTopic(r.selfName, kind)
		if err := r.bus.Subscribe(ctx, topic, r.handleInbound); err != nil {
			return fmt.Errorf("router: subscribe %s: %w", topic, err)
		}
	}
	respTopic := transport.ResponseTopic(r.hostname)
	if err := r.bus.Subscribe(ctx, respTopic, r.handleResponse); err != nil {
		return fmt.Errorf("router: subscribe %s: %w", respTopic, err)
	}
	return nil
}

// ---- factories (spec.md section 4.3) ----

func (r *Router) CreateTargetedMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, target cellpath.Path, needResponse, fanout bool) *model.Envelope {
	env := &model.Envelope{
		ID:           model.NewResponseUUID(),
		Ctxt:         ctxt,
		MethodName:   method,
		MethodKwargs: kwargs,
		Direction:    direction,
		RoutingPath:  cellpath.Path{r.selfName},
		HopCount:     1,
		MaxHopCount:  r.cfg.MaxHopCount,
		Kind:         model.KindTargeted,
		TargetPath:   target,
		Fanout:       fanout,
		NeedResponse: needResponse,
		OriginHost:   r.hostname,
	}
	if needResponse {
		env.ResponseUUID = model.NewResponseUUID()
	}
	return env
}

func (r *Router) CreateBroadcastMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, runLocally, needResponse bool) *model.Envelope {
	env := &model.Envelope{
		ID:           model.NewResponseUUID(),
		Ctxt:         ctxt,
		MethodName:   method,
		MethodKwargs: kwargs,
		Direction:    direction,
		RoutingPath:  cellpath.Path{r.selfName},
		HopCount:     1,
		MaxHopCount:  r.cfg.MaxHopCount,
		Kind:         model.KindBroadcast,
		Fanout:       true,
		RunLocally:   runLocally,
		NeedResponse: needResponse,
		OriginHost:   r.hostname,
	}
	if needResponse {
		env.ResponseUUID = model.NewResponseUUID()
	}
	return env
}

// ---- sending from the originating cell ----

// SendTargeted processes a freshly-created targeted envelope from this cell,
// blocking for a response if env.NeedResponse is set.
func (r *Router) SendTargeted(ctx context.Context, env *model.Envelope) (*model.Response, error) {
	var wait chan *model.Response
	if env.NeedResponse {
		wait = r.registerWaiter(env.ResponseUUID)
		defer r.forgetWaiter(env.ResponseUUID)
	}
	r.routeTargeted(ctx, env)
	if !env.NeedResponse {
		return nil, nil
	}
	return r.awaitResponse(ctx, wait)
}

// SendBroadcast processes a freshly-created broadcast envelope from this
// cell, returning the aggregated per-cell response list when
// env.NeedResponse is set. Unlike a targeted call, the top-level send never
// itself waits on a response topic: routeBroadcastLocal already recurses
// through every forwarded hop's own call/response pair and returns the
// fully-gathered result directly.
func (r *Router) SendBroadcast(ctx context.Context, env *model.Envelope) ([]*model.Response, error) {
	results := r.routeBroadcastLocal(ctx, env)
	if !env.NeedResponse {
		return nil, nil
	}
	return results, nil
}

// ---- inbound dispatch ----

func (r *Router) handleInbound(ctx context.Context, env *model.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("router: panic recovered", "err", rec, "stack", string(debug.Stack()))
		}
	}()

	switch env.Kind {
	case model.KindTargeted:
		r.routeTargeted(ctx, env)
	case model.KindBroadcast:
		results := r.routeBroadcastLocal(ctx, env)
		if env.NeedResponse {
			r.replyBroadcast(ctx, env, results)
		}
	default:
		r.logger.Warn("router: unexpected inbound kind on request topic", "kind", env.Kind)
	}
}

func (r *Router) handleResponse(_ context.Context, env *model.Envelope) {
	r.mu.Lock()
	w, ok := r.waiters[env.ResponseUUID]
	r.mu.Unlock()
	if !ok {
		// Late response past our call_timeout, or not ours: discard, per
		// spec.md section 5 cancellation semantics.
		return
	}
	var resp model.Response
	resp.CellName = env.RoutingPath.String()
	resp.Value = env.ResponseValue
	resp.Failure = env.ResponseFailure
	select {
	case w.ch <- &resp:
	default:
	}
}

// ---- targeted routing ----

func (r *Router) routeTargeted(ctx context.Context, env *model.Envelope) {
	if env.HopCount > env.MaxHopCount {
		r.replyTargeted(ctx, env, nil, cellerr.ErrCellMaxHopCountReached)
		return
	}

	prefixLen := env.TargetPath.CommonPrefixLen(env.RoutingPath)
	if prefixLen != len(env.RoutingPath) || env.RoutingPath.Last() != r.selfName {
		r.replyTargeted(ctx, env, nil, cellerr.ErrCellRoutingInconsistency)
		return
	}

	nextName, hasNext := env.TargetPath.NextAfter(prefixLen)
	if !hasNext {
		// Terminus: routing_path already equals target_path.
		value, err := r.dispatcher.DispatchTargeted(ctx, env)
		r.replyTargeted(ctx, env, value, err)
		return
	}

	var next *model.CellRecord
	var ok bool
	if env.Direction == model.DirectionUp {
		next, ok = r.state.GetParentCell(nextName)
	} else {
		next, ok = r.state.GetChildCell(nextName)
	}
	if !ok {
		r.replyTargeted(ctx, env, nil, cellerr.ErrCellRoutingInconsistency)
		return
	}

	fwd := env.Clone()
	fwd.RoutingPath = fwd.RoutingPath.Child(next.Name)
	fwd.HopCount++
	concurrency.Yield()
	topic := transport.RequestTopic(next.Name, model.KindTargeted)
	if err := r.bus.Publish(ctx, topic, fwd); err != nil {
		r.logger.Error("router: publish targeted failed", "err", err, "to", next.Name)
		r.replyTargeted(ctx, env, nil, fmt.Errorf("publish to %s: %w", next.Name, err))
	}
}

func (r *Router) replyTargeted(ctx context.Context, env *model.Envelope, value any, err error) {
	if !env.NeedResponse {
		if err != nil {
			r.logger.Warn("router: fire-and-forget targeted message failed", "method", env.MethodName, "err", err)
		}
		return
	}
	resp := &model.Envelope{
		ID:           model.NewResponseUUID(),
		Kind:         model.KindResponse,
		ResponseUUID: env.ResponseUUID,
		RoutingPath:  env.RoutingPath.Clone(),
		MaxHopCount:  env.MaxHopCount,
		HopCount:     1,
	}
	if err != nil {
		resp.ResponseFailure = model.ToFailure(err)
	} else {
		resp.ResponseValue = value
	}
	topic := transport.ResponseTopic(env.OriginHost)
	if pubErr := r.bus.Publish(ctx, topic, resp); pubErr != nil {
		r.logger.Error("router: publish response failed", "err", pubErr)
	}
}

// ---- broadcast routing ----

// routeBroadcastLocal executes steps 1-4 of spec.md section 4.3's broadcast
// algorithm for env as received (or originated) by this cell, and
// recursively gathers every reachable response when env.NeedResponse is
// set, by treating each forwarded hop as its own blocking call/response
// pair (see SPEC_FULL.md section 4.3).
func (r *Router) routeBroadcastLocal(ctx context.Context, env *model.Envelope) []*model.Response {
	var collected []*model.Response

	withinHopBudget := env.HopCount <= env.MaxHopCount

	if env.RunLocally {
		value, err := r.dispatcher.DispatchBroadcast(ctx, env)
		if err != nil && !env.NeedResponse {
			r.logger.Warn("router: fire-and-forget broadcast handler failed", "method", env.MethodName, "err", err)
		}
		collected = append(collected, responseFor(env.RoutingPath.String(), value, err))
	}

	if !withinHopBudget {
		return collected
	}

	var nextHops []*model.CellRecord
	if env.Direction == model.DirectionDown {
		nextHops = r.state.GetChildCells()
	} else {
		nextHops = r.state.GetParentCells()
	}

	if !env.NeedResponse {
		for _, hop := range nextHops {
			concurrency.Yield()
			fwd := env.Clone()
			fwd.RoutingPath = fwd.RoutingPath.Child(hop.Name)
			fwd.HopCount++
			fwd.RunLocally = true
			fwd.OriginHost = r.hostname
			topic := transport.RequestTopic(hop.Name, model.KindBroadcast)
			if err := r.bus.Publish(ctx, topic, fwd); err != nil {
				r.logger.Error("router: publish broadcast failed", "err", err, "to", hop.Name)
			}
		}
		return collected
	}

	// Each hop is an independent blocking call/response pair (spec.md
	// section 4.3): fan them out concurrently so one slow or unreachable
	// child doesn't serialize the whole broadcast's latency onto the
	// siblings behind it in nextHops.
	perHop := make([][]*model.Response, len(nextHops))
	group, gctx := errgroup.WithContext(ctx)
	for i, hop := range nextHops {
		i, hop := i, hop
		group.Go(func() error {
			fwd := env.Clone()
			fwd.RoutingPath = fwd.RoutingPath.Child(hop.Name)
			fwd.HopCount++
			fwd.RunLocally = true
			fwd.OriginHost = r.hostname
			fwd.ResponseUUID = model.NewResponseUUID()
			wait := r.registerWaiter(fwd.ResponseUUID)
			topic := transport.RequestTopic(hop.Name, model.KindBroadcast)
			if err := r.bus.Publish(gctx, topic, fwd); err != nil {
				r.logger.Error("router: publish broadcast failed", "err", err, "to", hop.Name)
				r.forgetWaiter(fwd.ResponseUUID)
				perHop[i] = []*model.Response{responseFor(env.RoutingPath.Child(hop.Name).String(), nil, err)}
				return nil
			}
			resp, err := r.awaitResponse(gctx, wait)
			r.forgetWaiter(fwd.ResponseUUID)
			if err != nil {
				perHop[i] = []*model.Response{responseFor(env.RoutingPath.Child(hop.Name).String(), nil, err)}
				return nil
			}
			perHop[i] = flattenBroadcastResponse(resp)
			return nil
		})
	}
	_ = group.Wait() // per-hop errors are carried in perHop, never returned here

	for _, responses := range perHop {
		collected = append(collected, responses...)
	}

	return collected
}

func (r *Router) replyBroadcast(ctx context.Context, env *model.Envelope, results []*model.Response) {
	resp := &model.Envelope{
		ID:            model.NewResponseUUID(),
		Kind:          model.KindResponse,
		ResponseUUID:  env.ResponseUUID,
		RoutingPath:   env.RoutingPath.Clone(),
		MaxHopCount:   env.MaxHopCount,
		HopCount:      1,
		ResponseValue: results,
	}
	topic := transport.ResponseTopic(env.OriginHost)
	if err := r.bus.Publish(ctx, topic, resp); err != nil {
		r.logger.Error("router: publish broadcast response failed", "err", err)
	}
}

func flattenBroadcastResponse(resp *model.Response) []*model.Response {
	if resp.Failure != nil {
		return []*model.Response{resp}
	}
	switch v := resp.Value.(type) {
	case []*model.Response:
		return v
	case []any:
		out := make([]*model.Response, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, responseFromMap(m))
			}
		}
		return out
	default:
		return []*model.Response{resp}
	}
}

// responseFromMap best-effort reconstructs a *model.Response after an
// untyped JSON round trip over a real transport, where a []*model.Response
// arrives back as []any of map[string]any.
func responseFromMap(m map[string]any) *model.Response {
	resp := &model.Response{}
	if name, ok := m["cell_name"].(string); ok {
		resp.CellName = name
	}
	if v, ok := m["value"]; ok {
		resp.Value = v
	}
	if f, ok := m["failure"].(map[string]any); ok {
		resp.Failure = &model.Failure{}
		if s, ok := f["module"].(string); ok {
			resp.Failure.Module = s
		}
		if s, ok := f["class"].(string); ok {
			resp.Failure.Class = s
		}
		if s, ok := f["detail"].(string); ok {
			resp.Failure.Detail = s
		}
	}
	return resp
}

func responseFor(cellName string, value any, err error) *model.Response {
	if err != nil {
		return model.NewFailureResponse(cellName, err)
	}
	return model.NewSuccessResponse(cellName, value)
}

// ---- waiter bookkeeping ----

func (r *Router) registerWaiter(id string) chan *model.Response {
	ch := make(chan *model.Response, 1)
	r.mu.Lock()
	r.waiters[id] = &waiter{ch: ch}
	r.mu.Unlock()
	return ch
}

func (r *Router) forgetWaiter(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

func (r *Router) awaitResponse(ctx context.Context, ch chan *model.Response) (*model.Response, error) {
	timeout := r.cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("router: call timed out after %s", timeout)
	}
}

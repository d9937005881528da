package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/cellerr"
	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
	"github.com/webitel/cellmesh/internal/transport"
)

// funcDispatcher lets each test cell plug in its own targeted/broadcast
// behavior without depending on package handlers (avoiding an import
// cycle in tests too).
type funcDispatcher struct {
	targeted  func(ctx context.Context, env *model.Envelope) (any, error)
	broadcast func(ctx context.Context, env *model.Envelope) (any, error)
}

func (d *funcDispatcher) DispatchTargeted(ctx context.Context, env *model.Envelope) (any, error) {
	if d.targeted == nil {
		return nil, cellerr.ErrMethodNotFound
	}
	return d.targeted(ctx, env)
}

func (d *funcDispatcher) DispatchBroadcast(ctx context.Context, env *model.Envelope) (any, error) {
	if d.broadcast == nil {
		return nil, cellerr.ErrMethodNotFound
	}
	return d.broadcast(ctx, env)
}

// tree describes a parent -> []children adjacency used to wire up a test
// fleet of Routers sharing one LocalBus.
type tree map[string][]string

func buildFleet(t *testing.T, bus *transport.LocalBus, edges tree, cfg Config, dispatcherFor func(name string) Dispatcher) map[string]*Router {
	t.Helper()

	names := map[string]bool{}
	for parent, children := range edges {
		names[parent] = true
		for _, c := range children {
			names[c] = true
		}
	}

	states := make(map[string]*cellstate.Manager, len(names))
	for name := range names {
		states[name] = cellstate.New(&model.CellRecord{Name: name})
	}
	for parent, children := range edges {
		for _, c := range children {
			states[parent].AddChild(&model.CellRecord{Name: c})
			states[c].AddParent(&model.CellRecord{Name: parent})
		}
	}

	routers := make(map[string]*Router, len(names))
	ctx := context.Background()
	for name := range names {
		r := New(name, states[name], bus, dispatcherFor(name), cfg, nil)
		// Each simulated cell acts as its own host: routers sharing the real
		// hostname would share one response topic, and LocalBus keeps only
		// the last subscriber of a topic.
		r.hostname = name
		require.NoError(t, r.Start(ctx))
		routers[name] = r
	}
	return routers
}

func echoDispatcher() Dispatcher {
	return &funcDispatcher{
		targeted: func(_ context.Context, env *model.Envelope) (any, error) {
			return fmt.Sprintf("response-%s", env.RoutingPath.String()), nil
		},
	}
}

func TestS1SelfTargeted(t *testing.T) {
	bus := transport.NewLocalBus()
	var sawRoutingPath string
	var sawHopCount int

	st := cellstate.New(&model.CellRecord{Name: "api-cell"})
	r := New("api-cell", st, bus, &funcDispatcher{
		targeted: func(_ context.Context, env *model.Envelope) (any, error) {
			sawRoutingPath = env.RoutingPath.String()
			sawHopCount = env.HopCount
			return map[string]any{"x": 1}, nil
		},
	}, DefaultConfig(), nil)
	require.NoError(t, r.Start(context.Background()))

	env := r.CreateTargetedMessage(model.RequestContext{}, "echo", map[string]any{"x": 1}, model.DirectionDown, cellpath.Parse("api-cell"), true, false)
	resp, err := r.SendTargeted(context.Background(), env)
	require.NoError(t, err)
	require.NotNil(t, resp)
	val, err := resp.ValueOrRaise()
	require.NoError(t, err)
	assert.NotNil(t, val)
	assert.Equal(t, "api-cell", sawRoutingPath)
	assert.Equal(t, 1, sawHopCount)
}

func buildGrandchildTree(t *testing.T, bus *transport.LocalBus, cfg Config) map[string]*Router {
	edges := tree{
		"api-cell":    {"child-cell2"},
		"child-cell2": {"grandchild-cell1"},
	}
	return buildFleet(t, bus, edges, cfg, func(name string) Dispatcher { return echoDispatcher() })
}

func TestS2GrandchildTargetedWithResponse(t *testing.T) {
	bus := transport.NewLocalBus()
	fleet := buildGrandchildTree(t, bus, DefaultConfig())

	origin := fleet["api-cell"]
	env := origin.CreateTargetedMessage(model.RequestContext{}, "echo", map[string]any{"a": 2}, model.DirectionDown,
		cellpath.Parse("api-cell!child-cell2!grandchild-cell1"), true, false)

	resp, err := origin.SendTargeted(context.Background(), env)
	require.NoError(t, err)
	require.NotNil(t, resp)
	val, err := resp.ValueOrRaise()
	require.NoError(t, err)
	assert.Equal(t, "response-api-cell!child-cell2!grandchild-cell1", val)
}

func TestS3HopCountExhaustion(t *testing.T) {
	bus := transport.NewLocalBus()
	cfg := DefaultConfig()
	cfg.MaxHopCount = 2
	fleet := buildGrandchildTree(t, bus, cfg)

	origin := fleet["api-cell"]
	env := origin.CreateTargetedMessage(model.RequestContext{}, "echo", map[string]any{"a": 2}, model.DirectionDown,
		cellpath.Parse("api-cell!child-cell2!grandchild-cell1"), true, false)

	resp, err := origin.SendTargeted(context.Background(), env)
	require.NoError(t, err)
	require.NotNil(t, resp)
	_, err = resp.ValueOrRaise()
	require.Error(t, err)
	assert.ErrorIs(t, err, cellerr.ErrCellMaxHopCountReached)
}

func TestS4BroadcastDownWithFailures(t *testing.T) {
	bus := transport.NewLocalBus()
	edges := tree{
		"api-cell":    {"child-cell1", "child-cell2"},
		"child-cell1": {"grandchild-cell1", "grandchild-cell2", "grandchild-cell3"},
		"child-cell2": {"grandchild-cell4", "grandchild-cell5"},
	}
	failing := map[string]bool{"child-cell2": true, "grandchild-cell3": true}

	fleet := buildFleet(t, bus, edges, DefaultConfig(), func(name string) Dispatcher {
		return &funcDispatcher{broadcast: func(_ context.Context, env *model.Envelope) (any, error) {
			if failing[name] {
				return nil, fmt.Errorf("boom in %s", name)
			}
			return fmt.Sprintf("response-%s", env.RoutingPath.String()), nil
		}}
	})

	origin := fleet["api-cell"]
	env := origin.CreateBroadcastMessage(model.RequestContext{}, "notify", nil, model.DirectionDown, true, true)
	results, err := origin.SendBroadcast(context.Background(), env)
	require.NoError(t, err)

	assert.Len(t, results, 8)

	var failures []string
	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.CellName], "duplicate cell_name %s", r.CellName)
		seen[r.CellName] = true
		if r.Failure != nil {
			failures = append(failures, r.CellName)
		}
	}
	assert.Len(t, failures, 2)
	for _, name := range failures {
		last := name[strIndex(name)+1:]
		assert.True(t, failing[last], "unexpected failing cell_name %s", name)
	}
}

// strIndex returns the index of the last '!' separator, or -1 if absent.
func strIndex(path string) int {
	idx := -1
	for i, c := range path {
		if c == '!' {
			idx = i
		}
	}
	return idx
}

func TestRoutingInconsistencyOnUnknownChild(t *testing.T) {
	bus := transport.NewLocalBus()
	st := cellstate.New(&model.CellRecord{Name: "api-cell"})
	r := New("api-cell", st, bus, echoDispatcher(), DefaultConfig(), nil)
	require.NoError(t, r.Start(context.Background()))

	env := r.CreateTargetedMessage(model.RequestContext{}, "echo", nil, model.DirectionDown, cellpath.Parse("api-cell!ghost-cell"), true, false)
	resp, err := r.SendTargeted(context.Background(), env)
	require.NoError(t, err)
	_, err = resp.ValueOrRaise()
	assert.ErrorIs(t, err, cellerr.ErrCellRoutingInconsistency)
}

func TestCallTimeoutWhenNoResponder(t *testing.T) {
	bus := transport.NewLocalBus()
	st := cellstate.New(&model.CellRecord{Name: "api-cell"})
	st.AddChild(&model.CellRecord{Name: "black-hole"})
	cfg := DefaultConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	r := New("api-cell", st, bus, echoDispatcher(), cfg, nil)
	require.NoError(t, r.Start(context.Background()))
	// Note: black-hole never subscribes, so LocalBus.Publish silently drops.

	env := r.CreateTargetedMessage(model.RequestContext{}, "echo", nil, model.DirectionDown, cellpath.Parse("api-cell!black-hole"), true, false)
	_, err := r.SendTargeted(context.Background(), env)
	assert.Error(t, err)
}

package periodic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
)

type stubDB struct {
	instances []*model.Instance
	calls     int
}

func (d *stubDB) InstanceGetAll(context.Context, string, *string, bool) ([]*model.Instance, error) {
	d.calls++
	out := make([]*model.Instance, len(d.instances))
	copy(out, d.instances)
	return out, nil
}

type stubForwarder struct {
	broadcasts []string
	targeted   []string
}

func (f *stubForwarder) targetedRecorded() []string { return f.targeted }

func (f *stubForwarder) CreateTargetedMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, target cellpath.Path, needResponse, fanout bool) *model.Envelope {
	return &model.Envelope{Ctxt: ctxt, MethodName: method, MethodKwargs: kwargs, TargetPath: target}
}

func (f *stubForwarder) CreateBroadcastMessage(ctxt model.RequestContext, method string, kwargs map[string]any, direction model.Direction, runLocally, needResponse bool) *model.Envelope {
	return &model.Envelope{Ctxt: ctxt, MethodName: method, MethodKwargs: kwargs}
}

func (f *stubForwarder) SendTargeted(_ context.Context, env *model.Envelope) (*model.Response, error) {
	f.targeted = append(f.targeted, env.MethodName)
	return model.NewSuccessResponse("test", nil), nil
}

func (f *stubForwarder) SendBroadcast(_ context.Context, env *model.Envelope) ([]*model.Response, error) {
	f.broadcasts = append(f.broadcasts, env.MethodName)
	return nil, nil
}

func newHealTestState(withParent bool) *cellstate.Manager {
	st := cellstate.New(&model.CellRecord{Name: "leaf-cell"})
	if withParent {
		st.AddParent(&model.CellRecord{Name: "parent-cell"})
	}
	return st
}

func TestHealerNoopWithoutParents(t *testing.T) {
	st := newHealTestState(false)
	db := &stubDB{instances: []*model.Instance{{UUID: "i1"}}}
	fwd := &stubForwarder{}
	h := NewHealer(st, db, fwd, DefaultHealConfig(), nil)

	h.Tick(context.Background(), time.Now())
	assert.Zero(t, db.calls)
	assert.Empty(t, fwd.broadcasts)
}

func TestHealerSyncsOneInstancePerTick(t *testing.T) {
	st := newHealTestState(true)
	db := &stubDB{instances: []*model.Instance{{UUID: "i1"}, {UUID: "i2", Deleted: true}}}
	fwd := &stubForwarder{}
	cfg := DefaultHealConfig()
	cfg.NumInstancesPerTick = 1
	cfg.UpdateInterval = time.Millisecond
	h := NewHealer(st, db, fwd, cfg, nil)

	now := time.Now()
	h.Tick(context.Background(), now)
	require.Len(t, fwd.broadcasts, 1)

	h.Tick(context.Background(), now.Add(2*time.Millisecond))
	require.Len(t, fwd.broadcasts, 2)
}

func TestHealerGatedByUpdateInterval(t *testing.T) {
	st := newHealTestState(true)
	db := &stubDB{instances: []*model.Instance{{UUID: "i1"}}}
	fwd := &stubForwarder{}
	cfg := DefaultHealConfig()
	cfg.UpdateInterval = time.Hour
	h := NewHealer(st, db, fwd, cfg, nil)

	now := time.Now()
	h.Tick(context.Background(), now)
	require.Len(t, fwd.broadcasts, 1)

	h.Tick(context.Background(), now.Add(time.Second))
	assert.Len(t, fwd.broadcasts, 1, "second tick within UpdateInterval should be a no-op")
}

func TestHealerRunsEveryTickWithNegativeInterval(t *testing.T) {
	st := newHealTestState(true)
	db := &stubDB{instances: []*model.Instance{{UUID: "i1"}}}
	fwd := &stubForwarder{}
	cfg := DefaultHealConfig()
	cfg.UpdateInterval = -1
	h := NewHealer(st, db, fwd, cfg, nil)

	now := time.Now()
	h.Tick(context.Background(), now)
	require.Len(t, fwd.broadcasts, 1)

	h.Tick(context.Background(), now.Add(time.Millisecond))
	assert.Len(t, fwd.broadcasts, 2, "a negative UpdateInterval means run every tick, not skip")
}

func TestHealerSkipsOnlyWhenIntervalExactlyZero(t *testing.T) {
	st := newHealTestState(true)
	db := &stubDB{instances: []*model.Instance{{UUID: "i1"}}}
	fwd := &stubForwarder{}
	cfg := DefaultHealConfig()
	cfg.UpdateInterval = 0
	h := NewHealer(st, db, fwd, cfg, nil)

	h.Tick(context.Background(), time.Now())
	assert.Empty(t, fwd.broadcasts)
}

func TestHealerRefreshesBatchOnceWhenExhausted(t *testing.T) {
	st := newHealTestState(true)
	db := &stubDB{instances: []*model.Instance{{UUID: "only"}}}
	fwd := &stubForwarder{}
	cfg := DefaultHealConfig()
	cfg.UpdateInterval = time.Millisecond
	cfg.NumInstancesPerTick = 5
	h := NewHealer(st, db, fwd, cfg, nil)

	h.Tick(context.Background(), time.Now())
	assert.Equal(t, 1, db.calls, "exhausting the one-instance batch should refresh exactly once, not loop forever")
	assert.Len(t, fwd.broadcasts, 1)
}

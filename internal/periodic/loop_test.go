package periodic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/model"
)

func TestLoopStartAnnouncesWhenLeaf(t *testing.T) {
	st := newHealTestState(true)
	fwd := &stubForwarder{}
	db := &stubDB{}
	healer := NewHealer(st, db, fwd, DefaultHealConfig(), nil)
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour // avoid racing the background ticker during the assertion
	loop := NewLoop(st, healer, fwd, cfg, nil)

	loop.Start(context.Background())
	defer loop.Stop()

	require.NotEmpty(t, fwd.targetedRecorded())
	assert.Contains(t, fwd.targetedRecorded(), "update_capabilities")
	assert.Contains(t, fwd.targetedRecorded(), "update_capacities")
}

func TestLoopStartAsksChildrenWhenNotLeaf(t *testing.T) {
	st := cellstate.New(&model.CellRecord{Name: "mid-cell"})
	st.AddParent(&model.CellRecord{Name: "parent-cell"})
	st.AddChild(&model.CellRecord{Name: "child-cell"})
	fwd := &stubForwarder{}
	db := &stubDB{}
	healer := NewHealer(st, db, fwd, DefaultHealConfig(), nil)
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	loop := NewLoop(st, healer, fwd, cfg, nil)

	loop.Start(context.Background())
	defer loop.Stop()

	assert.Contains(t, fwd.targetedRecorded(), "announce_capabilities")
	assert.Contains(t, fwd.targetedRecorded(), "announce_capacities")
}

func TestLoopReapsStaleChildrenOnTick(t *testing.T) {
	st := cellstate.New(&model.CellRecord{Name: "mid-cell"}, cellstate.WithStaleAfter(time.Millisecond))
	st.AddChild(&model.CellRecord{Name: "stale-child"})
	fwd := &stubForwarder{}
	db := &stubDB{}
	healer := NewHealer(st, db, fwd, DefaultHealConfig(), nil)
	cfg := Config{AnnounceInterval: time.Hour, ReapInterval: time.Millisecond, TickInterval: time.Hour}
	loop := NewLoop(st, healer, fwd, cfg, nil)

	time.Sleep(2 * time.Millisecond)
	loop.tick(context.Background(), time.Now())

	_, ok := st.GetChildCell("stale-child")
	assert.False(t, ok)
}

func TestLoopStopTerminatesGoroutine(t *testing.T) {
	st := newHealTestState(false)
	fwd := &stubForwarder{}
	db := &stubDB{}
	healer := NewHealer(st, db, fwd, DefaultHealConfig(), nil)
	cfg := DefaultConfig()
	cfg.TickInterval = time.Millisecond
	loop := NewLoop(st, healer, fwd, cfg, nil)

	loop.Start(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return in time")
	}
}

package cellstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/cellmesh/internal/domain/model"
)

func newTestManager() *Manager {
	return New(&model.CellRecord{Name: "child-cell2"})
}

func TestGetMyInfoMarkedSelf(t *testing.T) {
	m := newTestManager()
	info := m.GetMyInfo()
	assert.True(t, info.IsMe)
	assert.Equal(t, model.RoleSelf, info.Role)
}

func TestChildLookup(t *testing.T) {
	m := newTestManager()
	m.AddChild(&model.CellRecord{Name: "grandchild-cell1"})

	rec, ok := m.GetChildCell("grandchild-cell1")
	require.True(t, ok)
	assert.Equal(t, model.RoleChild, rec.Role)

	_, ok = m.GetChildCell("nope")
	assert.False(t, ok)
}

func TestCapabilityMergeIsSetUnion(t *testing.T) {
	m := newTestManager()
	m.AddChild(&model.CellRecord{Name: "c1"})

	m.UpdateCellCapabilities("c1", model.Capabilities{"host_caps": {"kvm"}})
	m.UpdateCellCapabilities("c1", model.Capabilities{"host_caps": {"xen"}})

	rec, ok := m.GetChildCell("c1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"kvm", "xen"}, rec.Capabilities["host_caps"])
}

func TestCapacityMergeIsLastWriterWins(t *testing.T) {
	m := newTestManager()
	m.AddChild(&model.CellRecord{Name: "c1"})

	m.UpdateCellCapacities("c1", model.Capacities{"ram_free": 100})
	m.UpdateCellCapacities("c1", model.Capacities{"ram_free": 40})

	rec, ok := m.GetChildCell("c1")
	require.True(t, ok)
	assert.EqualValues(t, 40, rec.Capacities["ram_free"])
}

func TestAggregateCapabilitiesMergesSelfAndChildren(t *testing.T) {
	m := newTestManager()
	m.SetSelfCapabilities(model.Capabilities{"host_caps": {"kvm"}})
	m.AddChild(&model.CellRecord{Name: "c1", Capabilities: model.Capabilities{"host_caps": {"xen"}}})

	agg := m.AggregateCapabilities()
	assert.ElementsMatch(t, []string{"kvm", "xen"}, agg["host_caps"])
}

func TestIsLeafAndIsTop(t *testing.T) {
	m := newTestManager()
	assert.True(t, m.IsLeaf())
	assert.True(t, m.IsTop())

	m.AddChild(&model.CellRecord{Name: "c1"})
	assert.False(t, m.IsLeaf())

	m.AddParent(&model.CellRecord{Name: "api-cell"})
	assert.False(t, m.IsTop())
}

func TestReapStaleDropsOldChildren(t *testing.T) {
	m := New(&model.CellRecord{Name: "mid"}, WithStaleAfter(10*time.Millisecond))
	m.AddChild(&model.CellRecord{Name: "stale-child"})

	time.Sleep(20 * time.Millisecond)
	reaped := m.ReapStale()

	assert.Equal(t, []string{"stale-child"}, reaped)
	_, ok := m.GetChildCell("stale-child")
	assert.False(t, ok)
}

func TestReapStaleNoopWithoutConfig(t *testing.T) {
	m := newTestManager()
	m.AddChild(&model.CellRecord{Name: "c1"})
	assert.Nil(t, m.ReapStale())
}

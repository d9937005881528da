package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstanceFilterDefaultExcludesDeleted(t *testing.T) {
	where, args := NewInstanceFilter().Build()
	assert.Equal(t, "deleted = 0", where)
	assert.Empty(t, args)
}

func TestInstanceFilterComposesImmutably(t *testing.T) {
	base := NewInstanceFilter().WithProjectID("proj-1")
	withSince := base.WithUpdatedSince("2026-01-01")

	baseWhere, baseArgs := base.Build()
	sinceWhere, sinceArgs := withSince.Build()

	assert.Equal(t, "project_id = ? AND deleted = 0", baseWhere)
	assert.Equal(t, []any{"proj-1"}, baseArgs)
	assert.Equal(t, "project_id = ? AND updated_at > ? AND deleted = 0", sinceWhere)
	assert.Equal(t, []any{"proj-1", "2026-01-01"}, sinceArgs)
}

func TestUpdateSetDeterministicColumnOrder(t *testing.T) {
	u := NewUpdateSet(map[string]any{"vm_state": "active", "deleted": false, "hostname": "host-1"})
	stmt, args := u.Build("instances", "uuid")
	assert.Equal(t, "UPDATE instances SET deleted = ?, hostname = ?, vm_state = ? WHERE uuid = ?", stmt)
	assert.Equal(t, []any{false, "host-1", "active"}, args)
}

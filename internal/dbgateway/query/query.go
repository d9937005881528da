// Package query builds the handful of SQL statements the DB Gateway issues,
// as immutable copy-on-write value types grounded on the teacher's
// functional-options pattern (internal/domain/registry/options.go):
// every With* method returns a new value rather than mutating the receiver,
// so a builder can be safely shared and incrementally specialized.
package query

import (
	"fmt"
	"sort"
	"strings"
)

// InstanceFilter selects rows for InstanceGetAll.
type InstanceFilter struct {
	projectID      string
	updatedSince   string
	includeDeleted bool
}

func NewInstanceFilter() InstanceFilter { return InstanceFilter{} }

func (f InstanceFilter) WithProjectID(id string) InstanceFilter {
	f.projectID = id
	return f
}

func (f InstanceFilter) WithUpdatedSince(ts string) InstanceFilter {
	f.updatedSince = ts
	return f
}

func (f InstanceFilter) WithIncludeDeleted(include bool) InstanceFilter {
	f.includeDeleted = include
	return f
}

// Build renders the WHERE clause and its positional arguments.
func (f InstanceFilter) Build() (where string, args []any) {
	var clauses []string
	if f.projectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, f.projectID)
	}
	if f.updatedSince != "" {
		clauses = append(clauses, "updated_at > ?")
		args = append(args, f.updatedSince)
	}
	if !f.includeDeleted {
		clauses = append(clauses, "deleted = 0")
	}
	if len(clauses) == 0 {
		return "1=1", nil
	}
	return strings.Join(clauses, " AND "), args
}

// UpdateSet builds an `UPDATE instances SET ...` column list from a
// whitelisted map, preserving deterministic column ordering so repeated
// calls with the same input produce byte-identical SQL (useful for query
// plan caching and for tests asserting on the rendered statement).
type UpdateSet struct {
	columns []string
	values  map[string]any
}

func NewUpdateSet(updates map[string]any) UpdateSet {
	cols := make([]string, 0, len(updates))
	for k := range updates {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return UpdateSet{columns: cols, values: updates}
}

func (u UpdateSet) Build(table, whereCol string) (stmt string, args []any) {
	sets := make([]string, 0, len(u.columns))
	for _, col := range u.columns {
		sets = append(sets, fmt.Sprintf("%s = ?", col))
		args = append(args, u.values[col])
	}
	stmt = fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(sets, ", "), whereCol)
	return stmt, args
}

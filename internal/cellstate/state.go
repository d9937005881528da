// Package cellstate is the State Manager (C2): the in-memory view of this
// cell's identity, its parents and children, and their last-known
// capabilities/capacities. It is grounded on the teacher's sync.Map-keyed
// actor registry (internal/domain/registry.Hub in the original
// delivery-service), generalized from "UserID -> per-user actor" to
// "cell name -> CellRecord".
package cellstate

import (
	"sync"
	"time"

	"github.com/webitel/cellmesh/internal/domain/model"
)

// Option configures a Manager at construction time.
type Option func(*config)

type config struct {
	staleAfter time.Duration
}

// WithStaleAfter sets the age after which a child cell's last announce is
// considered stale by ReapStale. Zero disables reaping.
func WithStaleAfter(d time.Duration) Option {
	return func(c *config) { c.staleAfter = d }
}

type entry struct {
	record   *model.CellRecord
	seenAt   time.Time
	mu       sync.RWMutex
}

// Manager owns this process's cell identity graph: exactly one self record,
// disjoint parent and child sets.
type Manager struct {
	cfg config

	mu       sync.RWMutex
	self     *model.CellRecord
	parents  map[string]*entry
	children map[string]*entry
}

func New(self *model.CellRecord, opts ...Option) *Manager {
	cfg := config{staleAfter: 0}
	for _, opt := range opts {
		opt(&cfg)
	}
	self = self.Clone()
	self.Role = model.RoleSelf
	self.IsMe = true
	return &Manager{
		cfg:      cfg,
		self:     self,
		parents:  make(map[string]*entry),
		children: make(map[string]*entry),
	}
}

// AddParent / AddChild register a relation discovered at startup (from
// configuration) or via topology refresh. They are idempotent on name.
func (m *Manager) AddParent(rec *model.CellRecord) {
	rec = rec.Clone()
	rec.Role = model.RoleParent
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parents[rec.Name] = &entry{record: rec, seenAt: time.Now()}
}

func (m *Manager) AddChild(rec *model.CellRecord) {
	rec = rec.Clone()
	rec.Role = model.RoleChild
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[rec.Name] = &entry{record: rec, seenAt: time.Now()}
}

// GetMyInfo returns this cell's own record.
func (m *Manager) GetMyInfo() *model.CellRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self.Clone()
}

// GetParentCells returns a snapshot of every parent record.
func (m *Manager) GetParentCells() []*model.CellRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.CellRecord, 0, len(m.parents))
	for _, e := range m.parents {
		out = append(out, snapshot(e))
	}
	return out
}

// GetChildCells returns a snapshot of every child record.
func (m *Manager) GetChildCells() []*model.CellRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.CellRecord, 0, len(m.children))
	for _, e := range m.children {
		out = append(out, snapshot(e))
	}
	return out
}

func (m *Manager) GetChildCell(name string) (*model.CellRecord, bool) {
	m.mu.RLock()
	e, ok := m.children[name]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return snapshot(e), true
}

func (m *Manager) GetParentCell(name string) (*model.CellRecord, bool) {
	m.mu.RLock()
	e, ok := m.parents[name]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return snapshot(e), true
}

// GetCellInfoForSiblings returns every cell this one knows about (self,
// parents, children) — the payload a sibling intermediate cell needs to
// merge into its own aggregate view.
func (m *Manager) GetCellInfoForSiblings() []*model.CellRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.CellRecord, 0, 1+len(m.parents)+len(m.children))
	out = append(out, m.self.Clone())
	for _, e := range m.parents {
		out = append(out, snapshot(e))
	}
	for _, e := range m.children {
		out = append(out, snapshot(e))
	}
	return out
}

// IsLeaf reports whether this cell has no children.
func (m *Manager) IsLeaf() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.children) == 0
}

// IsTop reports whether this cell has no parents.
func (m *Manager) IsTop() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.parents) == 0
}

// UpdateCellCapabilities merges caps into the named child cell's known
// capabilities, per-key set-union (spec.md section 9).
func (m *Manager) UpdateCellCapabilities(cellName string, caps model.Capabilities) {
	m.withChild(cellName, func(rec *model.CellRecord) {
		if rec.Capabilities == nil {
			rec.Capabilities = model.Capabilities{}
		}
		model.MergeCapabilities(rec.Capabilities, caps)
	})
}

// UpdateCellCapacities overwrites the named child cell's capacities
// per-key, last-writer-wins.
func (m *Manager) UpdateCellCapacities(cellName string, capacs model.Capacities) {
	m.withChild(cellName, func(rec *model.CellRecord) {
		if rec.Capacities == nil {
			rec.Capacities = model.Capacities{}
		}
		model.MergeCapacities(rec.Capacities, capacs)
	})
}

func (m *Manager) withChild(name string, fn func(*model.CellRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.children[name]
	if !ok {
		// Capability/capacity announces can race topology discovery; register
		// a bare placeholder rather than dropping the update.
		e = &entry{record: &model.CellRecord{Name: name, Role: model.RoleChild}}
		m.children[name] = e
	}
	e.mu.Lock()
	fn(e.record)
	e.mu.Unlock()
	e.seenAt = time.Now()
}

// AggregateCapabilities merges self's capabilities with every known child's,
// the "merged snapshot of all descendants" the scheduler consults.
func (m *Manager) AggregateCapabilities() model.Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := model.Capabilities{}
	model.MergeCapabilities(out, m.self.Capabilities)
	for _, e := range m.children {
		e.mu.RLock()
		model.MergeCapabilities(out, e.record.Capabilities)
		e.mu.RUnlock()
	}
	return out
}

// AggregateCapacities sums self's and every known child's capacities per
// key, the view this cell announces to its parents.
func (m *Manager) AggregateCapacities() model.Capacities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := model.Capacities{}
	for key, value := range m.self.Capacities {
		out[key] += value
	}
	for _, e := range m.children {
		e.mu.RLock()
		for key, value := range e.record.Capacities {
			out[key] += value
		}
		e.mu.RUnlock()
	}
	return out
}

// SetSelfCapabilities / SetSelfCapacities are used by a leaf cell to record
// its own freshly-measured state before announcing upward.
func (m *Manager) SetSelfCapabilities(caps model.Capabilities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self.Capabilities = caps.Clone()
}

func (m *Manager) SetSelfCapacities(capacs model.Capacities) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.self.Capacities = capacs.Clone()
}

// ReapStale drops child records whose last announce predates staleAfter.
// A no-op when WithStaleAfter was never configured. Grounded on
// original_source's dropped "cells_reaper" sweep (SPEC_FULL.md section 4.6).
func (m *Manager) ReapStale() (reaped []string) {
	if m.cfg.staleAfter <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-m.cfg.staleAfter)
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, e := range m.children {
		if e.seenAt.Before(cutoff) {
			delete(m.children, name)
			reaped = append(reaped, name)
		}
	}
	return reaped
}

func snapshot(e *entry) *model.CellRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record.Clone()
}

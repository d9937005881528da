package cellstate

import (
	"time"

	"github.com/webitel/cellmesh/internal/domain/model"
	"go.uber.org/fx"
)

// Config is the `cells.*` topology knobs (spec.md section 6): this cell's own
// identity plus the statically-configured parent/child credentials a cell
// normally learns once at startup and then keeps current via announces.
type Config struct {
	Self           model.CellRecord
	Parents        []model.CellRecord
	Children       []model.CellRecord
	StaleAfter     time.Duration
}

func DefaultConfig() Config {
	return Config{StaleAfter: 5 * time.Minute}
}

// NewFromConfig builds a Manager seeded with the statically-known topology.
// Capability/capacity exchange (via handlers.updateCapabilities et al.) and
// periodic reaping (ReapStale) take over from there.
func NewFromConfig(cfg Config) *Manager {
	self := cfg.Self
	m := New(&self, WithStaleAfter(cfg.StaleAfter))
	for _, p := range cfg.Parents {
		p := p
		m.AddParent(&p)
	}
	for _, c := range cfg.Children {
		c := c
		m.AddChild(&c)
	}
	return m
}

var Module = fx.Module("cellstate",
	fx.Provide(
		NewFromConfig,
	),
)

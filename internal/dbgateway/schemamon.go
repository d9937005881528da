package dbgateway

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/webitel/cellmesh/internal/dbgateway/pool"
)

// ModelRegistry is a snapshot of the schema version this process believes
// the database is at. SPEC_FULL.md section 4.1's schema monitor republishes
// one of these every poll so callers reading through the atomic.Pointer
// never block on the poll itself.
type ModelRegistry struct {
	Version   string
	PolledAt  time.Time
}

// SchemaMonitor polls `schema_migrations` on an interval and republishes the
// latest version behind an atomic.Pointer, grounded on the teacher's
// runEvictor ticker-loop shape (internal/domain/registry/hub.go).
type SchemaMonitor struct {
	pool     *pool.Pool
	interval time.Duration
	logger   *slog.Logger
	current  atomic.Pointer[ModelRegistry]
	stopCh   chan struct{}
}

func NewSchemaMonitor(p *pool.Pool, interval time.Duration, logger *slog.Logger) *SchemaMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaMonitor{pool: p, interval: interval, logger: logger, stopCh: make(chan struct{})}
}

// Current returns the most recently polled schema snapshot, or nil before
// the first successful poll.
func (m *SchemaMonitor) Current() *ModelRegistry {
	return m.current.Load()
}

func (m *SchemaMonitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *SchemaMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *SchemaMonitor) poll(ctx context.Context) {
	var version string
	err := m.pool.Acquire(ctx, func(ctx context.Context, db *sql.DB) error {
		row := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`)
		return row.Scan(&version)
	})
	if err != nil {
		m.logger.Warn("dbgateway: schema poll failed", "err", fmt.Errorf("%w", classify(err)))
		return
	}
	m.current.Store(&ModelRegistry{Version: version, PolledAt: time.Now()})
}

func (m *SchemaMonitor) Stop() {
	close(m.stopCh)
}

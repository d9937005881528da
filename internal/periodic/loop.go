package periodic

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/cellmesh/internal/cellstate"
)

// Config is the periodic loop's own knobs, on top of HealConfig.
type Config struct {
	AnnounceInterval time.Duration
	ReapInterval     time.Duration
	TickInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		AnnounceInterval: 60 * time.Second,
		ReapInterval:     60 * time.Second,
		TickInterval:     time.Second,
	}
}

// Loop runs every periodic task on one shared ticker, each self-gated by its
// own interval, mirroring how the original's manager.periodic_task methods
// all share the service's single periodic-tasks ticker
// (nova/cells/manager.py).
type Loop struct {
	state  *cellstate.Manager
	healer *Healer
	fwd    Forwarder
	cfg    Config
	logger *slog.Logger

	lastAnnounce time.Time
	lastReap     time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewLoop(state *cellstate.Manager, healer *Healer, forwarder Forwarder, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Loop{
		state:  state,
		healer: healer,
		fwd:    forwarder,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs post-start-hook behavior once (ask children for state if this
// cell has any, else announce upward immediately — the original's
// post_start_hook) and then launches the ticking loop.
func (l *Loop) Start(ctx context.Context) {
	if len(l.state.GetChildCells()) > 0 {
		AskChildrenForState(ctx, l.state, l.fwd, l.logger)
	} else {
		AnnounceUpward(ctx, l.state, l.fwd, l.logger)
		l.lastAnnounce = time.Now()
	}
	go l.run()
}

// run uses its own background context, not the one passed to Start: that
// one belongs to the fx lifecycle hook and is only valid for the duration
// of OnStart, while this loop must keep ticking until Stop is called.
func (l *Loop) run() {
	ctx := context.Background()
	defer close(l.doneCh)
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case now := <-ticker.C:
			l.tick(ctx, now)
		}
	}
}

func (l *Loop) tick(ctx context.Context, now time.Time) {
	if l.cfg.AnnounceInterval > 0 && l.state.IsLeaf() && (l.lastAnnounce.IsZero() || now.Sub(l.lastAnnounce) >= l.cfg.AnnounceInterval) {
		AnnounceUpward(ctx, l.state, l.fwd, l.logger)
		l.lastAnnounce = now
	}
	if l.cfg.ReapInterval > 0 && (l.lastReap.IsZero() || now.Sub(l.lastReap) >= l.cfg.ReapInterval) {
		if reaped := l.state.ReapStale(); len(reaped) > 0 {
			l.logger.Info("periodic: reaped stale child cells", "cells", reaped)
		}
		l.lastReap = now
	}
	l.healer.Tick(ctx, now)
}

func (l *Loop) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

// Package pool is the DB Gateway's connection pool: a free-list of checkout
// tokens in front of one *sql.DB plus a live-count discipline, grounded on the teacher's
// registry.Hub actor-and-channel shape (a buffered channel as the mailbox,
// an atomic counter as the live-cell count) generalized from "idle user
// cells" to "idle DB connections". A checkout beyond the configured maximum
// blocks the caller on the free-list channel rather than growing without
// bound the way database/sql's own pool would; this is the
// cooperative-yield-on-exhaustion discipline SPEC_FULL.md section 4.1 calls
// for.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds the `database.connection` knobs from SPEC_FULL.md section 6.
type Config struct {
	DSN             string
	MaxOpen         int
	DialTimeout     time.Duration
	BreakerInterval time.Duration
	BreakerTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxOpen:         16,
		DialTimeout:     5 * time.Second,
		BreakerInterval: 30 * time.Second,
		BreakerTimeout:  10 * time.Second,
	}
}

// Pool owns one *sql.DB and bounds concurrent checkouts to Config.MaxOpen,
// wrapping each checked-out operation in a circuit breaker so that a dead database fails
// callers fast instead of piling up busy retries (SPEC_FULL.md section 4.1).
type Pool struct {
	db      *sql.DB
	free    chan struct{}
	live    atomic.Int64
	max     int
	breaker *gobreaker.CircuitBreaker
}

func Open(cfg Config) (*Pool, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pool: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpen)

	p := &Pool{
		db:   db,
		free: make(chan struct{}, cfg.MaxOpen),
		max:  cfg.MaxOpen,
	}
	for i := 0; i < cfg.MaxOpen; i++ {
		p.free <- struct{}{}
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dbgateway",
		Timeout: cfg.BreakerTimeout,
		Interval: cfg.BreakerInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return p, nil
}

// DB exposes the underlying *sql.DB for callers that need raw
// QueryContext/ExecContext access once a slot has been acquired.
func (p *Pool) DB() *sql.DB { return p.db }

// Live reports the number of currently checked-out slots. Live is always
// <= Config.MaxOpen.
func (p *Pool) Live() int64 { return p.live.Load() }

// Acquire blocks until a slot is free or ctx is done, then runs fn with the
// breaker wrapping the checkout. Acquire yields cooperatively: a caller that
// can't get a slot waits on the free-list channel rather than spinning.
func (p *Pool) Acquire(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	select {
	case <-p.free:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.live.Add(1)
	defer func() {
		p.live.Add(-1)
		p.free <- struct{}{}
	}()

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, fn(ctx, p.db)
	})
	return err
}

func (p *Pool) Close() error {
	return p.db.Close()
}

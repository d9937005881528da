// Package dbgateway is the DB Gateway (C1): the sole component that talks to
// the relational store backing instance sync state, fronted by a
// cooperative-yield connection pool and a circuit breaker (SPEC_FULL.md
// section 4.1). It implements the handlers.DB and scheduler.DB interfaces
// those packages declare locally.
package dbgateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webitel/cellmesh/internal/concurrency"
	"github.com/webitel/cellmesh/internal/dbgateway/pool"
	"github.com/webitel/cellmesh/internal/dbgateway/query"
	"github.com/webitel/cellmesh/internal/domain/cellerr"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// Gateway is the concrete DB Gateway, backed by a *pool.Pool.
type Gateway struct {
	pool   *pool.Pool
	logger *slog.Logger
}

func New(p *pool.Pool, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{pool: p, logger: logger}
}

const (
	maxDBRetries   = 3
	dbRetryBackoff = 50 * time.Millisecond
)

// withRetry runs op against a pooled connection, retrying a bounded number
// of times with a short sleep when classify(err) is retryable (spec.md
// section 4.1 "Retry wrapper" / section 7: retryable DB errors are recovered
// locally and never surface to the caller unless the pool itself is
// exhausted). The breaker inside Acquire still fails fast once the DB is
// genuinely down; this only smooths over the transient blips its
// ConsecutiveFailures counter isn't meant to catch.
func (g *Gateway) withRetry(ctx context.Context, op func(ctx context.Context, db *sql.DB) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := g.pool.Acquire(ctx, op)
		if err == nil {
			concurrency.Yield()
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			// Not a DB-layer failure, just an empty result: callers check
			// for this directly and it must never be retried or reclassified.
			return err
		}
		if errors.Is(err, cellerr.ErrUnexpectedVMState) || errors.Is(err, cellerr.ErrUnexpectedTaskState) {
			// A deterministic optimistic-concurrency mismatch, not a
			// transient DB condition: retrying would just observe the same
			// state again.
			return err
		}
		lastErr = classify(err)
		if attempt >= maxDBRetries || !retryable(lastErr) {
			return lastErr
		}
		g.logger.Warn("dbgateway: retrying after transient db error", "attempt", attempt+1, "err", lastErr)
		timer := time.NewTimer(dbRetryBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		}
	}
}

func (g *Gateway) InstanceGetByUUID(ctx context.Context, uuid string) (*model.Instance, error) {
	var inst *model.Instance
	err := g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		row := db.QueryRowContext(ctx,
			`SELECT uuid, vm_state, task_state, deleted, hostname, metadata, system_metadata, updated_at
			 FROM instances WHERE uuid = ?`, uuid)
		var err error
		inst, err = scanInstance(row)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cellerr.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("dbgateway: get instance %s: %w", uuid, err)
	}
	return inst, nil
}

func (g *Gateway) InstanceGetAll(ctx context.Context, projectID string, updatedSince *string, includeDeleted bool) ([]*model.Instance, error) {
	filter := query.NewInstanceFilter().WithProjectID(projectID).WithIncludeDeleted(includeDeleted)
	if updatedSince != nil {
		filter = filter.WithUpdatedSince(*updatedSince)
	}
	where, args := filter.Build()

	var out []*model.Instance
	err := g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		rows, err := db.QueryContext(ctx, fmt.Sprintf(
			`SELECT uuid, vm_state, task_state, deleted, hostname, metadata, system_metadata, updated_at
			 FROM instances WHERE %s`, where), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			inst, err := scanInstance(rows)
			if err != nil {
				return err
			}
			out = append(out, inst)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("dbgateway: get all instances: %w", err)
	}
	return out, nil
}

func (g *Gateway) InstanceUpdate(ctx context.Context, uuid string, updates map[string]any) (*model.Instance, error) {
	if len(updates) == 0 {
		return g.InstanceGetByUUID(ctx, uuid)
	}
	stmt, args := query.NewUpdateSet(updates).Build("instances", "uuid")
	args = append(args, uuid)
	err := g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, stmt, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("dbgateway: update instance %s: %w", uuid, err)
	}
	return g.InstanceGetByUUID(ctx, uuid)
}

// InstanceUpdateAndGetOriginal applies updates and returns both the row as it
// stood immediately before the update and the row after, so a caller can
// detect an optimistic vm_state/task_state mismatch (spec.md section 4.1
// "update_and_get_original" variant, section 7 UnexpectedVMStateError /
// UnexpectedTaskStateError) instead of blindly overwriting state a
// concurrent writer already moved on from. When expectedVMState/
// expectedTaskState are non-empty, the original row's corresponding column
// must match one of the given values or the update is skipped and
// cellerr.ErrUnexpectedVMState/ErrUnexpectedTaskState is returned instead.
// The read, the expected-state check and the write all happen inside one
// transaction so "original" is actually the pre-update row a concurrent
// writer could not have raced past unseen.
func (g *Gateway) InstanceUpdateAndGetOriginal(ctx context.Context, uuid string, updates map[string]any, expectedVMState, expectedTaskState []string) (original, updated *model.Instance, err error) {
	stmt, args := query.NewUpdateSet(updates).Build("instances", "uuid")
	args = append(args, uuid)
	err = g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, txErr := db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		const selectStmt = `SELECT uuid, vm_state, task_state, deleted, hostname, metadata, system_metadata, updated_at
			 FROM instances WHERE uuid = ?`

		var scanErr error
		original, scanErr = scanInstance(tx.QueryRowContext(ctx, selectStmt, uuid))
		if scanErr != nil {
			return scanErr
		}

		if len(expectedVMState) > 0 && !containsString(expectedVMState, original.VMState) {
			return cellerr.ErrUnexpectedVMState
		}
		if len(expectedTaskState) > 0 && !containsString(expectedTaskState, original.TaskState) {
			return cellerr.ErrUnexpectedTaskState
		}

		if len(updates) > 0 {
			if _, execErr := tx.ExecContext(ctx, stmt, args...); execErr != nil {
				return execErr
			}
		}

		updated, scanErr = scanInstance(tx.QueryRowContext(ctx, selectStmt, uuid))
		if scanErr != nil {
			return scanErr
		}
		return tx.Commit()
	})
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil, cellerr.ErrInstanceNotFound
		case errors.Is(err, cellerr.ErrUnexpectedVMState), errors.Is(err, cellerr.ErrUnexpectedTaskState):
			return nil, nil, err
		default:
			return nil, nil, fmt.Errorf("dbgateway: update instance %s: %w", uuid, err)
		}
	}
	return original, updated, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func (g *Gateway) InstanceCreate(ctx context.Context, uuid string, properties map[string]any) error {
	hostname, _ := properties["hostname"].(string)
	err := g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO instances (uuid, vm_state, task_state, deleted, hostname, updated_at)
			 VALUES (?, 'building', 'scheduling', 0, ?, ?)`,
			uuid, hostname, time.Now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("dbgateway: create instance %s: %w", uuid, err)
	}
	return nil
}

func (g *Gateway) InstanceDestroy(ctx context.Context, uuid string) error {
	err := g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `UPDATE instances SET deleted = 1, vm_state = 'deleted' WHERE uuid = ?`, uuid)
		return err
	})
	if err != nil {
		return fmt.Errorf("dbgateway: destroy instance %s: %w", uuid, err)
	}
	return nil
}

func (g *Gateway) InstanceMetadataReplace(ctx context.Context, uuid string, metadata map[string]string) error {
	return g.replaceJSONColumn(ctx, "metadata", uuid, metadata)
}

func (g *Gateway) InstanceSystemMetadataReplace(ctx context.Context, uuid string, metadata map[string]string) error {
	return g.replaceJSONColumn(ctx, "system_metadata", uuid, metadata)
}

func (g *Gateway) InstanceInfoCacheUpdate(ctx context.Context, uuid string, infoCache map[string]any) error {
	return g.replaceJSONColumn(ctx, "info_cache", uuid, infoCache)
}

func (g *Gateway) replaceJSONColumn(ctx context.Context, column, uuid string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("dbgateway: encode %s for %s: %w", column, uuid, err)
	}
	err = g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf(`UPDATE instances SET %s = ? WHERE uuid = ?`, column), encoded, uuid)
		return err
	})
	if err != nil {
		return fmt.Errorf("dbgateway: replace %s for %s: %w", column, uuid, err)
	}
	return nil
}

func (g *Gateway) InstanceFaultCreate(ctx context.Context, fault map[string]any) error {
	encoded, err := json.Marshal(fault)
	if err != nil {
		return fmt.Errorf("dbgateway: encode fault: %w", err)
	}
	uuid, _ := fault["instance_uuid"].(string)
	err = g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO instance_faults (instance_uuid, payload, created_at) VALUES (?, ?, ?)`,
			uuid, encoded, time.Now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("dbgateway: create fault for %s: %w", uuid, err)
	}
	return nil
}

func (g *Gateway) BWUsageUpdate(ctx context.Context, update map[string]any) error {
	uuid, _ := update["uuid"].(string)
	macAddress, _ := update["mac_address"].(string)
	bwIn, _ := update["bw_in"].(int64)
	bwOut, _ := update["bw_out"].(int64)
	err := g.withRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO bw_usage_cache (instance_uuid, mac_address, bw_in, bw_out, last_refreshed)
			 VALUES (?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE bw_in = VALUES(bw_in), bw_out = VALUES(bw_out), last_refreshed = VALUES(last_refreshed)`,
			uuid, macAddress, bwIn, bwOut, time.Now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("dbgateway: update bw usage for %s: %w", uuid, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*model.Instance, error) {
	var inst model.Instance
	var metadataRaw, systemMetadataRaw []byte
	if err := row.Scan(&inst.UUID, &inst.VMState, &inst.TaskState, &inst.Deleted, &inst.Hostname,
		&metadataRaw, &systemMetadataRaw, &inst.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &inst.Metadata); err != nil {
			return nil, fmt.Errorf("dbgateway: decode metadata for %s: %w", inst.UUID, err)
		}
	}
	if len(systemMetadataRaw) > 0 {
		if err := json.Unmarshal(systemMetadataRaw, &inst.SystemMetadata); err != nil {
			return nil, fmt.Errorf("dbgateway: decode system_metadata for %s: %w", inst.UUID, err)
		}
	}
	return &inst, nil
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/webitel/cellmesh/internal/cellstate"
	"github.com/webitel/cellmesh/internal/domain/cellerr"
	"github.com/webitel/cellmesh/internal/domain/cellpath"
	"github.com/webitel/cellmesh/internal/domain/model"
)

// Config holds the `cells.scheduler_*` knobs from SPEC_FULL.md section 6.
type Config struct {
	Retries      int
	RetryDelay   time.Duration
	FilterNames  []string
	WeigherNames []string
}

func DefaultConfig() Config {
	return Config{Retries: 10, RetryDelay: 2 * time.Second}
}

// Scheduler is the cells Scheduler: pick a candidate cell (possibly this
// one) to satisfy a new-instance request, retrying on exhaustion.
type Scheduler struct {
	state     *cellstate.Manager
	db        DB
	forwarder Forwarder
	host      HostScheduler
	cfg       Config
	logger    *slog.Logger
}

func New(state *cellstate.Manager, db DB, forwarder Forwarder, host HostScheduler, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{state: state, db: db, forwarder: forwarder, host: host, cfg: cfg, logger: logger}
}

// RunInstance is the scheduler's entry point (spec.md section 4.5).
func (s *Scheduler) RunInstance(ctx context.Context, ctxt model.RequestContext, hostSchedKwargs map[string]any) (any, error) {
	attempts := maxInt(0, s.cfg.Retries) + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := s.runOnce(ctx, ctxt, hostSchedKwargs)
		if err == nil {
			return nil, nil
		}
		lastErr = err
		if !errors.Is(err, cellerr.ErrNoCellsAvailable) || i == attempts-1 {
			break
		}
		delay := s.cfg.RetryDelay
		if delay <= 0 {
			delay = time.Second
		}
		s.logger.Info("scheduler: no cells available, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.markInstancesError(ctx, ctxt, hostSchedKwargs)
	return nil, lastErr
}

func (s *Scheduler) runOnce(ctx context.Context, ctxt model.RequestContext, hostSchedKwargs map[string]any) error {
	requestSpec, _ := hostSchedKwargs["request_spec"].(map[string]any)
	properties, _ := hostSchedKwargs["filter_properties"].(map[string]any)

	candidates := s.candidateCells()
	if len(candidates) == 0 {
		return cellerr.ErrNoCellsAvailable
	}

	remaining, direct := s.runFilters(candidates, properties)
	if direct != nil {
		return s.tryPath(ctx, ctxt, *direct, hostSchedKwargs, requestSpec)
	}
	if len(remaining) == 0 {
		return cellerr.ErrNoCellsAvailable
	}

	weighed := s.runWeighers(remaining, properties)
	var lastErr error = cellerr.ErrNoCellsAvailable
	for _, wc := range weighed {
		if err := s.tryCell(ctx, ctxt, wc.Cell, hostSchedKwargs, requestSpec); err != nil {
			s.logger.Warn("scheduler: candidate failed, trying next", "cell", wc.Cell.Name, "err", err)
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// candidateCells is this cell's children, plus itself when it has no
// children or carries capacity info of its own (spec.md section 4.5, step
// 1; original's _get_possible_cells).
func (s *Scheduler) candidateCells() []*model.CellRecord {
	children := s.state.GetChildCells()
	me := s.state.GetMyInfo()
	if len(children) == 0 || len(me.Capacities) > 0 {
		children = append(children, me)
	}
	return children
}

func (s *Scheduler) runFilters(cells []*model.CellRecord, properties map[string]any) ([]*model.CellRecord, *cellpath.Path) {
	remaining := cells
	for _, f := range resolveFilters(s.cfg.FilterNames) {
		result := f.FilterCells(remaining, properties)
		if result.DirectRoute != nil {
			return nil, result.DirectRoute
		}
		if len(result.Drop) > 0 {
			remaining = dropNamed(remaining, result.Drop)
		}
	}
	return remaining, nil
}

func dropNamed(cells []*model.CellRecord, drop []string) []*model.CellRecord {
	dropSet := make(map[string]bool, len(drop))
	for _, d := range drop {
		dropSet[d] = true
	}
	out := make([]*model.CellRecord, 0, len(cells))
	for _, c := range cells {
		if !dropSet[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

// runWeighers scores every candidate and returns them stably sorted
// best-to-worst. Candidates are shuffled before weighing so that, with no
// weighers configured (every score 0), the stable sort preserves a random
// order rather than always favoring insertion order (spec.md section 4.5:
// "the simplest valid scheduler ... picks uniformly at random").
func (s *Scheduler) runWeighers(cells []*model.CellRecord, properties map[string]any) []WeighedCell {
	shuffled := make([]*model.CellRecord, len(cells))
	copy(shuffled, cells)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	weighers := resolveWeighers(s.cfg.WeigherNames)
	out := make([]WeighedCell, len(shuffled))
	for i, c := range shuffled {
		var total float64
		for _, w := range weighers {
			total += w.Weigh(c, properties)
		}
		out[i] = WeighedCell{Cell: c, Weight: total}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

func (s *Scheduler) tryCell(ctx context.Context, ctxt model.RequestContext, cell *model.CellRecord, hostSchedKwargs, requestSpec map[string]any) error {
	if cell.IsMe {
		if err := s.createInstancesHere(ctx, ctxt, requestSpec); err != nil {
			return err
		}
		return s.host.RunInstance(ctx, ctxt, hostSchedKwargs)
	}
	target := cellpath.Path{s.state.GetMyInfo().Name, cell.Name}
	return s.forwardTo(ctx, ctxt, target, hostSchedKwargs)
}

func (s *Scheduler) tryPath(ctx context.Context, ctxt model.RequestContext, target cellpath.Path, hostSchedKwargs, requestSpec map[string]any) error {
	if target.Equal(cellpath.Path{s.state.GetMyInfo().Name}) {
		if err := s.createInstancesHere(ctx, ctxt, requestSpec); err != nil {
			return err
		}
		return s.host.RunInstance(ctx, ctxt, hostSchedKwargs)
	}
	return s.forwardTo(ctx, ctxt, target, hostSchedKwargs)
}

func (s *Scheduler) forwardTo(ctx context.Context, ctxt model.RequestContext, target cellpath.Path, hostSchedKwargs map[string]any) error {
	env := s.forwarder.CreateTargetedMessage(ctxt, "schedule_run_instance", hostSchedKwargs, model.DirectionDown, target, false, false)
	_, err := s.forwarder.SendTargeted(ctx, env)
	return err
}

// createInstancesHere pre-creates the DB row(s) a host scheduler expects to
// already exist, broadcasting instance_update_at_top for each (spec.md
// section 4.5, step 5).
func (s *Scheduler) createInstancesHere(ctx context.Context, ctxt model.RequestContext, requestSpec map[string]any) error {
	uuids := stringSlice(requestSpec["instance_uuids"])
	properties, _ := requestSpec["instance_properties"].(map[string]any)
	for _, uuid := range uuids {
		if err := s.db.InstanceCreate(ctx, uuid, properties); err != nil {
			return fmt.Errorf("scheduler: create instance %s: %w", uuid, err)
		}
		instance := cloneWithUUID(properties, uuid)
		env := s.forwarder.CreateBroadcastMessage(ctxt, "instance_update_at_top", map[string]any{"instance": instance}, model.DirectionUp, false, false)
		if _, err := s.forwarder.SendBroadcast(ctx, env); err != nil {
			s.logger.Warn("scheduler: instance_update_at_top broadcast failed", "uuid", uuid, "err", err)
		}
	}
	return nil
}

// markInstancesError transitions every instance_uuid in the request to
// vm_state=error once scheduling has failed everywhere: directly via DB if
// this cell has no parent, otherwise via an upward RPC (spec.md section
// 4.5).
func (s *Scheduler) markInstancesError(ctx context.Context, ctxt model.RequestContext, hostSchedKwargs map[string]any) {
	requestSpec, _ := hostSchedKwargs["request_spec"].(map[string]any)
	uuids := stringSlice(requestSpec["instance_uuids"])
	hasParents := len(s.state.GetParentCells()) > 0
	for _, uuid := range uuids {
		if !hasParents {
			if _, err := s.db.InstanceUpdate(ctx, uuid, map[string]any{"vm_state": model.VMStateError}); err != nil {
				s.logger.Error("scheduler: mark instance error failed", "uuid", uuid, "err", err)
			}
			continue
		}
		myName := s.state.GetMyInfo().Name
		for _, parent := range s.state.GetParentCells() {
			target := cellpath.Path{myName, parent.Name}
			env := s.forwarder.CreateTargetedMessage(ctxt, "instance_update", map[string]any{"uuid": uuid, "vm_state": model.VMStateError}, model.DirectionUp, target, false, false)
			if _, err := s.forwarder.SendTargeted(ctx, env); err != nil {
				s.logger.Error("scheduler: upward instance_update failed", "uuid", uuid, "to", parent.Name, "err", err)
			}
		}
	}
}

func cloneWithUUID(properties map[string]any, uuid string) map[string]any {
	out := make(map[string]any, len(properties)+1)
	for k, v := range properties {
		out[k] = v
	}
	out["uuid"] = uuid
	return out
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

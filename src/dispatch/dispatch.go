// Package dispatch turns incoming events into scheduled pipeline runs.
package dispatch

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/pipeline"
	"github.com/sofmeright/freightline/src/trigger"
)

// Executor runs admitted runs. *pipeline.Runner implements it.
type Executor interface {
	Admit(ctx context.Context, run *pipeline.Run)
	Execute(ctx context.Context, run *pipeline.Run)
	Discard(ctx context.Context, run *pipeline.Run, reason string)
}

// Dispatcher admits events, creates runs and schedules them: per ref through
// the trigger scheduler, globally through a parallelism cap.
type Dispatcher struct {
	evaluator *trigger.Evaluator
	scheduler *trigger.Scheduler
	executor  Executor
	slots     *semaphore.Weighted // nil = unlimited
	ctx       context.Context
	log       zerolog.Logger

	NewID func() string
	Now   func() time.Time
	// Retain caps how many terminal runs stay queryable; the oldest are
	// forgotten first. Zero keeps every run.
	Retain int

	mu   sync.RWMutex
	runs map[string]*pipeline.Run
	wg   sync.WaitGroup
}

// New builds a dispatcher for the trigger policy in cfg. ctx bounds every
// run it executes.
func New(ctx context.Context, cfg config.TriggerConfig, exec Executor, log zerolog.Logger) (*Dispatcher, error) {
	ev, err := trigger.NewEvaluator(cfg)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		evaluator: ev,
		scheduler: trigger.NewScheduler(cfg.MaxConcurrentPerRef, cfg.CancelInProgress),
		executor:  exec,
		ctx:       ctx,
		log:       log,
		NewID:     uuid.NewString,
		Now:       time.Now,
		runs:      make(map[string]*pipeline.Run),
	}
	if cfg.MaxParallelRuns > 0 {
		d.slots = semaphore.NewWeighted(int64(cfg.MaxParallelRuns))
	}
	return d, nil
}

// Submit evaluates ev. A rejected event creates no run and returns the
// decision with a nil run; this is not an error.
func (d *Dispatcher) Submit(ev trigger.Event) (*pipeline.Run, trigger.Decision) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = d.Now().UTC()
	}
	decision := d.evaluator.Evaluate(ev)
	if !decision.Admit {
		d.log.Debug().Str("ref", ev.Ref).Str("type", string(ev.Type)).Str("reason", decision.Reason).Msg("event not admitted")
		return nil, decision
	}

	run := pipeline.NewRun(d.NewID(), ev, decision.Params, d.Now().UTC())
	d.mu.Lock()
	d.runs[run.ID] = run
	d.prune()
	d.mu.Unlock()

	d.log.Info().Str("run_id", run.ID).Str("ref", decision.Params.Ref).Str("actor", ev.Actor).
		Str("reason", decision.Reason).Msg("run admitted")
	d.executor.Admit(d.ctx, run)

	d.wg.Add(1)
	d.scheduler.Submit(&trigger.Job{
		ID:  run.ID,
		Ref: decision.Params.Ref,
		Run: func() {
			defer d.wg.Done()
			d.execute(run)
		},
		Cancel: run.RequestCancel,
		Discard: func() {
			defer d.wg.Done()
			d.executor.Discard(d.ctx, run, "superseded by a newer run on "+decision.Params.Ref)
		},
	})
	return run, decision
}

func (d *Dispatcher) execute(run *pipeline.Run) {
	if d.slots != nil {
		if err := d.slots.Acquire(d.ctx, 1); err != nil {
			d.executor.Discard(d.ctx, run, "dispatcher stopped before the run started")
			return
		}
		defer d.slots.Release(1)
	}
	d.executor.Execute(d.ctx, run)
}

// Cancel requests cancellation of a run: a queued run is discarded, a
// running one stops at its next stage boundary.
func (d *Dispatcher) Cancel(id string) bool {
	if d.scheduler.Cancel(id) {
		return true
	}
	// Waiting on a parallelism slot, not visible to the scheduler.
	if run := d.lookup(id); run != nil && !run.State().Terminal() {
		run.RequestCancel()
		return true
	}
	return false
}

// Get returns a snapshot of the run.
func (d *Dispatcher) Get(id string) (pipeline.Snapshot, bool) {
	run := d.lookup(id)
	if run == nil {
		return pipeline.Snapshot{}, false
	}
	return run.Snapshot(), true
}

// List returns snapshots of every known run, oldest first.
func (d *Dispatcher) List() []pipeline.Snapshot {
	d.mu.RLock()
	out := make([]pipeline.Snapshot, 0, len(d.runs))
	for _, r := range d.runs {
		out = append(out, r.Snapshot())
	}
	d.mu.RUnlock()
	slices.SortFunc(out, byCreated)
	return out
}

// prune forgets the oldest terminal runs beyond Retain. Runs not yet
// terminal are always kept. Callers hold d.mu.
func (d *Dispatcher) prune() {
	if d.Retain <= 0 {
		return
	}
	var done []pipeline.Snapshot
	for _, r := range d.runs {
		if r.State().Terminal() {
			done = append(done, r.Snapshot())
		}
	}
	extra := len(done) - d.Retain
	if extra <= 0 {
		return
	}
	slices.SortFunc(done, byCreated)
	for _, s := range done[:extra] {
		delete(d.runs, s.ID)
	}
	d.log.Debug().Int("forgotten", extra).Msg("pruned terminal runs")
}

func byCreated(a, b pipeline.Snapshot) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Wait blocks until every admitted run is terminal.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) lookup(id string) *pipeline.Run {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.runs[id]
}

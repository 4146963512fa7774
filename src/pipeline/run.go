package pipeline

import (
	"slices"
	"sync"
	"time"

	"github.com/sofmeright/freightline/src/registry"
	"github.com/sofmeright/freightline/src/trigger"
)

// StageName names a run stage.
type StageName string

const (
	StageBuild   StageName = "build"
	StagePublish StageName = "publish"
)

// stageOrder is the fixed order of stages in every run.
var stageOrder = []StageName{StageBuild, StagePublish}

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// StageResult is appended once per stage and never changed afterwards.
type StageResult struct {
	Name      StageName     `json:"name"`
	Status    StageStatus   `json:"status"`
	ExitCode  int           `json:"exitCode"`
	StartedAt time.Time     `json:"startedAt,omitzero"`
	Duration  time.Duration `json:"duration"`
	LogRef    string        `json:"logRef,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// ArtifactRef is what a run records about its artifact.
type ArtifactRef struct {
	Name   string   `json:"name"`
	Digest string   `json:"digest"`
	Commit string   `json:"commit"`
	Branch string   `json:"branch,omitempty"`
	Tags   []string `json:"tags"`
}

// Run is one pipeline execution. Only the Runner changes it; everyone else
// reads snapshots.
type Run struct {
	ID     string
	Event  trigger.Event
	Params trigger.Params

	mu        sync.RWMutex
	state     State
	stages    []StageResult
	failure   *Failure
	commit    string
	artifact  *ArtifactRef
	receipts  []registry.Receipt
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}
}

// NewRun creates a Pending run for an admitted event.
func NewRun(id string, ev trigger.Event, params trigger.Params, now time.Time) *Run {
	return &Run{
		ID:        id,
		Event:     ev,
		Params:    params,
		state:     Pending,
		createdAt: now,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Failure returns the terminal diagnosis, or nil.
func (r *Run) Failure() *Failure {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

// Stages returns a copy of the stage results so far.
func (r *Run) Stages() []StageResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.stages)
}

// Receipts returns a copy of the publish receipts.
func (r *Run) Receipts() []registry.Receipt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.receipts)
}

// ExitCode is 0 for a succeeded run and the failure kind's code otherwise.
// A run that has not finished reports 1.
func (r *Run) ExitCode() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.state == Succeeded:
		return 0
	case r.failure != nil:
		return r.failure.Kind.ExitCode()
	default:
		return KindInternal.ExitCode()
	}
}

// RequestCancel asks the run to stop. A running stage finishes (or times
// out); the next stage is not started. Safe to call more than once.
func (r *Run) RequestCancel() {
	r.cancelOnce.Do(func() { close(r.cancel) })
}

// CancelRequested reports whether RequestCancel was called.
func (r *Run) CancelRequested() bool {
	select {
	case <-r.cancel:
		return true
	default:
		return false
	}
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// transition moves the run along a non-terminal edge.
func (r *Run) transition(to State, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if to.Terminal() || !CanTransition(r.state, to) {
		return &TransitionError{From: r.state, To: to}
	}
	if r.state == Pending {
		r.startedAt = now
	}
	r.state = to
	return nil
}

// terminate moves the run to its terminal state exactly once, recording the
// failure (if any) and marking stages that never ran as skipped.
func (r *Run) terminate(to State, f *Failure, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !to.Terminal() || !CanTransition(r.state, to) {
		return &TransitionError{From: r.state, To: to}
	}
	r.state = to
	r.failure = f
	r.endedAt = now
	for _, name := range stageOrder[len(r.stages):] {
		r.stages = append(r.stages, StageResult{Name: name, Status: StageSkipped})
	}
	close(r.done)
	return nil
}

func (r *Run) appendStage(s StageResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}

func (r *Run) setCommit(c string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commit = c
}

func (r *Run) setArtifact(a *ArtifactRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifact = a
}

func (r *Run) addReceipt(rc registry.Receipt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, rc)
}

// Snapshot is a point-in-time copy of a run, safe to serialize.
type Snapshot struct {
	ID        string             `json:"id"`
	State     State              `json:"state"`
	Event     trigger.Event      `json:"event"`
	Commit    string             `json:"commit,omitempty"`
	Stages    []StageResult      `json:"stages"`
	Failure   *Failure           `json:"failure,omitempty"`
	Artifact  *ArtifactRef       `json:"artifact,omitempty"`
	Receipts  []registry.Receipt `json:"receipts,omitempty"`
	ExitCode  int                `json:"exitCode"`
	CreatedAt time.Time          `json:"createdAt"`
	StartedAt time.Time          `json:"startedAt,omitzero"`
	EndedAt   time.Time          `json:"endedAt,omitzero"`
}

// Snapshot copies the run's current view.
func (r *Run) Snapshot() Snapshot {
	exit := r.ExitCode()
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		ID:        r.ID,
		State:     r.state,
		Event:     r.Event,
		Commit:    r.commit,
		Stages:    slices.Clone(r.stages),
		Failure:   r.failure,
		Receipts:  slices.Clone(r.receipts),
		ExitCode:  exit,
		CreatedAt: r.createdAt,
		StartedAt: r.startedAt,
		EndedAt:   r.endedAt,
	}
	if r.artifact != nil {
		a := *r.artifact
		s.Artifact = &a
	}
	return s
}

// Package status delivers pipeline state transitions to observers: the
// structured log, a NATS subject, and the forge's commit status API.
package status

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sofmeright/freightline/src/pipeline"
)

// Multi fans an event out to every sink. All sinks are tried; their errors
// are joined.
type Multi []pipeline.Sink

func (m Multi) Emit(ctx context.Context, ev pipeline.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each transition as a structured log line.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Emit(_ context.Context, ev pipeline.Event) error {
	var e *zerolog.Event
	switch {
	case ev.State == pipeline.Failed && ev.Kind == pipeline.KindCancelled:
		e = s.Log.Warn()
	case ev.State == pipeline.Failed:
		e = s.Log.Error().Str("kind", string(ev.Kind)).Int("exit_code", ev.ExitCode)
	default:
		e = s.Log.Info()
	}
	e = e.Str("run_id", ev.RunID).Str("state", string(ev.State)).Str("ref", ev.Ref)
	if ev.Commit != "" {
		e = e.Str("commit", ev.Commit)
	}
	if ev.Digest != "" {
		e = e.Str("digest", ev.Digest)
	}
	e.Time("at", ev.Timestamp).Msg(ev.Detail)
	return nil
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (r *Recorder) Emit(_ context.Context, ev pipeline.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns everything recorded so far.
func (r *Recorder) Events() []pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// ForRun returns the events of one run, in emission order.
func (r *Recorder) ForRun(id string) []pipeline.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []pipeline.Event
	for _, ev := range r.events {
		if ev.RunID == id {
			out = append(out, ev)
		}
	}
	return out
}

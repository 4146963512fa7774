package pipeline

import (
	"context"
	"time"

	"github.com/sofmeright/freightline/src/registry"
)

// Event is emitted on every state transition of a run. It never carries
// secret values.
type Event struct {
	RunID     string    `json:"runId"`
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`

	Ref    string `json:"ref"`
	Commit string `json:"commit,omitempty"`
	Actor  string `json:"actor,omitempty"`

	// Set on Failed.
	Kind     Kind `json:"kind,omitempty"`
	ExitCode int  `json:"exitCode"`

	// Set on Succeeded.
	Digest   string             `json:"digest,omitempty"`
	Receipts []registry.Receipt `json:"receipts,omitempty"`
}

// Sink receives status events. Emit must not block for long; a failing sink
// never fails the run.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

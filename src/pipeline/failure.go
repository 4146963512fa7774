package pipeline

import (
	"context"
	"errors"

	"github.com/sofmeright/freightline/src/build"
	"github.com/sofmeright/freightline/src/credential"
	"github.com/sofmeright/freightline/src/registry"
)

// Kind classifies a failed run.
type Kind string

const (
	KindBuild                     Kind = "build"
	KindAuth                      Kind = "auth"
	KindPublishTransientExhausted Kind = "publish_transient_exhausted"
	KindPublishFatal              Kind = "publish_fatal"
	KindTimeout                   Kind = "timeout"
	KindCancelled                 Kind = "cancelled"
	KindInternal                  Kind = "internal"
)

// ExitCode is the process exit status for a run that failed with k.
// Success is 0; every kind has its own non-zero code.
func (k Kind) ExitCode() int {
	switch k {
	case "":
		return 0
	case KindBuild:
		return 10
	case KindAuth:
		return 11
	case KindPublishTransientExhausted:
		return 12
	case KindPublishFatal:
		return 13
	case KindTimeout:
		return 14
	case KindCancelled:
		return 15
	default:
		return 1
	}
}

// Operator reports whether an operator has to act. Cancellation is the only
// kind that does not need one.
func (k Kind) Operator() bool {
	return k != "" && k != KindCancelled
}

// ErrCancelled marks a run stopped by a cancellation request.
var ErrCancelled = errors.New("run cancelled")

// Failure is the terminal diagnosis of a failed run: enough to tell which
// stage failed and why without re-running it.
type Failure struct {
	Kind       Kind        `json:"kind"`
	Stage      StageName   `json:"stage,omitempty"`
	Phase      build.Phase `json:"phase,omitempty"`
	ExitCode   int         `json:"exitCode,omitempty"`
	StatusCode int         `json:"statusCode,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Message    string      `json:"message"`
	LogExcerpt []string    `json:"logExcerpt,omitempty"`
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// Classify maps a component error to a Failure. Stage is left for the
// caller to fill in.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}
	f := &Failure{Kind: KindInternal, Message: err.Error()}

	var (
		be *build.Error
		ae *credential.AuthError
		pe *registry.PublishError
		ff *Failure
	)
	switch {
	case errors.As(err, &ff):
		return ff
	case errors.Is(err, ErrCancelled):
		f.Kind = KindCancelled
	case errors.As(err, &be):
		f.Kind = KindBuild
		if be.Timeout {
			f.Kind = KindTimeout
		}
		f.Stage = StageBuild
		f.Phase = be.Phase
		f.ExitCode = be.ExitCode
		f.LogExcerpt = be.LogExcerpt
	case errors.As(err, &pe):
		f.Stage = StagePublish
		f.StatusCode = pe.StatusCode
		f.Attempts = pe.Attempts
		switch pe.Kind {
		case registry.AuthRejected:
			f.Kind = KindAuth
			f.Reason = string(registry.AuthRejected)
		case registry.Transient:
			f.Kind = KindPublishTransientExhausted
		case registry.Timeout:
			f.Kind = KindTimeout
		default:
			f.Kind = KindPublishFatal
		}
	case errors.As(err, &ae):
		f.Kind = KindAuth
		f.Reason = string(ae.Reason)
	case errors.Is(err, context.DeadlineExceeded):
		f.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		f.Kind = KindCancelled
	}
	// A stage interrupted by shutdown reports the cancellation, not the
	// stage error it surfaced as.
	if f.Kind != KindTimeout && errors.Is(err, context.Canceled) {
		f.Kind = KindCancelled
	}
	return f
}

package status

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sofmeright/freightline/src/forge"
	"github.com/sofmeright/freightline/src/gitver"
	"github.com/sofmeright/freightline/src/pipeline"
)

// ForgeSink sets a commit status for every transition. Events without a
// resolved commit are skipped: there is nothing to attach a status to yet.
type ForgeSink struct {
	Forge     forge.Forge
	Context   string
	TargetURL string
	Log       zerolog.Logger
}

// ForgeState maps a run state to a forge commit status.
func ForgeState(ev pipeline.Event) forge.State {
	switch ev.State {
	case pipeline.Building, pipeline.Publishing:
		return forge.StateRunning
	case pipeline.Succeeded:
		return forge.StateSuccess
	case pipeline.Failed:
		if ev.Kind == pipeline.KindCancelled {
			return forge.StateCancelled
		}
		return forge.StateFailure
	default:
		return forge.StatePending
	}
}

func describe(ev pipeline.Event) string {
	switch ev.State {
	case pipeline.Failed:
		return fmt.Sprintf("%s: %s", ev.Kind, ev.Detail)
	case pipeline.Succeeded:
		return "published " + ev.Digest
	default:
		return string(ev.State)
	}
}

func (s ForgeSink) Emit(ctx context.Context, ev pipeline.Event) error {
	if ev.Commit == "" {
		s.Log.Debug().Str("run_id", ev.RunID).Str("state", string(ev.State)).Msg("no commit yet; forge status skipped")
		return nil
	}
	err := s.Forge.SetCommitStatus(ctx, forge.CommitStatus{
		SHA:         ev.Commit,
		State:       ForgeState(ev),
		Context:     s.Context,
		Description: describe(ev),
		TargetURL:   s.TargetURL,
		Ref:         gitver.ShortRef(ev.Ref),
	})
	if err != nil {
		return fmt.Errorf("%s commit status: %w", s.Forge.Provider(), err)
	}
	return nil
}

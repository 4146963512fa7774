package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/sofmeright/freightline/src/pipeline"
)

const shortSHA = 12

// RunSummary renders a finished (or in-flight) run: context, stages,
// failure diagnosis and publish receipts.
func RunSummary(w io.Writer, snap pipeline.Snapshot, color bool) {
	contextBlock(w, runContext(snap))

	elapsed := snap.EndedAt.Sub(snap.StartedAt)
	if snap.StartedAt.IsZero() || snap.EndedAt.IsZero() {
		elapsed = 0
	}

	sec := NewSection(w, "Stages", elapsed, color)
	for _, st := range snap.Stages {
		sec.stage(string(st.Name), string(st.Status), stageDetail(st, color))
	}
	if len(snap.Stages) == 0 {
		sec.Row("%s", Dimmed("no stages ran", color))
	}
	sec.Separator()
	sec.total(elapsed, string(snap.State), snap.ExitCode)
	sec.Close()

	if snap.Failure != nil {
		FailureSection(w, snap.Failure, color)
	}
	if len(snap.Receipts) > 0 {
		ReceiptSection(w, snap, color)
	}
}

func runContext(snap pipeline.Snapshot) []KV {
	kv := []KV{
		{Key: "run", Value: snap.ID},
		{Key: "state", Value: string(snap.State)},
	}
	if snap.Event.Ref != "" {
		kv = append(kv, KV{Key: "ref", Value: snap.Event.Ref})
	}
	if snap.Event.Type != "" {
		kv = append(kv, KV{Key: "trigger", Value: string(snap.Event.Type)})
	}
	if c := snap.Commit; c != "" {
		if len(c) > shortSHA {
			c = c[:shortSHA]
		}
		kv = append(kv, KV{Key: "commit", Value: c})
	}
	if snap.Event.Actor != "" {
		kv = append(kv, KV{Key: "actor", Value: snap.Event.Actor})
	}
	return kv
}

func stageDetail(st pipeline.StageResult, color bool) string {
	var parts []string
	if st.Duration > 0 {
		parts = append(parts, formatElapsed(st.Duration))
	}
	if st.Status == pipeline.StageFailed && st.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("exit %d", st.ExitCode))
	}
	if st.Detail != "" {
		parts = append(parts, st.Detail)
	}
	if st.LogRef != "" {
		parts = append(parts, Dimmed(st.LogRef, color))
	}
	return strings.Join(parts, "  ")
}

// FailureSection renders the diagnosis of a failed run.
func FailureSection(w io.Writer, f *pipeline.Failure, color bool) {
	sec := NewSection(w, "Failure", 0, color)
	sec.Row("%-12s%s", "kind", kindTag(f.Kind, color))
	if f.Stage != "" {
		sec.Row("%-12s%s", "stage", f.Stage)
	}
	if f.Phase != "" {
		sec.Row("%-12s%s", "phase", f.Phase)
	}
	if f.ExitCode != 0 {
		sec.Row("%-12s%d", "exit", f.ExitCode)
	}
	if f.StatusCode != 0 {
		sec.Row("%-12s%d", "http", f.StatusCode)
	}
	if f.Attempts > 0 {
		sec.Row("%-12s%d", "attempts", f.Attempts)
	}
	if f.Reason != "" {
		sec.Row("%-12s%s", "reason", f.Reason)
	}
	sec.Row("%-12s%s", "message", f.Message)
	if len(f.LogExcerpt) > 0 {
		sec.Separator()
		for _, line := range f.LogExcerpt {
			sec.Row("%s", Dimmed(line, color))
		}
	}
	sec.Close()
}

// ReceiptSection lists every tag the run published.
func ReceiptSection(w io.Writer, snap pipeline.Snapshot, color bool) {
	sec := NewSection(w, "Published", 0, color)
	for _, r := range snap.Receipts {
		detail := fmt.Sprintf("%d attempt(s)", r.Attempts)
		if r.AlreadyPresent {
			detail = "already present"
		}
		sec.Row("%-12s%s  %s", r.Tag, colorize(r.Reference(), colorCyan, color), Dimmed(detail, color))
	}
	sec.Close()
}

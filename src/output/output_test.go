package output

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/freightline/src/pipeline"
	"github.com/sofmeright/freightline/src/registry"
	"github.com/sofmeright/freightline/src/trigger"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func succeededSnapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		ID:     "run-1",
		State:  pipeline.Succeeded,
		Event:  trigger.Event{Type: trigger.Push, Ref: "refs/heads/main", Actor: "ci-bot"},
		Commit: "0123456789abcdef0123456789abcdef01234567",
		Stages: []pipeline.StageResult{
			{Name: pipeline.StageBuild, Status: pipeline.StageSucceeded, Duration: 2 * time.Second, LogRef: "logs/run-1-build.log"},
			{Name: pipeline.StagePublish, Status: pipeline.StageSucceeded, Duration: 500 * time.Millisecond},
		},
		Receipts: []registry.Receipt{
			{Digest: "sha256:abc", Tag: "main", RegistryURL: "registry.example.com", Repository: "team/app", Attempts: 2},
			{Digest: "sha256:abc", Tag: "latest", RegistryURL: "registry.example.com", Repository: "team/app", AlreadyPresent: true},
		},
		StartedAt: t0,
		EndedAt:   t0.Add(3 * time.Second),
	}
}

func failedSnapshot() pipeline.Snapshot {
	return pipeline.Snapshot{
		ID:    "run-2",
		State: pipeline.Failed,
		Event: trigger.Event{Type: trigger.Manual, Ref: "refs/heads/dev"},
		Stages: []pipeline.StageResult{
			{Name: pipeline.StageBuild, Status: pipeline.StageFailed, ExitCode: 10, Duration: time.Second, Detail: "package step failed"},
			{Name: pipeline.StagePublish, Status: pipeline.StageSkipped},
		},
		Failure: &pipeline.Failure{
			Kind:       pipeline.KindBuild,
			Stage:      pipeline.StageBuild,
			Phase:      "package",
			ExitCode:   10,
			Message:    "npm ERR! missing script: build",
			LogExcerpt: []string{"step 4/7", "npm ERR! missing script: build"},
		},
		ExitCode:  10,
		StartedAt: t0,
		EndedAt:   t0.Add(time.Second),
	}
}

func TestRunSummarySucceeded(t *testing.T) {
	var buf bytes.Buffer
	RunSummary(&buf, succeededSnapshot(), false)
	out := buf.String()

	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, "0123456789abcdef0")
	assert.Contains(t, out, "── Stages")
	assert.Contains(t, out, "logs/run-1-build.log")
	assert.Contains(t, out, "exit 0")
	assert.Contains(t, out, "registry.example.com/team/app@sha256:abc")
	assert.Contains(t, out, "already present")
	assert.Contains(t, out, "2 attempt(s)")
	assert.NotContains(t, out, "── Failure")
	assert.NotContains(t, out, "\033[")
}

func TestRunSummaryFailed(t *testing.T) {
	var buf bytes.Buffer
	RunSummary(&buf, failedSnapshot(), false)
	out := buf.String()

	assert.Contains(t, out, "── Failure")
	assert.Contains(t, out, "BUILD")
	assert.Contains(t, out, "package")
	assert.Contains(t, out, "npm ERR! missing script: build")
	assert.Contains(t, out, "exit 10")
	assert.Contains(t, out, "⊘")
	assert.NotContains(t, out, "── Published")
}

func TestRunSummaryWithoutStages(t *testing.T) {
	var buf bytes.Buffer
	RunSummary(&buf, pipeline.Snapshot{ID: "run-3", State: pipeline.Pending}, false)
	assert.Contains(t, buf.String(), "no stages ran")
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "✓", StatusIcon("succeeded", false))
	assert.Equal(t, "✗", StatusIcon("failed", false))
	assert.Equal(t, "⊘", StatusIcon("skipped", false))
	assert.Equal(t, "…", StatusIcon("building", false))
	assert.Equal(t, "\033[32m✓\033[0m", StatusIcon("succeeded", true))
}

func TestKindTag(t *testing.T) {
	assert.Equal(t, "AUTH", kindTag(pipeline.KindAuth, false))
	assert.Equal(t, colorRed+"AUTH"+colorReset, kindTag(pipeline.KindAuth, true))
	assert.Equal(t, colorYellow+"CANCELLED"+colorReset, kindTag(pipeline.KindCancelled, true))
}

func TestSkipped(t *testing.T) {
	var buf bytes.Buffer
	Skipped(&buf, "refs/heads/feature", "branch not matched", false)
	assert.Equal(t, "    ⊘ refs/heads/feature branch not matched\n", buf.String())
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "<1ms", formatElapsed(time.Microsecond))
	assert.Equal(t, "250ms", formatElapsed(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatElapsed(1500*time.Millisecond))
	assert.Equal(t, "2m3.0s", formatElapsed(123*time.Second))
}

func TestUseColorRespectsNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, UseColor())
}

func TestWriteRunJUnit(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, WriteRunJUnit(dir, failedSnapshot()))

	data, err := os.ReadFile(filepath.Join(dir, "freightline.xml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), xml.Header))

	var got JUnitTestSuites
	require.NoError(t, xml.Unmarshal(data, &got))
	assert.Equal(t, 2, got.Tests)
	assert.Equal(t, 1, got.Failures)
	require.Len(t, got.Suites, 1)
	require.Len(t, got.Suites[0].Cases, 2)

	build := got.Suites[0].Cases[0]
	assert.Equal(t, "build", build.Name)
	require.NotNil(t, build.Failure)
	assert.Equal(t, "build", build.Failure.Type)
	assert.Contains(t, build.Failure.Body, "step 4/7")
	assert.Nil(t, got.Suites[0].Cases[1].Failure)
}

func TestSectionStartOutsideGitLab(t *testing.T) {
	t.Setenv("GITLAB_CI", "")
	var buf bytes.Buffer
	SectionStart(&buf, "build", "Build")
	SectionEnd(&buf, "build")
	assert.Empty(t, buf.String())
}

func TestSectionStartInGitLab(t *testing.T) {
	t.Setenv("GITLAB_CI", "true")
	var buf bytes.Buffer
	SectionStartCollapsed(&buf, "publish", "Publish")
	assert.Contains(t, buf.String(), ":publish[collapsed=true]")
}

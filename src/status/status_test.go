package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/forge"
	"github.com/sofmeright/freightline/src/pipeline"
	"github.com/sofmeright/freightline/src/registry"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject, data})
	return nil
}

type fakeForge struct {
	statuses []forge.CommitStatus
}

func (f *fakeForge) Provider() forge.Provider { return forge.GitHub }

func (f *fakeForge) SetCommitStatus(_ context.Context, s forge.CommitStatus) error {
	f.statuses = append(f.statuses, s)
	return nil
}

func succeeded() pipeline.Event {
	return pipeline.Event{
		RunID: "run-1", State: pipeline.Succeeded, Timestamp: at, Ref: "refs/heads/main",
		Commit: "abc1234def", Digest: "sha256:abc",
		Receipts: []registry.Receipt{{Digest: "sha256:abc", Tag: "latest", RegistryURL: "registry.example.com", Repository: "web"}},
	}
}

func TestNATSSink(t *testing.T) {
	conn := &fakeConn{}
	sink := NATSSink{Conn: conn, Subject: "ci.freightline"}

	require.NoError(t, sink.Emit(context.Background(), pipeline.Event{RunID: "run-1", State: pipeline.Building}))
	require.NoError(t, sink.Emit(context.Background(), succeeded()))

	require.Len(t, conn.msgs, 3)
	assert.Equal(t, "ci.freightline.status.run-1", conn.msgs[0].subject)
	assert.Equal(t, "ci.freightline.status.run-1", conn.msgs[1].subject)
	assert.Equal(t, "ci.freightline.artifact", conn.msgs[2].subject)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(conn.msgs[2].data, &rec))
	assert.Equal(t, "sha256:abc", rec["digest"])
	assert.Equal(t, "latest", rec["tag"])
	assert.Equal(t, "registry.example.com", rec["registryUrl"])
}

func TestNATSSinkError(t *testing.T) {
	sink := NATSSink{Conn: &fakeConn{err: errors.New("no responders")}}
	assert.Error(t, sink.Emit(context.Background(), succeeded()))
}

func TestForgeSink(t *testing.T) {
	f := &fakeForge{}
	sink := ForgeSink{Forge: f, Context: "freightline/pipeline", TargetURL: "https://ci/1", Log: zerolog.Nop()}

	require.NoError(t, sink.Emit(context.Background(), pipeline.Event{RunID: "run-1", State: pipeline.Pending}))
	require.NoError(t, sink.Emit(context.Background(), pipeline.Event{RunID: "run-1", State: pipeline.Building, Commit: "abc"}))
	require.NoError(t, sink.Emit(context.Background(), pipeline.Event{
		RunID: "run-1", State: pipeline.Failed, Commit: "abc", Ref: "refs/heads/main",
		Kind: pipeline.KindBuild, Detail: "package exited 1",
	}))

	require.Len(t, f.statuses, 2, "event without commit is skipped")
	assert.Equal(t, forge.StateRunning, f.statuses[0].State)
	assert.Equal(t, forge.StateFailure, f.statuses[1].State)
	assert.Equal(t, "build: package exited 1", f.statuses[1].Description)
	assert.Equal(t, "main", f.statuses[1].Ref)
	assert.Equal(t, "https://ci/1", f.statuses[1].TargetURL)
}

func TestForgeState(t *testing.T) {
	assert.Equal(t, forge.StatePending, ForgeState(pipeline.Event{State: pipeline.Pending}))
	assert.Equal(t, forge.StateRunning, ForgeState(pipeline.Event{State: pipeline.Publishing}))
	assert.Equal(t, forge.StateSuccess, ForgeState(pipeline.Event{State: pipeline.Succeeded}))
	assert.Equal(t, forge.StateFailure, ForgeState(pipeline.Event{State: pipeline.Failed, Kind: pipeline.KindAuth}))
	assert.Equal(t, forge.StateCancelled, ForgeState(pipeline.Event{State: pipeline.Failed, Kind: pipeline.KindCancelled}))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Log: zerolog.New(&buf)}

	require.NoError(t, sink.Emit(context.Background(), pipeline.Event{
		RunID: "run-1", State: pipeline.Failed, Kind: pipeline.KindTimeout, ExitCode: 14, Detail: "build timed out",
	}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "timeout", line["kind"])
	assert.Equal(t, "failed", line["state"])
	assert.Equal(t, "build timed out", line["message"])
}

func TestMultiTriesEverySink(t *testing.T) {
	rec := &Recorder{}
	failing := pipeline.SinkFunc(func(context.Context, pipeline.Event) error { return errors.New("down") })
	m := Multi{failing, rec}

	err := m.Emit(context.Background(), pipeline.Event{RunID: "run-1", State: pipeline.Pending})
	assert.Error(t, err)
	assert.Len(t, rec.Events(), 1)
}

func TestRecorderForRun(t *testing.T) {
	rec := &Recorder{}
	_ = rec.Emit(context.Background(), pipeline.Event{RunID: "a", State: pipeline.Pending})
	_ = rec.Emit(context.Background(), pipeline.Event{RunID: "b", State: pipeline.Pending})
	_ = rec.Emit(context.Background(), pipeline.Event{RunID: "a", State: pipeline.Building})

	got := rec.ForRun("a")
	require.Len(t, got, 2)
	assert.Equal(t, pipeline.Building, got[1].State)
}

func TestFromConfig(t *testing.T) {
	sinks, closeFn, err := FromConfig(config.DefaultStatusConfig(), "", zerolog.Nop())
	require.NoError(t, err)
	defer closeFn()
	require.Len(t, sinks, 1)
	assert.IsType(t, LogSink{}, sinks[0])

	cfg := config.DefaultStatusConfig()
	cfg.Forge = config.ForgeConfig{Provider: "github", Project: "acme/web", Context: "ci"}
	sinks, _, err = FromConfig(cfg, "https://github.com/acme/web.git", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	assert.IsType(t, ForgeSink{}, sinks[1])

	cfg.Forge.Project = "invalid"
	_, _, err = FromConfig(cfg, "", zerolog.Nop())
	assert.Error(t, err)
}

func TestForgeDeliveryIsBounded(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	cfg := config.DefaultStatusConfig()
	cfg.Log = false
	cfg.Timeout = config.Duration(50 * time.Millisecond)
	cfg.Forge = config.ForgeConfig{Provider: "gitea", BaseURL: srv.URL, Project: "acme/web", Context: "ci"}
	sinks, closeFn, err := FromConfig(cfg, "", zerolog.Nop())
	require.NoError(t, err)
	defer closeFn()

	start := time.Now()
	err = sinks.Emit(context.Background(), succeeded())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

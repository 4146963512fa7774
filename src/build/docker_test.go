package build

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocker is an in-process DockerAPI. The container "runs" when started:
// its output is served from stdout/stderr and it exits with exitCode unless
// hang is set.
type fakeDocker struct {
	mu sync.Mutex

	stdout, stderr string
	exitCode       int64
	hang           bool
	onStart        func()
	pullErr        error

	pulled     []string
	config     *container.Config
	hostConfig *container.HostConfig
	removed    []container.RemoveOptions
	removeErr  error // ctx.Err() seen by ContainerRemove
}

func (f *fakeDocker) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"Pull complete"}`)), nil
}

func (f *fakeDocker) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config, f.hostConfig = cfg, host
	return container.CreateResponse{ID: "0123456789abcdef0123"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, container.StartOptions) error {
	if f.onStart != nil {
		f.onStart()
	}
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	if !f.hang {
		waitCh <- container.WaitResponse{StatusCode: f.exitCode}
	}
	return waitCh, errCh
}

func (f *fakeDocker) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, _ string, opts container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, opts)
	f.removeErr = ctx.Err()
	return nil
}

func packageRequest(logs io.Writer) PackageRequest {
	return PackageRequest{
		Workspace: "/tmp/freightline-r1/workspace",
		Image:     "golang:1.25",
		Command:   []string{"go", "build", "-o", "bin/app", "."},
		Env:       map[string]string{"CGO_ENABLED": "0", "GOFLAGS": "-trimpath"},
		Labels:    map[string]string{"io.freightline.run": "r1"},
		Logs:      logs,
	}
}

func TestDockerPackagerStreamsLogsAndExitCode(t *testing.T) {
	fd := &fakeDocker{stdout: "compiling\n", stderr: "main.go:3: undefined: foo\n", exitCode: 2}
	p := &DockerPackager{Client: fd, Log: zerolog.Nop()}

	var logs bytes.Buffer
	code, err := p.Package(context.Background(), packageRequest(&logs))
	require.NoError(t, err)

	assert.Equal(t, 2, code)
	assert.Contains(t, logs.String(), "compiling\n")
	assert.Contains(t, logs.String(), "undefined: foo")
	assert.Equal(t, []string{"golang:1.25"}, fd.pulled)

	require.NotNil(t, fd.config)
	assert.Equal(t, workspaceMount, fd.config.WorkingDir)
	assert.Equal(t, []string{"HOME=/tmp", "CGO_ENABLED=0", "GOFLAGS=-trimpath"}, []string(fd.config.Env))
	assert.Equal(t, "r1", fd.config.Labels["io.freightline.run"])
	require.Len(t, fd.hostConfig.Mounts, 1)
	assert.Equal(t, "/tmp/freightline-r1/workspace", fd.hostConfig.Mounts[0].Source)
	assert.Equal(t, workspaceMount, fd.hostConfig.Mounts[0].Target)

	require.Len(t, fd.removed, 1)
	assert.True(t, fd.removed[0].Force)
}

func TestDockerPackagerSuccess(t *testing.T) {
	fd := &fakeDocker{stdout: "ok\n"}
	p := &DockerPackager{Client: fd, Log: zerolog.Nop()}

	code, err := p.Package(context.Background(), packageRequest(nil))
	require.NoError(t, err)
	assert.Zero(t, code)
	assert.Len(t, fd.removed, 1)
}

func TestDockerPackagerRemovesContainerOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fd := &fakeDocker{hang: true, onStart: cancel}
	p := &DockerPackager{Client: fd, Log: zerolog.Nop()}

	code, err := p.Package(ctx, packageRequest(io.Discard))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, code)

	fd.mu.Lock()
	defer fd.mu.Unlock()
	require.Len(t, fd.removed, 1)
	assert.True(t, fd.removed[0].Force)
	assert.True(t, fd.removed[0].RemoveVolumes)
	assert.NoError(t, fd.removeErr, "removal runs on a live context")
}

func TestDockerPackagerPullFailure(t *testing.T) {
	fd := &fakeDocker{pullErr: errors.New("manifest unknown")}
	p := &DockerPackager{Client: fd, Log: zerolog.Nop()}

	code, err := p.Package(context.Background(), packageRequest(nil))
	assert.Equal(t, -1, code)
	assert.ErrorContains(t, err, "pulling builder image golang:1.25")
	assert.Nil(t, fd.config, "no container is created without the image")
}

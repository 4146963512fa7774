package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
)

// workspaceMount is where the source snapshot appears inside the builder.
const workspaceMount = "/workspace"

// PackageRequest is the input of the package phase.
type PackageRequest struct {
	Workspace string // fresh snapshot of the commit, writable
	Image     string
	Command   []string
	Env       map[string]string
	Labels    map[string]string
	Logs      io.Writer
}

// Packager runs the package phase. A non-zero exit code with a nil error
// means the command ran and failed; an error means it could not be run.
type Packager interface {
	Package(ctx context.Context, req PackageRequest) (int, error)
}

// DockerAPI is the subset of the Docker client used by DockerPackager.
type DockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerPackager runs the package command in a throwaway container created
// from the builder image. Nothing but the bind-mounted workspace survives it.
type DockerPackager struct {
	Client DockerAPI
	Log    zerolog.Logger
}

// NewDockerPackager connects to the Docker daemon. host overrides DOCKER_HOST.
func NewDockerPackager(host string, log zerolog.Logger) (*DockerPackager, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	dc, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create docker client: %w", err)
	}
	return &DockerPackager{Client: dc, Log: log}, nil
}

// Package pulls the builder image, runs the command and removes the container.
func (d *DockerPackager) Package(ctx context.Context, req PackageRequest) (int, error) {
	rc, err := d.Client.ImagePull(ctx, req.Image, image.PullOptions{})
	if err != nil {
		return -1, fmt.Errorf("pulling builder image %s: %w", req.Image, err)
	}
	_, _ = io.Copy(io.Discard, rc)
	rc.Close()

	env := make([]string, 0, len(req.Env)+1)
	env = append(env, "HOME=/tmp")
	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+req.Env[k])
	}

	created, err := d.Client.ContainerCreate(ctx,
		&container.Config{
			Image:      req.Image,
			Cmd:        req.Command,
			Env:        env,
			WorkingDir: workspaceMount,
			Labels:     req.Labels,
			User:       fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:   mount.TypeBind,
				Source: req.Workspace,
				Target: workspaceMount,
			}},
		},
		nil, nil, "")
	if err != nil {
		return -1, fmt.Errorf("creating build container: %w", err)
	}
	id := created.ID
	log := d.Log.With().Str("container", shortID(id)).Logger()

	defer func() {
		// the run's context may already be done; removal must still happen
		rmCtx := context.WithoutCancel(ctx)
		if err := d.Client.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			log.Warn().Err(err).Msg("unable to remove build container")
		}
	}()

	waitCh, waitErrCh := d.Client.ContainerWait(ctx, id, container.WaitConditionNextExit)

	if err := d.Client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return -1, fmt.Errorf("starting build container: %w", err)
	}
	log.Debug().Strs("cmd", req.Command).Msg("build container started")

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		out, err := d.Client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
		if err != nil {
			log.Warn().Err(err).Msg("unable to follow build container logs")
			return
		}
		defer out.Close()
		w := req.Logs
		if w == nil {
			w = io.Discard
		}
		_, _ = stdcopy.StdCopy(w, w, out)
	}()

	select {
	case res := <-waitCh:
		<-logsDone
		if res.Error != nil && res.Error.Message != "" {
			return -1, fmt.Errorf("waiting for build container: %s", res.Error.Message)
		}
		return int(res.StatusCode), nil
	case err := <-waitErrCh:
		return -1, err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// AssembleRequest is the input of the image phase.
type AssembleRequest struct {
	ContextDir string // contains the packaged unit and nothing else
	Dockerfile string // path to the runtime Dockerfile
	Platforms  []string
	Labels     map[string]string
	LayoutDir  string // OCI layout destination
	Logs       io.Writer
}

// AssembleResult carries what the image phase learned besides the layout.
type AssembleResult struct {
	ExitCode int
	Layers   []LayerEvent
}

// Assembler runs the image phase. A non-zero ExitCode with a nil error means
// the tool ran and failed; an error means it could not be run at all.
type Assembler interface {
	Assemble(ctx context.Context, req AssembleRequest) (AssembleResult, error)
}

// Buildx wraps docker buildx commands.
type Buildx struct {
	// Builder is the buildx builder instance; created on first use if missing.
	Builder string
	Log     zerolog.Logger

	// ensure bootstraps the builder; nil means EnsureBuilder.
	ensure func(ctx context.Context) error

	mu    sync.Mutex
	ready bool
}

// NewBuildx creates a Buildx assembler using the named builder.
func NewBuildx(builder string, log zerolog.Logger) *Buildx {
	if builder == "" {
		builder = "freightline"
	}
	return &Buildx{Builder: builder, Log: log}
}

// Assemble builds the runtime image into an OCI layout.
func (bx *Buildx) Assemble(ctx context.Context, req AssembleRequest) (AssembleResult, error) {
	if err := bx.prepare(ctx); err != nil {
		return AssembleResult{ExitCode: -1}, err
	}

	args := bx.buildArgs(req)
	bx.Log.Debug().Strs("args", args).Msg("exec docker")

	var captured bytes.Buffer
	out := io.Writer(&captured)
	if req.Logs != nil {
		out = io.MultiWriter(&captured, req.Logs)
	}

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	res := AssembleResult{Layers: ParseBuildxOutput(captured.String())}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("docker buildx build: %w", err)
	}
	return res, nil
}

// prepare makes sure the builder exists. A failed attempt is not remembered;
// the next build tries again under its own context.
func (bx *Buildx) prepare(ctx context.Context) error {
	bx.mu.Lock()
	defer bx.mu.Unlock()
	if bx.ready {
		return nil
	}
	ensure := bx.ensure
	if ensure == nil {
		ensure = bx.EnsureBuilder
	}
	if err := ensure(ctx); err != nil {
		return err
	}
	bx.ready = true
	return nil
}

// buildArgs constructs the docker buildx build argument list.
func (bx *Buildx) buildArgs(req AssembleRequest) []string {
	args := []string{"buildx", "build", "--builder", bx.Builder, "--progress", "plain"}

	if req.Dockerfile != "" {
		args = append(args, "--file", req.Dockerfile)
	}

	if len(req.Platforms) > 0 {
		args = append(args, "--platform", strings.Join(req.Platforms, ","))
	}

	keys := make([]string, 0, len(req.Labels))
	for k := range req.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, req.Labels[k]))
	}

	// Deterministic layout: no provenance attestation manifests alongside the image.
	args = append(args, "--provenance=false")
	args = append(args, "--output", fmt.Sprintf("type=oci,dest=%s,tar=false", req.LayoutDir))

	return append(args, req.ContextDir)
}

// EnsureBuilder checks that the buildx builder exists and creates one if
// needed. The docker driver cannot export OCI layouts, so the builder uses
// the docker-container driver.
func (bx *Buildx) EnsureBuilder(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "docker", "buildx", "inspect", bx.Builder)
	if err := cmd.Run(); err == nil {
		return nil
	}

	var stderr bytes.Buffer
	create := exec.CommandContext(ctx, "docker", "buildx", "create", "--driver", "docker-container", "--name", bx.Builder)
	create.Stderr = &stderr
	if err := create.Run(); err != nil {
		return fmt.Errorf("creating buildx builder %q: %w: %s", bx.Builder, err, strings.TrimSpace(stderr.String()))
	}
	bx.Log.Info().Str("builder", bx.Builder).Msg("created buildx builder")
	return nil
}

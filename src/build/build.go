// Package build turns a source commit into a runtime container image in two
// sequential phases. The package phase runs the project's build command in a
// throwaway builder container over a fresh snapshot of the commit. The image
// phase wraps only the packaged output into the runtime base image and exports
// it as an OCI layout. Build tooling never reaches the published image.
package build

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/gitver"
)

// Phase names a build sub-step.
type Phase string

const (
	PhasePackage Phase = "package"
	PhaseImage   Phase = "image"
)

// Spec is the declarative build input, resolved from configuration.
type Spec struct {
	BuilderImage    string
	PackageCommand  []string
	Env             map[string]string
	Output          string
	RuntimeImage    string
	Entrypoint      []string
	Dockerfile      string // optional runtime Dockerfile, relative to the workspace
	ArtifactName    string
	Platforms       []string
	Labels          map[string]string
	LogExcerptLines int
}

// SpecFromConfig maps the build section of the config file.
func SpecFromConfig(cfg config.BuildConfig) Spec {
	return Spec{
		BuilderImage:    cfg.BuilderImage,
		PackageCommand:  cfg.PackageCommand,
		Env:             cfg.Env,
		Output:          cfg.Output,
		RuntimeImage:    cfg.RuntimeImage,
		Entrypoint:      cfg.Entrypoint,
		Dockerfile:      cfg.Dockerfile,
		ArtifactName:    cfg.ArtifactName,
		Platforms:       cfg.Platforms,
		Labels:          cfg.Labels,
		LogExcerptLines: cfg.LogExcerptLines,
	}
}

// Artifact is the single output of a successful build. It is read-only once
// returned; the publisher only references it.
type Artifact struct {
	Name       string
	Digest     digest.Digest
	Descriptor ocispec.Descriptor
	Source     gitver.Source
	Tags       []string
	LayoutDir  string // OCI image layout holding the image
	Layers     []LayerEvent
	Duration   time.Duration

	workDir string
}

// Cleanup removes the artifact's on-disk layout. Safe to call twice.
func (a *Artifact) Cleanup() error {
	if a == nil || a.workDir == "" {
		return nil
	}
	err := os.RemoveAll(a.workDir)
	a.workDir = ""
	return err
}

// Error is a failed build. ExitCode is the process exit status of the failing
// phase, or -1 when the phase failed before or around the process (missing
// output, runtime unavailable).
type Error struct {
	Phase      Phase
	ExitCode   int
	LogExcerpt []string
	Timeout    bool
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "build %s phase", e.Phase)
	switch {
	case e.Timeout:
		b.WriteString(" timed out")
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, " exited %d", e.ExitCode)
	default:
		b.WriteString(" failed")
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

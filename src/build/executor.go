package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/gitver"
	"github.com/sofmeright/freightline/src/redact"
)

// Request is one build: what to build and where its logs go.
type Request struct {
	RunID  string
	Source gitver.Source
	Spec   Spec
	Tags   []string
	Logs   io.Writer // full log stream; excerpts are kept separately
	Redact *redact.Redactor
}

// Executor runs the package phase and then the image phase, stopping at the
// first failure. Each build gets its own work directory; nothing is shared
// between builds.
type Executor struct {
	Packager  Packager
	Assembler Assembler

	// WorkDir is the parent of per-build directories. Default: os.TempDir().
	WorkDir string

	// Snapshot exports the commit into a fresh workspace.
	// Default: gitver.Snapshot.
	Snapshot func(ctx context.Context, src gitver.Source, dest string) error

	Log zerolog.Logger
}

// Build produces exactly one Artifact or a *Error.
func (e *Executor) Build(ctx context.Context, req Request) (*Artifact, error) {
	start := time.Now()
	spec := req.Spec

	if err := config.CheckOutputPath(spec.Output); err != nil {
		return nil, &Error{Phase: PhasePackage, ExitCode: -1, Err: fmt.Errorf("package output: %w", err)}
	}

	workDir, err := os.MkdirTemp(e.WorkDir, "freightline-"+req.RunID+"-")
	if err != nil {
		return nil, &Error{Phase: PhasePackage, ExitCode: -1, Err: fmt.Errorf("creating work directory: %w", err)}
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.RemoveAll(workDir)
		}
	}()

	log := e.Log.With().Str("run_id", req.RunID).Logger()
	tail := newTailWriter(spec.LogExcerptLines, req.Logs)
	fail := func(phase Phase, code int, err error) *Error {
		be := &Error{Phase: phase, ExitCode: code, Err: err}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			be.Timeout = true
		}
		be.LogExcerpt = req.Redact.Lines(tail.Lines())
		return be
	}

	// ── Phase (a): package ────────────────────────────────────────────────

	workspace := filepath.Join(workDir, "workspace")
	snapshot := e.Snapshot
	if snapshot == nil {
		snapshot = gitver.Snapshot
	}
	if err := snapshot(ctx, req.Source, workspace); err != nil {
		return nil, fail(PhasePackage, -1, fmt.Errorf("preparing workspace: %w", err))
	}

	log.Info().Str("phase", string(PhasePackage)).Str("image", spec.BuilderImage).Msg("build phase started")
	code, err := e.Packager.Package(ctx, PackageRequest{
		Workspace: workspace,
		Image:     spec.BuilderImage,
		Command:   spec.PackageCommand,
		Env:       spec.Env,
		Labels:    map[string]string{"io.freightline.run": req.RunID},
		Logs:      tail,
	})
	if err != nil {
		return nil, fail(PhasePackage, -1, err)
	}
	if code != 0 {
		return nil, fail(PhasePackage, code, fmt.Errorf("package command %q failed", strings.Join(spec.PackageCommand, " ")))
	}

	unitPath := filepath.Join(workspace, filepath.FromSlash(spec.Output))
	if _, err := os.Stat(unitPath); err != nil {
		return nil, fail(PhasePackage, -1, fmt.Errorf("package output %s not produced: %w", spec.Output, err))
	}

	// ── Phase (b): image ──────────────────────────────────────────────────

	contextDir := filepath.Join(workDir, "context")
	unit := filepath.Base(unitPath)
	if err := copyTree(unitPath, filepath.Join(contextDir, unit)); err != nil {
		return nil, fail(PhaseImage, -1, fmt.Errorf("staging packaged unit: %w", err))
	}

	dockerfile, err := e.runtimeDockerfile(spec, workspace, contextDir, unit)
	if err != nil {
		return nil, fail(PhaseImage, -1, err)
	}

	// Build-only state goes before the image phase reads anything else.
	if err := os.RemoveAll(workspace); err != nil {
		log.Warn().Err(err).Msg("unable to remove package workspace")
	}

	layoutDir := filepath.Join(workDir, "layout")
	log.Info().Str("phase", string(PhaseImage)).Str("image", spec.RuntimeImage).Msg("build phase started")
	res, err := e.Assembler.Assemble(ctx, AssembleRequest{
		ContextDir: contextDir,
		Dockerfile: dockerfile,
		Platforms:  spec.Platforms,
		Labels:     imageLabels(spec, req.Source),
		LayoutDir:  layoutDir,
		Logs:       tail,
	})
	if err != nil {
		return nil, fail(PhaseImage, -1, err)
	}
	if res.ExitCode != 0 {
		return nil, fail(PhaseImage, res.ExitCode, errors.New("image build failed"))
	}

	desc, err := ReadLayout(layoutDir)
	if err != nil {
		return nil, fail(PhaseImage, -1, err)
	}
	_ = os.RemoveAll(contextDir)

	keep = true
	art := &Artifact{
		Name:       spec.ArtifactName,
		Digest:     desc.Digest,
		Descriptor: desc,
		Source:     req.Source,
		Tags:       append([]string(nil), req.Tags...),
		LayoutDir:  layoutDir,
		Layers:     res.Layers,
		Duration:   time.Since(start),
		workDir:    workDir,
	}
	log.Info().Str("digest", art.Digest.String()).Int("layers", len(art.Layers)).
		Int("cached", CachedCount(art.Layers)).Msg("artifact built")
	return art, nil
}

// runtimeDockerfile writes the Dockerfile used by the image phase into a
// sibling of the build context and returns its path.
func (e *Executor) runtimeDockerfile(spec Spec, workspace, contextDir, unit string) (string, error) {
	var content []byte
	if spec.Dockerfile != "" {
		data, err := os.ReadFile(filepath.Join(workspace, filepath.FromSlash(spec.Dockerfile)))
		if err != nil {
			return "", fmt.Errorf("reading runtime Dockerfile: %w", err)
		}
		info, err := ParseDockerfile(strings.NewReader(string(data)))
		if err != nil {
			return "", err
		}
		if err := checkRuntimeDockerfile(info); err != nil {
			return "", err
		}
		content = data
	} else {
		content = []byte(renderDockerfile(spec, unit))
	}

	path := filepath.Join(filepath.Dir(contextDir), "Dockerfile")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing runtime Dockerfile: %w", err)
	}
	return path, nil
}

func imageLabels(spec Spec, src gitver.Source) map[string]string {
	labels := map[string]string{
		"org.opencontainers.image.revision": src.Commit,
	}
	if src.RemoteURL != "" {
		labels["org.opencontainers.image.source"] = src.RemoteURL
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}
	return labels
}

// copyTree copies a file or directory to dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package build

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofmeright/freightline/src/gitver"
	"github.com/sofmeright/freightline/src/redact"
)

type fakePackager struct {
	code   int
	err    error
	output string // file written into the workspace on success
	logs   string
	block  bool
	seen   PackageRequest
}

func (f *fakePackager) Package(ctx context.Context, req PackageRequest) (int, error) {
	f.seen = req
	if f.logs != "" {
		_, _ = req.Logs.Write([]byte(f.logs))
	}
	if f.block {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	if f.output != "" {
		path := filepath.Join(req.Workspace, f.output)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return -1, err
		}
		if err := os.WriteFile(path, []byte("jar bytes"), 0o644); err != nil {
			return -1, err
		}
	}
	return f.code, f.err
}

type fakeAssembler struct {
	calls      int
	code       int
	dockerfile string
	context    []string
}

func (f *fakeAssembler) Assemble(_ context.Context, req AssembleRequest) (AssembleResult, error) {
	f.calls++
	data, err := os.ReadFile(req.Dockerfile)
	if err != nil {
		return AssembleResult{}, err
	}
	f.dockerfile = string(data)
	entries, err := os.ReadDir(req.ContextDir)
	if err != nil {
		return AssembleResult{}, err
	}
	for _, e := range entries {
		f.context = append(f.context, e.Name())
	}
	if f.code != 0 {
		return AssembleResult{ExitCode: f.code}, nil
	}
	if _, err := writeLayout(req.LayoutDir, []byte(`{"schemaVersion":2}`)); err != nil {
		return AssembleResult{}, err
	}
	return AssembleResult{Layers: []LayerEvent{{Instruction: "FROM", Cached: true}, {Instruction: "COPY"}}}, nil
}

// writeLayout writes a minimal single-manifest OCI layout.
func writeLayout(dir string, manifest []byte) (digest.Digest, error) {
	d := digest.FromBytes(manifest)
	blobDir := filepath.Join(dir, ocispec.ImageBlobsDir, d.Algorithm().String())
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(blobDir, d.Encoded()), manifest, 0o644); err != nil {
		return "", err
	}

	idx := ocispec.Index{Manifests: []ocispec.Descriptor{{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    d,
		Size:      int64(len(manifest)),
	}}}
	idx.SchemaVersion = 2
	data, err := json.Marshal(idx)
	if err != nil {
		return "", err
	}
	return d, os.WriteFile(filepath.Join(dir, ocispec.ImageIndexFile), data, 0o644)
}

func fakeSnapshot(files map[string]string) func(context.Context, gitver.Source, string) error {
	return func(_ context.Context, _ gitver.Source, dest string) error {
		for name, content := range files {
			p := filepath.Join(dest, name)
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
				return err
			}
		}
		return nil
	}
}

func testSpec() Spec {
	return Spec{
		BuilderImage:    "maven:3.9",
		PackageCommand:  []string{"mvn", "package"},
		Output:          "target/app.jar",
		RuntimeImage:    "eclipse-temurin:21-jre",
		Entrypoint:      []string{"java", "-jar", "/app/app.jar"},
		ArtifactName:    "team/app",
		LogExcerptLines: 3,
	}
}

func newExecutor(t *testing.T, p Packager, a Assembler) *Executor {
	return &Executor{
		Packager:  p,
		Assembler: a,
		WorkDir:   t.TempDir(),
		Snapshot:  fakeSnapshot(map[string]string{"pom.xml": "<project/>"}),
		Log:       zerolog.Nop(),
	}
}

func TestBuildSuccess(t *testing.T) {
	asm := &fakeAssembler{}
	e := newExecutor(t, &fakePackager{output: "target/app.jar"}, asm)

	art, err := e.Build(context.Background(), Request{
		RunID:  "r1",
		Source: gitver.Source{Commit: "abc1234def"},
		Spec:   testSpec(),
		Tags:   []string{"latest"},
	})
	require.NoError(t, err)

	assert.Equal(t, digest.FromBytes([]byte(`{"schemaVersion":2}`)), art.Digest)
	assert.Equal(t, "team/app", art.Name)
	assert.Equal(t, []string{"latest"}, art.Tags)
	assert.DirExists(t, art.LayoutDir)
	assert.Equal(t, 1, CachedCount(art.Layers))

	// only the packaged unit reaches the image context
	assert.Equal(t, []string{"app.jar"}, asm.context)
	assert.Contains(t, asm.dockerfile, "FROM eclipse-temurin:21-jre\n")
	assert.Contains(t, asm.dockerfile, `COPY ["app.jar","/app/app.jar"]`)
	assert.Contains(t, asm.dockerfile, `ENTRYPOINT ["java","-jar","/app/app.jar"]`)
	assert.NotContains(t, asm.dockerfile, "maven")

	// workspace is gone, layout remains until cleanup
	assert.NoDirExists(t, filepath.Join(filepath.Dir(art.LayoutDir), "workspace"))
	require.NoError(t, art.Cleanup())
	assert.NoDirExists(t, art.LayoutDir)
	assert.NoError(t, art.Cleanup())
}

func TestBuildPackageFailure(t *testing.T) {
	asm := &fakeAssembler{}
	pkg := &fakePackager{code: 1, logs: "line1\nline2\nline3\nline4\n[ERROR] compilation failed\n"}
	e := newExecutor(t, pkg, asm)

	art, err := e.Build(context.Background(), Request{RunID: "r2", Spec: testSpec()})
	assert.Nil(t, art)

	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, PhasePackage, be.Phase)
	assert.Equal(t, 1, be.ExitCode)
	assert.False(t, be.Timeout)
	assert.Equal(t, []string{"line3", "line4", "[ERROR] compilation failed"}, be.LogExcerpt)
	assert.Zero(t, asm.calls, "image phase never starts after a package failure")

	entries, err := os.ReadDir(e.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "failed builds leave nothing behind")
}

func TestBuildMissingOutput(t *testing.T) {
	e := newExecutor(t, &fakePackager{}, &fakeAssembler{})

	_, err := e.Build(context.Background(), Request{RunID: "r3", Spec: testSpec()})
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, PhasePackage, be.Phase)
	assert.Equal(t, -1, be.ExitCode)
	assert.Contains(t, be.Error(), "target/app.jar")
}

func TestBuildImageFailure(t *testing.T) {
	e := newExecutor(t, &fakePackager{output: "target/app.jar"}, &fakeAssembler{code: 2})

	_, err := e.Build(context.Background(), Request{RunID: "r4", Spec: testSpec()})
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, PhaseImage, be.Phase)
	assert.Equal(t, 2, be.ExitCode)
}

func TestBuildTimeout(t *testing.T) {
	e := newExecutor(t, &fakePackager{block: true}, &fakeAssembler{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Build(ctx, Request{RunID: "r5", Spec: testSpec()})
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.True(t, be.Timeout)
	assert.Equal(t, PhasePackage, be.Phase)
	assert.Contains(t, be.Error(), "timed out")
}

func TestBuildRedactsExcerpt(t *testing.T) {
	pkg := &fakePackager{code: 1, logs: "using token hunter2-secret-value\n"}
	e := newExecutor(t, pkg, &fakeAssembler{})

	_, err := e.Build(context.Background(), Request{
		RunID:  "r6",
		Spec:   testSpec(),
		Redact: redact.New(false, "hunter2-secret-value"),
	})
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, []string{"using token ****"}, be.LogExcerpt)
}

func TestBuildRejectsMultiStageRuntimeDockerfile(t *testing.T) {
	e := newExecutor(t, &fakePackager{output: "target/app.jar"}, &fakeAssembler{})
	e.Snapshot = fakeSnapshot(map[string]string{
		"Dockerfile.runtime": "FROM maven AS build\nRUN mvn package\nFROM alpine\nCOPY app.jar /app.jar\n",
	})
	spec := testSpec()
	spec.Dockerfile = "Dockerfile.runtime"

	_, err := e.Build(context.Background(), Request{RunID: "r7", Spec: spec})
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, PhaseImage, be.Phase)
	assert.Contains(t, be.Error(), "2 stages")
}

func TestParseBuildxOutput(t *testing.T) {
	out := strings.Join([]string{
		"#1 [internal] load build definition from Dockerfile",
		"#1 DONE 0.0s",
		"#5 [1/3] FROM docker.io/library/eclipse-temurin:21-jre@sha256:abc",
		"#5 CACHED",
		"#6 [2/3] WORKDIR /app",
		"#6 DONE 0.1s",
		"#7 [3/3] COPY [app.jar /app/app.jar]",
		"#7 DONE 1.5s",
		"#8 exporting to oci image format",
		"#8 DONE 0.4s",
	}, "\n")

	layers := ParseBuildxOutput(out)
	require.Len(t, layers, 3)
	assert.Equal(t, "FROM", layers[0].Instruction)
	assert.True(t, layers[0].Cached)
	assert.Equal(t, "3/3", layers[2].Step)
	assert.Equal(t, 1500*time.Millisecond, layers[2].Duration)
}

func TestReadLayoutErrors(t *testing.T) {
	_, err := ReadLayout(t.TempDir())
	assert.Error(t, err)

	dir := t.TempDir()
	d, err := writeLayout(dir, []byte("manifest"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, ocispec.ImageBlobsDir, "sha256", d.Encoded())))
	_, err = ReadLayout(dir)
	assert.ErrorContains(t, err, "blob missing")
}

func TestBuildxArgs(t *testing.T) {
	bx := NewBuildx("", zerolog.Nop())
	args := bx.buildArgs(AssembleRequest{
		ContextDir: "/w/context",
		Dockerfile: "/w/Dockerfile",
		Platforms:  []string{"linux/amd64", "linux/arm64"},
		Labels:     map[string]string{"b": "2", "a": "1"},
		LayoutDir:  "/w/layout",
	})
	assert.Equal(t, []string{
		"buildx", "build", "--builder", "freightline", "--progress", "plain",
		"--file", "/w/Dockerfile",
		"--platform", "linux/amd64,linux/arm64",
		"--label", "a=1", "--label", "b=2",
		"--provenance=false",
		"--output", "type=oci,dest=/w/layout,tar=false",
		"/w/context",
	}, args)
}

func TestBuildRejectsWorkspaceRootOutput(t *testing.T) {
	for _, out := range []string{".", "./", "./.", ""} {
		t.Run(out, func(t *testing.T) {
			pkg := &fakePackager{}
			asm := &fakeAssembler{}
			e := newExecutor(t, pkg, asm)
			spec := testSpec()
			spec.Output = out

			_, err := e.Build(context.Background(), Request{RunID: "r7", Spec: spec})
			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, PhasePackage, be.Phase)
			assert.Equal(t, -1, be.ExitCode)
			assert.Empty(t, pkg.seen.Image, "package command never runs")
			assert.Zero(t, asm.calls)
		})
	}
}

func TestBuildxRetriesBuilderBootstrap(t *testing.T) {
	bx := NewBuildx("", zerolog.Nop())
	var calls int
	bx.ensure = func(ctx context.Context) error {
		calls++
		return ctx.Err()
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, bx.prepare(cancelled), context.Canceled)

	require.NoError(t, bx.prepare(context.Background()))
	require.NoError(t, bx.prepare(context.Background()))
	assert.Equal(t, 2, calls, "bootstrap is retried after a failure and skipped once it succeeded")
}

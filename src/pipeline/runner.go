package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/sofmeright/freightline/src/build"
	"github.com/sofmeright/freightline/src/credential"
	"github.com/sofmeright/freightline/src/gitver"
	"github.com/sofmeright/freightline/src/redact"
	"github.com/sofmeright/freightline/src/registry"
)

// Builder produces one artifact per call.
type Builder interface {
	Build(ctx context.Context, req build.Request) (*build.Artifact, error)
}

// Publisher pushes an artifact under one tag.
type Publisher interface {
	Publish(ctx context.Context, art *build.Artifact, cred *credential.Credential, tag string) (*registry.Receipt, error)
}

// CredentialSession is the run-scoped view of the secret store.
type CredentialSession interface {
	RegistryURL() string
	SecretValues() []string
	Resolve(ctx context.Context, req credential.ScopeRequest) (*credential.Credential, error)
	Close()
}

// Credentials opens one session per run.
type Credentials interface {
	Open(ctx context.Context) (CredentialSession, error)
}

// CredentialsFrom adapts a credential.Provider.
func CredentialsFrom(p *credential.Provider) Credentials {
	return providerCredentials{p}
}

type providerCredentials struct{ p *credential.Provider }

func (c providerCredentials) Open(ctx context.Context) (CredentialSession, error) {
	s, err := c.p.Open(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Runner executes runs. One Runner serves every run; it holds no per-run
// state, so runs on different workers never share anything mutable.
type Runner struct {
	Builder     Builder
	Publisher   Publisher
	Credentials Credentials
	Sink        Sink

	Spec         build.Spec
	TagTemplates []string
	// Repository is the image path; empty = Spec.ArtifactName.
	Repository string
	// RegistryURL overrides the REGISTRY_URL secret.
	RegistryURL string

	BuildTimeout   time.Duration
	PublishTimeout time.Duration
	// StatusTimeout bounds each status delivery. Zero means no bound.
	StatusTimeout time.Duration

	// RecordFile receives the artifact record on success. Empty = not written.
	RecordFile string

	// Workspace is the checkout the runs build from.
	Workspace string

	// LogDir receives <run>-build.log per run. Empty = no log file.
	LogDir string
	// LogStream, when set, also receives the (redacted) build log.
	LogStream io.Writer

	// ScanSecrets runs build output through the secret detector on top of
	// masking known secret values.
	ScanSecrets bool

	ResolveSource func(dir, rev string) (gitver.Source, error)
	DetectVersion func(src gitver.Source) (*gitver.VersionInfo, error)

	Now func() time.Time
	Log zerolog.Logger
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Admit announces a newly created run as Pending.
func (r *Runner) Admit(ctx context.Context, run *Run) {
	r.emit(ctx, run, Pending, "run admitted", nil)
}

// Discard fails a run that never started, e.g. one superseded in the queue.
func (r *Runner) Discard(ctx context.Context, run *Run, reason string) {
	r.finish(ctx, run, Failed, reason, &Failure{Kind: KindCancelled, Message: reason})
}

// Execute drives run from Pending to a terminal state. It returns when the
// run is terminal; the outcome is on the run itself.
func (r *Runner) Execute(ctx context.Context, run *Run) {
	log := r.Log.With().Str("run_id", run.ID).Str("ref", run.Params.Ref).Logger()

	if run.CancelRequested() {
		r.Discard(ctx, run, "cancelled before start")
		return
	}
	if err := run.transition(Building, r.now()); err != nil {
		log.Error().Err(err).Msg("run not startable")
		return
	}
	r.emit(ctx, run, Building, "build started", nil)

	res := r.execute(ctx, run, log)

	// Tear down before the terminal status goes out: once a run is
	// reported terminal its credential and workspace are gone.
	if res.session != nil {
		res.session.Close()
	}
	if res.artifact != nil {
		if err := res.artifact.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("unable to remove artifact layout")
		}
	}

	if res.failure != nil {
		log.Error().Str("kind", string(res.failure.Kind)).Str("stage", string(res.failure.Stage)).
			Msg(res.failure.Message)
		r.finish(ctx, run, Failed, res.failure.Message, res.failure)
		return
	}
	log.Info().Int("receipts", len(run.Receipts())).Msg("run succeeded")
	r.finish(ctx, run, Succeeded, "published", nil)
}

type outcome struct {
	session  CredentialSession
	artifact *build.Artifact
	failure  *Failure
}

func (r *Runner) execute(ctx context.Context, run *Run, log zerolog.Logger) (res outcome) {
	fail := func(stage StageName, err error, red *redact.Redactor) outcome {
		f := Classify(err)
		if f.Stage == "" {
			f.Stage = stage
		}
		f.Message = red.String(f.Message)
		res.failure = f
		return res
	}

	// ── Run start: secrets, source, tags ──────────────────────────────────

	session, err := r.Credentials.Open(ctx)
	if err != nil {
		return fail("", err, nil)
	}
	res.session = session
	red := redact.New(r.ScanSecrets, session.SecretValues()...)

	src, tags, err := r.resolveInput(run)
	if err != nil {
		return fail("", err, red)
	}
	run.setCommit(src.Commit)
	log.Info().Str("commit", src.SHA()).Strs("tags", tags).Msg("source resolved")

	// ── Build ─────────────────────────────────────────────────────────────

	logs, logRef, closeLogs := r.buildLogs(run, red, log)
	start := r.now()
	bctx, cancel := withTimeout(ctx, r.BuildTimeout)
	art, err := r.Builder.Build(bctx, build.Request{
		RunID:  run.ID,
		Source: src,
		Spec:   r.Spec,
		Tags:   tags,
		Logs:   logs,
		Redact: red,
	})
	cancel()
	closeLogs()
	stage := StageResult{Name: StageBuild, StartedAt: start, Duration: r.now().Sub(start), LogRef: logRef}
	if err != nil {
		if bctx.Err() != nil && errors.Is(bctx.Err(), context.DeadlineExceeded) {
			var be *build.Error
			if errors.As(err, &be) {
				be.Timeout = true
			} else {
				err = &build.Error{Phase: build.PhasePackage, ExitCode: -1, Timeout: true, Err: err}
			}
		}
		res = fail(StageBuild, err, red)
		stage.Status, stage.ExitCode, stage.Detail = StageFailed, res.failure.ExitCode, res.failure.Message
		run.appendStage(stage)
		return res
	}
	res.artifact = art
	stage.Status = StageSucceeded
	stage.Detail = art.Digest.String()
	run.appendStage(stage)
	run.setArtifact(&ArtifactRef{
		Name:   art.Name,
		Digest: art.Digest.String(),
		Commit: src.Commit,
		Branch: src.Branch,
		Tags:   tags,
	})

	// ── Stage boundary ────────────────────────────────────────────────────

	if run.CancelRequested() {
		return fail("", ErrCancelled, red)
	}
	if err := run.transition(Publishing, r.now()); err != nil {
		return fail("", err, red)
	}
	r.emit(ctx, run, Publishing, "artifact "+art.Digest.String(), nil)

	// ── Publish ───────────────────────────────────────────────────────────

	start = r.now()
	pctx, cancel := withTimeout(ctx, r.PublishTimeout)
	defer cancel()
	err = r.publish(pctx, run, session, red, art, tags)
	stage = StageResult{Name: StagePublish, StartedAt: start, Duration: r.now().Sub(start)}
	if err != nil {
		res = fail(StagePublish, err, red)
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			res.failure.Kind = KindTimeout
		}
		stage.Status, stage.ExitCode, stage.Detail = StageFailed, res.failure.Kind.ExitCode(), res.failure.Message
		run.appendStage(stage)
		return res
	}
	stage.Status = StageSucceeded
	stage.Detail = fmt.Sprintf("%d tag(s)", len(tags))
	run.appendStage(stage)

	if r.RecordFile != "" {
		if err := registry.WriteRecord(r.RecordFile, registry.NewRecord(run.ID, run.Receipts())); err != nil {
			log.Warn().Err(err).Str("path", r.RecordFile).Msg("unable to write artifact record")
		}
	}
	return res
}

// publish resolves the run's credential and pushes every tag. The first
// failure ends the stage.
func (r *Runner) publish(ctx context.Context, run *Run, session CredentialSession, red *redact.Redactor, art *build.Artifact, tags []string) error {
	registryURL := r.RegistryURL
	if registryURL == "" {
		registryURL = session.RegistryURL()
	}
	repo := r.Repository
	if repo == "" {
		repo = art.Name
	}

	cred, err := session.Resolve(ctx, credential.ScopeRequest{
		Registry:   registry.RegistryHost(registryURL),
		Repository: repo,
		Actions:    []string{credential.ScopePush},
	})
	if err != nil {
		return err
	}
	red.Add(cred.Password())
	if len(tags) == 0 {
		return &registry.PublishError{Kind: registry.Fatal, Err: errors.New("no tags resolved")}
	}

	for _, tag := range tags {
		receipt, err := r.Publisher.Publish(ctx, art, cred, tag)
		if err != nil {
			return err
		}
		run.addReceipt(*receipt)
	}
	return nil
}

// resolveInput pins the commit and expands tag templates.
func (r *Runner) resolveInput(run *Run) (gitver.Source, []string, error) {
	resolve := r.ResolveSource
	if resolve == nil {
		resolve = gitver.ResolveSource
	}
	rev := run.Params.Commit
	if rev == "" {
		rev = run.Params.Ref
	}
	src, err := resolve(r.Workspace, rev)
	if err != nil {
		return gitver.Source{}, nil, fmt.Errorf("resolving source %s: %w", rev, err)
	}
	if src.Branch == "" && !run.Params.Tag {
		src.Branch = run.Params.Name
	}

	detect := r.DetectVersion
	if detect == nil {
		detect = gitver.DetectVersion
	}
	v, err := detect(src)
	if err != nil {
		r.Log.Warn().Err(err).Str("run_id", run.ID).Msg("version detection failed; version tags will be empty")
		v = nil
	}
	return src, gitver.ResolveTags(r.TagTemplates, src, run.Params.Ref, v), nil
}

// buildLogs opens the per-run log file (if configured) and tees it with the
// live stream, redacting both.
func (r *Runner) buildLogs(run *Run, red *redact.Redactor, log zerolog.Logger) (io.Writer, string, func()) {
	var writers []io.Writer
	var file *os.File
	var ref string

	if r.LogDir != "" {
		if err := os.MkdirAll(r.LogDir, 0o755); err != nil {
			log.Warn().Err(err).Msg("unable to create log directory")
		} else {
			ref = filepath.Join(r.LogDir, run.ID+"-build.log")
			f, err := os.Create(ref)
			if err != nil {
				log.Warn().Err(err).Msg("unable to create build log")
				ref = ""
			} else {
				file = f
				writers = append(writers, f)
			}
		}
	}
	if r.LogStream != nil {
		writers = append(writers, r.LogStream)
	}
	if len(writers) == 0 {
		return io.Discard, "", func() {}
	}

	w := redact.NewWriter(red, io.MultiWriter(writers...))
	return w, ref, func() {
		_ = w.Close()
		if file != nil {
			_ = file.Close()
		}
	}
}

func (r *Runner) finish(ctx context.Context, run *Run, to State, detail string, f *Failure) {
	if err := run.terminate(to, f, r.now()); err != nil {
		r.Log.Error().Err(err).Str("run_id", run.ID).Msg("run already terminal")
		return
	}
	r.emit(ctx, run, to, detail, f)
}

func (r *Runner) emit(ctx context.Context, run *Run, state State, detail string, f *Failure) {
	if r.Sink == nil {
		return
	}
	ev := Event{
		RunID:     run.ID,
		State:     state,
		Timestamp: r.now().UTC(),
		Detail:    detail,
		Ref:       run.Params.Ref,
		Commit:    run.Params.Commit,
		Actor:     run.Params.Actor,
	}
	snap := run.Snapshot()
	if snap.Commit != "" {
		ev.Commit = snap.Commit
	}
	if state == Succeeded && snap.Artifact != nil {
		ev.Digest = snap.Artifact.Digest
		ev.Receipts = snap.Receipts
	}
	if f != nil {
		ev.Kind = f.Kind
		ev.ExitCode = f.Kind.ExitCode()
	}
	// Status delivery outlives a cancelled parent so terminal states still
	// reach the sink, but a stalled sink cannot hold the run open.
	sctx := context.WithoutCancel(ctx)
	if r.StatusTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, r.StatusTimeout)
		defer cancel()
	}
	if err := r.Sink.Emit(sctx, ev); err != nil {
		r.Log.Warn().Err(err).Str("run_id", run.ID).Str("state", string(state)).Msg("status sink failed")
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

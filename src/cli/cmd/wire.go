package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/sofmeright/freightline/src/build"
	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/credential"
	"github.com/sofmeright/freightline/src/gitver"
	"github.com/sofmeright/freightline/src/pipeline"
	"github.com/sofmeright/freightline/src/registry"
	"github.com/sofmeright/freightline/src/status"
)

// logDir receives per-run build logs for run and serve.
var logDir string

// newRunner assembles the pipeline from configuration: docker packager and
// buildx assembler for the build, the configured secret store and token
// exchanger for credentials, oras for publishing and the configured status
// sinks. The returned function releases the sinks.
func newRunner(ctx context.Context, cfg *config.Config, log zerolog.Logger, stream io.Writer) (*pipeline.Runner, func(), error) {
	creds, err := credential.NewProvider(ctx, cfg.Credentials, cfg.Publish.EstimatedDuration.Std(),
		log.With().Str("component", "credential").Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("credentials: %w", err)
	}

	packager, err := build.NewDockerPackager(cfg.Build.DockerHost, log.With().Str("component", "package").Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("docker: %w", err)
	}
	builder := &build.Executor{
		Packager:  packager,
		Assembler: build.NewBuildx("", log.With().Str("component", "buildx").Logger()),
		WorkDir:   cfg.Build.WorkDir,
		Log:       log.With().Str("component", "build").Logger(),
	}

	publisher := registry.NewPublisher(cfg.Publish, registry.ORASPusher{},
		log.With().Str("component", "publish").Logger())

	// The forge project falls back to the origin remote of the checkout.
	var remote string
	if src, err := gitver.ResolveSource(cfg.Build.Source, ""); err == nil {
		remote = src.RemoteURL
	} else {
		log.Debug().Err(err).Msg("no git remote for status reporting")
	}
	sinks, closeSinks, err := status.FromConfig(cfg.Status, remote, log)
	if err != nil {
		return nil, nil, fmt.Errorf("status: %w", err)
	}

	return &pipeline.Runner{
		Builder:        builder,
		Publisher:      publisher,
		Credentials:    pipeline.CredentialsFrom(creds),
		Sink:           sinks,
		Spec:           build.SpecFromConfig(cfg.Build),
		TagTemplates:   cfg.Publish.Tags,
		Repository:     cfg.Publish.Repository,
		RegistryURL:    cfg.Publish.RegistryURL,
		BuildTimeout:   cfg.Build.Timeout.Std(),
		PublishTimeout: cfg.Publish.Timeout.Std(),
		StatusTimeout:  cfg.Status.Timeout.Std(),
		RecordFile:     cfg.Publish.RecordFile,
		Workspace:      cfg.Build.Source,
		LogDir:         logDir,
		LogStream:      stream,
		ScanSecrets:    true,
		Log:            log,
	}, closeSinks, nil
}

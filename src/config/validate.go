package config

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Validate checks structural invariants of a loaded Config.
// Returns warnings (soft issues) and a hard error if the config is invalid.
func Validate(cfg *Config) (warnings []string, err error) {
	var errs []string

	// ── Trigger ───────────────────────────────────────────────────────────

	for name := range cfg.Trigger.Policies {
		if !isIdentifier(name) {
			errs = append(errs, fmt.Sprintf("trigger.policies: key %q is not a valid identifier (must match [a-zA-Z][a-zA-Z0-9_.\\-]*)", name))
		}
	}
	if _, perr := CompilePatterns(cfg.Trigger.Branches, cfg.Trigger.Policies); perr != nil {
		errs = append(errs, fmt.Sprintf("trigger.branches: %v", perr))
	}
	if _, perr := CompilePatterns(cfg.Trigger.Tags, cfg.Trigger.Policies); perr != nil {
		errs = append(errs, fmt.Sprintf("trigger.tags: %v", perr))
	}
	if cfg.Trigger.MaxConcurrentPerRef < 0 {
		errs = append(errs, "trigger.max_concurrent_per_ref: must be >= 0")
	}
	if cfg.Trigger.MaxParallelRuns < 0 {
		errs = append(errs, "trigger.max_parallel_runs: must be >= 0")
	}
	if cfg.Trigger.CancelInProgress && cfg.Trigger.MaxConcurrentPerRef == 0 {
		warnings = append(warnings, "trigger.cancel_in_progress has no queue to act on while max_concurrent_per_ref is 0; only in-flight runs are cancelled")
	}
	if len(cfg.Trigger.Branches) == 0 && len(cfg.Trigger.Tags) == 0 && !cfg.Trigger.AllowManual {
		warnings = append(warnings, "trigger: no branches, tags or manual dispatch configured; nothing will ever run")
	}

	// ── Build ─────────────────────────────────────────────────────────────

	if cfg.Build.BuilderImage == "" {
		errs = append(errs, "build.builder_image: required")
	}
	if len(cfg.Build.PackageCommand) == 0 {
		errs = append(errs, "build.package_command: required")
	}
	if err := CheckOutputPath(cfg.Build.Output); err != nil {
		errs = append(errs, "build.output: "+err.Error())
	}
	if cfg.Build.RuntimeImage == "" && cfg.Build.Dockerfile == "" {
		errs = append(errs, "build.runtime_image: required unless build.dockerfile is set")
	}
	if cfg.Build.ArtifactName == "" && cfg.Publish.Repository == "" {
		errs = append(errs, "build.artifact_name: required unless publish.repository is set")
	}
	if cfg.Build.Timeout <= 0 {
		errs = append(errs, "build.timeout: must be positive")
	}

	// ── Publish ───────────────────────────────────────────────────────────

	if len(cfg.Publish.Tags) == 0 {
		errs = append(errs, "publish.tags: at least one tag template is required")
	}
	if cfg.Publish.Retries < 0 {
		errs = append(errs, "publish.retries: must be >= 0")
	}
	if cfg.Publish.Timeout <= 0 {
		errs = append(errs, "publish.timeout: must be positive")
	}
	if cfg.Publish.EstimatedDuration > cfg.Publish.Timeout {
		warnings = append(warnings, "publish.estimated_duration exceeds publish.timeout")
	}
	if cfg.Publish.PlainHTTP {
		warnings = append(warnings, "publish.plain_http is enabled; credentials travel unencrypted")
	}

	// ── Credentials ───────────────────────────────────────────────────────

	switch cfg.Credentials.Store {
	case StoreEnv:
	case StoreAWS:
		if cfg.Credentials.AWSSecretID == "" {
			errs = append(errs, "credentials.aws_secret_id: required when store is \"aws\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("credentials.store: unknown store %q (supported: env, aws)", cfg.Credentials.Store))
	}
	switch cfg.Credentials.Exchanger {
	case ExchangerECR:
	case ExchangerStatic:
		if cfg.Credentials.TTL <= 0 {
			errs = append(errs, "credentials.ttl: must be positive for the static exchanger")
		}
	default:
		errs = append(errs, fmt.Sprintf("credentials.exchanger: unknown exchanger %q (supported: ecr, static)", cfg.Credentials.Exchanger))
	}

	// ── Status ────────────────────────────────────────────────────────────

	if f := cfg.Status.Forge; f.Enabled() {
		switch f.Provider {
		case "github", "gitlab", "gitea":
		default:
			errs = append(errs, fmt.Sprintf("status.forge.provider: unknown provider %q (supported: github, gitlab, gitea)", f.Provider))
		}
		if f.Project == "" {
			warnings = append(warnings, "status.forge.project: empty; derived from the origin remote at run time")
		}
	}
	if cfg.Status.Timeout < 0 {
		errs = append(errs, "status.timeout: must be >= 0")
	}
	if cfg.Status.NATS.Enabled() && cfg.Status.NATS.Subject == "" {
		errs = append(errs, "status.nats.subject: required when status.nats.url is set")
	}

	if cfg.Server.RetainRuns < 0 {
		errs = append(errs, "server.retain_runs: must be >= 0")
	}

	// ── Log ───────────────────────────────────────────────────────────────

	switch cfg.Log.Format {
	case "console", "json", "":
	default:
		errs = append(errs, fmt.Sprintf("log.format: unknown format %q (supported: console, json)", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return warnings, nil
}

// CheckOutputPath accepts a path naming a file or directory strictly inside
// the workspace. The workspace root itself is rejected: its contents are the
// whole source snapshot, not a packaged unit.
func CheckOutputPath(p string) error {
	if p == "" {
		return errors.New("required")
	}
	clean := path.Clean(filepath.ToSlash(p))
	switch {
	case path.IsAbs(clean):
		return fmt.Errorf("%q must be a relative path inside the workspace", p)
	case clean == ".":
		return fmt.Errorf("%q names the workspace root; point it at the packaged file or directory", p)
	case clean == ".." || strings.HasPrefix(clean, "../"):
		return fmt.Errorf("%q escapes the workspace", p)
	}
	return nil
}

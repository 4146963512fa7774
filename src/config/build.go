package config

import "time"

// BuildConfig describes how source becomes a runtime image. The build runs in
// two phases: Package runs PackageCommand inside BuilderImage against a fresh
// copy of the source; Image wraps only the packaged Output into RuntimeImage.
type BuildConfig struct {
	// Source is the checkout to build. Default: "." (repo root).
	Source string `yaml:"source" toml:"source"`

	// BuilderImage is the container image that provides the build toolchain,
	// e.g. "maven:3.9-eclipse-temurin-21".
	BuilderImage string `yaml:"builder_image" toml:"builder_image"`

	// PackageCommand runs inside BuilderImage with the workspace as cwd.
	PackageCommand []string `yaml:"package_command" toml:"package_command"`

	// Env is passed to the package command.
	Env map[string]string `yaml:"env" toml:"env"`

	// Output is the packaged unit, relative to the workspace (e.g. "target/app.jar").
	Output string `yaml:"output" toml:"output"`

	// RuntimeImage is the base image of the published artifact.
	RuntimeImage string `yaml:"runtime_image" toml:"runtime_image"`

	// Entrypoint for the runtime image. Default: the packaged unit itself.
	Entrypoint []string `yaml:"entrypoint" toml:"entrypoint"`

	// Dockerfile overrides the generated runtime Dockerfile. Its context holds
	// only the packaged unit, so it cannot reach build tooling.
	Dockerfile string `yaml:"dockerfile,omitempty" toml:"dockerfile,omitempty"`

	// ArtifactName names the image (repository path under the registry).
	ArtifactName string `yaml:"artifact_name" toml:"artifact_name"`

	// Platforms lists the target platforms. Default: [linux/{current_arch}].
	Platforms []string `yaml:"platforms,omitempty" toml:"platforms,omitempty"`

	// Labels are added to the runtime image.
	Labels map[string]string `yaml:"labels,omitempty" toml:"labels,omitempty"`

	// Timeout bounds the whole build stage.
	Timeout Duration `yaml:"timeout" toml:"timeout"`

	// WorkDir holds per-run directories. Default: OS temp dir.
	WorkDir string `yaml:"work_dir,omitempty" toml:"work_dir,omitempty"`

	// DockerHost overrides DOCKER_HOST for the package container.
	DockerHost string `yaml:"docker_host,omitempty" toml:"docker_host,omitempty"`

	// LogExcerptLines is how many trailing log lines a build error carries.
	LogExcerptLines int `yaml:"log_excerpt_lines" toml:"log_excerpt_lines"`
}

// DefaultBuildConfig returns sensible defaults for builds.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		Source:          ".",
		Env:             map[string]string{},
		Labels:          map[string]string{},
		Timeout:         Duration(30 * time.Minute),
		LogExcerptLines: 40,
	}
}

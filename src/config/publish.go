package config

import "time"

// PublishConfig describes where and how the built artifact is pushed.
type PublishConfig struct {
	// RegistryURL is the registry host (e.g. "123456789012.dkr.ecr.eu-west-1.amazonaws.com").
	// Empty = taken from the REGISTRY_URL secret at run start.
	RegistryURL string `yaml:"registry_url" toml:"registry_url"`

	// Repository is the image path under the registry. Default: build.artifact_name.
	Repository string `yaml:"repository" toml:"repository"`

	// Tags are tag templates resolved per run.
	//   {sha}        → "abc1234"
	//   {branch}     → "main" (slashes become dashes)
	//   {ref}        → the event ref, sanitized
	//   {version}    → "1.2.3" from the latest semver git tag
	//   {major} {minor} {patch}
	//   latest       → literal passthrough
	Tags []string `yaml:"tags" toml:"tags"`

	// Retries is the transient-failure retry budget (attempts = Retries + 1).
	Retries int `yaml:"retries" toml:"retries"`

	// Backoff is the initial retry delay; it doubles per attempt.
	Backoff Duration `yaml:"backoff" toml:"backoff"`

	// MaxBackoff caps a single retry delay.
	MaxBackoff Duration `yaml:"max_backoff" toml:"max_backoff"`

	// Timeout bounds the whole publish stage.
	Timeout Duration `yaml:"timeout" toml:"timeout"`

	// EstimatedDuration is how long a publish is expected to take. Credentials
	// must stay valid at least this long.
	EstimatedDuration Duration `yaml:"estimated_duration" toml:"estimated_duration"`

	// PlainHTTP talks to the registry without TLS (local registries only).
	PlainHTTP bool `yaml:"plain_http" toml:"plain_http"`

	// RecordFile receives the {digest, tag, registryUrl} record on success.
	RecordFile string `yaml:"record_file" toml:"record_file"`
}

// DefaultPublishConfig returns sensible defaults for publishing.
func DefaultPublishConfig() PublishConfig {
	return PublishConfig{
		Tags:              []string{"latest"},
		Retries:           3,
		Backoff:           Duration(time.Second),
		MaxBackoff:        Duration(30 * time.Second),
		Timeout:           Duration(10 * time.Minute),
		EstimatedDuration: Duration(5 * time.Minute),
		RecordFile:        ".freightline/artifact.json",
	}
}

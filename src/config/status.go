package config

import "time"

// StatusConfig selects where run state transitions are reported.
type StatusConfig struct {
	// Log reports transitions through the structured logger.
	Log bool `yaml:"log" toml:"log"`

	NATS  NATSConfig  `yaml:"nats" toml:"nats"`
	Forge ForgeConfig `yaml:"forge" toml:"forge"`

	// Timeout bounds each delivery to each sink. Zero means no bound.
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// NATSConfig publishes status events and artifact records to NATS.
type NATSConfig struct {
	URL string `yaml:"url" toml:"url"`
	// Subject prefix; events go to <subject>.status.<run>, records to <subject>.artifact.
	Subject string `yaml:"subject" toml:"subject"`
}

// Enabled reports whether a NATS URL is configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// ForgeConfig reports commit statuses to the hosting forge.
type ForgeConfig struct {
	// Provider is github, gitlab, or gitea. Empty disables forge reporting.
	Provider string `yaml:"provider" toml:"provider"`
	// BaseURL of the forge. Default: derived from the git remote.
	BaseURL string `yaml:"base_url" toml:"base_url"`
	// Project is "owner/repo" (GitHub/Gitea) or the project path/ID (GitLab).
	Project string `yaml:"project" toml:"project"`
	// Context is the status check name.
	Context string `yaml:"context" toml:"context"`
	// TokenEnv names the env var holding the API token.
	TokenEnv string `yaml:"token_env" toml:"token_env"`
	// TargetURL is linked from the status (e.g. the CI job page).
	TargetURL string `yaml:"target_url" toml:"target_url"`
}

// Enabled reports whether a forge provider is configured.
func (f ForgeConfig) Enabled() bool { return f.Provider != "" }

// DefaultStatusConfig logs transitions and nothing else.
func DefaultStatusConfig() StatusConfig {
	return StatusConfig{
		Log:     true,
		Timeout: Duration(10 * time.Second),
		NATS: NATSConfig{
			Subject: "freightline",
		},
		Forge: ForgeConfig{
			Context: "freightline/pipeline",
		},
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = ".freightline.yml"

// Config is the top-level freightline configuration.
type Config struct {
	Trigger     TriggerConfig     `yaml:"trigger" toml:"trigger"`
	Build       BuildConfig       `yaml:"build" toml:"build"`
	Publish     PublishConfig     `yaml:"publish" toml:"publish"`
	Credentials CredentialsConfig `yaml:"credentials" toml:"credentials"`
	Status      StatusConfig      `yaml:"status" toml:"status"`
	Log         LogConfig         `yaml:"log" toml:"log"`
	Server      ServerConfig      `yaml:"server" toml:"server"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // console, json
}

// ServerConfig configures the webhook listener used by `freightline serve`.
type ServerConfig struct {
	Listen          string   `yaml:"listen" toml:"listen"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	// TokenEnv names the env var holding the bearer token event senders
	// must present. Unset variable = no authentication.
	TokenEnv string `yaml:"token_env" toml:"token_env"`
	// RetainRuns caps how many finished runs the API still reports.
	// Zero keeps all of them.
	RetainRuns int `yaml:"retain_runs" toml:"retain_runs"`
}

// Load reads configuration from a YAML or TOML file, picked by extension.
// If path is empty, it tries the default file.
// Returns defaults if the file doesn't exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = defaultConfigFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return Defaults(), nil
		}
		return nil, err
	}

	return Parse(data, formatFor(path))
}

// Parse decodes raw configuration bytes on top of the defaults.
// format is "yaml" or "toml".
func Parse(data []byte, format string) (*Config, error) {
	cfg := Defaults()
	switch format {
	case "toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	return cfg, nil
}

func formatFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Trigger:     DefaultTriggerConfig(),
		Build:       DefaultBuildConfig(),
		Publish:     DefaultPublishConfig(),
		Credentials: DefaultCredentialsConfig(),
		Status:      DefaultStatusConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Listen:          ":8080",
			ShutdownTimeout: Duration(15 * time.Second),
			TokenEnv:        "FREIGHTLINE_WEBHOOK_TOKEN",
			RetainRuns:      500,
		},
	}
}

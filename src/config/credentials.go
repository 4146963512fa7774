package config

import "time"

// Secret store kinds.
const (
	StoreEnv = "env"
	StoreAWS = "aws"
)

// Token exchanger kinds.
const (
	ExchangerECR    = "ecr"
	ExchangerStatic = "static"
)

// CredentialsConfig tells the credential provider where identity secrets live
// and how to turn them into a short-lived push token. It never holds secrets.
type CredentialsConfig struct {
	// Store is where the named secrets (ACCESS_KEY_ID, SECRET_ACCESS_KEY,
	// REGION, REGISTRY_URL) are read from: "env" or "aws".
	Store string `yaml:"store" toml:"store"`

	// EnvPrefix is prepended to secret names for the env store
	// (prefix "FL" → FL_ACCESS_KEY_ID).
	EnvPrefix string `yaml:"env_prefix" toml:"env_prefix"`

	// AWSSecretID names a Secrets Manager secret holding a JSON object of the
	// named secrets. Used when store is "aws".
	AWSSecretID string `yaml:"aws_secret_id" toml:"aws_secret_id"`

	// AWSRegion is the Secrets Manager region. Default: SDK resolution.
	AWSRegion string `yaml:"aws_region" toml:"aws_region"`

	// AWSEndpoint overrides the Secrets Manager endpoint (LocalStack).
	AWSEndpoint string `yaml:"aws_endpoint,omitempty" toml:"aws_endpoint,omitempty"`

	// Exchanger turns the identity into a registry token: "ecr" or "static".
	Exchanger string `yaml:"exchanger" toml:"exchanger"`

	// TTL is the lifetime of static-exchanger credentials.
	TTL Duration `yaml:"ttl" toml:"ttl"`

	// Scopes are the permissions the identity is allowed to request.
	// Default: [push, pull].
	Scopes []string `yaml:"scopes" toml:"scopes"`
}

// DefaultCredentialsConfig reads secrets from the environment and exchanges
// them for an ECR token.
func DefaultCredentialsConfig() CredentialsConfig {
	return CredentialsConfig{
		Store:     StoreEnv,
		Exchanger: ExchangerECR,
		TTL:       Duration(time.Hour),
		Scopes:    []string{"push", "pull"},
	}
}

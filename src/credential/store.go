package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// Names of the identity secrets read at run start.
const (
	SecretAccessKeyID     = "ACCESS_KEY_ID"
	SecretSecretAccessKey = "SECRET_ACCESS_KEY"
	SecretRegion          = "REGION"
	SecretRegistryURL     = "REGISTRY_URL"
)

// SecretNames lists every secret a session asks for.
var SecretNames = []string{SecretAccessKeyID, SecretSecretAccessKey, SecretRegion, SecretRegistryURL}

// SecretStore is the read-only source of identity secrets. Fetch returns the
// names it has values for; absent names are simply missing from the map.
type SecretStore interface {
	Fetch(ctx context.Context, names ...string) (map[string]string, error)
}

// EnvStore reads secrets from environment variables, optionally prefixed
// (prefix "FL" reads FL_ACCESS_KEY_ID).
type EnvStore struct {
	Prefix string
}

func (s EnvStore) Fetch(_ context.Context, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		key := name
		if s.Prefix != "" {
			key = strings.TrimSuffix(s.Prefix, "_") + "_" + name
		}
		if v, ok := os.LookupEnv(key); ok && v != "" {
			out[name] = v
		}
	}
	return out, nil
}

// MemoryStore serves fixed values. Used by tests and `run --dry-run`.
type MemoryStore map[string]string

func (s MemoryStore) Fetch(_ context.Context, names ...string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := s[name]; ok && v != "" {
			out[name] = v
		}
	}
	return out, nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretStore reads a single Secrets Manager secret whose value is a JSON
// object keyed by secret name.
type AWSSecretStore struct {
	Client   SecretsManagerAPI
	SecretID string
}

// NewAWSSecretStore builds a store using the default AWS credential chain.
// endpoint overrides the service URL (LocalStack); region may be empty.
func NewAWSSecretStore(ctx context.Context, secretID, region, endpoint string) (*AWSSecretStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &AWSSecretStore{Client: client, SecretID: secretID}, nil
}

func (s *AWSSecretStore) Fetch(ctx context.Context, names ...string) (map[string]string, error) {
	out, err := s.Client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.SecretID),
	})
	if err != nil {
		var rnf *types.ResourceNotFoundException
		if errors.As(err, &rnf) {
			// treated as "no secrets"; the session reports which ones are missing
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secret %q: %w", s.SecretID, err)
	}

	var raw []byte
	switch {
	case out.SecretString != nil:
		raw = []byte(*out.SecretString)
	case out.SecretBinary != nil:
		raw = out.SecretBinary
	default:
		return nil, fmt.Errorf("secret %q has no value", s.SecretID)
	}

	var all map[string]string
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("secret %q is not a JSON object of strings", s.SecretID)
	}

	values := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := all[name]; ok && v != "" {
			values[name] = v
		}
	}
	return values, nil
}

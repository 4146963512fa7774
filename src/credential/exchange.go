package credential

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/smithy-go"
)

// Identity is the long-lived principal read from the secret store.
type Identity struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	RegistryURL     string
}

// Exchanger trades an identity for a short-lived registry credential.
type Exchanger interface {
	Exchange(ctx context.Context, id Identity, req ScopeRequest) (*Credential, error)
}

// ECRAPI is the subset of the ECR client used here.
type ECRAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// ECRExchanger asks ECR for a 12-hour authorization token using the
// identity's access keys.
type ECRExchanger struct {
	// NewClient builds the ECR client for an identity. Defaults to a client
	// with static credentials in the identity's region.
	NewClient func(id Identity) ECRAPI
}

func (x ECRExchanger) client(id Identity) ECRAPI {
	if x.NewClient != nil {
		return x.NewClient(id)
	}
	return ecr.New(ecr.Options{
		Region:      id.Region,
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(id.AccessKeyID, id.SecretAccessKey, "")),
	})
}

func (x ECRExchanger) Exchange(ctx context.Context, id Identity, req ScopeRequest) (*Credential, error) {
	if id.Region == "" {
		return nil, authErr(ReasonMissingSecret, "%s is required for ECR", SecretRegion)
	}

	out, err := x.client(id).GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, classifyAWSError(err)
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return nil, authErr(ReasonExchangeFailed, "ECR returned no authorization data")
	}
	data := out.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, authErr(ReasonExchangeFailed, "decoding ECR token: %v", err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, authErr(ReasonExchangeFailed, "malformed ECR token")
	}

	registry := req.Registry
	if registry == "" {
		registry = hostOf(aws.ToString(data.ProxyEndpoint))
	}
	var expires time.Time
	if data.ExpiresAt != nil {
		expires = *data.ExpiresAt
	}

	return NewCredential(id.AccessKeyID, registry, user, pass, req.Actions, expires), nil
}

// classifyAWSError maps STS/ECR error codes to auth reasons.
func classifyAWSError(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "ExpiredTokenException", "ExpiredToken", "RequestExpired":
			return &AuthError{Reason: ReasonExpired, Err: err}
		case "AccessDeniedException", "AccessDenied", "UnauthorizedOperation":
			return &AuthError{Reason: ReasonInsufficientScope, Err: err}
		}
	}
	return &AuthError{Reason: ReasonExchangeFailed, Err: err}
}

// StaticExchanger uses the identity as a basic-auth login with a fixed
// lifetime. For registries without a token service (self-hosted, Harbor
// robot accounts).
type StaticExchanger struct {
	TTL time.Duration
	Now func() time.Time
}

func (x StaticExchanger) Exchange(_ context.Context, id Identity, req ScopeRequest) (*Credential, error) {
	now := time.Now
	if x.Now != nil {
		now = x.Now
	}
	registry := req.Registry
	if registry == "" {
		registry = id.RegistryURL
	}
	return NewCredential(id.AccessKeyID, registry, id.AccessKeyID, id.SecretAccessKey, req.Actions, now().Add(x.TTL)), nil
}

// hostOf strips the scheme and path from a registry URL.
func hostOf(u string) string {
	if i := strings.Index(u, "://"); i != -1 {
		u = u[i+3:]
	}
	if i := strings.Index(u, "/"); i != -1 {
		u = u[:i]
	}
	return u
}

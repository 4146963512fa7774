package credential

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sofmeright/freightline/src/config"
)

// Provider opens per-run credential sessions. It holds no secrets itself and
// is safe for concurrent use by many runs.
type Provider struct {
	Store     SecretStore
	Exchanger Exchanger

	// AllowedScopes bounds what any session may request.
	AllowedScopes []string

	// MinValidity is how long an issued credential must outlive its
	// issuance (the estimated publish duration).
	MinValidity time.Duration

	Now func() time.Time
	Log zerolog.Logger
}

// NewProvider wires a provider from configuration.
func NewProvider(ctx context.Context, cfg config.CredentialsConfig, minValidity time.Duration, log zerolog.Logger) (*Provider, error) {
	p := &Provider{
		AllowedScopes: cfg.Scopes,
		MinValidity:   minValidity,
		Log:           log,
	}

	switch cfg.Store {
	case config.StoreEnv, "":
		p.Store = EnvStore{Prefix: cfg.EnvPrefix}
	case config.StoreAWS:
		s, err := NewAWSSecretStore(ctx, cfg.AWSSecretID, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return nil, err
		}
		p.Store = s
	default:
		return nil, fmt.Errorf("unknown secret store %q", cfg.Store)
	}

	switch cfg.Exchanger {
	case config.ExchangerECR, "":
		p.Exchanger = ECRExchanger{}
	case config.ExchangerStatic:
		p.Exchanger = StaticExchanger{TTL: cfg.TTL.Std()}
	default:
		return nil, fmt.Errorf("unknown token exchanger %q", cfg.Exchanger)
	}

	return p, nil
}

func (p *Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Open reads the identity secrets for one run. The returned session must be
// closed when the run ends; closing revokes every credential it issued.
func (p *Provider) Open(ctx context.Context) (*Session, error) {
	values, err := p.Store.Fetch(ctx, SecretNames...)
	if err != nil {
		return nil, &AuthError{Reason: ReasonMissingSecret, Err: err}
	}

	var missing []string
	for _, name := range []string{SecretAccessKeyID, SecretSecretAccessKey} {
		if values[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, authErr(ReasonMissingSecret, "secret store has no value for %v", missing)
	}

	return &Session{
		provider: p,
		identity: Identity{
			AccessKeyID:     values[SecretAccessKeyID],
			SecretAccessKey: values[SecretSecretAccessKey],
			Region:          values[SecretRegion],
			RegistryURL:     values[SecretRegistryURL],
		},
	}, nil
}

// Session is the run-scoped view of the secret store.
type Session struct {
	provider *Provider

	mu       sync.Mutex
	identity Identity
	issued   []*Credential
	closed   bool
}

// RegistryURL returns the REGISTRY_URL secret, or "".
func (s *Session) RegistryURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.RegistryURL
}

// SecretValues returns the raw secret values so callers can scrub them from
// output. Region and registry URL are not secret and are left out.
func (s *Session) SecretValues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := []string{s.identity.SecretAccessKey, s.identity.AccessKeyID}
	for _, c := range s.issued {
		vals = append(vals, c.Password())
	}
	return vals
}

// Resolve issues a credential for req. Every failure is an *AuthError.
func (s *Session) Resolve(ctx context.Context, req ScopeRequest) (*Credential, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, authErr(ReasonExpired, "credential session already closed")
	}
	id := s.identity
	s.mu.Unlock()

	p := s.provider
	if len(req.Actions) == 0 {
		req.Actions = []string{ScopePush}
	}
	for _, a := range req.Actions {
		if !slices.Contains(p.AllowedScopes, a) {
			return nil, authErr(ReasonInsufficientScope, "scope %q is not allowed (allowed: %v)", a, p.AllowedScopes)
		}
	}
	if req.Registry == "" {
		req.Registry = hostOf(id.RegistryURL)
	}

	cred, err := p.Exchanger.Exchange(ctx, id, req)
	if err != nil {
		var ae *AuthError
		if errors.As(err, &ae) {
			return nil, ae
		}
		return nil, &AuthError{Reason: ReasonExchangeFailed, Err: err}
	}

	for _, a := range req.Actions {
		if !cred.Allows(a) {
			cred.Invalidate()
			return nil, authErr(ReasonInsufficientScope, "issued credential lacks %q", a)
		}
	}

	deadline := p.now().Add(p.MinValidity)
	if !cred.ExpiresAt.After(deadline) {
		cred.Invalidate()
		return nil, authErr(ReasonExpired, "credential expires at %s, before the publish window ends at %s",
			cred.ExpiresAt.UTC().Format(time.RFC3339), deadline.UTC().Format(time.RFC3339))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cred.Invalidate()
		return nil, authErr(ReasonExpired, "credential session closed during exchange")
	}
	s.issued = append(s.issued, cred)
	p.Log.Debug().Object("credential", cred).Msg("registry credential issued")
	return cred, nil
}

// Close revokes every credential issued by the session and forgets the
// identity.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, c := range s.issued {
		c.Invalidate()
	}
	s.issued = nil
	s.identity = Identity{}
}

// Package credential turns long-lived identity secrets into short-lived,
// push-scoped registry credentials. Raw secret values never leave this
// package through logs or fmt verbs.
package credential

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scopes a credential may carry.
const (
	ScopePush = "push"
	ScopePull = "pull"
)

// ScopeRequest asks for a credential valid for the given actions on one
// repository of one registry.
type ScopeRequest struct {
	Registry   string
	Repository string
	Actions    []string
}

// Credential is a short-lived registry login issued for a single run.
type Credential struct {
	Principal string    // identity the token was issued to
	Registry  string    // registry host the token is good for
	Scopes    []string  // granted actions
	ExpiresAt time.Time // issuer-reported expiry
	Username  string

	mu       sync.RWMutex
	password string
	revoked  bool
}

// NewCredential builds a credential around a secret password. Exchangers use
// it; everything else receives credentials from a Session.
func NewCredential(principal, registry, username, password string, scopes []string, expiresAt time.Time) *Credential {
	return &Credential{
		Principal: principal,
		Registry:  registry,
		Scopes:    slices.Clone(scopes),
		ExpiresAt: expiresAt,
		Username:  username,
		password:  password,
	}
}

// Password returns the secret half of the login, or "" once invalidated.
func (c *Credential) Password() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.revoked {
		return ""
	}
	return c.password
}

// Valid reports whether the credential can still be used at now.
func (c *Credential) Valid(now time.Time) bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.revoked && now.Before(c.ExpiresAt)
}

// Allows reports whether scope was granted.
func (c *Credential) Allows(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Invalidate drops the secret. Safe to call more than once.
func (c *Credential) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.password = ""
	c.revoked = true
}

// String never includes the password.
func (c *Credential) String() string {
	return fmt.Sprintf("credential{principal=%s registry=%s scopes=%v expires=%s}",
		c.Principal, c.Registry, c.Scopes, c.ExpiresAt.UTC().Format(time.RFC3339))
}

// MarshalZerologObject logs the non-secret fields.
func (c *Credential) MarshalZerologObject(e *zerolog.Event) {
	e.Str("principal", c.Principal).
		Str("registry", c.Registry).
		Strs("scopes", c.Scopes).
		Time("expires_at", c.ExpiresAt)
}

// Reason classifies an AuthError.
type Reason string

const (
	ReasonMissingSecret     Reason = "missing_secret"
	ReasonExpired           Reason = "expired"
	ReasonInsufficientScope Reason = "insufficient_scope"
	ReasonExchangeFailed    Reason = "exchange_failed"
)

// AuthError is returned when no usable credential can be produced. It is
// always fatal to the run; retrying with the same identity will not help.
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + string(e.Reason)
	}
	return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

func authErr(reason Reason, format string, args ...any) *AuthError {
	return &AuthError{Reason: reason, Err: fmt.Errorf(format, args...)}
}

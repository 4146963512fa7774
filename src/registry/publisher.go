package registry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/sofmeright/freightline/src/build"
	"github.com/sofmeright/freightline/src/config"
	"github.com/sofmeright/freightline/src/credential"
)

// Receipt is the durable record of a successful publish.
type Receipt struct {
	Digest      string    `json:"digest"`
	Tag         string    `json:"tag"`
	RegistryURL string    `json:"registryUrl"`
	Repository  string    `json:"repository"`
	Timestamp   time.Time `json:"timestamp"`
	Attempts    int       `json:"attempts"`
	// AlreadyPresent is true when the tag already pointed at the digest.
	AlreadyPresent bool `json:"alreadyPresent"`
}

// Reference returns registry/repository@digest.
func (r Receipt) Reference() string {
	return r.RegistryURL + "/" + r.Repository + "@" + r.Digest
}

// Publisher pushes artifacts with bounded exponential backoff on transient
// failures. Stateless per call; safe for concurrent use.
type Publisher struct {
	Pusher Pusher

	// Repository is the image path; empty = the artifact name.
	Repository string
	PlainHTTP  bool

	// Retries is the transient retry budget. Attempts never exceed Retries+1.
	Retries int

	// NewBackOff returns the delay schedule for one publish.
	NewBackOff func() backoff.BackOff

	Now func() time.Time
	Log zerolog.Logger
}

// NewPublisher builds a publisher from the publish config section.
func NewPublisher(cfg config.PublishConfig, pusher Pusher, log zerolog.Logger) *Publisher {
	initial, ceiling := cfg.Backoff.Std(), cfg.MaxBackoff.Std()
	return &Publisher{
		Pusher:     pusher,
		Repository: cfg.Repository,
		PlainHTTP:  cfg.PlainHTTP,
		Retries:    cfg.Retries,
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			if ceiling > 0 {
				b.MaxInterval = ceiling
			}
			b.Multiplier = 2
			b.MaxElapsedTime = 0
			return b
		},
		Log: log,
	}
}

func (p *Publisher) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Publish makes tag point at the artifact's digest in the credential's
// registry. Publishing a digest under a tag that already holds it succeeds
// without writing. Every failure is a *PublishError.
func (p *Publisher) Publish(ctx context.Context, art *build.Artifact, cred *credential.Credential, tag string) (*Receipt, error) {
	if err := ValidateTag(tag); err != nil {
		return nil, &PublishError{Kind: Fatal, Tag: tag, Err: err}
	}
	if art == nil || art.Digest == "" {
		return nil, &PublishError{Kind: Fatal, Tag: tag, Err: errors.New("no artifact to publish")}
	}
	if !cred.Valid(p.now()) || !cred.Allows(credential.ScopePush) {
		return nil, &PublishError{Kind: AuthRejected, Tag: tag, Err: errors.New("credential is expired, revoked or lacks push scope")}
	}

	target := Target{Registry: cred.Registry, Repository: p.Repository, PlainHTTP: p.PlainHTTP}
	if target.Repository == "" {
		target.Repository = art.Name
	}
	log := p.Log.With().Str("target", target.String()).Str("tag", tag).Logger()

	var attempts int
	var present bool
	op := func() error {
		attempts++
		current, err := p.Pusher.Resolve(ctx, target, cred, tag)
		switch {
		case err == nil && current == art.Digest:
			present = true
			return nil
		case err != nil && !errors.Is(err, ErrTagNotFound):
			return retryable(err)
		}
		return retryable(p.Pusher.Push(ctx, target, cred, art, tag))
	}

	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.NewBackOff != nil {
		b = p.NewBackOff()
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.Retries, 0))), ctx)

	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", next).Msg("transient publish failure")
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		kind, status := Classify(err)
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = Timeout
		}
		return nil, &PublishError{Kind: kind, Tag: tag, StatusCode: status, Attempts: attempts, Err: err}
	}

	r := &Receipt{
		Digest:         art.Digest.String(),
		Tag:            tag,
		RegistryURL:    target.Registry,
		Repository:     target.Repository,
		Timestamp:      p.now().UTC(),
		Attempts:       attempts,
		AlreadyPresent: present,
	}
	log.Info().Str("digest", r.Digest).Int("attempts", attempts).Bool("already_present", present).Msg("published")
	return r, nil
}

// retryable marks everything but transient failures as permanent.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	if kind, _ := Classify(err); kind != Transient {
		return backoff.Permanent(err)
	}
	return err
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/opencontainers/go-digest"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/sofmeright/freightline/src/build"
	"github.com/sofmeright/freightline/src/credential"
)

// ErrTagNotFound is returned by Pusher.Resolve when the tag does not exist.
var ErrTagNotFound = errors.New("tag not found")

// Target is a repository in a registry.
type Target struct {
	Registry   string // host[:port]
	Repository string // path under the registry
	PlainHTTP  bool
}

func (t Target) String() string { return t.Registry + "/" + t.Repository }

// Pusher talks to the registry for one attempt at a time. It never retries;
// the Publisher owns the retry policy.
type Pusher interface {
	// Resolve returns the digest currently behind tag, or ErrTagNotFound.
	Resolve(ctx context.Context, t Target, cred *credential.Credential, tag string) (digest.Digest, error)
	// Push uploads the artifact's content and points tag at it.
	Push(ctx context.Context, t Target, cred *credential.Credential, art *build.Artifact, tag string) error
}

// ORASPusher pushes OCI layouts with oras-go.
type ORASPusher struct {
	// HTTPClient is used for registry traffic. Default: a client with no
	// retries of its own.
	HTTPClient *http.Client
}

func (p ORASPusher) repository(t Target, cred *credential.Credential) (*remote.Repository, error) {
	repo, err := remote.NewRepository(t.String())
	if err != nil {
		return nil, fmt.Errorf("invalid repository %s: %w", t, err)
	}
	repo.PlainHTTP = t.PlainHTTP

	hc := p.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	repo.Client = &auth.Client{
		Client: hc,
		Cache:  auth.NewCache(),
		Credential: auth.StaticCredential(t.Registry, auth.Credential{
			Username: cred.Username,
			Password: cred.Password(),
		}),
	}
	return repo, nil
}

func (p ORASPusher) Resolve(ctx context.Context, t Target, cred *credential.Credential, tag string) (digest.Digest, error) {
	repo, err := p.repository(t, cred)
	if err != nil {
		return "", err
	}
	desc, err := repo.Resolve(ctx, tag)
	if err != nil {
		if errors.Is(err, errdef.ErrNotFound) {
			return "", ErrTagNotFound
		}
		return "", err
	}
	return desc.Digest, nil
}

func (p ORASPusher) Push(ctx context.Context, t Target, cred *credential.Credential, art *build.Artifact, tag string) error {
	repo, err := p.repository(t, cred)
	if err != nil {
		return err
	}

	src, err := oci.NewFromFS(ctx, os.DirFS(art.LayoutDir))
	if err != nil {
		return fmt.Errorf("opening OCI layout: %w", err)
	}

	if err := oras.CopyGraph(ctx, src, repo, art.Descriptor, oras.DefaultCopyGraphOptions); err != nil {
		return err
	}
	return repo.Tag(ctx, art.Descriptor, tag)
}

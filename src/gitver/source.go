// Package gitver resolves what is being built from git: the commit and
// branch of a checkout, the nearest semver release, and the image tags that
// follow from them. It also exports clean snapshots of a commit for builds.
package gitver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ShortSHALen is the length of {sha} in tags and summaries.
const ShortSHALen = 7

// Source identifies the exact input of a build.
type Source struct {
	Dir       string // checkout root
	Commit    string // full commit hash
	Branch    string // "" when HEAD is detached
	RemoteURL string // origin remote, if any
}

// SHA returns the abbreviated commit hash.
func (s Source) SHA() string {
	if len(s.Commit) > ShortSHALen {
		return s.Commit[:ShortSHALen]
	}
	return s.Commit
}

// ProjectPath returns "org/repo" from the origin remote, or "".
// Handles SSH (git@host:org/repo.git) and HTTPS (https://host/org/repo.git).
func (s Source) ProjectPath() string {
	remote := strings.TrimSuffix(s.RemoteURL, ".git")
	if remote == "" {
		return ""
	}

	if i := strings.Index(remote, "://"); i != -1 {
		remote = remote[i+3:]
		if j := strings.Index(remote, "/"); j != -1 {
			return remote[j+1:]
		}
		return ""
	}

	// SSH: git@host:org/repo
	if idx := strings.Index(remote, ":"); idx != -1 {
		return remote[idx+1:]
	}
	return ""
}

// ResolveSource opens the repository containing dir and resolves rev
// (a commit hash, branch, or tag; empty = HEAD).
func ResolveSource(dir, rev string) (Source, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Source{}, fmt.Errorf("opening git repository at %s: %w", dir, err)
	}

	src := Source{Dir: dir}

	head, err := repo.Head()
	if err != nil && rev == "" {
		return Source{}, fmt.Errorf("getting HEAD: %w", err)
	}

	if rev == "" {
		src.Commit = head.Hash().String()
		if head.Name().IsBranch() {
			src.Branch = head.Name().Short()
		}
	} else {
		hash, err := repo.ResolveRevision(plumbing.Revision(rev))
		if err != nil {
			return Source{}, fmt.Errorf("resolving %q: %w", rev, err)
		}
		src.Commit = hash.String()
		if head != nil && head.Hash() == *hash && head.Name().IsBranch() {
			src.Branch = head.Name().Short()
		}
	}

	remote, err := repo.Remote(git.DefaultRemoteName)
	if err == nil && len(remote.Config().URLs) > 0 {
		src.RemoteURL = remote.Config().URLs[0]
	} else if err != nil && !errors.Is(err, git.ErrRemoteNotFound) {
		return Source{}, fmt.Errorf("reading origin remote: %w", err)
	}

	return src, nil
}

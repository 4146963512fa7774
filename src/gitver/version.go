package gitver

import (
	"fmt"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// VersionInfo holds resolved version metadata from git.
type VersionInfo struct {
	Version   string // "1.2.3", "1.2.3-rc.1" or "0.0.0-dev+abc1234"
	Major     string
	Minor     string
	Patch     string
	IsRelease bool // true if the commit is exactly at the version tag
}

// DetectVersion finds the highest semver tag reachable from src.Commit.
// Commits past the tag get a -dev+sha suffix. No tags yields 0.0.0-dev+sha.
func DetectVersion(src Source) (*VersionInfo, error) {
	repo, err := git.PlainOpenWithOptions(src.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", src.Dir, err)
	}
	head, err := repo.CommitObject(plumbing.NewHash(src.Commit))
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", src.SHA(), err)
	}

	tags, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	var best *semver.Version
	var bestHash plumbing.Hash
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		v, err := semver.NewVersion(ref.Name().Short())
		if err != nil {
			return nil // not a version tag
		}
		commit, err := tagCommit(repo, ref)
		if err != nil {
			return nil
		}
		if commit.Hash != head.Hash {
			ok, err := commit.IsAncestor(head)
			if err != nil || !ok {
				return nil
			}
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestHash = commit.Hash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if best == nil {
		return &VersionInfo{
			Version: fmt.Sprintf("0.0.0-dev+%s", src.SHA()),
			Major:   "0",
			Minor:   "0",
			Patch:   "0",
		}, nil
	}

	info := &VersionInfo{
		Version:   best.String(),
		Major:     strconv.FormatUint(best.Major(), 10),
		Minor:     strconv.FormatUint(best.Minor(), 10),
		Patch:     strconv.FormatUint(best.Patch(), 10),
		IsRelease: bestHash == head.Hash,
	}
	if !info.IsRelease {
		info.Version = fmt.Sprintf("%s-dev+%s", info.Version, src.SHA())
	}
	return info, nil
}

// tagCommit peels annotated tags down to their commit.
func tagCommit(repo *git.Repository, ref *plumbing.Reference) (*object.Commit, error) {
	if tag, err := repo.TagObject(ref.Hash()); err == nil {
		return tag.Commit()
	}
	return repo.CommitObject(ref.Hash())
}

package gitver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Snapshot writes the tree of src.Commit into dest, which must be empty or
// missing. Only committed content is exported: no .git directory, no
// untracked files, no ignored build output from previous runs.
func Snapshot(ctx context.Context, src Source, dest string) error {
	repo, err := git.PlainOpenWithOptions(src.Dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return fmt.Errorf("opening git repository at %s: %w", src.Dir, err)
	}

	commit, err := repo.CommitObject(plumbing.NewHash(src.Commit))
	if err != nil {
		return fmt.Errorf("loading commit %s: %w", src.SHA(), err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("loading tree of %s: %w", src.SHA(), err)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("snapshot destination %s is not empty", dest)
	}

	return tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return writeFile(dest, f)
	})
}

func writeFile(dest string, f *object.File) error {
	target := filepath.Join(dest, filepath.FromSlash(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return fmt.Errorf("snapshot: path %q escapes workspace", f.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	if f.Mode == filemode.Symlink {
		link, err := f.Contents()
		if err != nil {
			return err
		}
		return os.Symlink(link, target)
	}

	perm := os.FileMode(0o644)
	if f.Mode == filemode.Executable {
		perm = 0o755
	}

	r, err := f.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

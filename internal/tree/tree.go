// Package tree computes content addresses for git work trees.
//
// An address is the hash of the git tree object that would result from
// committing everything in the work tree right now: tracked changes, staged
// changes, and untracked files all shift the address, while ignored files and
// commit metadata (author, message, timestamp) do not. Two work trees with
// identical content therefore share an address, which is what makes the
// address usable as a cache key.
package tree

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jdutton/vibe-validate-sub006/internal/git"
)

// Addresser derives content addresses for work trees.
type Addresser struct {
	git *git.Git
}

// NewAddresser creates an Addresser backed by the given git runner.
func NewAddresser(g *git.Git) *Addresser {
	return &Addresser{git: g}
}

// ComputeAddress returns the full object name of the tree describing the
// current work tree content of dir. The real index is never touched: the
// work tree is staged into a throwaway index file and hashed with
// write-tree, so running this concurrently with a user's git commands is
// safe. Returns an error wrapping git.ErrNotRepository when dir is not
// inside a work tree.
func (a *Addresser) ComputeAddress(ctx context.Context, dir string) (string, error) {
	root, err := a.git.TopLevel(ctx, dir)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "vibe-validate-index-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp index: %w", err)
	}
	indexPath := tmp.Name()
	tmp.Close()
	// git wants to create the index itself; leave only the reserved path.
	os.Remove(indexPath)
	defer os.Remove(indexPath)

	env := []string{"GIT_INDEX_FILE=" + indexPath}

	// Seed the throwaway index from HEAD when one exists, so deletions of
	// tracked files show up in the address. A repository without commits
	// starts from an empty index.
	res, err := a.git.Exec(ctx, git.ExecOpts{Dir: root},
		"rev-parse", "--verify", "--quiet", "HEAD")
	if err != nil {
		return "", err
	}
	if res.Code == 0 {
		readRes, err := a.git.Exec(ctx, git.ExecOpts{Dir: root, Env: env},
			"read-tree", "HEAD")
		if err != nil {
			return "", err
		}
		if readRes.Code != 0 {
			return "", fmt.Errorf("failed to seed index from HEAD: %s", readRes.Stderr)
		}
	}

	addRes, err := a.git.Exec(ctx, git.ExecOpts{Dir: root, Env: env},
		"add", "-A", ".")
	if err != nil {
		return "", err
	}
	if addRes.Code != 0 {
		return "", fmt.Errorf("failed to stage work tree: %s", addRes.Stderr)
	}

	writeRes, err := a.git.Exec(ctx, git.ExecOpts{Dir: root, Env: env},
		"write-tree")
	if err != nil {
		return "", err
	}
	if writeRes.Code != 0 {
		return "", fmt.Errorf("failed to hash work tree: %s", writeRes.Stderr)
	}

	addr := strings.TrimSpace(writeRes.Stdout)
	if addr == "" {
		return "", fmt.Errorf("write-tree produced no tree name")
	}
	return addr, nil
}

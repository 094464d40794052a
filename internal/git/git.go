// Package git invokes the git CLI as short-lived subprocesses. It carries no
// repository state of its own; every operation names the work tree it acts on.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrNotRepository is returned when a directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Git implements git operations using the git CLI.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string
}

// NewGit creates a new Git instance.
// It verifies that git is available on the system.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	// Verify git works
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath}, nil
}

// ExecOpts configures a single git invocation.
type ExecOpts struct {
	// Dir is the repository path, passed as -C when non-empty.
	Dir string

	// Stdin is piped to the command; the command sees EOF when empty.
	Stdin string

	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string
}

// Result holds the outcome of one git invocation.
type Result struct {
	Stdout string
	Stderr string
	Code   int
}

// Exec runs git with the given options. A non-zero exit status is not an
// error; it is reported in Result.Code so callers can treat exit codes as
// data (missing refs, missing notes). Exec returns an error only when the
// process could not be started or the context expired.
func (g *Git) Exec(ctx context.Context, opts ExecOpts, args ...string) (*Result, error) {
	full := args
	if opts.Dir != "" {
		full = append([]string{"-C", opts.Dir}, args...)
	}

	cmd := exec.CommandContext(ctx, g.gitPath, full...)
	cmd.Stdin = strings.NewReader(opts.Stdin)
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("git %s: %w", strings.Join(args, " "), ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Result{
				Stdout: stdout.String(),
				Stderr: stderr.String(),
				Code:   exitErr.ExitCode(),
			}, nil
		}
		return nil, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}

	return &Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Run executes a git command in dir and returns trimmed stdout.
// Unlike Exec, a non-zero exit status is an error carrying stderr.
func (g *Git) Run(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := g.Exec(ctx, ExecOpts{Dir: dir}, args...)
	if err != nil {
		return "", err
	}
	if res.Code != 0 {
		return "", fmt.Errorf("git %s: exit %d: %s",
			strings.Join(args, " "), res.Code, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// TopLevel returns the absolute path of the work tree root containing dir.
// Returns an error wrapping ErrNotRepository when dir is not inside a work
// tree (including bare repositories, which have no working copy to address).
func (g *Git) TopLevel(ctx context.Context, dir string) (string, error) {
	res, err := g.Exec(ctx, ExecOpts{Dir: dir}, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	if res.Code != 0 {
		return "", fmt.Errorf("%s: %w", dir, ErrNotRepository)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CurrentBranch returns the abbreviated name of the checked-out branch.
// A detached HEAD reports as "HEAD".
func (g *Git) CurrentBranch(ctx context.Context, dir string) (string, error) {
	return g.Run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadRevision returns the full object name of HEAD.
func (g *Git) HeadRevision(ctx context.Context, dir string) (string, error) {
	return g.Run(ctx, dir, "rev-parse", "HEAD")
}

// IsDirty reports whether the work tree has uncommitted changes,
// including untracked files.
func (g *Git) IsDirty(ctx context.Context, dir string) (bool, error) {
	out, err := g.Run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check work tree state in %s: %w", dir, err)
	}
	return out != "", nil
}

// WorkTreeInfo describes the state of a work tree at a point in time.
type WorkTreeInfo struct {
	// Branch is the checked-out branch name, or "unknown".
	Branch string

	// Head is the full object name of HEAD, or "unknown".
	Head string

	// Dirty reports uncommitted changes; false when git cannot answer.
	Dirty bool
}

// Describe collects best-effort work tree metadata for dir. It never fails:
// fields git cannot answer (fresh repository without commits, broken
// metadata) fall back to "unknown" or false.
func (g *Git) Describe(ctx context.Context, dir string) *WorkTreeInfo {
	info := &WorkTreeInfo{Branch: "unknown", Head: "unknown"}
	if branch, err := g.CurrentBranch(ctx, dir); err == nil && branch != "" {
		info.Branch = branch
	}
	if head, err := g.HeadRevision(ctx, dir); err == nil && head != "" {
		info.Head = head
	}
	if dirty, err := g.IsDirty(ctx, dir); err == nil {
		info.Dirty = dirty
	}
	return info
}

// Version returns the git version number, e.g. "2.39.5".
func (g *Git) Version(ctx context.Context) (string, error) {
	out, err := g.Run(ctx, "", "version")
	if err != nil {
		return "", err
	}
	// Output looks like "git version 2.39.5", possibly with vendor suffixes.
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected git version output: %q", out)
	}
	return fields[2], nil
}

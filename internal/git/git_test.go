package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// gitCmd runs a raw git command in dir for test setup.
func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// newTestRepo creates a git repository with one commit in a temp directory.
func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitCmd(t, dir, "init")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	gitCmd(t, dir, "config", "user.name", "Test User")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Test\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "initial commit")
	return dir
}

func newGit(t *testing.T) *Git {
	t.Helper()
	g, err := NewGit(context.Background())
	if err != nil {
		t.Skipf("git not available: %v", err)
	}
	return g
}

func TestNewGit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
	g, err := NewGit(context.Background())
	if err != nil {
		t.Fatalf("NewGit failed: %v", err)
	}
	if g.gitPath == "" {
		t.Error("expected gitPath to be set")
	}
}

func TestTopLevel(t *testing.T) {
	g := newGit(t)
	ctx := context.Background()

	t.Run("inside repository", func(t *testing.T) {
		dir := newTestRepo(t)
		top, err := g.TopLevel(ctx, dir)
		if err != nil {
			t.Fatalf("TopLevel failed: %v", err)
		}
		// Compare resolved paths; on macOS TempDir is behind a symlink.
		want, _ := filepath.EvalSymlinks(dir)
		got, _ := filepath.EvalSymlinks(top)
		if got != want {
			t.Errorf("TopLevel = %q, want %q", got, want)
		}
	})

	t.Run("subdirectory resolves to root", func(t *testing.T) {
		dir := newTestRepo(t)
		sub := filepath.Join(dir, "pkg", "deep")
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		top, err := g.TopLevel(ctx, sub)
		if err != nil {
			t.Fatalf("TopLevel failed: %v", err)
		}
		want, _ := filepath.EvalSymlinks(dir)
		got, _ := filepath.EvalSymlinks(top)
		if got != want {
			t.Errorf("TopLevel = %q, want %q", got, want)
		}
	})

	t.Run("outside repository", func(t *testing.T) {
		dir := t.TempDir()
		_, err := g.TopLevel(ctx, dir)
		if !errors.Is(err, ErrNotRepository) {
			t.Errorf("expected ErrNotRepository, got %v", err)
		}
	})
}

func TestExecExitCodeIsData(t *testing.T) {
	g := newGit(t)
	dir := newTestRepo(t)

	res, err := g.Exec(context.Background(), ExecOpts{Dir: dir},
		"rev-parse", "--verify", "--quiet", "refs/heads/no-such-branch")
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if res.Code == 0 {
		t.Error("expected non-zero exit for missing ref")
	}
}

func TestExecStdin(t *testing.T) {
	g := newGit(t)
	dir := newTestRepo(t)

	res, err := g.Exec(context.Background(), ExecOpts{Dir: dir, Stdin: "hello\n"},
		"hash-object", "--stdin")
	if err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	if res.Code != 0 {
		t.Fatalf("hash-object exited %d: %s", res.Code, res.Stderr)
	}
	oid := strings.TrimSpace(res.Stdout)
	if len(oid) != 40 && len(oid) != 64 {
		t.Errorf("unexpected object name %q", oid)
	}
}

func TestRunReportsStderr(t *testing.T) {
	g := newGit(t)
	dir := newTestRepo(t)

	_, err := g.Run(context.Background(), dir, "cat-file", "blob", "doesnotexist")
	if err == nil {
		t.Fatal("expected error for missing object")
	}
	if !strings.Contains(err.Error(), "cat-file") {
		t.Errorf("error should name the command, got: %v", err)
	}
}

func TestIsDirty(t *testing.T) {
	g := newGit(t)
	ctx := context.Background()
	dir := newTestRepo(t)

	dirty, err := g.IsDirty(ctx, dir)
	if err != nil {
		t.Fatalf("IsDirty failed: %v", err)
	}
	if dirty {
		t.Error("fresh commit should leave a clean work tree")
	}

	if err := os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	dirty, err = g.IsDirty(ctx, dir)
	if err != nil {
		t.Fatalf("IsDirty failed: %v", err)
	}
	if !dirty {
		t.Error("untracked file should count as dirty")
	}
}

func TestDescribe(t *testing.T) {
	g := newGit(t)
	ctx := context.Background()

	t.Run("committed repository", func(t *testing.T) {
		dir := newTestRepo(t)
		info := g.Describe(ctx, dir)
		if info.Branch == "unknown" || info.Branch == "" {
			t.Errorf("expected a branch name, got %q", info.Branch)
		}
		if len(info.Head) != 40 && len(info.Head) != 64 {
			t.Errorf("expected a full object name, got %q", info.Head)
		}
		if info.Dirty {
			t.Error("expected clean work tree")
		}
	})

	t.Run("repository without commits", func(t *testing.T) {
		dir := t.TempDir()
		gitCmd(t, dir, "init")
		info := g.Describe(ctx, dir)
		if info.Head != "unknown" {
			t.Errorf("expected unknown head before first commit, got %q", info.Head)
		}
	})
}

func TestVersion(t *testing.T) {
	g := newGit(t)
	v, err := g.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v == "" || v[0] < '0' || v[0] > '9' {
		t.Errorf("unexpected version %q", v)
	}
}

package tree

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jdutton/vibe-validate-sub006/internal/git"
)

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

func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	gitCmd(t, dir, "init")
	gitCmd(t, dir, "config", "user.email", "test@example.com")
	gitCmd(t, dir, "config", "user.name", "Test User")
	writeFile(t, dir, "README.md", "# Test\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "initial commit")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func newAddresser(t *testing.T) *Addresser {
	t.Helper()
	g, err := git.NewGit(context.Background())
	if err != nil {
		t.Skipf("git not available: %v", err)
	}
	return NewAddresser(g)
}

func TestComputeAddressCleanTreeMatchesHead(t *testing.T) {
	a := newAddresser(t)
	dir := newTestRepo(t)

	addr, err := a.ComputeAddress(context.Background(), dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	headTree := gitCmd(t, dir, "rev-parse", "HEAD^{tree}")
	if addr != headTree {
		t.Errorf("clean tree address = %s, want HEAD tree %s", addr, headTree)
	}
}

func TestComputeAddressDeterministic(t *testing.T) {
	a := newAddresser(t)
	dir := newTestRepo(t)
	ctx := context.Background()

	first, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	second, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	if first != second {
		t.Errorf("address changed without content change: %s then %s", first, second)
	}
}

func TestComputeAddressTracksContent(t *testing.T) {
	a := newAddresser(t)
	dir := newTestRepo(t)
	ctx := context.Background()

	base, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}

	// An uncommitted edit must shift the address.
	writeFile(t, dir, "README.md", "# Changed\n")
	edited, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	if edited == base {
		t.Error("edit to tracked file did not change the address")
	}

	// Restoring the content must restore the address.
	writeFile(t, dir, "README.md", "# Test\n")
	restored, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	if restored != base {
		t.Errorf("restored tree address = %s, want %s", restored, base)
	}
}

func TestComputeAddressSeesUntrackedFiles(t *testing.T) {
	a := newAddresser(t)
	dir := newTestRepo(t)
	ctx := context.Background()

	base, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	writeFile(t, dir, "untracked.txt", "new\n")
	got, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	if got == base {
		t.Error("untracked file did not change the address")
	}
}

func TestComputeAddressIgnoresIgnoredFiles(t *testing.T) {
	a := newAddresser(t)
	dir := newTestRepo(t)
	ctx := context.Background()

	writeFile(t, dir, ".gitignore", "*.log\n")
	gitCmd(t, dir, "add", ".gitignore")
	gitCmd(t, dir, "commit", "-m", "add gitignore")

	base, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	writeFile(t, dir, "build.log", "noise\n")
	got, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	if got != base {
		t.Error("ignored file changed the address")
	}
}

func TestComputeAddressSeesDeletions(t *testing.T) {
	a := newAddresser(t)
	dir := newTestRepo(t)
	ctx := context.Background()

	writeFile(t, dir, "extra.txt", "data\n")
	gitCmd(t, dir, "add", ".")
	gitCmd(t, dir, "commit", "-m", "add extra")

	base, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "extra.txt")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	got, err := a.ComputeAddress(ctx, dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	if got == base {
		t.Error("deleting a tracked file did not change the address")
	}
}

func TestComputeAddressLeavesRealIndexAlone(t *testing.T) {
	a := newAddresser(t)
	dir := newTestRepo(t)
	ctx := context.Background()

	writeFile(t, dir, "wip.txt", "work in progress\n")
	before := gitCmd(t, dir, "status", "--porcelain")
	if _, err := a.ComputeAddress(ctx, dir); err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	after := gitCmd(t, dir, "status", "--porcelain")
	if before != after {
		t.Errorf("status changed:\nbefore: %q\nafter:  %q", before, after)
	}
}

func TestComputeAddressWithoutCommits(t *testing.T) {
	a := newAddresser(t)
	dir := t.TempDir()
	gitCmd(t, dir, "init")
	writeFile(t, dir, "first.txt", "hello\n")

	addr, err := a.ComputeAddress(context.Background(), dir)
	if err != nil {
		t.Fatalf("ComputeAddress failed: %v", err)
	}
	if len(addr) != 40 && len(addr) != 64 {
		t.Errorf("unexpected address %q", addr)
	}
}

func TestComputeAddressOutsideRepository(t *testing.T) {
	a := newAddresser(t)
	_, err := a.ComputeAddress(context.Background(), t.TempDir())
	if !errors.Is(err, git.ErrNotRepository) {
		t.Errorf("expected ErrNotRepository, got %v", err)
	}
}

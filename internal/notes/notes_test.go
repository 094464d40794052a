package notes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jdutton/vibe-validate-sub006/internal/git"
)

const testRef = "refs/notes/vibe-validate/test"

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

func gitStdin(t *testing.T, dir, stdin string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("git %v failed: %v", args, err)
	}
	return strings.TrimSpace(string(out))
}

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

func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	g, err := git.NewGit(context.Background())
	if err != nil {
		t.Skipf("git not available: %v", err)
	}
	s, err := NewStore(g, Config{Dir: dir})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

// fakeAddr returns a syntactically valid object name that was never written
// to the object database.
func fakeAddr(t *testing.T, s *Store, seed string) string {
	t.Helper()
	addr, err := s.HashBlob(context.Background(), seed)
	if err != nil {
		t.Fatalf("HashBlob failed: %v", err)
	}
	return addr
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()
	addr := fakeAddr(t, s, "round-trip")

	content := "line one\nline two\n"
	if err := s.Write(ctx, testRef, addr, content); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, ok, err := s.Read(ctx, testRef, addr)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !ok {
		t.Fatal("expected note to exist")
	}
	if got != content {
		t.Errorf("Read = %q, want %q", got, content)
	}
}

func TestReadMissing(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()

	t.Run("ref absent", func(t *testing.T) {
		_, ok, err := s.Read(ctx, testRef, fakeAddr(t, s, "nothing"))
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if ok {
			t.Error("expected miss on absent ref")
		}
	})

	t.Run("note absent under existing ref", func(t *testing.T) {
		if err := s.Write(ctx, testRef, fakeAddr(t, s, "present"), "x"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		_, ok, err := s.Read(ctx, testRef, fakeAddr(t, s, "absent"))
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if ok {
			t.Error("expected miss for unwritten note")
		}
	})
}

func TestEmptyNoteIsNotAMiss(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()
	addr := fakeAddr(t, s, "empty")

	if err := s.Write(ctx, testRef, addr, ""); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, ok, err := s.Read(ctx, testRef, addr)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !ok {
		t.Fatal("empty note should still exist")
	}
	if got != "" {
		t.Errorf("Read = %q, want empty", got)
	}
}

func TestWritePreservesOtherKeys(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()
	a := fakeAddr(t, s, "key-a")
	b := fakeAddr(t, s, "key-b")

	if err := s.Write(ctx, testRef, a, "value a"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(ctx, testRef, b, "value b"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(ctx, testRef, a, "value a2"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, ok, err := s.Read(ctx, testRef, b)
	if err != nil || !ok {
		t.Fatalf("Read b = (%v, %v), want hit", ok, err)
	}
	if got != "value b" {
		t.Errorf("overwriting a clobbered b: got %q", got)
	}
	got, _, _ = s.Read(ctx, testRef, a)
	if got != "value a2" {
		t.Errorf("Read a = %q, want %q", got, "value a2")
	}
}

func TestMergeWriteSeesPrevious(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()
	addr := fakeAddr(t, s, "merge")

	err := s.MergeWrite(ctx, testRef, addr, func(prev string, exists bool) (string, error) {
		if exists {
			t.Error("first write should not see an existing note")
		}
		return "first", nil
	})
	if err != nil {
		t.Fatalf("MergeWrite failed: %v", err)
	}

	err = s.MergeWrite(ctx, testRef, addr, func(prev string, exists bool) (string, error) {
		if !exists {
			t.Error("second write should see the existing note")
		}
		return prev + "+second", nil
	})
	if err != nil {
		t.Fatalf("MergeWrite failed: %v", err)
	}

	got, _, _ := s.Read(ctx, testRef, addr)
	if got != "first+second" {
		t.Errorf("Read = %q, want %q", got, "first+second")
	}
}

func TestMergeWriteRetriesPastLostRace(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()
	mine := fakeAddr(t, s, "mine")
	theirs := fakeAddr(t, s, "theirs")

	// Another writer lands between our snapshot and our swap exactly once.
	raced := false
	err := s.MergeWrite(ctx, testRef, mine, func(prev string, exists bool) (string, error) {
		if !raced {
			raced = true
			if werr := s.Write(ctx, testRef, theirs, "their value"); werr != nil {
				t.Fatalf("interfering Write failed: %v", werr)
			}
		}
		return "my value", nil
	})
	if err != nil {
		t.Fatalf("MergeWrite failed: %v", err)
	}

	for addr, want := range map[string]string{mine: "my value", theirs: "their value"} {
		got, ok, err := s.Read(ctx, testRef, addr)
		if err != nil || !ok {
			t.Fatalf("Read %s = (%v, %v), want hit", addr, ok, err)
		}
		if got != want {
			t.Errorf("Read %s = %q, want %q", addr, got, want)
		}
	}
}

func TestMergeWriteConflictExhausted(t *testing.T) {
	dir := newTestRepo(t)
	g, err := git.NewGit(context.Background())
	if err != nil {
		t.Skipf("git not available: %v", err)
	}
	s, err := NewStore(g, Config{Dir: dir, Attempts: 2})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	ctx := context.Background()
	mine := fakeAddr(t, s, "contended")

	// Every attempt loses the race.
	n := 0
	err = s.MergeWrite(ctx, testRef, mine, func(prev string, exists bool) (string, error) {
		n++
		addr := fakeAddr(t, s, fmt.Sprintf("interferer-%d", n))
		if werr := s.Write(ctx, testRef, addr, "noise"); werr != nil {
			t.Fatalf("interfering Write failed: %v", werr)
		}
		return "never lands", nil
	})
	if !errors.Is(err, ErrConflictExhausted) {
		t.Fatalf("expected ErrConflictExhausted, got %v", err)
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %T", err)
	}
	if conflict.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", conflict.Attempts)
	}
	if n != 2 {
		t.Errorf("fn called %d times, want 2", n)
	}
}

func TestMergeWriteFnErrorAborts(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()
	addr := fakeAddr(t, s, "aborted")

	boom := errors.New("boom")
	err := s.MergeWrite(ctx, testRef, addr, func(string, bool) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if _, ok, _ := s.Read(ctx, testRef, addr); ok {
		t.Error("aborted write should not leave a note")
	}
}

func TestConcurrentWritersAllSurvive(t *testing.T) {
	dir := newTestRepo(t)
	g, err := git.NewGit(context.Background())
	if err != nil {
		t.Skipf("git not available: %v", err)
	}
	// With n one-shot writers each can lose at most n-1 races, so a budget
	// of n attempts cannot exhaust.
	const writers = 5
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, writers)
	addrs := make([]string, writers)
	for i := 0; i < writers; i++ {
		s, serr := NewStore(g, Config{Dir: dir, Attempts: writers + 1})
		if serr != nil {
			t.Fatalf("NewStore failed: %v", serr)
		}
		addrs[i] = fakeAddr(t, s, fmt.Sprintf("writer-%d", i))
		wg.Add(1)
		go func(i int, s *Store) {
			defer wg.Done()
			errs[i] = s.Write(ctx, testRef, addrs[i], fmt.Sprintf("payload %d", i))
		}(i, s)
	}
	wg.Wait()

	reader := newTestStore(t, dir)
	for i := 0; i < writers; i++ {
		if errs[i] != nil {
			t.Fatalf("writer %d failed: %v", i, errs[i])
		}
		got, ok, err := reader.Read(ctx, testRef, addrs[i])
		if err != nil || !ok {
			t.Fatalf("Read writer %d = (%v, %v), want hit", i, ok, err)
		}
		if want := fmt.Sprintf("payload %d", i); got != want {
			t.Errorf("writer %d payload = %q, want %q", i, got, want)
		}
	}
}

func TestRemove(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()
	keep := fakeAddr(t, s, "keep")
	drop := fakeAddr(t, s, "drop")

	if err := s.Write(ctx, testRef, keep, "keep"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(ctx, testRef, drop, "drop"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	removed, err := s.Remove(ctx, testRef, drop)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if !removed {
		t.Error("expected Remove to report an existing note")
	}
	if _, ok, _ := s.Read(ctx, testRef, drop); ok {
		t.Error("note still readable after Remove")
	}
	if _, ok, _ := s.Read(ctx, testRef, keep); !ok {
		t.Error("Remove deleted an unrelated note")
	}

	removed, err = s.Remove(ctx, testRef, drop)
	if err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if removed {
		t.Error("second Remove should report nothing to do")
	}
}

func TestRemoveLastNoteLeavesEmptyRef(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()
	addr := fakeAddr(t, s, "only")

	if err := s.Write(ctx, testRef, addr, "x"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := s.Remove(ctx, testRef, addr); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	n, err := s.Count(ctx, testRef)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestForEachSortedSnapshot(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()

	want := map[string]string{}
	for i := 0; i < 4; i++ {
		addr := fakeAddr(t, s, fmt.Sprintf("iter-%d", i))
		want[addr] = fmt.Sprintf("note %d", i)
		if err := s.Write(ctx, testRef, addr, want[addr]); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	var order []string
	got := map[string]string{}
	err := s.ForEach(ctx, testRef, func(addr, text string) error {
		order = append(order, addr)
		got[addr] = text
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("visited %d notes, want %d", len(got), len(want))
	}
	for addr, text := range want {
		if got[addr] != text {
			t.Errorf("note %s = %q, want %q", addr, got[addr], text)
		}
	}
	for i := 1; i < len(order); i++ {
		if order[i-1] >= order[i] {
			t.Errorf("addresses not in order: %s before %s", order[i-1], order[i])
		}
	}
}

func TestForEachStopsOnError(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Write(ctx, testRef, fakeAddr(t, s, fmt.Sprintf("stop-%d", i)), "x"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	stop := errors.New("stop here")
	visited := 0
	err := s.ForEach(ctx, testRef, func(addr, text string) error {
		visited++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if visited != 1 {
		t.Errorf("visited %d notes after stop, want 1", visited)
	}
}

func TestFanoutReadable(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()

	// Lay out a fanned-out notes tree by hand: ab/cdef... instead of a
	// flat abcdef... path, the shape git's own tooling produces on
	// large refs.
	addr := fakeAddr(t, s, "fanned-out")
	blob := gitStdin(t, dir, "fanned payload", "hash-object", "-w", "--stdin")
	inner := gitStdin(t, dir, fmt.Sprintf("100644 blob %s\t%s\n", blob, addr[2:]), "mktree")
	outer := gitStdin(t, dir, fmt.Sprintf("040000 tree %s\t%s\n", inner, addr[:2]), "mktree")
	commit := gitCmd(t, dir, "commit-tree", outer, "-m", "fanout")
	gitCmd(t, dir, "update-ref", testRef, commit)

	got, ok, err := s.Read(ctx, testRef, addr)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !ok {
		t.Fatal("fanned-out note not found")
	}
	if got != "fanned payload" {
		t.Errorf("Read = %q, want %q", got, "fanned payload")
	}

	var seen []string
	if err := s.ForEach(ctx, testRef, func(a, _ string) error {
		seen = append(seen, a)
		return nil
	}); err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != addr {
		t.Errorf("ForEach saw %v, want [%s]", seen, addr)
	}

	// A merge write on a fanned-out ref must keep the note readable.
	other := fakeAddr(t, s, "post-fanout")
	if err := s.Write(ctx, testRef, other, "later"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, ok, _ := s.Read(ctx, testRef, addr); !ok {
		t.Error("fanned-out note lost after a flat write")
	}
}

func TestCount(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()

	n, err := s.Count(ctx, testRef)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count on absent ref = %d, want 0", n)
	}
	for i := 0; i < 3; i++ {
		if err := s.Write(ctx, testRef, fakeAddr(t, s, fmt.Sprintf("count-%d", i)), "x"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	n, err = s.Count(ctx, testRef)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestDeleteRef(t *testing.T) {
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()

	if err := s.DeleteRef(ctx, testRef); err != nil {
		t.Fatalf("DeleteRef on absent ref failed: %v", err)
	}
	if err := s.Write(ctx, testRef, fakeAddr(t, s, "doomed"), "x"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.DeleteRef(ctx, testRef); err != nil {
		t.Fatalf("DeleteRef failed: %v", err)
	}
	n, err := s.Count(ctx, testRef)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Count after DeleteRef = %d, want 0", n)
	}
}

func TestBrokenRepositoryIsUnavailable(t *testing.T) {
	s := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, _, err := s.Read(ctx, testRef, strings.Repeat("a", 40))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Read outside a repository: expected ErrStoreUnavailable, got %v", err)
	}
	err = s.Write(ctx, testRef, strings.Repeat("a", 40), "x")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Write outside a repository: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestNotesWorkWithoutGitIdentity(t *testing.T) {
	// CI machines often have no user.name or user.email. Notes commits
	// must still land via the store's own identity.
	dir := t.TempDir()
	gitCmd(t, dir, "init")
	s := newTestStore(t, dir)
	ctx := context.Background()
	addr := fakeAddr(t, s, "identityless")

	if err := s.Write(ctx, testRef, addr, "works"); err != nil {
		t.Fatalf("Write without identity failed: %v", err)
	}
	got, ok, err := s.Read(ctx, testRef, addr)
	if err != nil || !ok || got != "works" {
		t.Fatalf("Read = (%q, %v, %v), want hit", got, ok, err)
	}
}

func TestNotesVisibleToGitPorcelain(t *testing.T) {
	// The store writes plumbing-level objects; git notes itself should
	// still be able to show them when the target object exists.
	dir := newTestRepo(t)
	s := newTestStore(t, dir)
	ctx := context.Background()

	target, err := s.WriteBlob(ctx, "anchored content")
	if err != nil {
		t.Fatalf("WriteBlob failed: %v", err)
	}
	if err := s.Write(ctx, testRef, target, "porcelain-visible"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := gitCmd(t, dir, "notes", "--ref="+testRef, "show", target)
	if out != "porcelain-visible" {
		t.Errorf("git notes show = %q, want %q", out, "porcelain-visible")
	}
}

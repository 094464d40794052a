package notes

import (
	"context"
	"sort"
	"strings"

	"github.com/jdutton/vibe-validate-sub006/internal/git"
)

// MergeWrite updates the note for addr under ref with optimistic
// concurrency. fn receives the current note text (and whether one exists)
// and returns the replacement text. On a lost race the whole cycle repeats
// against a fresh snapshot, so fn must be safe to call more than once.
// After the retry budget is spent, MergeWrite returns a *ConflictError
// matching ErrConflictExhausted. Errors returned by fn abort the write and
// propagate unchanged.
func (s *Store) MergeWrite(ctx context.Context, ref, addr string, fn func(prev string, exists bool) (string, error)) error {
	for attempt := 0; attempt < s.attempts; attempt++ {
		head, entries, err := s.snapshot(ctx, ref)
		if err != nil {
			return err
		}

		prev, exists := "", false
		if oid, ok := entries[addr]; ok {
			prev, err = s.readBlob(ctx, oid)
			if err != nil {
				return err
			}
			exists = true
		}

		next, err := fn(prev, exists)
		if err != nil {
			return err
		}

		blob, err := s.WriteBlob(ctx, next)
		if err != nil {
			return err
		}
		entries[addr] = blob

		won, err := s.commitAndSwap(ctx, ref, head, entries)
		if err != nil {
			return err
		}
		if won {
			return nil
		}
	}
	return &ConflictError{Ref: ref, Attempts: s.attempts}
}

// Write replaces the note for addr under ref unconditionally. Contention
// still goes through the compare-and-swap path so concurrent writes to
// other keys are never lost; only the value for addr is last-writer-wins.
func (s *Store) Write(ctx context.Context, ref, addr, text string) error {
	return s.MergeWrite(ctx, ref, addr, func(string, bool) (string, error) {
		return text, nil
	})
}

// Remove deletes the note for addr under ref and reports whether one
// existed. Removal uses the same compare-and-swap loop as writes.
func (s *Store) Remove(ctx context.Context, ref, addr string) (bool, error) {
	for attempt := 0; attempt < s.attempts; attempt++ {
		head, entries, err := s.snapshot(ctx, ref)
		if err != nil {
			return false, err
		}
		if _, ok := entries[addr]; !ok {
			return false, nil
		}
		delete(entries, addr)

		won, err := s.commitAndSwap(ctx, ref, head, entries)
		if err != nil {
			return false, err
		}
		if won {
			return true, nil
		}
	}
	return false, &ConflictError{Ref: ref, Attempts: s.attempts}
}

// DeleteRef removes ref and every note under it. Deleting a ref that does
// not exist is a no-op.
func (s *Store) DeleteRef(ctx context.Context, ref string) error {
	for attempt := 0; attempt < s.attempts; attempt++ {
		head, _, err := s.snapshot(ctx, ref)
		if err != nil {
			return err
		}
		if head == "" {
			return nil
		}
		res, err := s.exec(ctx, git.ExecOpts{}, "update-ref", "-d", ref, head)
		if err != nil {
			return unavailable("delete "+ref, err)
		}
		if res.Code == 0 {
			return nil
		}
		if !isLockRace(res.Stderr) {
			return unavailableExit("delete "+ref, res)
		}
	}
	return &ConflictError{Ref: ref, Attempts: s.attempts}
}

// commitAndSwap writes entries as a flat tree, commits it on top of head,
// and advances ref from head to the new commit. Returns false when another
// writer moved the ref first.
func (s *Store) commitAndSwap(ctx context.Context, ref, head string, entries map[string]string) (bool, error) {
	treeOID, err := s.writeTree(ctx, entries)
	if err != nil {
		return false, err
	}

	args := []string{"commit-tree", treeOID, "-m", "update notes via vibe-validate"}
	if head != "" {
		args = append(args, "-p", head)
	}
	identity := []string{
		"GIT_AUTHOR_NAME=" + commitName,
		"GIT_AUTHOR_EMAIL=" + commitEmail,
		"GIT_COMMITTER_NAME=" + commitName,
		"GIT_COMMITTER_EMAIL=" + commitEmail,
	}
	res, err := s.exec(ctx, git.ExecOpts{Env: identity}, args...)
	if err != nil {
		return false, unavailable("commit notes", err)
	}
	if res.Code != 0 {
		return false, unavailableExit("commit notes", res)
	}
	commit := strings.TrimSpace(res.Stdout)

	old := head
	if old == "" {
		// The all-zero name tells update-ref the ref must not exist yet.
		old = strings.Repeat("0", len(commit))
	}
	swap, err := s.exec(ctx, git.ExecOpts{}, "update-ref", ref, commit, old)
	if err != nil {
		return false, unavailable("update "+ref, err)
	}
	if swap.Code == 0 {
		return true, nil
	}
	if isLockRace(swap.Stderr) {
		return false, nil
	}
	return false, unavailableExit("update "+ref, swap)
}

// writeTree stores entries as one flat tree object and returns its name.
func (s *Store) writeTree(ctx context.Context, entries map[string]string) (string, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var in strings.Builder
	for _, name := range names {
		in.WriteString("100644 blob ")
		in.WriteString(entries[name])
		in.WriteString("\t")
		in.WriteString(name)
		in.WriteString("\n")
	}

	res, err := s.exec(ctx, git.ExecOpts{Stdin: in.String()}, "mktree")
	if err != nil {
		return "", unavailable("write notes tree", err)
	}
	if res.Code != 0 {
		return "", unavailableExit("write notes tree", res)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// isLockRace recognizes update-ref failures caused by another writer
// moving the ref between snapshot and swap.
func isLockRace(stderr string) bool {
	return strings.Contains(stderr, "cannot lock ref") ||
		strings.Contains(stderr, "but expected") ||
		strings.Contains(stderr, "reference already exists")
}

// Package notes stores small text payloads in git notes refs, keyed by
// object name. It speaks git plumbing directly instead of the notes
// porcelain so that every write is an atomic compare-and-swap on the ref:
// concurrent writers on different keys both survive, and writers on the same
// key retry against fresh snapshots instead of clobbering each other.
//
// Writers always produce flat notes trees. Readers tolerate fanned-out
// trees (ab/cdef... path splits) left behind by other tools by rejoining
// path segments, so a ref that git itself has fanned out stays readable.
package notes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jdutton/vibe-validate-sub006/internal/git"
)

const (
	// DefaultTimeout bounds each git subprocess spawned by the store.
	DefaultTimeout = 30 * time.Second

	// DefaultMergeAttempts is how many compare-and-swap rounds a write gets
	// before giving up on a contended ref.
	DefaultMergeAttempts = 4
)

// Fixed identity for notes commits, so writes work on CI machines that have
// no user.name or user.email configured.
const (
	commitName  = "vibe-validate"
	commitEmail = "vibe-validate@localhost"
)

// ErrStoreUnavailable is returned when the backing repository cannot be
// read or written: git failures, corrupt refs, subprocess timeouts.
var ErrStoreUnavailable = errors.New("notes store unavailable")

// ErrConflictExhausted reports a merge write that lost the compare-and-swap
// race on every attempt. Use errors.Is to detect it.
var ErrConflictExhausted = errors.New("concurrent note writes exhausted retries")

// ConflictError carries the details of an exhausted merge write.
type ConflictError struct {
	Ref      string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: lost update race %d times", e.Ref, e.Attempts)
}

// Is makes errors.Is(err, ErrConflictExhausted) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflictExhausted
}

// Config configures a Store.
type Config struct {
	// Dir is the work tree whose repository holds the notes. Required.
	Dir string

	// Timeout bounds each git subprocess. DefaultTimeout when zero.
	Timeout time.Duration

	// Attempts is the merge write retry budget. DefaultMergeAttempts
	// when zero.
	Attempts int
}

// Store reads and writes note payloads under notes refs of one repository.
// All methods are safe for concurrent use from multiple processes; that is
// the point of the compare-and-swap write path.
type Store struct {
	git      *git.Git
	dir      string
	timeout  time.Duration
	attempts int
}

// NewStore creates a Store for the repository containing cfg.Dir.
func NewStore(g *git.Git, cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("notes store requires a repository directory")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultMergeAttempts
	}
	if cfg.Attempts < 1 {
		return nil, fmt.Errorf("merge attempts must be at least 1, got %d", cfg.Attempts)
	}
	return &Store{
		git:      g,
		dir:      cfg.Dir,
		timeout:  cfg.Timeout,
		attempts: cfg.Attempts,
	}, nil
}

// exec runs one git subprocess against the store's repository with the
// per-call timeout applied.
func (s *Store) exec(ctx context.Context, opts git.ExecOpts, args ...string) (*git.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	opts.Dir = s.dir
	return s.git.Exec(ctx, opts, args...)
}

func unavailable(op string, cause error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, cause)
}

func unavailableExit(op string, res *git.Result) error {
	return fmt.Errorf("%s: %w: exit %d: %s",
		op, ErrStoreUnavailable, res.Code, strings.TrimSpace(res.Stderr))
}

// snapshot resolves ref to its current commit and lists the note entries
// reachable from it. A missing ref yields ("", empty map, nil). Fanned-out
// paths are rejoined into bare object names.
func (s *Store) snapshot(ctx context.Context, ref string) (string, map[string]string, error) {
	res, err := s.exec(ctx, git.ExecOpts{}, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", nil, unavailable("resolve "+ref, err)
	}
	if res.Code != 0 {
		// --quiet keeps stderr empty for a plain missing ref. Anything on
		// stderr means the repository itself is broken or absent.
		if strings.TrimSpace(res.Stderr) != "" {
			return "", nil, unavailableExit("resolve "+ref, res)
		}
		return "", map[string]string{}, nil
	}
	head := strings.TrimSpace(res.Stdout)

	ls, err := s.exec(ctx, git.ExecOpts{}, "ls-tree", "-r", head)
	if err != nil {
		return "", nil, unavailable("list "+ref, err)
	}
	if ls.Code != 0 {
		return "", nil, unavailableExit("list "+ref, ls)
	}

	entries := make(map[string]string)
	for _, line := range strings.Split(ls.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Format: <mode> <type> <oid>\t<path>
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		meta := strings.Fields(line[:tab])
		if len(meta) != 3 || meta[1] != "blob" {
			continue
		}
		addr := strings.ReplaceAll(line[tab+1:], "/", "")
		entries[addr] = meta[2]
	}
	return head, entries, nil
}

// readBlob returns the content of a blob object.
func (s *Store) readBlob(ctx context.Context, oid string) (string, error) {
	res, err := s.exec(ctx, git.ExecOpts{}, "cat-file", "blob", oid)
	if err != nil {
		return "", unavailable("read note "+oid, err)
	}
	if res.Code != 0 {
		return "", unavailableExit("read note "+oid, res)
	}
	return res.Stdout, nil
}

// HashBlob returns the object name content would have as a blob, without
// writing anything to the object database.
func (s *Store) HashBlob(ctx context.Context, content string) (string, error) {
	res, err := s.exec(ctx, git.ExecOpts{Stdin: content}, "hash-object", "--stdin")
	if err != nil {
		return "", unavailable("hash blob", err)
	}
	if res.Code != 0 {
		return "", unavailableExit("hash blob", res)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// WriteBlob stores content as a blob object and returns its name.
func (s *Store) WriteBlob(ctx context.Context, content string) (string, error) {
	res, err := s.exec(ctx, git.ExecOpts{Stdin: content}, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", unavailable("write blob", err)
	}
	if res.Code != 0 {
		return "", unavailableExit("write blob", res)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Read returns the note attached to addr under ref. The second result
// reports whether a note exists; a missing ref or missing note is not an
// error. The note target does not have to exist as an object, only its
// name matters, so notes survive garbage collection of their anchors.
func (s *Store) Read(ctx context.Context, ref, addr string) (string, bool, error) {
	_, entries, err := s.snapshot(ctx, ref)
	if err != nil {
		return "", false, err
	}
	oid, ok := entries[addr]
	if !ok {
		return "", false, nil
	}
	text, err := s.readBlob(ctx, oid)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// ForEach calls fn for every note under ref, in object name order, against
// one consistent snapshot of the ref. Writes that land during iteration are
// not observed. Returning an error from fn stops the walk and propagates
// the error unchanged.
func (s *Store) ForEach(ctx context.Context, ref string, fn func(addr, text string) error) error {
	_, entries, err := s.snapshot(ctx, ref)
	if err != nil {
		return err
	}
	addrs := make([]string, 0, len(entries))
	for addr := range entries {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	for _, addr := range addrs {
		text, err := s.readBlob(ctx, entries[addr])
		if err != nil {
			return err
		}
		if err := fn(addr, text); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of notes under ref without reading their
// content. A missing ref counts as zero.
func (s *Store) Count(ctx context.Context, ref string) (int, error) {
	_, entries, err := s.snapshot(ctx, ref)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

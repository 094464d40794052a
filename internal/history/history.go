// Package history keeps a bounded log of validation runs per tree address.
// History is an audit side-channel: appends degrade to "not recorded" with
// a reason instead of failing the validation that produced them, and reads
// drop runs they cannot decode instead of poisoning the whole record.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jdutton/vibe-validate-sub006/internal/config"
	"github.com/jdutton/vibe-validate-sub006/internal/notes"
	"github.com/jdutton/vibe-validate-sub006/internal/types"
)

// Ref is the notes ref holding validation history, one note per tree
// address.
const Ref = "refs/notes/vibe-validate/history/validate"

// Run is one recorded validation run.
type Run struct {
	ID           string    `yaml:"id"`
	Timestamp    time.Time `yaml:"timestamp"`
	DurationSecs float64   `yaml:"duration_secs"`
	Passed       bool      `yaml:"passed"`

	// Work tree metadata at run time, best-effort.
	Branch string `yaml:"branch,omitempty"`
	Head   string `yaml:"head,omitempty"`
	Dirty  bool   `yaml:"dirty,omitempty"`

	Result *types.ValidationResult `yaml:"result,omitempty"`
}

// Record is the full history stored for one tree address. Runs are ordered
// oldest first; the last element is always the most recent run.
type Record struct {
	Tree string `yaml:"tree"`
	Runs []Run  `yaml:"runs"`
}

// Newest returns the most recent run, or nil for an empty record.
func (r *Record) Newest() *Run {
	if len(r.Runs) == 0 {
		return nil
	}
	return &r.Runs[len(r.Runs)-1]
}

// Store reads and appends validation history.
type Store struct {
	store  *notes.Store
	policy config.RetentionPolicy
}

// New creates a history Store with the given retention policy.
func New(store *notes.Store, policy config.RetentionPolicy) *Store {
	return &Store{store: store, policy: policy}
}

// AppendRun records run under the history note for addr. It never fails:
// when the store is unreachable or contended past the retry budget, the
// run simply goes unrecorded and the reason says why. Output is truncated
// to the policy budget and the oldest runs are evicted past the per-tree
// limit; both are reapplied inside the merge so concurrent appenders never
// lose each other's runs.
func (s *Store) AppendRun(ctx context.Context, addr string, run *Run) (recorded bool, reason string) {
	if run.Result == nil {
		// Readers treat a run without its result as corrupt; storing one
		// would only set it up to be dropped later.
		return false, "run carries no result"
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = time.Now().UTC()
	}

	err := s.store.MergeWrite(ctx, Ref, addr, func(prev string, exists bool) (string, error) {
		record := decodeRecord(prev)
		record.Tree = addr
		record.Runs = append(record.Runs, *run)
		if over := len(record.Runs) - s.policy.MaxRunsPerTree; over > 0 {
			record.Runs = record.Runs[over:]
		}
		for i := range record.Runs {
			truncateResult(record.Runs[i].Result, s.policy.MaxOutputBytes)
		}
		payload, err := yaml.Marshal(record)
		if err != nil {
			return "", fmt.Errorf("encoding history record: %w", err)
		}
		return string(payload), nil
	})
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}

// ReadHistory returns the recorded runs for addr, oldest first. A missing
// note yields an empty record; only an unavailable store is an error.
func (s *Store) ReadHistory(ctx context.Context, addr string) (*Record, error) {
	text, ok, err := s.store.Read(ctx, Ref, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Record{Tree: addr}, nil
	}
	record := decodeRecord(text)
	if record.Tree == "" {
		record.Tree = addr
	}
	return record, nil
}

// decodeRecord parses a stored history payload, keeping every run that
// decodes cleanly and dropping the rest. A run without an id, a timestamp
// or its result is structurally broken and never poisons the runs around
// it. A payload that does not parse at all yields an empty record.
func decodeRecord(text string) *Record {
	var raw struct {
		Tree string      `yaml:"tree"`
		Runs []yaml.Node `yaml:"runs"`
	}
	record := &Record{}
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return record
	}
	record.Tree = raw.Tree
	for i := range raw.Runs {
		var run Run
		if err := raw.Runs[i].Decode(&run); err != nil {
			continue
		}
		if run.ID == "" || run.Timestamp.IsZero() || run.Result == nil {
			continue
		}
		record.Runs = append(record.Runs, run)
	}
	return record
}

// truncateResult clips step output to the byte budget, marking what it
// clips. Applying it twice is a no-op, which the merge retry path relies
// on.
func truncateResult(r *types.ValidationResult, limit int) {
	if r == nil || limit <= 0 {
		return
	}
	for pi := range r.Phases {
		steps := r.Phases[pi].Steps
		for si := range steps {
			if len(steps[si].Output) > limit {
				steps[si].Output = steps[si].Output[:limit] + "\n... (truncated)"
				steps[si].Truncated = true
			}
		}
	}
}

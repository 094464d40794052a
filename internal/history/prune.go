package history

import (
	"context"
	"fmt"
	"os"
	"time"
)

// PruneReport summarizes one prune pass.
type PruneReport struct {
	// NotesPruned counts history notes removed (or that would be removed
	// in dry-run mode).
	NotesPruned int

	// RunsPruned counts the readable runs inside those notes.
	RunsPruned int

	// NotesRemaining counts the notes left after the pass.
	NotesRemaining int

	// PrunedAddresses lists the tree addresses whose notes were pruned.
	PrunedAddresses []string
}

// candidate is one history note staged for a prune decision.
type candidate struct {
	addr   string
	runs   int
	newest time.Time
}

// PruneByAge removes history notes whose newest run is older than
// maxAgeDays. One recent run keeps the whole note; removal is all-or-
// nothing per address, never partial. Notes with no readable runs count
// as stale. With dryRun the report says what would happen without
// touching the store.
func (s *Store) PruneByAge(ctx context.Context, maxAgeDays int, dryRun bool) (*PruneReport, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	return s.prune(ctx, dryRun, func(c candidate) bool {
		return c.newest.Before(cutoff)
	})
}

// PruneAll removes every history note.
func (s *Store) PruneAll(ctx context.Context, dryRun bool) (*PruneReport, error) {
	return s.prune(ctx, dryRun, func(candidate) bool { return true })
}

func (s *Store) prune(ctx context.Context, dryRun bool, shouldPrune func(candidate) bool) (*PruneReport, error) {
	var candidates []candidate
	total := 0
	err := s.store.ForEach(ctx, Ref, func(addr, text string) error {
		total++
		record := decodeRecord(text)
		c := candidate{addr: addr, runs: len(record.Runs)}
		if newest := record.Newest(); newest != nil {
			c.newest = newest.Timestamp
		}
		if shouldPrune(c) {
			candidates = append(candidates, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report := &PruneReport{}
	for _, c := range candidates {
		if !dryRun {
			if _, err := s.store.Remove(ctx, Ref, c.addr); err != nil {
				// One stuck note must not abort the batch. Count it
				// anyway so the operator sees the intended scope.
				fmt.Fprintf(os.Stderr, "warning: failed to prune history for %s: %v\n", c.addr, err)
			}
		}
		report.NotesPruned++
		report.RunsPruned += c.runs
		report.PrunedAddresses = append(report.PrunedAddresses, c.addr)
	}
	report.NotesRemaining = total - report.NotesPruned
	return report, nil
}

// Stats summarizes the history ref.
type Stats struct {
	// Notes is the number of history notes (one per tree address).
	Notes int

	// Runs is the total count of readable runs across all notes.
	Runs int

	// Stale counts notes whose newest run is older than staleDays.
	Stale int

	// Oldest and Newest bound the newest-run timestamps across notes;
	// zero when the ref is empty.
	Oldest time.Time
	Newest time.Time
}

// CollectStats walks the history ref. staleDays controls the Stale count;
// pass the policy's WarnAfterDays.
func (s *Store) CollectStats(ctx context.Context, staleDays int) (*Stats, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -staleDays)
	stats := &Stats{}
	err := s.store.ForEach(ctx, Ref, func(addr, text string) error {
		record := decodeRecord(text)
		stats.Notes++
		stats.Runs += len(record.Runs)
		newest := record.Newest()
		if newest == nil {
			stats.Stale++
			return nil
		}
		ts := newest.Timestamp
		if ts.Before(cutoff) {
			stats.Stale++
		}
		if stats.Oldest.IsZero() || ts.Before(stats.Oldest) {
			stats.Oldest = ts
		}
		if ts.After(stats.Newest) {
			stats.Newest = ts
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

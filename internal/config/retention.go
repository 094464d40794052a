package config

import (
	"fmt"
	"os"
	"strconv"
)

// RetentionPolicy holds the bounds that keep notes refs from growing
// without limit.
type RetentionPolicy struct {
	// MaxRunsPerTree is the number of validation runs kept per tree
	// address. Appending past the limit evicts the oldest run.
	// Default: 10, Range: 1-100
	MaxRunsPerTree int

	// MaxOutputBytes is the per-step output budget stored in history.
	// Longer output is truncated with a marker.
	// Set to 0 for unlimited.
	// Default: 10000, Range: 0 or 256-1000000
	MaxOutputBytes int

	// WarnAfterDays is the age past which stored runs make doctor and
	// stats suggest pruning.
	// Default: 30, Range: 1-365
	WarnAfterDays int

	// WarnNotesCount is the notes count past which doctor and stats
	// suggest pruning. Set to 0 to disable the warning.
	// Default: 500, Range: 0 or 10-100000
	WarnNotesCount int
}

// DefaultRetentionPolicy returns the default retention policy.
//
// These defaults are chosen to:
// - Keep enough history per tree to spot flaky steps (10 runs)
// - Bound stored step output so notes stay diff-friendly (10 KB)
// - Surface stale history before it wastes clone bandwidth (30 days)
// - Flag refs large enough to slow fetches (500 notes)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		MaxRunsPerTree: 10,
		MaxOutputBytes: 10000,
		WarnAfterDays:  30,
		WarnNotesCount: 500,
	}
}

// Validate checks if the policy has valid values
func (p RetentionPolicy) Validate() error {
	if p.MaxRunsPerTree < 1 || p.MaxRunsPerTree > 100 {
		return fmt.Errorf("max_runs_per_tree must be between 1 and 100 (got %d)",
			p.MaxRunsPerTree)
	}

	// MaxOutputBytes: 0 = unlimited, or 256-1000000
	if p.MaxOutputBytes < 0 {
		return fmt.Errorf("max_output_bytes cannot be negative (got %d)", p.MaxOutputBytes)
	}
	if p.MaxOutputBytes > 0 && p.MaxOutputBytes < 256 {
		return fmt.Errorf("max_output_bytes must be 0 (unlimited) or >= 256 (got %d)",
			p.MaxOutputBytes)
	}
	if p.MaxOutputBytes > 1000000 {
		return fmt.Errorf("max_output_bytes too large (got %d, max 1000000)",
			p.MaxOutputBytes)
	}

	if p.WarnAfterDays < 1 || p.WarnAfterDays > 365 {
		return fmt.Errorf("warn_after_days must be between 1 and 365 (got %d)",
			p.WarnAfterDays)
	}

	// WarnNotesCount: 0 = disabled, or 10-100000
	if p.WarnNotesCount < 0 {
		return fmt.Errorf("warn_notes_count cannot be negative (got %d)", p.WarnNotesCount)
	}
	if p.WarnNotesCount > 0 && p.WarnNotesCount < 10 {
		return fmt.Errorf("warn_notes_count must be 0 (disabled) or >= 10 (got %d)",
			p.WarnNotesCount)
	}
	if p.WarnNotesCount > 100000 {
		return fmt.Errorf("warn_notes_count too large (got %d, max 100000)",
			p.WarnNotesCount)
	}

	return nil
}

// String returns a human-readable representation of the policy
func (p RetentionPolicy) String() string {
	return fmt.Sprintf(
		"RetentionPolicy{MaxRunsPerTree: %d, MaxOutputBytes: %d, "+
			"WarnAfterDays: %d, WarnNotesCount: %d}",
		p.MaxRunsPerTree, p.MaxOutputBytes, p.WarnAfterDays, p.WarnNotesCount,
	)
}

// ApplyEnv overlays environment variables onto the policy and validates
// the result.
//
// Environment variables:
//   - VIBE_VALIDATE_MAX_RUNS: Runs kept per tree address (default: 10)
//   - VIBE_VALIDATE_MAX_OUTPUT_BYTES: Per-step output budget, 0 for unlimited (default: 10000)
//   - VIBE_VALIDATE_WARN_AFTER_DAYS: Age before stats suggest pruning (default: 30)
//   - VIBE_VALIDATE_WARN_NOTES_COUNT: Notes count before stats suggest pruning, 0 to disable (default: 500)
//
// Returns an error if any environment variable has an invalid value.
func (p *RetentionPolicy) ApplyEnv() error {
	if err := parseEnvInt("VIBE_VALIDATE_MAX_RUNS", &p.MaxRunsPerTree); err != nil {
		return err
	}
	if err := parseEnvInt("VIBE_VALIDATE_MAX_OUTPUT_BYTES", &p.MaxOutputBytes); err != nil {
		return err
	}
	if err := parseEnvInt("VIBE_VALIDATE_WARN_AFTER_DAYS", &p.WarnAfterDays); err != nil {
		return err
	}
	if err := parseEnvInt("VIBE_VALIDATE_WARN_NOTES_COUNT", &p.WarnNotesCount); err != nil {
		return err
	}

	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid retention policy from environment: %w", err)
	}
	return nil
}

// RetentionPolicyFromEnv creates a RetentionPolicy from environment
// variables, falling back to defaults.
func RetentionPolicyFromEnv() (RetentionPolicy, error) {
	p := DefaultRetentionPolicy()
	if err := p.ApplyEnv(); err != nil {
		return p, err
	}
	return p, nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

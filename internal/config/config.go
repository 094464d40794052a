// Package config loads the validation pipeline definition and the retention
// policy. Settings layer in order: built-in defaults, then the config file,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the pipeline definition looked up at the repository root.
const DefaultFileName = ".vibe-validate.yaml"

// ErrNoConfig is returned when the repository has no pipeline definition.
var ErrNoConfig = errors.New("no validation config found")

// Config represents the structure of .vibe-validate.yaml
type Config struct {
	// Phases run in order; a failing phase stops the pipeline.
	Phases []Phase `yaml:"phases"`

	// Retention overrides for stored history and cache entries.
	Retention RetentionFile `yaml:"retention"`

	// Cache tunes the notes store backing the run cache and history.
	Cache CacheFile `yaml:"cache"`
}

// Phase is one ordered stage of the pipeline.
type Phase struct {
	Name string `yaml:"name"`

	// Parallel runs the phase's steps concurrently instead of in order.
	Parallel bool `yaml:"parallel,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is a single shell command inside a phase.
type Step struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command"`

	// Workdir is the subdirectory the command runs in, relative to the
	// repository root. Empty means the root itself.
	Workdir string `yaml:"workdir,omitempty"`

	// TimeoutSecs kills the step after this many seconds. Zero means no
	// limit beyond the surrounding context.
	TimeoutSecs int `yaml:"timeout_secs,omitempty"`
}

// RetentionFile holds the retention overrides allowed in the config file.
// Zero values mean "keep the default".
type RetentionFile struct {
	MaxRunsPerTree int `yaml:"max_runs_per_tree"`
	MaxOutputBytes int `yaml:"max_output_bytes"`
	WarnAfterDays  int `yaml:"warn_after_days"`
	WarnNotesCount int `yaml:"warn_notes_count"`
}

// CacheFile holds the notes store overrides allowed in the config file.
type CacheFile struct {
	// NotesTimeoutSecs bounds each git call the notes store makes. Zero
	// keeps the built-in 30 second default.
	NotesTimeoutSecs int `yaml:"notes_timeout_secs"`
}

// Load reads the pipeline definition from projectRoot. A missing file
// returns an error matching ErrNoConfig so callers can print setup hints.
func Load(projectRoot string) (*Config, error) {
	configPath := filepath.Join(projectRoot, DefaultFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", configPath, ErrNoConfig)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return &cfg, nil
}

// Validate checks the pipeline definition for holes that would only
// surface mid-run.
func (c *Config) Validate() error {
	if len(c.Phases) == 0 {
		return fmt.Errorf("config defines no phases")
	}

	phaseNames := make(map[string]bool)
	for _, phase := range c.Phases {
		if phase.Name == "" {
			return fmt.Errorf("phase without a name")
		}
		if phaseNames[phase.Name] {
			return fmt.Errorf("duplicate phase name %q", phase.Name)
		}
		phaseNames[phase.Name] = true

		if len(phase.Steps) == 0 {
			return fmt.Errorf("phase %q has no steps", phase.Name)
		}
		stepNames := make(map[string]bool)
		for _, step := range phase.Steps {
			if step.Name == "" {
				return fmt.Errorf("phase %q: step without a name", phase.Name)
			}
			if stepNames[step.Name] {
				return fmt.Errorf("phase %q: duplicate step name %q", phase.Name, step.Name)
			}
			stepNames[step.Name] = true
			if step.Command == "" {
				return fmt.Errorf("phase %q: step %q has no command", phase.Name, step.Name)
			}
			if filepath.IsAbs(step.Workdir) {
				return fmt.Errorf("phase %q: step %q: workdir must be relative to the repository root (got %q)",
					phase.Name, step.Name, step.Workdir)
			}
			if step.TimeoutSecs < 0 {
				return fmt.Errorf("phase %q: step %q: timeout_secs must not be negative (got %d)",
					phase.Name, step.Name, step.TimeoutSecs)
			}
		}
	}

	if c.Cache.NotesTimeoutSecs < 0 {
		return fmt.Errorf("cache.notes_timeout_secs must not be negative (got %d)", c.Cache.NotesTimeoutSecs)
	}
	return nil
}

// NotesTimeout returns the configured per-call bound for notes store git
// calls, or zero when the built-in default should apply.
func (c *Config) NotesTimeout() time.Duration {
	return time.Duration(c.Cache.NotesTimeoutSecs) * time.Second
}

// RetentionPolicy resolves the effective retention policy: defaults, then
// file overrides, then environment variables.
func (c *Config) RetentionPolicy() (RetentionPolicy, error) {
	p := DefaultRetentionPolicy()
	if c.Retention.MaxRunsPerTree > 0 {
		p.MaxRunsPerTree = c.Retention.MaxRunsPerTree
	}
	if c.Retention.MaxOutputBytes > 0 {
		p.MaxOutputBytes = c.Retention.MaxOutputBytes
	}
	if c.Retention.WarnAfterDays > 0 {
		p.WarnAfterDays = c.Retention.WarnAfterDays
	}
	if c.Retention.WarnNotesCount > 0 {
		p.WarnNotesCount = c.Retention.WarnNotesCount
	}
	if err := p.ApplyEnv(); err != nil {
		return p, err
	}
	return p, nil
}

// ExampleConfig returns a commented starter pipeline definition.
func ExampleConfig() string {
	return `# Validation pipeline for this repository.
# Phases run in order; a failing phase stops the pipeline.
# Steps inside a phase all run even when one fails.

phases:
  - name: lint
    steps:
      - name: vet
        command: go vet ./...

  - name: test
    # parallel: true runs the steps of this phase concurrently
    steps:
      - name: unit
        command: go test ./...
        # timeout_secs: 300   # kill the step if it runs longer

  - name: build
    steps:
      - name: compile
        command: go build ./...
        # workdir: packages/core   # run relative to a subdirectory

# Bounds for stored history and cached results (all optional).
# retention:
#   max_runs_per_tree: 10    # validation runs kept per tree address
#   max_output_bytes: 10000  # per-step output stored in history
#   warn_after_days: 30      # suggest pruning past this age
#   warn_notes_count: 500    # suggest pruning past this many notes

# Notes store tuning (optional).
# cache:
#   notes_timeout_secs: 30   # bound on each git call to the notes store
`
}

// Package types holds the validation result model shared by the runner, the
// history store, and the flakiness detector.
package types

// StepResult records one command execution inside a validation phase.
type StepResult struct {
	Name         string  `yaml:"name"`
	Command      string  `yaml:"command"`
	Passed       bool    `yaml:"passed"`
	ExitCode     int     `yaml:"exit_code"`
	DurationSecs float64 `yaml:"duration_secs"`

	// Output holds combined stdout and stderr, possibly truncated to the
	// configured per-step budget.
	Output    string `yaml:"output,omitempty"`
	Truncated bool   `yaml:"truncated,omitempty"`
}

// PhaseResult groups the steps of one pipeline phase.
type PhaseResult struct {
	Name   string       `yaml:"name"`
	Passed bool         `yaml:"passed"`
	Steps  []StepResult `yaml:"steps"`

	// Skipped marks phases that never ran because an earlier phase failed.
	Skipped bool `yaml:"skipped,omitempty"`
}

// ValidationResult is the full outcome of one pipeline run.
type ValidationResult struct {
	Passed       bool          `yaml:"passed"`
	DurationSecs float64       `yaml:"duration_secs"`
	Phases       []PhaseResult `yaml:"phases"`
}

// StepKey joins a phase and step name into the qualified form used to
// correlate steps across runs. Step names only have to be unique within
// their phase.
func StepKey(phase, step string) string {
	return phase + "/" + step
}

// StepOutcomes flattens the result into qualified step names mapped to
// pass/fail. Steps of skipped phases never ran and are not included.
func (r *ValidationResult) StepOutcomes() map[string]bool {
	out := make(map[string]bool)
	for _, phase := range r.Phases {
		if phase.Skipped {
			continue
		}
		for _, step := range phase.Steps {
			out[StepKey(phase.Name, step.Name)] = step.Passed
		}
	}
	return out
}

// FailedSteps returns the qualified names of failed steps in pipeline order.
func (r *ValidationResult) FailedSteps() []string {
	var failed []string
	for _, phase := range r.Phases {
		if phase.Skipped {
			continue
		}
		for _, step := range phase.Steps {
			if !step.Passed {
				failed = append(failed, StepKey(phase.Name, step.Name))
			}
		}
	}
	return failed
}

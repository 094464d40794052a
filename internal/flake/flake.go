// Package flake spots non-deterministic validation steps. A step that
// failed on the previous run of byte-identical content and passes now was
// never fixed by a code change; it is flaky, and worth telling the user
// about before they trust it.
package flake

import (
	"fmt"
	"strings"
	"time"

	"github.com/jdutton/vibe-validate-sub006/internal/history"
	"github.com/jdutton/vibe-validate-sub006/internal/types"
)

// Warning lists the steps that failed on the previous run of the same tree
// and pass on the current one.
type Warning struct {
	// PriorRunID identifies the failing run the comparison used.
	PriorRunID string

	// PriorTime is when that run happened.
	PriorTime time.Time

	// CurrentTime is when the comparison happened, so a rendered warning
	// names both sides of the flip.
	CurrentTime time.Time

	// Steps holds qualified phase/step keys in pipeline order.
	Steps []string
}

// Detect compares the newest recorded run for a tree against a fresh
// passing result. It returns nil unless there is a prior run, the current
// result passed, and the prior run failed; only steps that flipped from
// failed to passed count as flaky. Absent phase data on either side
// returns nil rather than guessing.
func Detect(record *history.Record, current *types.ValidationResult) *Warning {
	if record == nil || current == nil || !current.Passed {
		return nil
	}
	prior := record.Newest()
	if prior == nil || prior.Passed {
		return nil
	}
	if prior.Result == nil || len(prior.Result.Phases) == 0 || len(current.Phases) == 0 {
		return nil
	}

	priorOutcomes := prior.Result.StepOutcomes()
	var flaky []string
	for _, phase := range current.Phases {
		if phase.Skipped {
			continue
		}
		for _, step := range phase.Steps {
			if !step.Passed {
				continue
			}
			key := types.StepKey(phase.Name, step.Name)
			if passedBefore, ok := priorOutcomes[key]; ok && !passedBefore {
				flaky = append(flaky, key)
			}
		}
	}
	if len(flaky) == 0 {
		return nil
	}
	return &Warning{
		PriorRunID:  prior.ID,
		PriorTime:   prior.Timestamp,
		CurrentTime: time.Now().UTC(),
		Steps:       flaky,
	}
}

// Lines renders the warning as human-readable lines, one per flaky step,
// with bare step names and their phase.
func (w *Warning) Lines() []string {
	lines := make([]string, 0, len(w.Steps))
	for _, key := range w.Steps {
		phase, step, found := strings.Cut(key, "/")
		if !found {
			lines = append(lines, key)
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (phase: %s) failed last run on identical content, passes now", step, phase))
	}
	return lines
}

// Package runner executes the configured validation pipeline. Phases run in
// order and a failing phase stops the ones behind it; steps inside a phase
// all run regardless, so one run gives comprehensive feedback about every
// broken step, not just the first.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdutton/vibe-validate-sub006/internal/cachekey"
	"github.com/jdutton/vibe-validate-sub006/internal/config"
	"github.com/jdutton/vibe-validate-sub006/internal/types"
)

// ProgressFunc observes steps as they finish. For parallel phases it may be
// called from multiple goroutines.
type ProgressFunc func(phase string, step types.StepResult)

// Runner executes validation pipelines rooted at one repository.
type Runner struct {
	root     string
	progress ProgressFunc
}

// Config holds pipeline runner configuration
type Config struct {
	// Root is the repository root steps run relative to. Required.
	Root string

	// Progress, when set, observes each finished step.
	Progress ProgressFunc
}

// New creates a pipeline runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("runner requires a repository root")
	}
	return &Runner{root: cfg.Root, progress: cfg.Progress}, nil
}

// Run executes phases in order and returns the full result. Step failures
// are data, not errors: a broken command shows up as a failed step with
// its output attached.
func (r *Runner) Run(ctx context.Context, phases []config.Phase) *types.ValidationResult {
	start := time.Now()
	result := &types.ValidationResult{Passed: true}

	failed := false
	for _, phase := range phases {
		if failed {
			result.Phases = append(result.Phases, types.PhaseResult{
				Name:    phase.Name,
				Skipped: true,
			})
			continue
		}

		phaseResult := r.runPhase(ctx, phase)
		result.Phases = append(result.Phases, phaseResult)
		if !phaseResult.Passed {
			failed = true
			result.Passed = false
		}
	}

	result.DurationSecs = time.Since(start).Seconds()
	return result
}

// runPhase executes one phase's steps, sequentially or concurrently.
func (r *Runner) runPhase(ctx context.Context, phase config.Phase) types.PhaseResult {
	steps := make([]types.StepResult, len(phase.Steps))

	if phase.Parallel {
		// A plain group, not WithContext: a failing step must not cancel
		// its siblings, every step reports.
		var g errgroup.Group
		for i, step := range phase.Steps {
			i, step := i, step
			g.Go(func() error {
				steps[i] = r.runStep(ctx, step)
				r.report(phase.Name, steps[i])
				return nil
			})
		}
		g.Wait() //nolint:errcheck // goroutines never return errors
	} else {
		for i, step := range phase.Steps {
			steps[i] = r.runStep(ctx, step)
			r.report(phase.Name, steps[i])
		}
	}

	passed := true
	for _, s := range steps {
		if !s.Passed {
			passed = false
			break
		}
	}
	return types.PhaseResult{Name: phase.Name, Passed: passed, Steps: steps}
}

// runStep runs one shell command and captures everything about it.
func (r *Runner) runStep(ctx context.Context, step config.Step) types.StepResult {
	start := time.Now()
	result := types.StepResult{Name: step.Name, Command: step.Command}

	stepCtx := ctx
	if step.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutSecs)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(stepCtx, "sh", "-c", step.Command)
	cmd.Dir = filepath.Join(r.root, cachekey.Normalize(step.Workdir))

	output, err := cmd.CombinedOutput()
	result.Output = string(output)
	result.DurationSecs = time.Since(start).Seconds()

	if err != nil {
		result.Passed = false
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The command never ran: bad workdir, missing shell,
			// cancelled context. Surface the why in the output.
			result.ExitCode = -1
			if result.Output != "" {
				result.Output += "\n"
			}
			result.Output += err.Error()
		}
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			if result.Output != "" {
				result.Output += "\n"
			}
			result.Output += fmt.Sprintf("step timed out after %ds", step.TimeoutSecs)
		}
		return result
	}

	result.Passed = true
	result.ExitCode = 0
	return result
}

func (r *Runner) report(phase string, step types.StepResult) {
	if r.progress != nil {
		r.progress(phase, step)
	}
}

// RunSingle executes one ad-hoc command the same way pipeline steps run,
// for the cached single-command path.
func (r *Runner) RunSingle(ctx context.Context, command, workdir string) types.StepResult {
	return r.runStep(ctx, config.Step{Name: "run", Command: command, Workdir: workdir})
}

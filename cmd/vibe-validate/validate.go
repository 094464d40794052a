package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdutton/vibe-validate-sub006/internal/config"
	"github.com/jdutton/vibe-validate-sub006/internal/extract"
	"github.com/jdutton/vibe-validate-sub006/internal/flake"
	"github.com/jdutton/vibe-validate-sub006/internal/history"
	"github.com/jdutton/vibe-validate-sub006/internal/runner"
	"github.com/jdutton/vibe-validate-sub006/internal/tree"
	"github.com/jdutton/vibe-validate-sub006/internal/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the validation pipeline and record the result",
	Long: `Run the validation pipeline defined in .vibe-validate.yaml.

Phases run in order; a failed phase stops the pipeline and later phases
are skipped. Steps inside a phase run sequentially unless the phase is
marked parallel. Every step's output is captured, and the full result is
appended to the run history in git notes, keyed by the exact content of
the work tree.

When the same content failed before and passes now, a flakiness warning
lists the steps whose outcome flipped: the difference cannot come from
your code.

Exit codes:
  0 - validation passed
  1 - validation failed
  2 - configuration or environment error`,
	Run: func(cmd *cobra.Command, args []string) {
		yamlOut, _ := cmd.Flags().GetBool("yaml")
		noHistory, _ := cmd.Flags().GetBool("no-history")
		verbose, _ := cmd.Flags().GetBool("verbose")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, root, err := openRepo(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		cfg, err := config.Load(root)
		if err != nil {
			if errors.Is(err, config.ErrNoConfig) {
				fmt.Fprintf(os.Stderr, "Error: no %s found in %s\n", config.DefaultFileName, root)
				fmt.Fprintf(os.Stderr, "Run 'vibe-validate init' to create a starter config.\n")
			} else {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			os.Exit(2)
		}

		policy, err := cfg.RetentionPolicy()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "Check VIBE_VALIDATE_* environment variables and the retention section of %s.\n", config.DefaultFileName)
			os.Exit(2)
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		// Address the tree before anything runs: the result describes the
		// content as it was validated, not as steps may have left it.
		// Degraded history never blocks validation and stays quiet unless
		// asked for.
		addr, addrErr := tree.NewAddresser(g).ComputeAddress(ctx, root)
		if addrErr != nil && !noHistory && verbose {
			fmt.Fprintf(os.Stderr, "%s history disabled: %v\n", yellow("⚠"), addrErr)
		}

		// The prior record has to be read before this run is appended,
		// otherwise flakiness would compare the run against itself.
		var hist *history.Store
		var prior *history.Record
		if addrErr == nil && !noHistory {
			store, err := openNotes(g, root)
			if err != nil {
				if verbose {
					fmt.Fprintf(os.Stderr, "%s history disabled: %v\n", yellow("⚠"), err)
				}
			} else {
				hist = history.New(store, policy)
				if rec, err := hist.ReadHistory(ctx, addr); err == nil {
					prior = rec
				} else if verbose {
					fmt.Fprintf(os.Stderr, "%s prior history unreadable: %v\n", yellow("⚠"), err)
				}
			}
		}

		var progress runner.ProgressFunc
		if !yamlOut {
			// Parallel steps report from their own goroutines.
			var mu sync.Mutex
			lastPhase := ""
			progress = func(phase string, step types.StepResult) {
				mu.Lock()
				defer mu.Unlock()
				if phase != lastPhase {
					fmt.Printf("\n%s %s\n", cyan("→"), phase)
					lastPhase = phase
				}
				if step.Passed {
					fmt.Printf("  %s %s (%.1fs)\n", green("✓"), step.Name, step.DurationSecs)
				} else {
					fmt.Printf("  %s %s (%.1fs, exit %d)\n", red("✗"), step.Name, step.DurationSecs, step.ExitCode)
				}
			}
		}

		pipeline, err := runner.New(runner.Config{Root: root, Progress: progress})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		if !yamlOut {
			fmt.Printf("Validating %s (%d phases)\n", root, len(cfg.Phases))
		}

		result := pipeline.Run(ctx, cfg.Phases)
		interrupted := ctx.Err() != nil

		// Render before recording: history truncates long step output in
		// place, and the console should show what actually happened.
		if yamlOut {
			out, err := yaml.Marshal(result)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(2)
			}
			fmt.Print(string(out))
		} else {
			fmt.Printf("\n%s\n", gray(strings.Repeat("─", 60)))
			if result.Passed {
				fmt.Printf("%s Validation passed in %.1fs\n", green("✓"), result.DurationSecs)
			} else if interrupted {
				fmt.Printf("%s Validation interrupted after %.1fs\n", red("✗"), result.DurationSecs)
			} else {
				fmt.Printf("%s Validation failed in %.1fs\n", red("✗"), result.DurationSecs)
			}
			for _, phase := range result.Phases {
				if phase.Skipped {
					fmt.Printf("  %s %s (not reached)\n", gray("○"), phase.Name)
				}
			}

			if !result.Passed {
				fmt.Printf("\nFailed steps:\n")
				for _, phase := range result.Phases {
					for _, step := range phase.Steps {
						if step.Passed {
							continue
						}
						fmt.Printf("  %s %s (exit %d)\n", red("✗"), types.StepKey(phase.Name, step.Name), step.ExitCode)
						for _, line := range extract.ErrorLines(step.Output, 5) {
							fmt.Printf("    %s\n", line)
						}
					}
				}
				fmt.Printf("\nFull output is kept in the run history: 'vibe-validate history show'\n")
			}
		}

		if warning := flake.Detect(prior, result); warning != nil {
			w := os.Stdout
			if yamlOut {
				w = os.Stderr
			}
			fmt.Fprintf(w, "\n%s Flaky checks: this exact content failed at %s and passes at %s\n",
				yellow("⚠"),
				warning.PriorTime.Local().Format("2006-01-02 15:04:05"),
				warning.CurrentTime.Local().Format("2006-01-02 15:04:05"))
			for _, line := range warning.Lines() {
				fmt.Fprintf(w, "  %s %s\n", yellow("•"), line)
			}
		}

		// An interrupted pipeline is not an outcome of the content: steps
		// failed because they were killed. Recording it would make the next
		// clean pass look flaky.
		if hist != nil && !interrupted {
			info := g.Describe(ctx, root)
			run := &history.Run{
				Passed:       result.Passed,
				DurationSecs: result.DurationSecs,
				Branch:       info.Branch,
				Head:         info.Head,
				Dirty:        info.Dirty,
				Result:       result,
			}
			if recorded, reason := hist.AppendRun(ctx, addr, run); recorded {
				if !yamlOut {
					fmt.Printf("\n%s\n", gray(fmt.Sprintf("Recorded run %s for tree %s", run.ID[:8], shortAddr(addr))))
				}
			} else {
				fmt.Fprintf(os.Stderr, "%s history not recorded: %s\n", yellow("⚠"), reason)
			}
		}

		if !result.Passed {
			os.Exit(1)
		}
	},
}

func init() {
	validateCmd.Flags().Bool("yaml", false, "Emit the full result as YAML instead of a report")
	validateCmd.Flags().Bool("no-history", false, "Do not record this run in the history notes")
	validateCmd.Flags().BoolP("verbose", "v", false, "Report cache and history degradation instead of staying quiet")
	rootCmd.AddCommand(validateCmd)
}

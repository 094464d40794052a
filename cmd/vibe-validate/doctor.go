package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/jdutton/vibe-validate-sub006/internal/config"
	"github.com/jdutton/vibe-validate-sub006/internal/git"
	"github.com/jdutton/vibe-validate-sub006/internal/history"
	"github.com/jdutton/vibe-validate-sub006/internal/runcache"
)

// minGitVersion is the oldest git the notes plumbing is exercised
// against. Older versions mostly work but are not tested.
const minGitVersion = "v2.20.0"

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that caching and history can work here",
	Long: `Run diagnostic checks on the environment and the notes store.

Checks:
  - git binary presence and version
  - repository resolution for the working directory
  - pipeline configuration (.vibe-validate.yaml)
  - retention policy settings
  - notes store health and write access
  - history freshness against the retention policy

Exit codes:
  0 - all checks passed (warnings allowed)
  1 - one or more checks failed
  2 - critical failure, caching and history cannot work`,
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		ctx := context.Background()

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		var failures []string
		var warnings []string
		var criticalFailures []string

		exit := func() {
			fmt.Printf("\n%s\n", strings.Repeat("─", 60))
			switch {
			case len(criticalFailures) > 0:
				fmt.Printf("%s %d critical failure(s)\n", red("✗"), len(criticalFailures))
				for _, f := range criticalFailures {
					fmt.Printf("  • %s\n", f)
				}
				for _, f := range failures {
					fmt.Printf("  • %s\n", f)
				}
				os.Exit(2)
			case len(failures) > 0:
				fmt.Printf("%s %d check(s) failed\n", red("✗"), len(failures))
				for _, f := range failures {
					fmt.Printf("  • %s\n", f)
				}
				os.Exit(1)
			case len(warnings) > 0:
				fmt.Printf("%s All checks passed with %d warning(s)\n", yellow("⚠"), len(warnings))
				for _, w := range warnings {
					fmt.Printf("  • %s\n", w)
				}
			default:
				fmt.Printf("%s All checks passed\n", green("✓"))
			}
		}

		// Check 1: git installation
		fmt.Printf("%s Checking git installation\n", cyan("→"))
		g, err := git.NewGit(ctx)
		if err != nil {
			fmt.Printf("  %s git not found: %v\n", red("✗"), err)
			criticalFailures = append(criticalFailures, "git is not installed or not in PATH")
			exit()
			return
		}
		version, verr := g.Version(ctx)
		if verr != nil {
			fmt.Printf("  %s could not read git version: %v\n", yellow("⚠"), verr)
			warnings = append(warnings, "git version could not be determined")
		} else {
			fmt.Printf("  %s git %s\n", green("✓"), version)
			if v := "v" + version; semver.IsValid(v) && semver.Compare(v, minGitVersion) < 0 {
				fmt.Printf("  %s git %s is older than %s\n", yellow("⚠"), version, strings.TrimPrefix(minGitVersion, "v"))
				warnings = append(warnings, fmt.Sprintf("git %s predates the oldest tested version (%s)", version, strings.TrimPrefix(minGitVersion, "v")))
			}
		}

		// Check 2: repository
		fmt.Printf("%s Checking repository\n", cyan("→"))
		root, err := g.TopLevel(ctx, workDir)
		if err != nil {
			fmt.Printf("  %s %v\n", red("✗"), err)
			criticalFailures = append(criticalFailures, fmt.Sprintf("no repository at %s", workDir))
			exit()
			return
		}
		fmt.Printf("  %s repository at %s\n", green("✓"), root)
		if verbose {
			info := g.Describe(ctx, root)
			head := info.Head
			if len(head) > 12 {
				head = head[:12]
			}
			state := "clean"
			if info.Dirty {
				state = "dirty"
			}
			fmt.Printf("    Branch: %s\n", info.Branch)
			fmt.Printf("    Head:   %s (%s)\n", head, state)
		}

		// Check 3: configuration
		fmt.Printf("%s Checking configuration\n", cyan("→"))
		cfg, err := config.Load(root)
		switch {
		case err == nil:
			steps := 0
			for _, p := range cfg.Phases {
				steps += len(p.Steps)
			}
			fmt.Printf("  %s %s (%d phase(s), %d step(s))\n", green("✓"), config.DefaultFileName, len(cfg.Phases), steps)
			if verbose {
				for _, p := range cfg.Phases {
					mode := "sequential"
					if p.Parallel {
						mode = "parallel"
					}
					fmt.Printf("    %s: %d step(s), %s\n", p.Name, len(p.Steps), mode)
				}
			}
		case errors.Is(err, config.ErrNoConfig):
			fmt.Printf("  %s no %s found\n", red("✗"), config.DefaultFileName)
			fmt.Printf("    Run 'vibe-validate init' to create one\n")
			failures = append(failures, "pipeline configuration is missing")
		default:
			fmt.Printf("  %s %v\n", red("✗"), err)
			failures = append(failures, "pipeline configuration does not parse")
		}

		// Check 4: retention policy
		fmt.Printf("%s Checking retention policy\n", cyan("→"))
		policy, err := resolvePolicy(root)
		if err != nil {
			fmt.Printf("  %s %v\n", red("✗"), err)
			failures = append(failures, "retention policy settings are invalid")
			policy = config.DefaultRetentionPolicy()
		} else {
			fmt.Printf("  %s policy resolved\n", green("✓"))
			if verbose {
				fmt.Printf("    %s\n", policy.String())
			}
		}

		// Check 5: notes store
		fmt.Printf("%s Checking notes store\n", cyan("→"))
		store, err := openNotes(g, root)
		if err != nil {
			fmt.Printf("  %s %v\n", red("✗"), err)
			criticalFailures = append(criticalFailures, "notes store could not be opened")
			exit()
			return
		}
		if _, err := store.WriteBlob(ctx, "vibe-validate doctor probe\n"); err != nil {
			fmt.Printf("  %s cannot write objects: %v\n", red("✗"), err)
			criticalFailures = append(criticalFailures, "object database is not writable")
		} else {
			fmt.Printf("  %s object database writable\n", green("✓"))
		}

		cacheCount, cerr := store.Count(ctx, runcache.Ref)
		histCount, herr := store.Count(ctx, history.Ref)
		if cerr != nil || herr != nil {
			fmt.Printf("  %s could not count notes\n", yellow("⚠"))
			warnings = append(warnings, "notes refs could not be read")
		} else {
			fmt.Printf("  %s run cache: %s note(s)\n", green("✓"), formatNumber(cacheCount))
			fmt.Printf("  %s history:   %s note(s)\n", green("✓"), formatNumber(histCount))
			if policy.WarnNotesCount > 0 && cacheCount > policy.WarnNotesCount {
				warnings = append(warnings, fmt.Sprintf("run cache has %s notes (threshold %s); consider 'vibe-validate cache clear'",
					formatNumber(cacheCount), formatNumber(policy.WarnNotesCount)))
			}
			if policy.WarnNotesCount > 0 && histCount > policy.WarnNotesCount {
				warnings = append(warnings, fmt.Sprintf("history has %s notes (threshold %s); consider 'vibe-validate history prune'",
					formatNumber(histCount), formatNumber(policy.WarnNotesCount)))
			}
		}

		// Check 6: history freshness
		fmt.Printf("%s Checking history freshness\n", cyan("→"))
		stats, err := history.New(store, policy).CollectStats(ctx, policy.WarnAfterDays)
		switch {
		case err != nil:
			fmt.Printf("  %s %v\n", yellow("⚠"), err)
			warnings = append(warnings, "history stats could not be collected")
		case stats.Notes == 0:
			fmt.Printf("  %s no history recorded yet\n", green("✓"))
		case stats.Stale > 0:
			fmt.Printf("  %s %d of %d tree(s) have no run in the last %d days\n",
				yellow("⚠"), stats.Stale, stats.Notes, policy.WarnAfterDays)
			warnings = append(warnings, fmt.Sprintf("%d stale history note(s); 'vibe-validate history prune' removes them", stats.Stale))
		default:
			fmt.Printf("  %s %d tree(s), %s run(s) recorded\n", green("✓"), stats.Notes, formatNumber(stats.Runs))
			if verbose && !stats.Newest.IsZero() {
				fmt.Printf("    Newest run: %s\n", stats.Newest.Local().Format("2006-01-02 15:04:05"))
				fmt.Printf("    Oldest run: %s\n", stats.Oldest.Local().Format("2006-01-02 15:04:05"))
			}
		}

		exit()
	},
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "Show per-check details")
	rootCmd.AddCommand(doctorCmd)
}

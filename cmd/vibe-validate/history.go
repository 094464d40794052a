package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdutton/vibe-validate-sub006/internal/history"
	"github.com/jdutton/vibe-validate-sub006/internal/tree"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and manage recorded validation runs",
	Long: `Commands for the validation history stored under ` + history.Ref + `.

Each work tree content gets one note holding its most recent runs.
History follows the repository: pushing and fetching the notes ref
shares it, and the same content always finds its past runs no matter
which branch or commit you reach it from.`,
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show recorded runs for the current work tree content",
	Long: `Show validation runs recorded for the current work tree content.

With --all, one summary line per known content address is shown instead.
With --tree, runs for an explicit address are shown, which is how you
inspect content you are no longer sitting on.

Examples:
  vibe-validate history show
  vibe-validate history show --all
  vibe-validate history show --tree 4f3a09...
  vibe-validate history show --yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		showAll, _ := cmd.Flags().GetBool("all")
		yamlOut, _ := cmd.Flags().GetBool("yaml")
		treeArg, _ := cmd.Flags().GetString("tree")

		ctx := context.Background()

		g, root, err := openRepo(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		store, err := openNotes(g, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		policy, err := resolvePolicy(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		hist := history.New(store, policy)

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		if showAll {
			var addrs []string
			err := store.ForEach(ctx, history.Ref, func(addr, text string) error {
				addrs = append(addrs, addr)
				return nil
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if len(addrs) == 0 {
				fmt.Printf("%s\n", gray("No validation runs recorded yet"))
				return
			}

			type summary struct {
				addr   string
				runs   int
				newest *history.Run
			}
			var all []summary
			for _, addr := range addrs {
				rec, err := hist.ReadHistory(ctx, addr)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Warning: skipping %s: %v\n", shortAddr(addr), err)
					continue
				}
				all = append(all, summary{addr: addr, runs: len(rec.Runs), newest: rec.Newest()})
			}
			sort.Slice(all, func(i, j int) bool {
				var ti, tj time.Time
				if all[i].newest != nil {
					ti = all[i].newest.Timestamp
				}
				if all[j].newest != nil {
					tj = all[j].newest.Timestamp
				}
				return ti.After(tj)
			})

			fmt.Printf("Validation history (%d tree(s)):\n\n", len(all))
			for _, s := range all {
				verdict := gray("no readable runs")
				when := ""
				if s.newest != nil {
					if s.newest.Passed {
						verdict = green("✓ passed")
					} else {
						verdict = red("✗ failed")
					}
					when = fmt.Sprintf(", last %s", ago(s.newest.Timestamp))
				}
				fmt.Printf("  %s  %s (%d run(s)%s)\n", s.addr, verdict, s.runs, when)
			}
			return
		}

		addr := treeArg
		current := false
		if addr == "" {
			addr, err = tree.NewAddresser(g).ComputeAddress(ctx, root)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to address work tree content: %v\n", err)
				os.Exit(1)
			}
			current = true
		}

		rec, err := hist.ReadHistory(ctx, addr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if yamlOut {
			out, err := yaml.Marshal(rec)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Print(string(out))
			return
		}

		if current {
			fmt.Printf("History for the current work tree content (%s):\n", shortAddr(addr))
		} else {
			fmt.Printf("History for tree %s:\n", shortAddr(addr))
		}
		if len(rec.Runs) == 0 {
			fmt.Printf("  %s\n", gray("No runs recorded"))
			fmt.Printf("  Run 'vibe-validate validate' to record one\n")
			return
		}
		fmt.Println()

		// Newest first, like a log.
		for i := len(rec.Runs) - 1; i >= 0; i-- {
			run := rec.Runs[i]
			verdict := green("✓ passed")
			if !run.Passed {
				verdict = red("✗ failed")
			}
			fmt.Printf("  %s\n", verdict)
			fmt.Printf("    When:   %s (%s)\n",
				run.Timestamp.Local().Format("2006-01-02 15:04:05"), ago(run.Timestamp))
			if run.Branch != "" || run.Head != "" {
				where := run.Branch
				if head := run.Head; head != "" {
					if len(head) > 8 {
						head = head[:8]
					}
					where = fmt.Sprintf("%s@%s", where, head)
				}
				if run.Dirty {
					where += " (dirty)"
				}
				fmt.Printf("    Where:  %s\n", where)
			}
			fmt.Printf("    Took:   %.1fs\n", run.DurationSecs)
			if run.Result != nil {
				if failed := run.Result.FailedSteps(); len(failed) > 0 {
					fmt.Printf("    Failed: %s\n", strings.Join(failed, ", "))
				}
			}
			fmt.Println()
		}
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove history for abandoned work tree content",
	Long: `Remove history notes whose newest run is older than a cutoff.

Most addressed content is transient: an edit is validated, then edited
again, and its address never comes back. Pruning drops those notes while
one recent run keeps a note alive in full, so history for content you
still touch is never thinned out behind your back.

Examples:
  vibe-validate history prune                    # prune per retention policy
  vibe-validate history prune --max-age-days 7   # tighter cutoff
  vibe-validate history prune --dry-run          # preview
  vibe-validate history prune --all              # drop the whole ref`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		pruneAll, _ := cmd.Flags().GetBool("all")
		maxAgeDays, _ := cmd.Flags().GetInt("max-age-days")

		ctx := context.Background()

		g, root, err := openRepo(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		store, err := openNotes(g, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		policy, err := resolvePolicy(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		hist := history.New(store, policy)

		if maxAgeDays <= 0 {
			maxAgeDays = policy.WarnAfterDays
		}

		if dryRun {
			fmt.Printf("%s\n", color.YellowString("DRY RUN MODE - No history notes will be removed"))
		}
		if pruneAll {
			fmt.Printf("Pruning all validation history...\n\n")
		} else {
			fmt.Printf("Pruning history older than %d days...\n\n", maxAgeDays)
		}

		var report *history.PruneReport
		if pruneAll {
			report, err = hist.PruneAll(ctx, dryRun)
		} else {
			report, err = hist.PruneByAge(ctx, maxAgeDays, dryRun)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: prune failed: %v\n", err)
			os.Exit(1)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		if dryRun {
			fmt.Printf("Would remove %s history note(s) holding %s recorded run(s)\n",
				formatNumber(report.NotesPruned), formatNumber(report.RunsPruned))
			for _, addr := range report.PrunedAddresses {
				fmt.Printf("  %s\n", gray(addr))
			}
			fmt.Printf("\nRun without --dry-run to prune\n")
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Pruned %s history note(s) holding %s recorded run(s)\n",
			green("✓"), formatNumber(report.NotesPruned), formatNumber(report.RunsPruned))
		fmt.Printf("  Notes remaining: %s\n", formatNumber(report.NotesRemaining))
	},
}

func init() {
	historyShowCmd.Flags().Bool("all", false, "Summarize every known content address")
	historyShowCmd.Flags().Bool("yaml", false, "Emit the raw record as YAML")
	historyShowCmd.Flags().String("tree", "", "Show runs for an explicit tree address")

	historyPruneCmd.Flags().Bool("dry-run", false, "Preview removals without committing")
	historyPruneCmd.Flags().Bool("all", false, "Remove every history note regardless of age")
	historyPruneCmd.Flags().Int("max-age-days", 0, "Prune notes with no run newer than this many days (default: retention policy)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

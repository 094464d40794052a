package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jdutton/vibe-validate-sub006/internal/runcache"
	"github.com/jdutton/vibe-validate-sub006/internal/tree"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the content-addressed run cache",
	Long: `Commands for the run cache stored under ` + runcache.Ref + `.

The cache only ever holds successful runs, so clearing it is always
safe: the worst case is re-running commands that would have hit.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run cache statistics",
	Run: func(cmd *cobra.Command, args []string) {
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

		stats, err := runcache.New(store).CollectStats(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to collect cache stats: %v\n", err)
			os.Exit(1)
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("Run cache (%s):\n", runcache.Ref)
		fmt.Printf("  Entries: %s\n", formatNumber(stats.Entries))
		fmt.Printf("  Trees:   %s\n", formatNumber(stats.Trees))
		if stats.Oldest.IsZero() {
			fmt.Printf("  %s\n", gray("No cached runs yet"))
		} else {
			fmt.Printf("  Oldest:  %s (%s)\n",
				stats.Oldest.Local().Format("2006-01-02 15:04:05"), ago(stats.Oldest))
			fmt.Printf("  Newest:  %s (%s)\n",
				stats.Newest.Local().Format("2006-01-02 15:04:05"), ago(stats.Newest))
		}
		if stats.Corrupt > 0 {
			fmt.Printf("  %s %d note(s) did not parse; 'vibe-validate cache clear' removes them\n",
				yellow("⚠"), stats.Corrupt)
		}

		policy, err := resolvePolicy(root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			return
		}
		total := stats.Entries + stats.Corrupt
		if policy.WarnNotesCount > 0 && total > policy.WarnNotesCount {
			fmt.Printf("\n%s %s cache notes exceed the configured %s; reads slow down as notes pile up\n",
				yellow("⚠"), formatNumber(total), formatNumber(policy.WarnNotesCount))
			fmt.Printf("  Run 'vibe-validate cache clear' to start fresh\n")
		}
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop cached run results",
	Long: `Remove cached run results so commands execute again.

By default the whole cache ref is dropped. With --tree, only entries
recorded for the current work tree content are removed.

Examples:
  vibe-validate cache clear            # drop everything
  vibe-validate cache clear --tree     # drop entries for the current content
  vibe-validate cache clear --dry-run  # preview without removing`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		treeOnly, _ := cmd.Flags().GetBool("tree")

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
		cache := runcache.New(store)

		if dryRun {
			fmt.Printf("%s\n", color.YellowString("DRY RUN MODE - No cache notes will be removed"))
		}

		green := color.New(color.FgGreen).SprintFunc()

		if treeOnly {
			addr, err := tree.NewAddresser(g).ComputeAddress(ctx, root)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to address work tree content: %v\n", err)
				os.Exit(1)
			}
			n, err := cache.ClearTree(ctx, addr, dryRun)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: cache clear failed: %v\n", err)
				os.Exit(1)
			}
			if dryRun {
				fmt.Printf("Would remove %d cache note(s) for tree %s\n", n, shortAddr(addr))
				fmt.Printf("Run without --dry-run to clear\n")
				return
			}
			fmt.Printf("%s Removed %d cache note(s) for tree %s\n", green("✓"), n, shortAddr(addr))
			return
		}

		count, err := store.Count(ctx, runcache.Ref)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if dryRun {
			fmt.Printf("Would remove %s cache note(s)\n", formatNumber(count))
			fmt.Printf("Run without --dry-run to clear\n")
			return
		}
		if err := cache.Clear(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: cache clear failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Cleared run cache (%s note(s))\n", green("✓"), formatNumber(count))
	},
}

func init() {
	cacheClearCmd.Flags().Bool("dry-run", false, "Preview removals without committing")
	cacheClearCmd.Flags().Bool("tree", false, "Only clear entries for the current work tree content")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// ago renders how long ago a timestamp was, rounded for humans.
func ago(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "moments ago"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

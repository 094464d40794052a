package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jdutton/vibe-validate-sub006/internal/cachekey"
	"github.com/jdutton/vibe-validate-sub006/internal/extract"
	"github.com/jdutton/vibe-validate-sub006/internal/git"
	"github.com/jdutton/vibe-validate-sub006/internal/runcache"
	"github.com/jdutton/vibe-validate-sub006/internal/runner"
	"github.com/jdutton/vibe-validate-sub006/internal/tree"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one command through the content-addressed cache",
	Long: `Run a single command, skipping it when the identical command already
passed on identical work tree content.

The cache key combines the addressed tree content with the command line
and its working directory. Any edit, any new untracked file, or any
deletion changes the address and misses the cache; reverting the edit
restores the hit. Only successful runs are cached, and a hit replays
nothing: the command simply does not run again.

Examples:
  vibe-validate run --cmd 'go test ./...'
  vibe-validate run --cmd 'npm test' --workdir web
  vibe-validate run --cmd 'make lint' --force       # run even on a hit
  vibe-validate run --cmd 'go vet ./...' --check-only

The exit status mirrors the command's own exit code. With --check-only
nothing executes: exit 0 means a hit, exit 1 a miss.`,
	Run: func(cmd *cobra.Command, args []string) {
		command, _ := cmd.Flags().GetString("cmd")
		workdir, _ := cmd.Flags().GetString("workdir")
		force, _ := cmd.Flags().GetBool("force")
		checkOnly, _ := cmd.Flags().GetBool("check-only")
		noCache, _ := cmd.Flags().GetBool("no-cache")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if command == "" {
			fmt.Fprintf(os.Stderr, "Error: --cmd is required\n")
			os.Exit(2)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, root, err := openRepo(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		addr, err := tree.NewAddresser(g).ComputeAddress(ctx, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to address work tree content: %v\n", err)
			os.Exit(2)
		}

		store, err := openNotes(g, root)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		cache := runcache.New(store)

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		if checkOnly {
			entry, ok, err := cache.Get(ctx, addr, command, workdir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(2)
			}
			if !ok {
				fmt.Printf("not cached for tree %s\n", shortAddr(addr))
				os.Exit(1)
			}
			fmt.Printf("%s cached: passed at %s (%.1fs)\n",
				green("✓"), entry.Timestamp.Local().Format("2006-01-02 15:04:05"), entry.DurationSecs)
			return
		}

		if !force && !noCache {
			entry, ok, err := cache.Get(ctx, addr, command, workdir)
			if err != nil {
				// Degraded cache just means the command runs; only say so
				// when asked.
				if verbose {
					fmt.Fprintf(os.Stderr, "%s cache unavailable: %v\n", yellow("⚠"), err)
				}
			} else if ok {
				fmt.Printf("%s cached: passed on identical content at %s (%.1fs)\n",
					green("✓"), entry.Timestamp.Local().Format("2006-01-02 15:04:05"), entry.DurationSecs)
				if entry.LogPath != "" {
					fmt.Printf("  %s\n", gray("log: "+entry.LogPath))
				}
				return
			}
		}

		pipeline, err := runner.New(runner.Config{Root: root})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}

		step := pipeline.RunSingle(ctx, command, workdir)
		if step.Output != "" {
			fmt.Print(step.Output)
			if !strings.HasSuffix(step.Output, "\n") {
				fmt.Println()
			}
		}

		if step.Passed {
			fmt.Printf("%s passed in %.1fs\n", green("✓"), step.DurationSecs)
		} else {
			fmt.Printf("%s failed with exit %d after %.1fs\n", red("✗"), step.ExitCode, step.DurationSecs)
		}

		if step.Passed && !noCache {
			logPath := writeRunLog(ctx, g, root, addr, command, workdir, step.Output)
			entry := &runcache.Entry{
				Timestamp:    time.Now().UTC(),
				ExitCode:     0,
				DurationSecs: step.DurationSecs,
				LogPath:      logPath,
				Extraction:   extract.Stats(step.Output),
			}
			if err := cache.Put(ctx, addr, command, workdir, entry); err != nil {
				fmt.Fprintf(os.Stderr, "%s result not cached: %v\n", yellow("⚠"), err)
			} else {
				fmt.Printf("%s\n", gray("cached for tree "+shortAddr(addr)))
			}
		}

		if !step.Passed {
			code := step.ExitCode
			if code < 0 {
				code = 1
			}
			os.Exit(code)
		}
	},
}

func init() {
	runCmd.Flags().String("cmd", "", "Command to run (required)")
	runCmd.Flags().String("workdir", "", "Working directory relative to the repository root")
	runCmd.Flags().Bool("force", false, "Run even when a cached pass exists")
	runCmd.Flags().Bool("check-only", false, "Report hit or miss without running anything")
	runCmd.Flags().Bool("no-cache", false, "Run without consulting or updating the cache")
	runCmd.Flags().BoolP("verbose", "v", false, "Report cache degradation instead of staying quiet")
	rootCmd.AddCommand(runCmd)
}

// writeRunLog stores captured output under the repository's git directory
// so later cache hits can point back at the full log. Best effort: any
// failure just means the entry carries no log path.
func writeRunLog(ctx context.Context, g *git.Git, root, addr, command, workdir, output string) string {
	logDir, err := g.Run(ctx, root, "rev-parse", "--git-path", "vibe-validate/logs")
	if err != nil {
		return ""
	}
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(root, logDir)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return ""
	}
	name := fmt.Sprintf("%s-%s.log", shortAddr(addr), cachekey.Encode(command, workdir))
	path := filepath.Join(logDir, name)
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return ""
	}
	if rel, err := filepath.Rel(root, path); err == nil {
		return rel
	}
	return path
}

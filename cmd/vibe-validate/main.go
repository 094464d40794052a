package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdutton/vibe-validate-sub006/internal/config"
	"github.com/jdutton/vibe-validate-sub006/internal/git"
	"github.com/jdutton/vibe-validate-sub006/internal/notes"
)

// workDir is where commands look for the repository. Set by the
// persistent --dir flag and defaults to the current directory.
var workDir string

var rootCmd = &cobra.Command{
	Use:   "vibe-validate",
	Short: "Validation runner with git-notes-backed caching and history",
	Long: `vibe-validate runs your project's validation pipeline and remembers the
outcome in git notes, keyed by the exact content of the work tree.

Identical content never has to pass the same check twice: successful
command runs are cached under refs/notes/vibe-validate/cache/run, and
full pipeline results accumulate under
refs/notes/vibe-validate/history/validate, where they survive commits,
amends, rebases and branch switches.

Start with:
  vibe-validate init      # write a starter .vibe-validate.yaml
  vibe-validate validate  # run the pipeline
  vibe-validate doctor    # check your setup`,
	Version: "0.1.0",
}

func main() {
	// cobra prints the error itself; only the exit code is ours.
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "C", ".", "Run as if started in this directory")
}

// openRepo locates the git binary and resolves the repository root for
// the configured working directory.
func openRepo(ctx context.Context) (*git.Git, string, error) {
	g, err := git.NewGit(ctx)
	if err != nil {
		return nil, "", err
	}
	root, err := g.TopLevel(ctx, workDir)
	if err != nil {
		return nil, "", err
	}
	return g, root, nil
}

// openNotes wires a notes store rooted at the repository, honoring the
// config file's cache.notes_timeout_secs when one is set. Commands that
// care about config errors report them on their own path; here a broken
// or absent config just means default tuning.
func openNotes(g *git.Git, root string) (*notes.Store, error) {
	storeCfg := notes.Config{Dir: root}
	if cfg, err := config.Load(root); err == nil {
		storeCfg.Timeout = cfg.NotesTimeout()
	}
	return notes.NewStore(g, storeCfg)
}

// resolvePolicy layers retention settings the same way validate does,
// except a missing config file is fine: defaults plus environment apply.
func resolvePolicy(root string) (config.RetentionPolicy, error) {
	cfg, err := config.Load(root)
	if err != nil {
		if errors.Is(err, config.ErrNoConfig) {
			return config.RetentionPolicyFromEnv()
		}
		return config.RetentionPolicy{}, err
	}
	return cfg.RetentionPolicy()
}

// shortAddr abbreviates a tree address for display.
func shortAddr(addr string) string {
	if len(addr) > 12 {
		return addr[:12]
	}
	return addr
}

// formatNumber formats a number with thousand separators
// Handles numbers from 0 to billions with proper formatting
func formatNumber(n int) string {
	if n < 0 {
		return fmt.Sprintf("-%s", formatNumber(-n))
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
	}
	// Billions
	return fmt.Sprintf("%d,%03d,%03d,%03d", n/1000000000, (n/1000000)%1000, (n/1000)%1000, n%1000)
}

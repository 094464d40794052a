package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jdutton/vibe-validate-sub006/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter " + config.DefaultFileName,
	Long: `Write a commented starter pipeline config to the repository root.

The starter defines lint, test and build phases with commented-out
knobs for parallelism, timeouts and retention. Edit the commands to
match your project, then run 'vibe-validate validate'.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		_, root, err := openRepo(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		path := filepath.Join(root, config.DefaultFileName)
		if _, err := os.Stat(path); err == nil && !initForce {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
			os.Exit(1)
		}

		if err := os.WriteFile(path, []byte(config.ExampleConfig()), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to write config: %v\n", err)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Wrote starter config\n\n", green("✓"))
		fmt.Printf("  Config:     %s\n", cyan(path))
		fmt.Printf("  Repository: %s\n", cyan(root))
		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("edit the phases to match your project"))
		fmt.Printf("  %s\n", gray("vibe-validate validate"))
		fmt.Printf("  %s\n", gray("vibe-validate doctor"))
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

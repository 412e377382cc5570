// Package main provides the entry point for the regiontree CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/regiontree/cmd/regiontree/commands"
)

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	global := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "regiontree",
		Short: "Ordered region index tools",
		Long: `regiontree exercises a red-black tree index of address regions.

Commands:
  replay    Replay YAML scripts of region operations and check expectations
  stress    Churn a region map against an oracle and chart the tree shape
  version   Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&global.ConfigPath, "config", "c", "", "config file (default: regiontree.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "debug logs and per-step spans")
	rootCmd.PersistentFlags().BoolVarP(&global.Quiet, "quiet", "q", false, "only log errors")
	rootCmd.PersistentFlags().BoolVar(&global.NoColor, "no-color", false, "disable colored output")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(commands.NewReplayCommand(global))
	rootCmd.AddCommand(commands.NewStressCommand(global))
	rootCmd.AddCommand(commands.NewVersionCommand())

	return rootCmd
}

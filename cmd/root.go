package cmd

import (
	"github.com/loomcloud/loom/internal/build"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:           build.Slug,
	Short:         "Multi-agent pipeline orchestration server.",
	Long:          `Loom schedules recurring agent actions and runs multi-step pipelines.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command. It is called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func registerCommands() {
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(versionCmd())
}

func init() {
	registerCommands()
}

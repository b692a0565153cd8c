package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "zipcase",
	Short:        "zipcase",
	SilenceUsage: true,
	Long:         `Court-record search and fetch pipeline: API server, queue workers and export tooling. Configuration comes from the environment or zipcase.yaml.`,
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

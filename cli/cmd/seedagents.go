package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zipcase/zipcase/store"
)

var seedAgentsCmd = &cobra.Command{
	Use:   "seed-agents <agents.yaml>",
	Short: "Seed the shared user-agent collection from a YAML list",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			_ = cmd.Help()
			return errors.New("exactly one file argument is required")
		}

		agents, err := store.LoadUserAgentFile(args[0])
		if err != nil {
			return err
		}

		d, err := buildDeps()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := d.store.SeedUserAgents(ctx, agents); err != nil {
			return err
		}
		fmt.Println(fmt.Sprintf("seeded %d user agents", len(agents)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedAgentsCmd)
}

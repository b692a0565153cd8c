package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var exportOutDir string

var exportCmd = &cobra.Command{
	Use:   "export <case-number> [case-number...]",
	Short: "Write an xlsx export of the given cases to disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			_ = cmd.Help()
			return errors.New("at least one case number is required")
		}

		d, err := buildDeps()
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signalContext()
		defer stop()

		result, err := d.exporter.Export(ctx, args)
		if err != nil {
			return err
		}

		path := filepath.Join(exportOutDir, result.Filename)
		if err := os.WriteFile(path, result.Data, 0o644); err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutDir, "out", "o", ".", "directory the workbook is written to")
	rootCmd.AddCommand(exportCmd)
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/flybeeper/runtracker/internal/gpx"
)

var exportOutput string

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
}

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a stored run track as GPX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		runID := args[0]
		if _, err := store.GetRun(ctx, runID); err != nil {
			return fmt.Errorf("get run %s: %w", runID, err)
		}
		points, err := store.GetTrackPoints(ctx, runID, 0)
		if err != nil {
			return fmt.Errorf("get track of %s: %w", runID, err)
		}

		var out io.Writer = cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", exportOutput, err)
			}
			defer f.Close()
			out = f
		}

		if _, err := gpx.FromSamples(runID, points).WriteTo(out); err != nil {
			return err
		}
		logger.WithField("run_id", runID).WithField("points", len(points)).Info("Track exported")
		return nil
	},
}

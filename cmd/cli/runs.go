package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sevigo/stack-warden/internal/wire"
)

var (
	outputJSON  bool
	runsStackID string
	runsLimit   int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Shows recent reconciliation runs recorded by Stack-Warden",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx := context.Background()

		app, cleanup, err := wire.InitializeApp(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize app services: %w", err)
		}
		defer cleanup()

		runs, err := app.Store.GetRecentRuns(ctx, runsStackID, runsLimit)
		if err != nil {
			return fmt.Errorf("failed to retrieve runs: %w", err)
		}

		if outputJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(runs)
		}

		if len(runs) == 0 {
			slog.Info("No reconciliation runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTACK\tSTATUS\tAPPLIED\tMIRRORED\tSTARTED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				run.ID,
				run.StackID,
				run.Status,
				run.PatchesApplied,
				run.Mirrored,
				run.StartedAt.Format(time.RFC822),
			)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	runsCmd.Flags().BoolVar(&outputJSON, "json", false, "Output as JSON")
	runsCmd.Flags().StringVar(&runsStackID, "stack", "", "Filter by stack id")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to show")
	rootCmd.AddCommand(runsCmd)
}

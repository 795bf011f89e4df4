package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sevigo/stack-warden/internal/core"
	"github.com/sevigo/stack-warden/internal/wire"
)

var verbose bool

// Color definitions
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	dimColor     = color.New(color.FgHiBlack)
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [stack-id]",
	Short: "Reconcile a review stack against the local working copies",
	Long: `Reconcile a review stack against the local working copies.

The reconcile command fetches the dependency stack for the given diff,
determines which patches are not yet present in the primary working copy, and
applies them in order with rewritten commit messages. When a secondary working
copy is configured, each commit is mirrored there best-effort.

Examples:
  stackward reconcile 123456
  stackward reconcile --verbose 123456`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	reconcileCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output with timing information")
	rootCmd.AddCommand(reconcileCmd)
}

// stepTimer tracks timing for verbose output
type stepTimer struct {
	stepNum    int
	totalSteps int
	start      time.Time
	verbose    bool
}

func newStepTimer(totalSteps int, verbose bool) *stepTimer {
	return &stepTimer{
		stepNum:    0,
		totalSteps: totalSteps,
		verbose:    verbose,
	}
}

func (t *stepTimer) step(name string) {
	t.stepNum++
	t.start = time.Now()
	if t.verbose {
		titleColor.Printf("\nStep %d/%d: %s...\n", t.stepNum, t.totalSteps, name)
	} else {
		fmt.Printf("%s...\n", name)
	}
}

func (t *stepTimer) done(details ...string) {
	if t.verbose {
		elapsed := time.Since(t.start).Round(time.Millisecond)
		successColor.Printf("   done (%s)\n", elapsed)
		for _, d := range details {
			dimColor.Printf("   %s\n", d)
		}
	}
}

func runReconcile(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	stackID := args[0]

	timer := newStepTimer(3, verbose)
	overallStart := time.Now()

	titleColor.Println("Stack Warden - Reconcile")
	dimColor.Printf("   Stack: %s\n\n", stackID)

	// 1. Initialize Application
	timer.step("Initializing application")
	appInstance, cleanup, err := wire.InitializeApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w\n\nTip: Check that your .env exists and is valid", err)
	}
	defer cleanup()
	timer.done()

	// 2. Run the reconciliation in-process
	timer.step("Reconciling stack")
	event := &core.ReconcileEvent{
		RunID:     uuid.NewString(),
		StackID:   stackID,
		Requester: "cli",
	}
	if err := appInstance.Job.Run(ctx, event); err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}
	timer.done()

	// 3. Report the recorded outcome
	timer.step("Fetching run outcome")
	runs, err := appInstance.Store.GetRecentRuns(ctx, stackID, 1)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}
	timer.done()

	if len(runs) == 0 {
		warnColor.Println("no run record found")
		return nil
	}
	run := runs[0]

	fmt.Println()
	successColor.Printf("Run %s finished: %s\n", run.ID, run.Status)
	fmt.Printf("   applied:  %d\n", run.PatchesApplied)
	fmt.Printf("   mirrored: %d\n", run.Mirrored)
	if run.FinalRev != "" {
		fmt.Printf("   tip:      %s\n", run.FinalRev)
	}
	if run.Warnings != "" {
		warnColor.Printf("   warnings:\n%s\n", indent(run.Warnings))
	}
	dimColor.Printf("\nTotal time: %s\n", time.Since(overallStart).Round(time.Millisecond))
	return nil
}

func indent(s string) string {
	return "      " + strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n      ")
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/agency-orchestrator/internal/observability"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

var (
	runsStatus    string
	runsLimit     int
	runsShowJSON  bool
	runsWatch     bool
	runsOlderThan time.Duration
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and control runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status := types.RunStatus(runsStatus)
		if status != "" && !status.Valid() {
			return fmt.Errorf("unknown run status %q", runsStatus)
		}

		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		runs := filterRuns(a.store.ListRuns(cmd.Context()), status, runsLimit)
		observability.NewPrinter(cmd.OutOrStdout()).PrintRuns(runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()
		return showRun(cmd.Context(), a, args[0], runsShowJSON, cmd.OutOrStdout())
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a queued or running run and release its lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		run, err := a.orch.CancelRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "run %s %s\n", run.ID, run.Status)
		return err
	},
}

var runsResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an interrupted run in the foreground",
	Long:  `Re-drives a queued or running run. Steps that already succeeded are not repeated.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := setup(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.orch.ResumeRun(ctx, args[0]); err != nil {
			return err
		}
		run, err := waitForRun(ctx, a, cmd.OutOrStdout(), args[0], runsWatch)
		if err != nil {
			return err
		}
		return runOutcome(run)
	},
}

var runsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		n := purgeRuns(cmd.Context(), a, time.Now().Add(-runsOlderThan))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d run(s)\n", n)
		return err
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Only runs with this status")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 0, "Maximum number of runs (0 = all)")
	runsShowCmd.Flags().BoolVar(&runsShowJSON, "json", false, "Print the full run record as JSON")
	runsResumeCmd.Flags().BoolVarP(&runsWatch, "watch", "w", false, "Print step transitions as they happen")
	runsPurgeCmd.Flags().DurationVar(&runsOlderThan, "older-than", 0, "Only runs created at least this long ago")

	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsCancelCmd, runsResumeCmd, runsPurgeCmd)
	rootCmd.AddCommand(runsCmd)
}

func filterRuns(runs []*types.Run, status types.RunStatus, limit int) []*types.Run {
	out := make([]*types.Run, 0, len(runs))
	for _, run := range runs {
		if status != "" && run.Status != status {
			continue
		}
		out = append(out, run)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func showRun(ctx context.Context, a *app, runID string, asJSON bool, out io.Writer) error {
	run, ok := a.store.Run(ctx, runID)
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}
	observability.NewPrinter(out).PrintRun(run)
	return nil
}

// purgeRuns deletes terminal runs created before cutoff and returns how many
// were removed.
func purgeRuns(ctx context.Context, a *app, cutoff time.Time) int {
	deleted := 0
	for _, run := range a.store.ListRuns(ctx) {
		if !run.Status.Terminal() || run.CreatedAt.After(cutoff) {
			continue
		}
		if a.store.DeleteRun(ctx, run.ID) {
			deleted++
		}
	}
	return deleted
}

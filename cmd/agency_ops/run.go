package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/observability"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

var (
	runLead      string
	runMode      string
	runWatch     bool
	runLeadsFile string
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for one lead in the foreground",
	Long: `Starts a run and drives it to completion in this process: resolve lead, deep
research, signal extraction, strategy, assets, outreach, QA, final package.

Without --lead the highest-score unlocked lead that is not won is selected. Lite
mode stops after research. Interrupting the command leaves the run resumable
with "agency_ops runs resume".`,
	RunE: runPipelineCmd,
}

func init() {
	runCommand.Flags().StringVarP(&runLead, "lead", "l", "", "Lead id (default: best eligible lead)")
	runCommand.Flags().StringVarP(&runMode, "mode", "m", string(types.ModeFull), "Run mode: full or lite")
	runCommand.Flags().BoolVarP(&runWatch, "watch", "w", false, "Print step transitions as they happen")
	runCommand.Flags().StringVar(&runLeadsFile, "leads", "", "Import leads from a JSON file before starting")
	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if runLeadsFile != "" {
		if err := importLeads(ctx, a, runLeadsFile, cmd.OutOrStdout()); err != nil {
			return err
		}
	}

	req := types.StartRunRequest{LeadID: runLead, Mode: types.RunMode(runMode)}
	run, err := startAndWait(ctx, a, req, runWatch, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	return runOutcome(run)
}

// startAndWait starts a run and blocks until every drive loop of the
// orchestrator has returned or ctx is canceled. It returns the stored run.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func startAndWait(ctx context.Context, a *app, req types.StartRunRequest, watch bool, out io.Writer) (*types.Run, error) {
	run, err := a.orch.StartRun(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	fmt.Fprintf(out, "run %s started for lead %s (%s)\n", run.ID, run.LeadID, run.Mode)

	return waitForRun(ctx, a, out, run.ID, watch)
}

// waitForRun waits for the orchestrator to go idle and prints the final state
// of runID. A canceled ctx shuts the orchestrator down and leaves the run resumable.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func waitForRun(ctx context.Context, a *app, out io.Writer, runID string, watch bool) (*types.Run, error) {
	printer := observability.NewPrinter(out)
	if watch {
		unsubscribe := a.store.Subscribe(printer.NewWatcher(runID))
		defer unsubscribe()
	}

	idle := make(chan struct{})
	go func() {
		a.orch.Wait()
		close(idle)
	}()

	select {
	case <-idle:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.orch.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("orchestrator did not stop cleanly", zap.Error(err))
		}
		<-idle
	}

	run, ok := a.store.Run(context.Background(), runID)
	if !ok {
		return nil, fmt.Errorf("run %s disappeared from storage", runID)
	}
	printer.PrintRun(run)
	if !run.Status.Terminal() {
		fmt.Fprintf(out, "interrupted; resume with: agency_ops runs resume %s\n", run.ID)
	}
	return run, nil
}

// runOutcome turns a failed run into a command error so the exit code reflects it.
func runOutcome(run *types.Run) error {
	if run.Status == types.RunFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.ErrorSummary)
	}
	return nil
}

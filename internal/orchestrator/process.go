package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/agency-orchestrator/internal/steps"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

// errHalt stops a drive loop without further writes.
var errHalt = errors.New("run halted")

// runState is the in-memory state of one drive loop.
type runState struct {
	runID  string
	leadID string
	mode   types.RunMode
	start  time.Time
	ctx    steps.Context
	rc     types.RunContext
	// liteExit is set once a lite run has finished DeepResearch.
	liteExit bool
	logger   *zap.Logger
}

// outcome is the result of invoking one step, possibly several times.
type outcome struct {
	result   *steps.Result
	err      error
	attempts int
	elapsed  time.Duration
}

// drive executes a claimed run. Cancellation through ctx leaves the run
// non-terminal so it can be resumed.
func (o *Orchestrator) drive(ctx context.Context, runID string) error {
	run, ok := o.store.Run(ctx, runID)
	if !ok || run.Status.Terminal() {
		return nil
	}

	run, err := o.store.UpdateRun(ctx, runID, func(r *types.Run) error {
		if r.Status.Terminal() {
			return errHalt
		}
		if r.Status == types.RunQueued {
			r.Status = types.RunRunning
		}
		if r.StartedAt == nil {
			now := o.now()
			r.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errHalt) {
			return nil
		}
		return err
	}

	lead, _ := o.store.Lead(ctx, run.LeadID)
	st := &runState{
		runID:  run.ID,
		leadID: run.LeadID,
		mode:   run.Mode,
		start:  *run.StartedAt,
		rc:     types.NewRunContext(lead),
		logger: o.logger.With(zap.String("run_id", run.ID)),
	}
	if lead != nil {
		st.ctx = steps.NewContext(lead)
	}
	o.observer.RunStarted(run.Mode)
	st.logger.Info("driving run",
		zap.String("lead_id", run.LeadID),
		zap.String("mode", string(run.Mode)),
		zap.String("compliance_mode", string(st.rc.ComplianceMode)),
		zap.String("evidence_level", string(st.rc.LeadEvidenceLevel)))

	names := make([]string, len(run.Steps))
	for i, step := range run.Steps {
		names[i] = step.Name
	}

	for i := 0; i < len(names); i++ {
		name := names[i]

		current, ok := o.store.Run(ctx, runID)
		if !ok {
			st.logger.Warn("run disappeared while driving")
			return nil
		}
		if current.Status.Terminal() {
			st.logger.Info("run no longer active", zap.String("status", string(current.Status)))
			return nil
		}

		step := current.Step(name)
		if step == nil {
			return fmt.Errorf("run %s has no step %s", runID, name)
		}

		switch {
		case step.Status == types.StepSuccess:
			o.hydrate(st, current, name)
			continue
		case step.Status == types.StepSkipped:
			continue
		case st.liteExit && name != steps.CompleteRun:
			if err := o.skip(ctx, st, name); err != nil {
				return haltErr(err)
			}
			continue
		case name == steps.CompleteRun:
			return haltErr(o.complete(ctx, st))
		}

		if o.parallelAssets && name == steps.AssetSteps[0] {
			consumed, err := o.runAssets(ctx, st, current, i, names)
			if err != nil {
				return haltErr(err)
			}
			i += consumed - 1
			continue
		}

		if err := o.markRunning(ctx, st, name); err != nil {
			return haltErr(err)
		}
		out := o.invoke(ctx, st, name)
		if err := o.apply(ctx, st, name, out); err != nil {
			return haltErr(err)
		}
		if err := o.pace(ctx); err != nil {
			return err
		}
	}

	return haltErr(o.finish(ctx, st))
}

// errorSummary names the failed step once.
func errorSummary(name string, err error) string {
	var stepErr *steps.StepError
	if errors.As(err, &stepErr) {
		return err.Error()
	}
	return fmt.Sprintf("%s failed: %v", name, err)
}

func haltErr(err error) error {
	if errors.Is(err, errHalt) {
		return nil
	}
	return err
}

// hydrate restores a succeeded step's field into the context from its latest artifact.
func (o *Orchestrator) hydrate(st *runState, run *types.Run, name string) {
	def, _ := steps.Definition(name)
	if def.Output != "" {
		artifact := run.LatestArtifact(name)
		if artifact == nil {
			st.logger.Warn("succeeded step has no artifact", zap.String("step", name))
		} else if field, value, err := steps.Hydrate(name, *artifact); err != nil {
			st.logger.Warn("failed to hydrate step output", zap.String("step", name), zap.Error(err))
		} else {
			st.ctx = st.ctx.With(field, value)
		}
	}
	o.observeProgress(st, name)
}

// observeProgress updates the flags that depend on a step having succeeded.
func (o *Orchestrator) observeProgress(st *runState, name string) {
	switch name {
	case steps.ResolveLead:
		resolved, _ := st.ctx.Get("resolved_lead")
		st.rc = st.rc.WithIdentityStrict(!steps.IdentityConfirmed(resolved))
	case steps.DeepResearch:
		if st.mode == types.ModeLite {
			st.liteExit = true
		}
	}
}

// invoke executes a step, retrying up to maxRetries times.
func (o *Orchestrator) invoke(ctx context.Context, st *runState, name string) outcome {
	started := o.now()
	var out outcome
	for {
		out.attempts++
		out.result, out.err = o.exec.Execute(ctx, name, st.ctx, st.rc, st.mode)
		if out.err == nil || ctx.Err() != nil || out.attempts > o.maxRetries {
			break
		}

		delay := o.backoff.Delay(out.attempts)
		st.logger.Warn("step failed, retrying",
			zap.String("step", name),
			zap.Int("attempt", out.attempts),
			zap.Duration("delay", delay),
			zap.Error(out.err))
		o.observer.StepRetried(name)
		if err := sleep(ctx, delay); err != nil {
			break
		}
	}
	out.elapsed = o.now().Sub(started)
	return out
}

func (o *Orchestrator) markRunning(ctx context.Context, st *runState, name string) error {
	_, err := o.store.UpdateRun(ctx, st.runID, func(run *types.Run) error {
		if run.Status.Terminal() {
			return errHalt
		}
		step := run.Step(name)
		now := o.now()
		step.Status = types.StepRunning
		step.StartedAt = &now
		step.CompletedAt = nil
		step.Error = ""
		return nil
	})
	return err
}

// apply persists the outcome of a step. A failure fails the run and halts it;
// the lead stays locked.
func (o *Orchestrator) apply(ctx context.Context, st *runState, name string, out outcome) error {
	if out.err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	var artifact types.Artifact
	if out.err == nil {
		artifact = types.Artifact{
			ID:        uuid.NewString(),
			RunID:     st.runID,
			StepName:  name,
			Type:      out.result.Type,
			Content:   out.result.Content,
			CreatedAt: o.now(),
		}
	}

	_, err := o.store.UpdateRun(ctx, st.runID, func(run *types.Run) error {
		if run.Status.Terminal() {
			return errHalt
		}
		step := run.Step(name)
		now := o.now()
		step.Attempts += out.attempts
		step.CompletedAt = &now
		if step.StartedAt == nil {
			step.StartedAt = &now
		}

		if out.err != nil {
			step.Status = types.StepFailed
			step.Error = out.err.Error()
			run.Status = types.RunFailed
			run.ErrorSummary = errorSummary(name, out.err)
			run.CompletedAt = &now
			return nil
		}

		run.AppendArtifact(artifact)
		step.Status = types.StepSuccess
		step.Error = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, errHalt) {
			st.logger.Info("discarding step result of inactive run", zap.String("step", name))
		}
		return err
	}

	if out.err != nil {
		st.logger.Error("step failed, halting run",
			zap.String("step", name),
			zap.Int("attempts", out.attempts),
			zap.Error(out.err))
		o.observer.StepFinished(name, types.StepFailed, out.elapsed)
		o.observer.RunFinished(st.mode, types.RunFailed, o.now().Sub(st.start))
		return errHalt
	}

	st.ctx = st.ctx.With(out.result.Field, out.result.Data)
	o.observeProgress(st, name)
	st.logger.Info("step succeeded",
		zap.String("step", name),
		zap.String("artifact_id", artifact.ID),
		zap.Duration("elapsed", out.elapsed))
	o.observer.StepFinished(name, types.StepSuccess, out.elapsed)
	return nil
}

// runAssets generates the pending asset steps concurrently and applies the
// outcomes in pipeline order. The first failure halts the run; the outcomes of
// the steps after it are discarded and those steps stay pending. It returns how
// many pipeline positions it covered.
func (o *Orchestrator) runAssets(ctx context.Context, st *runState, run *types.Run, from int, names []string) (int, error) {
	var group []string
	for i := from; i < len(names) && steps.IsAssetStep(names[i]); i++ {
		group = append(group, names[i])
	}

	var pending []string
	for _, name := range group {
		if run.Step(name).Status == types.StepSuccess {
			o.hydrate(st, run, name)
			continue
		}
		pending = append(pending, name)
	}

	outcomes := make([]outcome, len(pending))
	var g errgroup.Group
	for i, name := range pending {
		g.Go(func() error {
			outcomes[i] = o.invoke(ctx, st, name)
			return nil
		})
	}
	_ = g.Wait()

	for i, name := range pending {
		if err := o.markRunning(ctx, st, name); err != nil {
			return 0, err
		}
		if err := o.apply(ctx, st, name, outcomes[i]); err != nil {
			return 0, err
		}
	}

	if len(pending) > 0 {
		if err := o.pace(ctx); err != nil {
			return 0, err
		}
	}
	return len(group), nil
}

// skip marks a step skipped without invoking it.
func (o *Orchestrator) skip(ctx context.Context, st *runState, name string) error {
	_, err := o.store.UpdateRun(ctx, st.runID, func(run *types.Run) error {
		if run.Status.Terminal() {
			return errHalt
		}
		now := o.now()
		step := run.Step(name)
		step.Status = types.StepSkipped
		step.CompletedAt = &now
		return nil
	})
	if err == nil {
		st.logger.Debug("step skipped", zap.String("step", name))
		o.observer.StepFinished(name, types.StepSkipped, 0)
	}
	return err
}

// complete runs the CompleteRun step: it releases the lead and finishes the run.
func (o *Orchestrator) complete(ctx context.Context, st *runState) error {
	if err := o.markRunning(ctx, st, steps.CompleteRun); err != nil {
		return err
	}

	o.store.UnlockLead(ctx, st.leadID, st.runID)

	_, err := o.store.UpdateRun(ctx, st.runID, func(run *types.Run) error {
		if run.Status.Terminal() {
			return errHalt
		}
		now := o.now()
		step := run.Step(steps.CompleteRun)
		step.Status = types.StepSuccess
		step.Attempts++
		step.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	o.observer.StepFinished(steps.CompleteRun, types.StepSuccess, 0)
	return o.finish(ctx, st)
}

// finish marks the run with the status its steps imply.
func (o *Orchestrator) finish(ctx context.Context, st *runState) error {
	run, err := o.store.UpdateRun(ctx, st.runID, func(run *types.Run) error {
		if run.Status.Terminal() {
			return errHalt
		}
		now := o.now()
		run.Status = types.DeriveStatus(run.Steps)
		if run.Status.Terminal() {
			run.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return err
	}

	st.logger.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("artifacts", len(run.Artifacts)))
	if run.Status.Terminal() {
		o.observer.RunFinished(st.mode, run.Status, o.now().Sub(st.start))
	}
	return nil
}

func (o *Orchestrator) pace(ctx context.Context) error {
	if o.stepDelay <= 0 {
		return ctx.Err()
	}
	return sleep(ctx, o.stepDelay)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package orchestrator drives campaign runs: it starts a run against a lead, executes
// the step pipeline one step at a time, persists every status change and artifact, and
// resumes or cancels runs on request.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/steps"
	"github.com/jonathan/agency-orchestrator/internal/store"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

// Default configuration values.
const (
	DefaultStepDelay   = 600 * time.Millisecond
	DefaultLeadLockTTL = 30 * time.Minute
)

// Executor runs a single step. *steps.Library implements it.
type Executor interface {
	Execute(ctx context.Context, name string, c steps.Context, rc types.RunContext, mode types.RunMode) (*steps.Result, error)
}

// Observer receives run and step outcomes. All methods must be safe for concurrent use.
type Observer interface {
	RunStarted(mode types.RunMode)
	RunFinished(mode types.RunMode, status types.RunStatus, elapsed time.Duration)
	StepFinished(step string, status types.StepStatus, elapsed time.Duration)
	StepRetried(step string)
}

// Config is the orchestrator configuration.
type Config struct {
	Store    *store.Store
	Executor Executor
	Observer Observer
	Logger   *zap.Logger

	// StepDelay is the pacing pause after each successful step
	// (default: 600ms, negative disables).
	StepDelay time.Duration
	// LeadLockTTL is how long a run holds its lead (default: 30m).
	LeadLockTTL time.Duration
	// MutexTTL is the lifetime of the run-start mutex (default: store.DefaultMutexTTL).
	MutexTTL time.Duration

	// MaxRetries is how many times a failing step is re-invoked before the run fails.
	MaxRetries   int
	RetryBackoff Backoff

	// ParallelAssets generates the asset steps concurrently. Results are still
	// applied in pipeline order.
	ParallelAssets bool

	Clock func() time.Time
}

// Orchestrator manages run execution. Construct one per process with New.
type Orchestrator struct {
	store    *store.Store
	exec     Executor
	observer Observer
	logger   *zap.Logger
	now      func() time.Time

	stepDelay      time.Duration
	leadLockTTL    time.Duration
	mutexTTL       time.Duration
	maxRetries     int
	backoff        Backoff
	parallelAssets bool

	// active holds the ids of runs driven by this process.
	active map[string]struct{}
	mu     sync.Mutex

	// Lifecycle
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	stepDelay := cfg.StepDelay
	if stepDelay == 0 {
		stepDelay = DefaultStepDelay
	}

	leadLockTTL := cfg.LeadLockTTL
	if leadLockTTL <= 0 {
		leadLockTTL = DefaultLeadLockTTL
	}

	mutexTTL := cfg.MutexTTL
	if mutexTTL <= 0 {
		mutexTTL = store.DefaultMutexTTL
	}

	backoff := cfg.RetryBackoff
	if backoff == nil {
		backoff = DefaultBackoff()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		store:          cfg.Store,
		exec:           cfg.Executor,
		observer:       observer,
		logger:         logger,
		now:            now,
		stepDelay:      stepDelay,
		leadLockTTL:    leadLockTTL,
		mutexTTL:       mutexTTL,
		maxRetries:     max(cfg.MaxRetries, 0),
		backoff:        backoff,
		parallelAssets: cfg.ParallelAssets,
		active:         make(map[string]struct{}),
		baseCtx:        ctx,
		cancel:         cancel,
	}
}

// StartRun creates a queued run for a lead and begins driving it in the background.
// The returned run is the queued state; it does not wait for any step.
//
// An empty LeadID selects the highest-score lead that is unlocked and not won.
func (o *Orchestrator) StartRun(ctx context.Context, req types.StartRunRequest) (*types.Run, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if o.isStopped() {
		return nil, ErrStopped
	}

	runID := uuid.NewString()
	if !o.store.AcquireMutex(ctx, runID, o.mutexTTL) {
		return nil, ErrBusy
	}

	run, err := o.createRun(ctx, runID, req)
	o.store.ReleaseMutex(ctx, runID)
	if err != nil {
		return nil, err
	}

	o.logger.Info("run created",
		zap.String("run_id", run.ID),
		zap.String("lead_id", run.LeadID),
		zap.String("mode", string(run.Mode)))

	if err := o.spawn(run.ID); err != nil {
		return nil, err
	}
	return run, nil
}

// createRun runs while the start mutex is held.
func (o *Orchestrator) createRun(ctx context.Context, runID string, req types.StartRunRequest) (*types.Run, error) {
	o.store.SweepStaleLocks(ctx)

	var target *types.Lead
	if req.LeadID != "" {
		lead, ok := o.store.Lead(ctx, req.LeadID)
		if !ok {
			return nil, ErrLeadNotFound
		}
		if lead.Locked {
			return nil, ErrLeadLocked
		}
		target = lead
	} else {
		lead, ok := store.SelectLead(o.store.Leads(ctx))
		if !ok {
			return nil, ErrNoEligibleLead
		}
		target = lead
	}

	if _, err := o.store.LockLead(ctx, target.ID, runID, o.leadLockTTL); err != nil {
		return nil, err
	}

	run := types.NewRun(runID, target.ID, req.Mode, steps.Names(), o.now())
	if !o.store.SaveRun(ctx, run) {
		o.logger.Warn("run was not persisted", zap.String("run_id", runID))
	}
	return run, nil
}

// ProcessRun drives a run to completion in the calling goroutine. A missing or
// terminal run returns nil without doing anything.
func (o *Orchestrator) ProcessRun(ctx context.Context, runID string) error {
	if !o.claim(runID) {
		return ErrRunAlreadyActive
	}
	defer o.unclaim(runID)
	return o.drive(ctx, runID)
}

// CancelRun marks a non-terminal run canceled and releases its lead. A step that is
// already generating finishes, but its result is discarded and no further step starts.
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) (*types.Run, error) {
	run, err := o.store.UpdateRun(ctx, runID, func(run *types.Run) error {
		if run.Status.Terminal() {
			return ErrRunFinished
		}
		now := o.now()
		run.Status = types.RunCanceled
		run.CompletedAt = &now
		run.ErrorSummary = "canceled by operator"
		return nil
	})
	if err != nil {
		return run, err
	}

	o.store.UnlockLead(ctx, run.LeadID, run.ID)
	o.logger.Info("run canceled", zap.String("run_id", runID))
	if run.StartedAt != nil {
		o.observer.RunFinished(run.Mode, types.RunCanceled, o.now().Sub(*run.StartedAt))
	}
	return run, nil
}

// ResumeRun re-drives a queued or running run that no goroutine in this process is
// driving, for example after a restart. Steps that already succeeded are not re-executed.
func (o *Orchestrator) ResumeRun(ctx context.Context, runID string) error {
	run, ok := o.store.Run(ctx, runID)
	if !ok {
		return ErrRunNotFound
	}
	if run.Status.Terminal() {
		return ErrRunFinished
	}
	if o.isActive(runID) {
		return ErrRunAlreadyActive
	}

	if _, err := o.store.LockLead(ctx, run.LeadID, run.ID, o.leadLockTTL); err != nil && !errors.Is(err, store.ErrLeadNotFound) {
		return fmt.Errorf("failed to reacquire lead %s: %w", run.LeadID, err)
	}

	o.logger.Info("resuming run", zap.String("run_id", runID), zap.String("status", string(run.Status)))
	return o.spawn(runID)
}

// RecoverInterrupted resumes every non-terminal run that is not being driven and
// returns how many were resumed.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) int {
	resumed := 0
	for _, run := range o.store.ListRuns(ctx) {
		if run.Status.Terminal() || o.isActive(run.ID) {
			continue
		}
		if err := o.ResumeRun(ctx, run.ID); err != nil {
			o.logger.Warn("failed to resume interrupted run", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		resumed++
	}
	return resumed
}

// Active returns the ids of runs currently driven by this process.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every background drive loop has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown stops accepting runs, cancels in-flight drive loops and waits for them.
// Interrupted runs stay non-terminal and can be resumed later.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.stopped = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn claims runID and drives it on a new goroutine.
func (o *Orchestrator) spawn(runID string) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	if _, ok := o.active[runID]; ok {
		o.mu.Unlock()
		return ErrRunAlreadyActive
	}
	o.active[runID] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer o.unclaim(runID)
		if err := o.drive(o.baseCtx, runID); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error("run drive loop failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	return nil
}

func (o *Orchestrator) claim(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.active[runID]; ok {
		return false
	}
	o.active[runID] = struct{}{}
	return true
}

func (o *Orchestrator) unclaim(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.active, runID)
}

func (o *Orchestrator) isActive(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[runID]
	return ok
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

type nopObserver struct{}

func (nopObserver) RunStarted(types.RunMode) {}
func (nopObserver) RunFinished(types.RunMode, types.RunStatus, time.Duration) {}
func (nopObserver) StepFinished(string, types.StepStatus, time.Duration) {}
func (nopObserver) StepRetried(string) {}

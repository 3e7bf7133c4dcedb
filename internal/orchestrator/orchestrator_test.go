package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jonathan/agency-orchestrator/internal/kv"
	"github.com/jonathan/agency-orchestrator/internal/llm"
	"github.com/jonathan/agency-orchestrator/internal/steps"
	"github.com/jonathan/agency-orchestrator/internal/store"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedGenerator answers with canned responses and fails the configured
// modules a number of times first (-1 fails forever).
type scriptedGenerator struct {
	mu    sync.Mutex
	fail  map[string]int
	calls map[string]int
}

func newScriptedGenerator(fail map[string]int) *scriptedGenerator {
	if fail == nil {
		fail = map[string]int{}
	}
	return &scriptedGenerator{fail: fail, calls: map[string]int{}}
}

func (g *scriptedGenerator) Generate(_ context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	g.calls[req.Module]++
	n := g.calls[req.Module]
	failures, scripted := g.fail[req.Module]
	g.mu.Unlock()

	if scripted && (failures < 0 || n <= failures) {
		return "", fmt.Errorf("model unavailable for %s", req.Module)
	}
	resp, _ := steps.CannedResponse(req.Module)
	return resp, nil
}

func (g *scriptedGenerator) Calls(module string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[module]
}

// recordingExecutor records the steps it executes and the context each one saw.
type recordingExecutor struct {
	inner Executor
	mu    sync.Mutex
	calls []string
	seen  map[string]map[string]any
}

func newRecordingExecutor(inner Executor) *recordingExecutor {
	return &recordingExecutor{inner: inner, seen: map[string]map[string]any{}}
}

func (r *recordingExecutor) Execute(ctx context.Context, name string, c steps.Context, rc types.RunContext, mode types.RunMode) (*steps.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.seen[name] = c.Snapshot()
	r.mu.Unlock()
	return r.inner.Execute(ctx, name, c, rc, mode)
}

func (r *recordingExecutor) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// gateExecutor blocks the named step until released or canceled.
type gateExecutor struct {
	inner   Executor
	step    string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateExecutor(inner Executor, step string) *gateExecutor {
	return &gateExecutor{inner: inner, step: step, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateExecutor) Execute(ctx context.Context, name string, c steps.Context, rc types.RunContext, mode types.RunMode) (*steps.Result, error) {
	if name == g.step {
		g.once.Do(func() { close(g.entered) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.inner.Execute(ctx, name, c, rc, mode)
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	finished map[types.RunStatus]int
	steps    map[types.StepStatus]int
	retries  int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{finished: map[types.RunStatus]int{}, steps: map[types.StepStatus]int{}}
}

func (c *countingObserver) RunStarted(types.RunMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
}

func (c *countingObserver) RunFinished(_ types.RunMode, status types.RunStatus, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished[status]++
}

func (c *countingObserver) StepFinished(_ string, status types.StepStatus, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps[status]++
}

func (c *countingObserver) StepRetried(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries++
}

func newTestStore() (*store.Store, *kv.Memory) {
	mem := kv.NewMemory()
	return store.New(mem, store.WithMutexTiming(0, 0, 0)), mem
}

func newTestOrchestrator(t *testing.T, st *store.Store, exec Executor, configure ...func(*Config)) *Orchestrator {
	t.Helper()
	cfg := Config{
		Store:     st,
		Executor:  exec,
		StepDelay: -1,
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	o := New(cfg)
	t.Cleanup(func() {
		require.NoError(t, o.Shutdown(context.Background()))
	})
	return o
}

func seedLeads(t *testing.T, st *store.Store, leads ...types.Lead) {
	t.Helper()
	require.True(t, st.SaveLeads(context.Background(), leads))
}

func plumber() types.Lead {
	return types.Lead{ID: "lead-1", BusinessName: "Acme Plumbing", WebsiteURL: "https://acme.test", Niche: "plumbing", Score: 82}
}

func mustRun(t *testing.T, st *store.Store, id string) *types.Run {
	t.Helper()
	run, ok := st.Run(context.Background(), id)
	require.True(t, ok, "run %s not found", id)
	return run
}

func mustLead(t *testing.T, st *store.Store, id string) *types.Lead {
	t.Helper()
	lead, ok := st.Lead(context.Background(), id)
	require.True(t, ok, "lead %s not found", id)
	return lead
}

func stepStatuses(run *types.Run) map[string]types.StepStatus {
	out := make(map[string]types.StepStatus, len(run.Steps))
	for _, s := range run.Steps {
		out[s.Name] = s.Status
	}
	return out
}

func TestStartRun_CompletesFullRun(t *testing.T) {
	st, _ := newTestStore()
	seedLeads(t, st, plumber())
	gen := newScriptedGenerator(nil)
	observer := newCountingObserver()
	o := newTestOrchestrator(t, st, steps.NewLibrary(gen), func(c *Config) { c.Observer = observer })

	queued, err := o.StartRun(context.Background(), types.StartRunRequest{})
	require.NoError(t, err)
	assert.Equal(t, types.RunQueued, queued.Status)
	assert.Equal(t, "lead-1", queued.LeadID)
	require.Len(t, queued.Steps, 17)

	o.Wait()

	run := mustRun(t, st, queued.ID)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.Equal(t, types.DeriveStatus(run.Steps), run.Status)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)
	for _, step := range run.Steps {
		assert.Equal(t, types.StepSuccess, step.Status, step.Name)
		assert.Equal(t, 1, step.Attempts, step.Name)
	}
	assert.Len(t, run.Artifacts, 16, "CompleteRun has no artifact")

	final := run.LatestArtifact(steps.CreateFinalPackage)
	require.NotNil(t, final)
	assert.Equal(t, types.ArtifactMarkdown, final.Type)
	assert.Contains(t, final.Content, "# Campaign Package")

	assert.False(t, mustLead(t, st, "lead-1").Locked)
	assert.Equal(t, 0, gen.Calls("deep_research_lite"))

	assert.Equal(t, 1, observer.started)
	assert.Equal(t, 1, observer.finished[types.RunSucceeded])
	assert.Equal(t, 17, observer.steps[types.StepSuccess])
	assert.Empty(t, o.Active())
}

func TestStartRun_LiteModeSkipsToCompletion(t *testing.T) {
	st, _ := newTestStore()
	seedLeads(t, st, plumber())
	gen := newScriptedGenerator(nil)
	o := newTestOrchestrator(t, st, steps.NewLibrary(gen))

	queued, err := o.StartRun(context.Background(), types.StartRunRequest{Mode: types.ModeLite})
	require.NoError(t, err)
	o.Wait()

	run := mustRun(t, st, queued.ID)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.Equal(t, types.ModeLite, run.Mode)

	statuses := stepStatuses(run)
	assert.Equal(t, types.StepSuccess, statuses[steps.ResolveLead])
	assert.Equal(t, types.StepSuccess, statuses[steps.DeepResearch])
	assert.Equal(t, types.StepSuccess, statuses[steps.CompleteRun])
	for _, step := range run.Steps[2 : len(run.Steps)-1] {
		assert.Equal(t, types.StepSkipped, step.Status, step.Name)
		assert.Zero(t, step.Attempts, step.Name)
	}

	assert.Equal(t, 1, gen.Calls("deep_research_lite"))
	assert.Equal(t, 0, gen.Calls("deep_research"))
	assert.Equal(t, 0, gen.Calls("extract_signals"))
	assert.Len(t, run.Artifacts, 2)
	assert.False(t, mustLead(t, st, "lead-1").Locked)
}

func TestStartRun_FailureHaltsAndKeepsLeadLocked(t *testing.T) {
	st, _ := newTestStore()
	seedLeads(t, st, plumber())
	gen := newScriptedGenerator(map[string]int{"decision_governor": -1})
	o := newTestOrchestrator(t, st, steps.NewLibrary(gen))

	queued, err := o.StartRun(context.Background(), types.StartRunRequest{})
	require.NoError(t, err)
	o.Wait()

	run := mustRun(t, st, queued.ID)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Equal(t, types.DeriveStatus(run.Steps), run.Status)
	assert.NotEmpty(t, run.ErrorSummary)
	assert.NotNil(t, run.CompletedAt)

	for i, step := range run.Steps {
		switch {
		case i < 3:
			assert.Equal(t, types.StepSuccess, step.Status, step.Name)
			assert.NotNil(t, run.LatestArtifact(step.Name), step.Name)
		case i == 3:
			assert.Equal(t, steps.DecisionGovernor, step.Name)
			assert.Equal(t, types.StepFailed, step.Status)
			assert.Contains(t, step.Error, "model unavailable")
		default:
			assert.Equal(t, types.StepPending, step.Status, step.Name)
		}
	}
	assert.Len(t, run.Artifacts, 3)

	lead := mustLead(t, st, "lead-1")
	assert.True(t, lead.Locked)
	assert.Equal(t, run.ID, lead.LockedByRunID)

	_, err = o.StartRun(context.Background(), types.StartRunRequest{LeadID: "lead-1"})
	assert.ErrorIs(t, err, ErrLeadLocked)
}

func TestStartRun_Busy(t *testing.T) {
	st, mem := newTestStore()
	seedLeads(t, st, plumber())
	held := fmt.Sprintf(`{"ownerId":"other-tab","expiresAt":%d}`, time.Now().Add(time.Minute).UnixMilli())
	require.NoError(t, mem.Set(context.Background(), store.KeyMutex, held))

	o := newTestOrchestrator(t, st, steps.NewLibrary(newScriptedGenerator(nil)))
	_, err := o.StartRun(context.Background(), types.StartRunRequest{})
	assert.ErrorIs(t, err, ErrBusy)
	assert.Empty(t, st.ListRuns(context.Background()))
	assert.False(t, mustLead(t, st, "lead-1").Locked)
}

func TestStartRun_LeadSelection(t *testing.T) {
	future := time.Now().Add(time.Hour)
	past := time.Now().Add(-time.Hour)

	tests := []struct {
		name     string
		leads    []types.Lead
		leadID   string
		wantLead string
		wantErr  error
	}{
		{
			name: "highest score unlocked and not won",
			leads: []types.Lead{
				{ID: "low", BusinessName: "Low", Score: 10},
				{ID: "won", BusinessName: "Won", Score: 99, Status: types.LeadStatusWon},
				{ID: "held", BusinessName: "Held", Score: 95, Locked: true, LockedByRunID: "r", LockExpiresAt: &future},
				{ID: "best", BusinessName: "Best", Score: 60},
			},
			wantLead: "best",
		},
		{
			name: "stale lock is swept first",
			leads: []types.Lead{
				{ID: "stale", BusinessName: "Stale", Score: 90, Locked: true, LockedByRunID: "old", LockExpiresAt: &past},
				{ID: "other", BusinessName: "Other", Score: 20},
			},
			wantLead: "stale",
		},
		{
			name: "none eligible",
			leads: []types.Lead{
				{ID: "won", BusinessName: "Won", Score: 99, Status: types.LeadStatusWon},
				{ID: "held", BusinessName: "Held", Locked: true, LockedByRunID: "r", LockExpiresAt: &future},
			},
			wantErr: ErrNoEligibleLead,
		},
		{
			name:     "explicit lead",
			leads:    []types.Lead{{ID: "a", BusinessName: "A", Score: 99}, {ID: "b", BusinessName: "B", Score: 1}},
			leadID:   "b",
			wantLead: "b",
		},
		{
			name:    "explicit lead locked",
			leads:   []types.Lead{{ID: "held", BusinessName: "Held", Locked: true, LockedByRunID: "r", LockExpiresAt: &future}},
			leadID:  "held",
			wantErr: ErrLeadLocked,
		},
		{
			name:    "explicit lead missing",
			leads:   []types.Lead{{ID: "a", BusinessName: "A"}},
			leadID:  "missing",
			wantErr: ErrLeadNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := newTestStore()
			seedLeads(t, st, tt.leads...)
			o := newTestOrchestrator(t, st, steps.NewLibrary(newScriptedGenerator(nil)))

			run, err := o.StartRun(context.Background(), types.StartRunRequest{LeadID: tt.leadID})
			o.Wait()

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, st.ListRuns(context.Background()))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLead, run.LeadID)
		})
	}
}

func TestStartRun_InvalidRequest(t *testing.T) {
	st, _ := newTestStore()
	o := newTestOrchestrator(t, st, steps.NewLibrary(newScriptedGenerator(nil)))

	_, err := o.StartRun(context.Background(), types.StartRunRequest{Mode: "turbo"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestResume_DoesNotRepeatSucceededSteps(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore()
	seedLeads(t, st, plumber())
	library := steps.NewLibrary(newScriptedGenerator(nil))

	continuous := newRecordingExecutor(library)
	o := newTestOrchestrator(t, st, continuous)
	queued, err := o.StartRun(ctx, types.StartRunRequest{})
	require.NoError(t, err)
	o.Wait()
	full := mustRun(t, st, queued.ID)
	require.Equal(t, types.RunSucceeded, full.Status)

	const done = 5
	partial := full.Clone()
	partial.ID = "resumed-run"
	partial.Status = types.RunRunning
	partial.CompletedAt = nil
	kept := map[string]bool{}
	for i := range partial.Steps {
		if i < done {
			kept[partial.Steps[i].Name] = true
			continue
		}
		partial.Steps[i] = types.Step{Name: partial.Steps[i].Name, Status: types.StepPending, OutputArtifactIDs: []string{}}
	}
	var artifacts []types.Artifact
	for _, a := range partial.Artifacts {
		if kept[a.StepName] {
			artifacts = append(artifacts, a)
		}
	}
	partial.Artifacts = artifacts
	require.True(t, st.SaveRun(ctx, partial))

	resumed := newRecordingExecutor(library)
	o2 := newTestOrchestrator(t, st, resumed)
	require.NoError(t, o2.ProcessRun(ctx, partial.ID))

	run := mustRun(t, st, partial.ID)
	assert.Equal(t, types.RunSucceeded, run.Status)
	for _, name := range resumed.Calls() {
		assert.False(t, kept[name], "step %s was re-executed", name)
	}
	assert.Len(t, resumed.Calls(), 16-done)
	for i := 0; i < done; i++ {
		assert.Equal(t, 1, run.Steps[i].Attempts, run.Steps[i].Name)
	}

	ignoreLead := cmpopts.IgnoreMapEntries(func(k string, _ any) bool { return k == steps.FieldLead })
	want := continuous.seen[steps.CreateFinalPackage]
	got := resumed.seen[steps.CreateFinalPackage]
	require.NotNil(t, got)
	if diff := cmp.Diff(want, got, ignoreLead); diff != "" {
		t.Errorf("resumed context mismatch (-continuous +resumed):\n%s", diff)
	}
}

func TestProcessRun_MissingOrTerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore()
	exec := newRecordingExecutor(steps.NewLibrary(newScriptedGenerator(nil)))
	o := newTestOrchestrator(t, st, exec)

	assert.NoError(t, o.ProcessRun(ctx, "missing"))

	done := types.NewRun("done", "lead-1", types.ModeFull, steps.Names(), time.Now())
	done.Status = types.RunSucceeded
	require.True(t, st.SaveRun(ctx, done))
	assert.NoError(t, o.ProcessRun(ctx, "done"))

	assert.Empty(t, exec.Calls())
}

func TestProcessRun_AlreadyActive(t *testing.T) {
	st, _ := newTestStore()
	seedLeads(t, st, plumber())
	gate := newGateExecutor(steps.NewLibrary(newScriptedGenerator(nil)), steps.DeepResearch)
	o := newTestOrchestrator(t, st, gate)

	run, err := o.StartRun(context.Background(), types.StartRunRequest{})
	require.NoError(t, err)
	<-gate.entered

	assert.ErrorIs(t, o.ProcessRun(context.Background(), run.ID), ErrRunAlreadyActive)
	assert.ErrorIs(t, o.ResumeRun(context.Background(), run.ID), ErrRunAlreadyActive)
	assert.Equal(t, []string{run.ID}, o.Active())

	close(gate.release)
	o.Wait()
	assert.Equal(t, types.RunSucceeded, mustRun(t, st, run.ID).Status)
}

func TestCancelRun_ObservedAtNextBoundary(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore()
	seedLeads(t, st, plumber())
	gate := newGateExecutor(steps.NewLibrary(newScriptedGenerator(nil)), steps.DeepResearch)
	o := newTestOrchestrator(t, st, gate)

	queued, err := o.StartRun(ctx, types.StartRunRequest{})
	require.NoError(t, err)
	<-gate.entered

	canceled, err := o.CancelRun(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCanceled, canceled.Status)

	close(gate.release)
	o.Wait()

	run := mustRun(t, st, queued.ID)
	assert.Equal(t, types.RunCanceled, run.Status)
	statuses := stepStatuses(run)
	assert.Equal(t, types.StepSuccess, statuses[steps.ResolveLead])
	assert.Equal(t, types.StepRunning, statuses[steps.DeepResearch], "in-flight result is discarded")
	assert.Equal(t, types.StepPending, statuses[steps.ExtractSignals])
	assert.Len(t, run.Artifacts, 1)
	assert.False(t, mustLead(t, st, "lead-1").Locked)

	_, err = o.CancelRun(ctx, queued.ID)
	assert.ErrorIs(t, err, ErrRunFinished)
	assert.ErrorIs(t, o.ResumeRun(ctx, queued.ID), ErrRunFinished)

	_, err = o.CancelRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStepRetry(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		maxRetries   int
		wantStatus   types.RunStatus
		wantAttempts int
		wantRetries  int
	}{
		{"recovers within budget", 2, 2, types.RunSucceeded, 3, 2},
		{"exhausts budget", -1, 1, types.RunFailed, 2, 1},
		{"no retries by default", 1, 0, types.RunFailed, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := newTestStore()
			seedLeads(t, st, plumber())
			gen := newScriptedGenerator(map[string]int{"resolve_lead": tt.failures})
			observer := newCountingObserver()
			o := newTestOrchestrator(t, st, steps.NewLibrary(gen), func(c *Config) {
				c.MaxRetries = tt.maxRetries
				c.RetryBackoff = ConstantBackoff{}
				c.Observer = observer
			})

			queued, err := o.StartRun(context.Background(), types.StartRunRequest{})
			require.NoError(t, err)
			o.Wait()

			run := mustRun(t, st, queued.ID)
			assert.Equal(t, tt.wantStatus, run.Status)
			assert.Equal(t, tt.wantAttempts, run.Steps[0].Attempts)
			assert.Equal(t, tt.wantAttempts, gen.Calls("resolve_lead"))
			assert.Equal(t, tt.wantRetries, observer.retries)
		})
	}
}

func TestParallelAssets(t *testing.T) {
	t.Run("applies results in pipeline order", func(t *testing.T) {
		st, _ := newTestStore()
		seedLeads(t, st, plumber())
		o := newTestOrchestrator(t, st, steps.NewLibrary(newScriptedGenerator(nil)), func(c *Config) {
			c.ParallelAssets = true
		})

		queued, err := o.StartRun(context.Background(), types.StartRunRequest{})
		require.NoError(t, err)
		o.Wait()

		run := mustRun(t, st, queued.ID)
		assert.Equal(t, types.RunSucceeded, run.Status)

		var assetOrder []string
		for _, a := range run.Artifacts {
			if steps.IsAssetStep(a.StepName) {
				assetOrder = append(assetOrder, a.StepName)
			}
		}
		assert.Equal(t, steps.AssetSteps, assetOrder)
	})

	t.Run("first failure halts and later results are discarded", func(t *testing.T) {
		st, _ := newTestStore()
		seedLeads(t, st, plumber())
		gen := newScriptedGenerator(map[string]int{"generate_video_scripts": -1})
		o := newTestOrchestrator(t, st, steps.NewLibrary(gen), func(c *Config) {
			c.ParallelAssets = true
		})

		queued, err := o.StartRun(context.Background(), types.StartRunRequest{})
		require.NoError(t, err)
		o.Wait()

		run := mustRun(t, st, queued.ID)
		assert.Equal(t, types.RunFailed, run.Status)
		assert.Equal(t, types.DeriveStatus(run.Steps), run.Status)

		statuses := stepStatuses(run)
		assert.Equal(t, types.StepSuccess, statuses[steps.GenerateTextAssets])
		assert.Equal(t, types.StepSuccess, statuses[steps.GenerateSocialAssets])
		assert.Equal(t, types.StepFailed, statuses[steps.GenerateVideoScripts])
		assert.Equal(t, types.StepPending, statuses[steps.GenerateAudioAssets])
		assert.Equal(t, types.StepPending, statuses[steps.GenerateVisualAssets])
		assert.Equal(t, types.StepPending, statuses[steps.AssembleRun])

		assert.Nil(t, run.LatestArtifact(steps.GenerateAudioAssets))
		assert.Equal(t, 1, gen.Calls("generate_audio_assets"), "generated concurrently but not applied")
	})
}

func TestShutdownAndRecoverInterrupted(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore()
	seedLeads(t, st, plumber())
	library := steps.NewLibrary(newScriptedGenerator(nil))
	gate := newGateExecutor(library, steps.ExtractSignals)

	first := New(Config{Store: st, Executor: gate, StepDelay: -1})
	queued, err := first.StartRun(ctx, types.StartRunRequest{})
	require.NoError(t, err)
	<-gate.entered

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, first.Shutdown(shutdownCtx))

	_, err = first.StartRun(ctx, types.StartRunRequest{})
	assert.ErrorIs(t, err, ErrStopped)

	interrupted := mustRun(t, st, queued.ID)
	assert.Equal(t, types.RunRunning, interrupted.Status)
	assert.Equal(t, types.StepRunning, interrupted.Step(steps.ExtractSignals).Status)
	assert.True(t, mustLead(t, st, "lead-1").Locked)

	done := types.NewRun("finished", "lead-1", types.ModeFull, steps.Names(), time.Now())
	done.Status = types.RunFailed
	require.True(t, st.SaveRun(ctx, done))

	exec := newRecordingExecutor(library)
	second := newTestOrchestrator(t, st, exec)
	assert.Equal(t, 1, second.RecoverInterrupted(ctx))
	second.Wait()

	run := mustRun(t, st, queued.ID)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.Equal(t, steps.ExtractSignals, exec.Calls()[0])
	assert.Equal(t, 1, run.Step(steps.ResolveLead).Attempts)
	assert.False(t, mustLead(t, st, "lead-1").Locked)
	assert.Equal(t, types.RunFailed, mustRun(t, st, "finished").Status)
}

func TestResumeRun_LeadTakenByAnotherRun(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore()
	future := time.Now().Add(time.Hour)
	seedLeads(t, st, types.Lead{ID: "lead-1", BusinessName: "Acme", Locked: true, LockedByRunID: "someone-else", LockExpiresAt: &future})

	run := types.NewRun("orphan", "lead-1", types.ModeFull, steps.Names(), time.Now())
	require.True(t, st.SaveRun(ctx, run))

	o := newTestOrchestrator(t, st, steps.NewLibrary(newScriptedGenerator(nil)))
	assert.ErrorIs(t, o.ResumeRun(ctx, "orphan"), ErrLeadLocked)
	assert.ErrorIs(t, o.ResumeRun(ctx, "missing"), ErrRunNotFound)
	assert.Equal(t, 0, o.RecoverInterrupted(ctx))
}

func TestMissingLeadFailsFirstStep(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore()
	run := types.NewRun("no-lead", "ghost", types.ModeFull, steps.Names(), time.Now())
	require.True(t, st.SaveRun(ctx, run))

	o := newTestOrchestrator(t, st, steps.NewLibrary(newScriptedGenerator(nil)))
	require.NoError(t, o.ProcessRun(ctx, "no-lead"))

	got := mustRun(t, st, "no-lead")
	assert.Equal(t, types.RunFailed, got.Status)
	assert.Equal(t, types.StepFailed, got.Steps[0].Status)
	assert.Contains(t, got.Steps[0].Error, "missing dependencies")
}

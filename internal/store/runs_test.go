package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/agency-orchestrator/internal/types"
)

func newTestRun(id string, created time.Time) *types.Run {
	return types.NewRun(id, "lead-1", types.ModeFull, []string{"ResolveLead", "DeepResearch"}, created)
}

func TestRunDB_MissingAndMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing", ""},
		{"garbage", "{not json"},
		{"array", `[1,2,3]`},
		{"runs not a map", `{"version":1,"runs":[]}`},
		{"version without runs", `{"version":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mem := newTestStore(t)
			ctx := context.Background()
			if tt.raw != "" {
				require.NoError(t, mem.Set(ctx, KeyRuns, tt.raw))
			}
			db := s.RunDB(ctx)
			assert.Equal(t, RunDBVersion, db.Version)
			assert.Empty(t, db.Runs)
		})
	}
}

func TestDecodeRunDB_UpgradesLegacyMap(t *testing.T) {
	legacy := `{
		"run-1": {
			"id": "run-1",
			"leadId": "lead-1",
			"status": "succeeded",
			"createdAt": "2025-03-14T09:00:00Z",
			"steps": [{"name": "ResolveLead", "status": "success", "attempts": 1}],
			"artifacts": [
				{"id": "a1", "runId": "run-1", "stepName": "ResolveLead", "type": "json", "content": "{}", "createdAt": 1741942800000},
				{"id": "a2", "runId": "run-1", "stepName": "ResolveLead", "type": "binary", "content": "x", "createdAt": 1741942800000}
			]
		}
	}`

	db := DecodeRunDB([]byte(legacy), nil)
	require.Len(t, db.Runs, 1)
	run := db.Runs["run-1"]
	require.NotNil(t, run)
	assert.Equal(t, types.ModeFull, run.Mode)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.Equal(t, testNow, run.CreatedAt)
	require.Len(t, run.Steps, 1)
	assert.Equal(t, 1, run.Steps[0].Attempts)
	assert.NotNil(t, run.Steps[0].OutputArtifactIDs)
	require.Len(t, run.Artifacts, 1, "artifact with unknown type is skipped")
	assert.Equal(t, testNow, run.Artifacts[0].CreatedAt)
}

func TestDecodeRunDB_SkipsInvalidRecords(t *testing.T) {
	doc := `{"version": 1, "runs": {
		"ok":        {"id": "ok", "leadId": "l", "status": "queued", "createdAt": "2025-03-14T09:00:00Z", "steps": [], "mode": "lite"},
		"no-id":     {"leadId": "l", "status": "queued", "createdAt": "2025-03-14T09:00:00Z", "steps": []},
		"bad-status":{"id": "bad-status", "leadId": "l", "status": "exploded", "createdAt": "2025-03-14T09:00:00Z", "steps": []},
		"bad-time":  {"id": "bad-time", "leadId": "l", "status": "queued", "createdAt": "yesterday", "steps": []},
		"no-steps":  {"id": "no-steps", "leadId": "l", "status": "queued", "createdAt": "2025-03-14T09:00:00Z"},
		"bad-step":  {"id": "bad-step", "leadId": "l", "status": "queued", "createdAt": "2025-03-14T09:00:00Z", "steps": [{"name": "X", "status": "later"}]},
		"scalar":    42
	}}`

	db := DecodeRunDB([]byte(doc), nil)
	require.Len(t, db.Runs, 1)
	assert.Equal(t, types.ModeLite, db.Runs["ok"].Mode)
}

func TestSaveRun_RoundTripAndNotify(t *testing.T) {
	s, _ := newTestStore(t)
	l := &recordingListener{}
	s.Subscribe(l)
	ctx := context.Background()

	run := newTestRun("run-1", testNow)
	run.AppendArtifact(types.Artifact{ID: "a1", RunID: "run-1", StepName: "ResolveLead", Type: types.ArtifactJSON, Content: `{"x":1}`, CreatedAt: testNow})
	require.True(t, s.SaveRun(ctx, run))

	got, ok := s.Run(ctx, "run-1")
	require.True(t, ok)
	assert.Equal(t, run.Steps, got.Steps)
	assert.Equal(t, run.Artifacts, got.Artifacts)

	require.Len(t, l.runs, 1)
	l.runs[0].Status = types.RunFailed
	assert.Equal(t, types.RunQueued, run.Status, "listeners receive a copy")

	_, ok = s.Run(ctx, "missing")
	assert.False(t, ok)
}

func TestUpdateRun(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.True(t, s.SaveRun(ctx, newTestRun("run-1", testNow)))

	updated, err := s.UpdateRun(ctx, "run-1", func(run *types.Run) error {
		run.Status = types.RunRunning
		run.Steps[0].Attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.RunRunning, updated.Status)

	stored, _ := s.Run(ctx, "run-1")
	assert.Equal(t, types.RunRunning, stored.Status)
	assert.Equal(t, 1, stored.Steps[0].Attempts)

	boom := errors.New("boom")
	_, err = s.UpdateRun(ctx, "run-1", func(run *types.Run) error {
		run.Status = types.RunFailed
		return boom
	})
	assert.ErrorIs(t, err, boom)
	stored, _ = s.Run(ctx, "run-1")
	assert.Equal(t, types.RunRunning, stored.Status, "aborted update is not written")

	_, err = s.UpdateRun(ctx, "missing", func(*types.Run) error { return nil })
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.True(t, s.SaveRun(ctx, newTestRun("old", testNow.Add(-time.Hour))))
	require.True(t, s.SaveRun(ctx, newTestRun("new-b", testNow)))
	require.True(t, s.SaveRun(ctx, newTestRun("new-a", testNow)))

	var ids []string
	for _, r := range s.ListRuns(ctx) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"new-a", "new-b", "old"}, ids)
}

func TestDeleteRun(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	require.True(t, s.SaveRun(ctx, newTestRun("run-1", testNow)))

	assert.True(t, s.DeleteRun(ctx, "run-1"))
	assert.False(t, s.DeleteRun(ctx, "run-1"))
	assert.Empty(t, s.ListRuns(ctx))
}

func TestSaveRun_QuotaExceeded(t *testing.T) {
	notifier := &recordingNotifier{}
	s, mem := newTestStore(t, WithNotifier(notifier))
	mem.MaxBytes = 64
	l := &recordingListener{}
	s.Subscribe(l)

	ok := s.SaveRun(context.Background(), newTestRun("run-1", testNow))
	assert.False(t, ok)
	require.Len(t, notifier.notices, 1)
	assert.Equal(t, KeyRuns, notifier.notices[0].Key)
	assert.Empty(t, l.runs)
}

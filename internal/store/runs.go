package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/types"
)

// RunDBVersion is the current run database format.
const RunDBVersion = 1

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

// RunDB is the persisted run database.
type RunDB struct {
	Version int                   `json:"version"`
	Runs    map[string]*types.Run `json:"runs"`
}

// NewRunDB returns an empty database at the current version.
func NewRunDB() *RunDB {
	return &RunDB{Version: RunDBVersion, Runs: make(map[string]*types.Run)}
}

// RunDB loads the run database. Malformed data yields an empty database, a legacy
// bare id-to-run map is upgraded, and records failing validation are skipped.
func (s *Store) RunDB(ctx context.Context) *RunDB {
	raw, ok := s.read(ctx, KeyRuns)
	if !ok {
		return NewRunDB()
	}
	return DecodeRunDB([]byte(raw), s.logger)
}

// DecodeRunDB parses a run database document.
func DecodeRunDB(data []byte, logger *zap.Logger) *RunDB {
	if logger == nil {
		logger = zap.NewNop()
	}
	db := NewRunDB()

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		logger.Warn("run database is malformed, treating as empty", zap.Error(err))
		return db
	}

	entries := top
	if runsRaw, ok := top["runs"]; ok {
		var runs map[string]json.RawMessage
		if err := json.Unmarshal(runsRaw, &runs); err != nil {
			logger.Warn("run database has an invalid runs map, treating as empty", zap.Error(err))
			return db
		}
		entries = runs
	} else if _, ok := top["version"]; ok {
		// Versioned but no runs.
		return db
	}

	for id, raw := range entries {
		run, err := decodeRun(raw)
		if err != nil {
			logger.Debug("skipping invalid run record", zap.String("run_id", id), zap.Error(err))
			continue
		}
		db.Runs[run.ID] = run
	}
	return db
}

// SaveRunDB overwrites the run database.
func (s *Store) SaveRunDB(ctx context.Context, db *RunDB) bool {
	if db.Runs == nil {
		db.Runs = make(map[string]*types.Run)
	}
	db.Version = RunDBVersion
	data, err := json.Marshal(db)
	if err != nil {
		s.notifier.Notify(Notice{Level: NoticeError, Key: KeyRuns, Message: "failed to encode runs", Err: err})
		return false
	}
	return s.write(ctx, KeyRuns, string(data))
}

// Run returns a copy of a single run.
func (s *Store) Run(ctx context.Context, id string) (*types.Run, bool) {
	run, ok := s.RunDB(ctx).Runs[id]
	if !ok {
		return nil, false
	}
	return run, true
}

// SaveRun writes run into the database and notifies listeners on success.
func (s *Store) SaveRun(ctx context.Context, run *types.Run) bool {
	s.rmw.Lock()
	defer s.rmw.Unlock()
	return s.saveRunLocked(ctx, run)
}

func (s *Store) saveRunLocked(ctx context.Context, run *types.Run) bool {
	db := s.RunDB(ctx)
	db.Runs[run.ID] = run.Clone()
	if !s.SaveRunDB(ctx, db) {
		return false
	}
	for _, l := range s.snapshotListeners() {
		l.RunChanged(run.Clone())
	}
	return true
}

// UpdateRun re-reads a run, applies fn and saves the result. The returned run
// is the updated state even if the write failed. An error from fn aborts the
// update without writing.
func (s *Store) UpdateRun(ctx context.Context, id string, fn func(run *types.Run) error) (*types.Run, error) {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	run, ok := s.RunDB(ctx).Runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	if err := fn(run); err != nil {
		return run, err
	}
	s.saveRunLocked(ctx, run)
	return run, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) []*types.Run {
	db := s.RunDB(ctx)
	runs := make([]*types.Run, 0, len(db.Runs))
	for _, r := range db.Runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs
}

// DeleteRun removes a run and reports whether it existed.
func (s *Store) DeleteRun(ctx context.Context, id string) bool {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	db := s.RunDB(ctx)
	if _, ok := db.Runs[id]; !ok {
		return false
	}
	delete(db.Runs, id)
	return s.SaveRunDB(ctx, db)
}

// decodeRun validates a run record field by field. Required fields must be present
// with the right type; optional fields default to absent; unknown fields are ignored.
func decodeRun(data json.RawMessage) (*types.Run, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("not an object: %w", err)
	}

	run := &types.Run{Artifacts: []types.Artifact{}}
	var err error
	if run.ID, err = requiredString(m, "id"); err != nil {
		return nil, err
	}
	if run.ID == "" {
		return nil, errors.New("empty id")
	}
	if run.LeadID, err = requiredString(m, "leadId"); err != nil {
		return nil, err
	}
	status, err := requiredString(m, "status")
	if err != nil {
		return nil, err
	}
	run.Status = types.RunStatus(status)
	if !run.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	if run.CreatedAt, err = requiredTime(m, "createdAt"); err != nil {
		return nil, err
	}
	run.StartedAt = optionalTime(m, "startedAt")
	run.CompletedAt = optionalTime(m, "completedAt")
	run.ErrorSummary = optionalString(m, "errorSummary")
	run.Mode = types.RunMode(optionalString(m, "mode"))
	if run.Mode != types.ModeLite {
		run.Mode = types.ModeFull
	}

	stepsRaw, ok := m["steps"]
	if !ok {
		return nil, errors.New("missing steps")
	}
	var steps []json.RawMessage
	if err := json.Unmarshal(stepsRaw, &steps); err != nil {
		return nil, fmt.Errorf("steps: %w", err)
	}
	run.Steps = make([]types.Step, 0, len(steps))
	for i, raw := range steps {
		step, err := decodeStep(raw)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		run.Steps = append(run.Steps, step)
	}

	if artifactsRaw, ok := m["artifacts"]; ok {
		var artifacts []json.RawMessage
		if err := json.Unmarshal(artifactsRaw, &artifacts); err != nil {
			return nil, fmt.Errorf("artifacts: %w", err)
		}
		for _, raw := range artifacts {
			if a, err := decodeArtifact(raw); err == nil {
				run.Artifacts = append(run.Artifacts, a)
			}
		}
	}
	return run, nil
}

func decodeStep(data json.RawMessage) (types.Step, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return types.Step{}, fmt.Errorf("not an object: %w", err)
	}

	step := types.Step{OutputArtifactIDs: []string{}}
	var err error
	if step.Name, err = requiredString(m, "name"); err != nil {
		return step, err
	}
	status, err := requiredString(m, "status")
	if err != nil {
		return step, err
	}
	step.Status = types.StepStatus(status)
	if !step.Status.Valid() {
		return step, fmt.Errorf("invalid status %q", status)
	}
	if raw, ok := m["attempts"]; ok {
		_ = json.Unmarshal(raw, &step.Attempts)
	}
	step.StartedAt = optionalTime(m, "startedAt")
	step.CompletedAt = optionalTime(m, "completedAt")
	step.Error = optionalString(m, "error")
	if raw, ok := m["outputArtifactIds"]; ok {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err == nil && ids != nil {
			step.OutputArtifactIDs = ids
		}
	}
	return step, nil
}

func decodeArtifact(data json.RawMessage) (types.Artifact, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return types.Artifact{}, err
	}

	var (
		a   types.Artifact
		err error
	)
	if a.ID, err = requiredString(m, "id"); err != nil {
		return a, err
	}
	if a.RunID, err = requiredString(m, "runId"); err != nil {
		return a, err
	}
	if a.StepName, err = requiredString(m, "stepName"); err != nil {
		return a, err
	}
	typ, err := requiredString(m, "type")
	if err != nil {
		return a, err
	}
	a.Type = types.ArtifactType(typ)
	if !a.Type.Valid() {
		return a, fmt.Errorf("invalid artifact type %q", typ)
	}
	if a.Content, err = requiredString(m, "content"); err != nil {
		return a, err
	}
	if a.CreatedAt, err = requiredTime(m, "createdAt"); err != nil {
		return a, err
	}
	return a, nil
}

func requiredString(m map[string]json.RawMessage, key string) (string, error) {
	raw, ok := m[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s: expected string", key)
	}
	return s, nil
}

func optionalString(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

// parseTime accepts RFC 3339 strings and millisecond epoch numbers.
func parseTime(raw json.RawMessage) (time.Time, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		return t, err == nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}

func requiredTime(m map[string]json.RawMessage, key string) (time.Time, error) {
	raw, ok := m[key]
	if !ok {
		return time.Time{}, fmt.Errorf("missing %s", key)
	}
	t, ok := parseTime(raw)
	if !ok {
		return time.Time{}, fmt.Errorf("%s: expected timestamp", key)
	}
	return t, nil
}

func optionalTime(m map[string]json.RawMessage, key string) *time.Time {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	t, ok := parseTime(raw)
	if !ok {
		return nil
	}
	return &t
}

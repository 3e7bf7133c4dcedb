// Package types provides type definitions for structured data used throughout the agency orchestrator.
package types

import (
	"time"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run status values. Succeeded, failed and canceled are terminal.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCanceled
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunQueued, RunRunning, RunSucceeded, RunFailed, RunCanceled:
		return true
	}
	return false
}

// StepStatus is the state of a single step inside a run.
type StepStatus string

// Step status values
const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Settled reports whether the step can never change status again within its run.
func (s StepStatus) Settled() bool {
	return s == StepSuccess || s == StepSkipped
}

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepRunning, StepSuccess, StepFailed, StepSkipped:
		return true
	}
	return false
}

// RunMode selects between the full pipeline and the low-cost preview.
type RunMode string

// Run modes
const (
	ModeFull RunMode = "full"
	ModeLite RunMode = "lite"
)

// ArtifactType describes how an artifact's content is encoded.
type ArtifactType string

// Artifact types
const (
	ArtifactJSON     ArtifactType = "json"
	ArtifactMarkdown ArtifactType = "markdown"
	ArtifactText     ArtifactType = "text"
)

// Valid reports whether t is a known artifact type.
func (t ArtifactType) Valid() bool {
	return t == ArtifactJSON || t == ArtifactMarkdown || t == ArtifactText
}

// Run is one execution of the step pipeline against one lead.
type Run struct {
	ID           string     `json:"id"`
	LeadID       string     `json:"leadId"`
	Mode         RunMode    `json:"mode,omitempty"`
	Status       RunStatus  `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorSummary string     `json:"errorSummary,omitempty"`
	Steps        []Step     `json:"steps"`
	Artifacts    []Artifact `json:"artifacts"`
}

// Step is one named unit of work inside a run.
type Step struct {
	Name              string     `json:"name"`
	Status            StepStatus `json:"status"`
	Attempts          int        `json:"attempts"`
	StartedAt         *time.Time `json:"startedAt,omitempty"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	Error             string     `json:"error,omitempty"`
	OutputArtifactIDs []string   `json:"outputArtifactIds"`
}

// Artifact is the immutable, persisted output of a step.
type Artifact struct {
	ID        string       `json:"id"`
	RunID     string       `json:"runId"`
	StepName  string       `json:"stepName"`
	Type      ArtifactType `json:"type"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
}

// NewRun builds a queued run with one pending step per name, in the given order.
func NewRun(id, leadID string, mode RunMode, stepNames []string, now time.Time) *Run {
	if mode == "" {
		mode = ModeFull
	}
	steps := make([]Step, len(stepNames))
	for i, name := range stepNames {
		steps[i] = Step{
			Name:              name,
			Status:            StepPending,
			OutputArtifactIDs: []string{},
		}
	}
	return &Run{
		ID:        id,
		LeadID:    leadID,
		Mode:      mode,
		Status:    RunQueued,
		CreatedAt: now,
		Steps:     steps,
		Artifacts: []Artifact{},
	}
}

// StepIndex returns the position of the named step, or -1.
func (r *Run) StepIndex(name string) int {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return i
		}
	}
	return -1
}

// Step returns a pointer to the named step, or nil.
func (r *Run) Step(name string) *Step {
	if i := r.StepIndex(name); i >= 0 {
		return &r.Steps[i]
	}
	return nil
}

// Artifact returns the artifact with the given id, or nil.
func (r *Run) Artifact(id string) *Artifact {
	for i := range r.Artifacts {
		if r.Artifacts[i].ID == id {
			return &r.Artifacts[i]
		}
	}
	return nil
}

// LatestArtifact returns the most recent artifact recorded for a step, or nil.
func (r *Run) LatestArtifact(stepName string) *Artifact {
	step := r.Step(stepName)
	if step == nil {
		return nil
	}
	for i := len(step.OutputArtifactIDs) - 1; i >= 0; i-- {
		if a := r.Artifact(step.OutputArtifactIDs[i]); a != nil {
			return a
		}
	}
	return nil
}

// AppendArtifact records a new artifact and links it to its step.
func (r *Run) AppendArtifact(a Artifact) {
	r.Artifacts = append(r.Artifacts, a)
	if step := r.Step(a.StepName); step != nil {
		step.OutputArtifactIDs = append(step.OutputArtifactIDs, a.ID)
	}
}

// DeriveStatus computes the run status implied by the step statuses alone.
// A run with a failed step is failed; a run whose steps are all success or skipped
// is succeeded; a run with any step started is running; otherwise it is queued.
func DeriveStatus(steps []Step) RunStatus {
	allSettled := len(steps) > 0
	started := false
	for _, s := range steps {
		switch s.Status {
		case StepFailed:
			return RunFailed
		case StepSuccess, StepSkipped:
			started = true
		case StepRunning:
			started = true
			allSettled = false
		default:
			allSettled = false
		}
	}
	if allSettled {
		return RunSucceeded
	}
	if started {
		return RunRunning
	}
	return RunQueued
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.Steps = make([]Step, len(r.Steps))
	for i, s := range r.Steps {
		s.StartedAt = cloneTime(s.StartedAt)
		s.CompletedAt = cloneTime(s.CompletedAt)
		s.OutputArtifactIDs = append([]string{}, s.OutputArtifactIDs...)
		out.Steps[i] = s
	}
	out.Artifacts = append([]Artifact{}, r.Artifacts...)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

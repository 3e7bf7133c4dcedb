package server

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/events"
	"github.com/jonathan/agency-orchestrator/internal/orchestrator"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

// RunSummary is the list view of a run.
type RunSummary struct {
	ID           string          `json:"id"`
	LeadID       string          `json:"lead_id"`
	Mode         types.RunMode   `json:"mode"`
	Status       types.RunStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorSummary string          `json:"error_summary,omitempty"`
	StepsDone    int             `json:"steps_done"`
	StepsTotal   int             `json:"steps_total"`
}

func summarize(run *types.Run) RunSummary {
	done := 0
	for _, st := range run.Steps {
		if st.Status.Settled() {
			done++
		}
	}
	return RunSummary{
		ID:           run.ID,
		LeadID:       run.LeadID,
		Mode:         run.Mode,
		Status:       run.Status,
		CreatedAt:    run.CreatedAt,
		CompletedAt:  run.CompletedAt,
		ErrorSummary: run.ErrorSummary,
		StepsDone:    done,
		StepsTotal:   len(run.Steps),
	}
}

// handleStartRun starts a run. An empty body selects the best lead in full mode.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req types.StartRunRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, validationError(err))
		return
	}

	run, err := s.runner.StartRun(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Location", "/runs/"+run.ID)
	s.jsonResponse(w, http.StatusAccepted, summarize(run))
}

// handleListRuns lists runs newest first, optionally filtered by status.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	status := types.RunStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		s.writeError(w, &ErrValidation{Field: "status", Message: "unknown run status"})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, &ErrValidation{Field: "limit", Message: "must be a non-negative integer"})
			return
		}
		limit = n
	}

	out := []RunSummary{}
	for _, run := range s.store.ListRuns(r.Context()) {
		if status != "" && run.Status != status {
			continue
		}
		out = append(out, summarize(run))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	s.jsonResponse(w, http.StatusOK, out)
}

// handleGetRun returns the full run record.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.store.Run(r.Context(), r.PathValue("id"))
	if !ok {
		s.writeError(w, orchestrator.ErrRunNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

// handleRunArtifacts returns a run's artifacts, optionally only those of one step.
func (s *Server) handleRunArtifacts(w http.ResponseWriter, r *http.Request) {
	run, ok := s.store.Run(r.Context(), r.PathValue("id"))
	if !ok {
		s.writeError(w, orchestrator.ErrRunNotFound)
		return
	}

	step := r.URL.Query().Get("step")
	out := []types.Artifact{}
	for _, a := range run.Artifacts {
		if step == "" || a.StepName == step {
			out = append(out, a)
		}
	}
	s.jsonResponse(w, http.StatusOK, out)
}

// handleCancelRun cancels a run and returns its final state.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runner.CancelRun(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, summarize(run))
}

// handleResumeRun re-drives an interrupted run.
func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.runner.ResumeRun(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"run_id": id, "status": "resuming"})
}

// handleDeleteRun removes a finished run.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, ok := s.store.Run(r.Context(), id)
	if !ok {
		s.writeError(w, orchestrator.ErrRunNotFound)
		return
	}
	if !run.Status.Terminal() {
		s.errorResponse(w, http.StatusConflict, "run_active", "cancel the run before deleting it")
		return
	}
	if !s.store.DeleteRun(r.Context(), id) {
		s.errorResponse(w, http.StatusInternalServerError, "storage", "failed to delete run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRunStream streams run.changed events for one run as Server-Sent Events.
// The first event is a snapshot; the stream ends after a terminal status.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "streaming_disabled", "event streaming is not enabled")
		return
	}

	id := r.PathValue("id")

	// Subscribe before the snapshot so no change falls between them.
	ch, unsubscribe := s.hub.Subscribe(64)
	defer unsubscribe()

	run, ok := s.store.Run(r.Context(), id)
	if !ok {
		s.writeError(w, orchestrator.ErrRunNotFound)
		return
	}

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("could not clear stream write deadline", zap.Error(err))
	}
	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	snapshot := events.NewRunChanged(run)
	if err := sse.WriteEvent(snapshot.ID, "snapshot", snapshot.Payload); err != nil || run.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.WriteKeepAlive(); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			payload, isRun := e.Payload.(events.RunChangedPayload)
			if e.Type != events.TypeRunChanged || !isRun || payload.RunID != id {
				continue
			}
			if err := sse.WriteEvent(e.ID, string(e.Type), payload); err != nil {
				s.logger.Debug("stream client went away", zap.String("run_id", id), zap.Error(err))
				return
			}
			if payload.Status.Terminal() {
				return
			}
		}
	}
}

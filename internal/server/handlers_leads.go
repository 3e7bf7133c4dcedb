package server

import (
	"net/http"
	"time"

	"github.com/jonathan/agency-orchestrator/internal/types"
)

// handleListLeads returns the lead list as stored.
func (s *Server) handleListLeads(w http.ResponseWriter, r *http.Request) {
	leads := s.store.Leads(r.Context())
	if leads == nil {
		leads = []types.Lead{}
	}
	s.jsonResponse(w, http.StatusOK, leads)
}

// handleUpsertLeads merges a batch of leads into the list. Existing leads keep
// their lock state.
func (s *Server) handleUpsertLeads(w http.ResponseWriter, r *http.Request) {
	var req types.UpsertLeadsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, validationError(err))
		return
	}

	merged, ok := s.store.UpsertLeads(r.Context(), req.ToLeads())
	if !ok {
		s.errorResponse(w, http.StatusInsufficientStorage, "storage", "failed to persist leads")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]int{
		"received": len(req.Leads),
		"total":    len(merged),
	})
}

// handleUnlockLeads force-releases every lead lock.
func (s *Server) handleUnlockLeads(w http.ResponseWriter, r *http.Request) {
	n := s.store.ForceUnlockAll(r.Context())
	s.jsonResponse(w, http.StatusOK, map[string]int{"unlocked": n})
}

// handleSweepLeads releases lead locks that have expired.
func (s *Server) handleSweepLeads(w http.ResponseWriter, r *http.Request) {
	n := s.store.SweepStaleLocks(r.Context())
	s.jsonResponse(w, http.StatusOK, map[string]int{"released": n})
}

// OrchestratorStatus reports runs driven by this process and the start mutex.
type OrchestratorStatus struct {
	Active      []string   `json:"active"`
	MutexHolder string     `json:"mutex_holder,omitempty"`
	MutexExpiry *time.Time `json:"mutex_expires_at,omitempty"`
}

func (s *Server) handleOrchestratorStatus(w http.ResponseWriter, r *http.Request) {
	status := OrchestratorStatus{Active: s.runner.Active()}
	if status.Active == nil {
		status.Active = []string{}
	}
	if rec, ok := s.store.MutexHolder(r.Context()); ok {
		expires := time.UnixMilli(rec.ExpiresAt).UTC()
		status.MutexHolder = rec.OwnerID
		status.MutexExpiry = &expires
	}
	s.jsonResponse(w, http.StatusOK, status)
}

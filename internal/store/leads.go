package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/types"
)

// Lead lock errors
var (
	ErrLeadNotFound = errors.New("lead not found")
	ErrLeadLocked   = errors.New("lead is locked by another run")
)

// Leads returns the persisted lead list. Malformed data yields an empty list;
// entries that are not lead objects or have no id are left out.
func (s *Store) Leads(ctx context.Context) []types.Lead {
	return s.readLeads(ctx).leads
}

// leadList is the stored list split into decoded leads and the raw entries
// that could not be decoded. Writes put the raw entries back unchanged.
type leadList struct {
	leads  []types.Lead
	opaque []json.RawMessage
}

func (s *Store) readLeads(ctx context.Context) leadList {
	raw, ok := s.read(ctx, KeyLeads)
	if !ok {
		return leadList{leads: []types.Lead{}}
	}
	return decodeLeads(raw, s.logger)
}

func decodeLeads(raw string, logger *zap.Logger) leadList {
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		logger.Warn("lead list is malformed, treating as empty", zap.Error(err))
		return leadList{leads: []types.Lead{}}
	}

	list := leadList{leads: make([]types.Lead, 0, len(entries))}
	for i, entry := range entries {
		var lead types.Lead
		if err := json.Unmarshal(entry, &lead); err != nil {
			logger.Debug("keeping undecodable lead as-is", zap.Int("index", i), zap.Error(err))
			list.opaque = append(list.opaque, entry)
			continue
		}
		if lead.ID == "" {
			list.opaque = append(list.opaque, entry)
			continue
		}
		list.leads = append(list.leads, lead)
	}
	return list
}

// Lead returns a single lead by id.
func (s *Store) Lead(ctx context.Context, id string) (*types.Lead, bool) {
	for _, lead := range s.Leads(ctx) {
		if lead.ID == id {
			l := lead
			return &l, true
		}
	}
	return nil, false
}

// SaveLeads overwrites the lead list and broadcasts it to listeners on success.
func (s *Store) SaveLeads(ctx context.Context, leads []types.Lead) bool {
	return s.saveLeadList(ctx, leadList{leads: leads})
}

// saveLeadList writes the decoded leads followed by the opaque entries.
// Listeners only see the decoded leads.
func (s *Store) saveLeadList(ctx context.Context, list leadList) bool {
	leads := list.leads
	if leads == nil {
		leads = []types.Lead{}
	}
	entries := make([]json.RawMessage, 0, len(leads)+len(list.opaque))
	for _, lead := range leads {
		entry, err := json.Marshal(lead)
		if err != nil {
			s.notifier.Notify(Notice{Level: NoticeError, Key: KeyLeads, Message: "failed to encode leads", Err: err})
			return false
		}
		entries = append(entries, entry)
	}
	entries = append(entries, list.opaque...)
	data, err := json.Marshal(entries)
	if err != nil {
		s.notifier.Notify(Notice{Level: NoticeError, Key: KeyLeads, Message: "failed to encode leads", Err: err})
		return false
	}
	if !s.write(ctx, KeyLeads, string(data)) {
		return false
	}

	for _, l := range s.snapshotListeners() {
		l.LeadsChanged(cloneLeads(leads))
	}
	return true
}

// UpsertLeads merges incoming leads into the stored list and returns the result.
// A record matches by id, or, when its id is absent or unknown, by business name
// and website. Matched records keep the stored id and take every non-zero incoming
// field. Unmatched records are appended, with a new id if they have none.
func (s *Store) UpsertLeads(ctx context.Context, incoming []types.Lead) ([]types.Lead, bool) {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	list := s.readLeads(ctx)
	list.leads = MergeLeads(list.leads, incoming)
	return list.leads, s.saveLeadList(ctx, list)
}

// MergeLeads applies the upsert rules to existing and returns a new list.
func MergeLeads(existing, incoming []types.Lead) []types.Lead {
	out := cloneLeads(existing)
	byID := make(map[string]int, len(out))
	byIdentity := make(map[string]int, len(out))
	for i, lead := range out {
		byID[lead.ID] = i
		if key := identityKey(lead); key != "" {
			byIdentity[key] = i
		}
	}

	for _, in := range incoming {
		idx, found := -1, false
		if in.ID != "" {
			idx, found = byID[in.ID]
		}
		if !found {
			if key := identityKey(in); key != "" {
				idx, found = byIdentity[key]
			}
		}

		if found {
			out[idx] = out[idx].Merge(in)
			if key := identityKey(out[idx]); key != "" {
				byIdentity[key] = idx
			}
			continue
		}

		lead := in
		if lead.ID == "" {
			lead.ID = uuid.NewString()
		}
		out = append(out, lead)
		byID[lead.ID] = len(out) - 1
		if key := identityKey(lead); key != "" {
			byIdentity[key] = len(out) - 1
		}
	}
	return out
}

// identityKey is the compound (businessName, websiteUrl) match key.
func identityKey(l types.Lead) string {
	name := strings.ToLower(strings.TrimSpace(l.BusinessName))
	site := strings.ToLower(strings.TrimSpace(l.WebsiteURL))
	site = strings.TrimSuffix(site, "/")
	if name == "" || site == "" {
		return ""
	}
	return name + "\x00" + site
}

// SweepStale clears the lock on every lead whose lock expired before now.
// It returns a new list and the number of leads released.
func SweepStale(leads []types.Lead, now time.Time) ([]types.Lead, int) {
	out := cloneLeads(leads)
	released := 0
	for i := range out {
		if out[i].LockStale(now) {
			out[i].Unlock()
			released++
		}
	}
	return out, released
}

// UnlockAll clears every lock regardless of expiry.
func UnlockAll(leads []types.Lead) ([]types.Lead, int) {
	out := cloneLeads(leads)
	released := 0
	for i := range out {
		if out[i].Locked {
			released++
		}
		out[i].Unlock()
	}
	return out, released
}

// SweepStaleLocks releases expired locks and persists the result if anything changed.
func (s *Store) SweepStaleLocks(ctx context.Context) int {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	list := s.readLeads(ctx)
	var released int
	list.leads, released = SweepStale(list.leads, s.now())
	if released > 0 {
		s.saveLeadList(ctx, list)
		s.logger.Info("released stale lead locks", zap.Int("count", released))
	}
	return released
}

// ForceUnlockAll clears every lead lock and returns how many were held.
func (s *Store) ForceUnlockAll(ctx context.Context) int {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	list := s.readLeads(ctx)
	var released int
	list.leads, released = UnlockAll(list.leads)
	s.saveLeadList(ctx, list)
	s.logger.Info("force-unlocked leads", zap.Int("count", released))
	return released
}

// LockLead marks a lead as held by runID for ttl. A lead whose lock has not
// expired cannot be taken.
func (s *Store) LockLead(ctx context.Context, leadID, runID string, ttl time.Duration) (*types.Lead, error) {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	list := s.readLeads(ctx)
	leads := list.leads
	now := s.now()
	for i := range leads {
		if leads[i].ID != leadID {
			continue
		}
		if leads[i].Locked && !leads[i].LockStale(now) && leads[i].LockedByRunID != runID {
			return nil, ErrLeadLocked
		}
		leads[i].Lock(runID, now, ttl)
		s.saveLeadList(ctx, list)
		lead := leads[i]
		return &lead, nil
	}
	return nil, ErrLeadNotFound
}

// UnlockLead clears the lock on a lead if it is held by runID.
// An empty runID clears the lock unconditionally.
func (s *Store) UnlockLead(ctx context.Context, leadID, runID string) bool {
	s.rmw.Lock()
	defer s.rmw.Unlock()

	list := s.readLeads(ctx)
	leads := list.leads
	for i := range leads {
		if leads[i].ID != leadID {
			continue
		}
		if !leads[i].Locked || (runID != "" && leads[i].LockedByRunID != runID) {
			return false
		}
		leads[i].Unlock()
		return s.saveLeadList(ctx, list)
	}
	return false
}

// SelectLead picks the highest-score lead that is unlocked and not won.
// Ties keep list order.
func SelectLead(leads []types.Lead) (*types.Lead, bool) {
	var best *types.Lead
	for i := range leads {
		l := &leads[i]
		if l.Locked || l.Status == types.LeadStatusWon {
			continue
		}
		if best == nil || l.Score > best.Score {
			best = l
		}
	}
	if best == nil {
		return nil, false
	}
	out := *best
	return &out, true
}

func cloneLeads(leads []types.Lead) []types.Lead {
	out := make([]types.Lead, len(leads))
	copy(out, leads)
	return out
}

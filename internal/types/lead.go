package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// LeadStatusWon marks a lead that has converted; won leads are never auto-selected.
const LeadStatusWon = "won"

// Lead is a business prospect record. Fields this package does not know about are kept
// in Extra so that a read-modify-write cycle never drops data written by other tools.
type Lead struct {
	ID            string     `json:"id"`
	BusinessName  string     `json:"businessName"`
	WebsiteURL    string     `json:"websiteUrl,omitempty"`
	Niche         string     `json:"niche,omitempty"`
	Locale        string     `json:"locale,omitempty"`
	Score         float64    `json:"score"`
	Status        string     `json:"status,omitempty"`
	Locked        bool       `json:"locked"`
	LockedByRunID string     `json:"lockedByRunId,omitempty"`
	LockedAt      *time.Time `json:"lockedAt,omitempty"`
	LockExpiresAt *time.Time `json:"lockExpiresAt,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// leadFields is used to decode and encode the known part of a lead without recursion.
type leadFields Lead

var knownLeadKeys = map[string]struct{}{
	"id": {}, "businessName": {}, "websiteUrl": {}, "niche": {}, "locale": {}, "score": {},
	"status": {}, "locked": {}, "lockedByRunId": {}, "lockedAt": {}, "lockExpiresAt": {},
}

// leadWire shadows the fields other writers encode loosely: scores as numeric
// strings and lock timestamps as millisecond epochs.
type leadWire struct {
	leadFields
	Score         json.RawMessage `json:"score"`
	LockedAt      json.RawMessage `json:"lockedAt"`
	LockExpiresAt json.RawMessage `json:"lockExpiresAt"`
}

// UnmarshalJSON decodes the known fields and keeps the rest in Extra.
func (l *Lead) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var wire leadWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("invalid lead: %w", err)
	}
	known := wire.leadFields
	var err error
	if known.Score, err = decodeScore(wire.Score); err != nil {
		return fmt.Errorf("invalid lead score: %w", err)
	}
	if known.LockedAt, err = decodeTimestamp(wire.LockedAt); err != nil {
		return fmt.Errorf("invalid lead lockedAt: %w", err)
	}
	if known.LockExpiresAt, err = decodeTimestamp(wire.LockExpiresAt); err != nil {
		return fmt.Errorf("invalid lead lockExpiresAt: %w", err)
	}
	*l = Lead(known)
	for key, value := range raw {
		if _, ok := knownLeadKeys[key]; ok {
			continue
		}
		if l.Extra == nil {
			l.Extra = make(map[string]json.RawMessage)
		}
		l.Extra[key] = value
	}
	return nil
}

func isNullJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodeScore(raw json.RawMessage) (float64, error) {
	if isNullJSON(raw) {
		return 0, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// decodeTimestamp accepts an RFC 3339 string or a millisecond epoch.
func decodeTimestamp(raw json.RawMessage) (*time.Time, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return &t, nil
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unrecognized timestamp %q", s)
		}
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return nil, err
	}
	t := time.UnixMilli(int64(ms)).UTC()
	return &t, nil
}

// MarshalJSON encodes the known fields followed by any preserved extra fields.
func (l Lead) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(leadFields(l))
	if err != nil {
		return nil, err
	}
	if len(l.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(l.Extra)+len(knownLeadKeys))
	for key, value := range l.Extra {
		merged[key] = value
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for key, value := range fields {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// LockStale reports whether the lead holds a lock that has expired at now.
func (l *Lead) LockStale(now time.Time) bool {
	return l.Locked && l.LockExpiresAt != nil && now.After(*l.LockExpiresAt)
}

// Lock marks the lead as held by runID until now+ttl.
func (l *Lead) Lock(runID string, now time.Time, ttl time.Duration) {
	expires := now.Add(ttl)
	locked := now
	l.Locked = true
	l.LockedByRunID = runID
	l.LockedAt = &locked
	l.LockExpiresAt = &expires
}

// Unlock clears every lock field.
func (l *Lead) Unlock() {
	l.Locked = false
	l.LockedByRunID = ""
	l.LockedAt = nil
	l.LockExpiresAt = nil
}

// Merge applies incoming on top of l: non-zero incoming fields win, extra fields are
// merged key by key. The id of l is preserved.
func (l Lead) Merge(incoming Lead) Lead {
	out := l
	if incoming.BusinessName != "" {
		out.BusinessName = incoming.BusinessName
	}
	if incoming.WebsiteURL != "" {
		out.WebsiteURL = incoming.WebsiteURL
	}
	if incoming.Niche != "" {
		out.Niche = incoming.Niche
	}
	if incoming.Locale != "" {
		out.Locale = incoming.Locale
	}
	if incoming.Score != 0 {
		out.Score = incoming.Score
	}
	if incoming.Status != "" {
		out.Status = incoming.Status
	}
	if len(incoming.Extra) > 0 {
		extra := make(map[string]json.RawMessage, len(l.Extra)+len(incoming.Extra))
		for k, v := range l.Extra {
			extra[k] = v
		}
		for k, v := range incoming.Extra {
			extra[k] = v
		}
		out.Extra = extra
	}
	return out
}

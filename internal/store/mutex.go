package store

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/kv"
)

// DefaultMutexTTL is how long a run-start mutex is held before it expires.
const DefaultMutexTTL = 10 * time.Second

// MutexRecord is the persisted mutex slot.
type MutexRecord struct {
	OwnerID string `json:"ownerId"`
	// ExpiresAt is a millisecond epoch.
	ExpiresAt int64 `json:"expiresAt"`
}

type mutexTiming struct {
	minJitter time.Duration
	maxJitter time.Duration
	settle    time.Duration
}

func defaultMutexTiming() mutexTiming {
	return mutexTiming{
		minJitter: 10 * time.Millisecond,
		maxJitter: 40 * time.Millisecond,
		settle:    25 * time.Millisecond,
	}
}

func (t mutexTiming) jitter() time.Duration {
	if t.maxJitter <= t.minJitter {
		return t.minJitter
	}
	return t.minJitter + rand.N(t.maxJitter-t.minJitter+1)
}

// AcquireMutex tries to take the run-start mutex for owner.
//
// On substrates implementing kv.Swapper the lock is taken with one conditional
// write. Otherwise a best-effort protocol is used: wait a random jitter, fail if
// another owner holds an unexpired lock, write the lock, wait a settle delay and
// succeed only if the lock still names owner. A writer stalled for longer than the
// settle delay between its check and its write can still overwrite a lock that
// another owner has already acquired.
func (s *Store) AcquireMutex(ctx context.Context, owner string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultMutexTTL
	}
	if sw, ok := s.kv.(kv.Swapper); ok {
		return s.acquireSwap(ctx, sw, owner, ttl)
	}

	if err := sleep(ctx, s.mutex.jitter()); err != nil {
		return false
	}

	if rec, _, ok := s.readMutex(ctx); ok && rec.OwnerID != owner && rec.ExpiresAt > s.now().UnixMilli() {
		return false
	}

	next, err := s.encodeMutex(owner, ttl)
	if err != nil {
		return false
	}
	if err := s.kv.Set(ctx, KeyMutex, next); err != nil {
		s.logger.Warn("failed to write mutex", zap.String("owner", owner), zap.Error(err))
		return false
	}

	if err := sleep(ctx, s.mutex.settle); err != nil {
		return false
	}

	rec, _, ok := s.readMutex(ctx)
	return ok && rec.OwnerID == owner
}

func (s *Store) acquireSwap(ctx context.Context, sw kv.Swapper, owner string, ttl time.Duration) bool {
	raw, exists := s.readRaw(ctx)
	if exists {
		var rec MutexRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil && rec.OwnerID != "" &&
			rec.OwnerID != owner && rec.ExpiresAt > s.now().UnixMilli() {
			return false
		}
	}

	next, err := s.encodeMutex(owner, ttl)
	if err != nil {
		return false
	}

	var old *string
	if exists {
		old = &raw
	}
	swapped, err := sw.CompareAndSwap(ctx, KeyMutex, old, next)
	if err != nil {
		s.logger.Warn("failed to swap mutex", zap.String("owner", owner), zap.Error(err))
		return false
	}
	return swapped
}

// ReleaseMutex removes the mutex record if it is still held by owner.
func (s *Store) ReleaseMutex(ctx context.Context, owner string) {
	rec, raw, ok := s.readMutex(ctx)
	if !ok || rec.OwnerID != owner {
		return
	}

	var err error
	if sw, isSwapper := s.kv.(kv.Swapper); isSwapper {
		_, err = sw.CompareAndDelete(ctx, KeyMutex, raw)
	} else {
		err = s.kv.Delete(ctx, KeyMutex)
	}
	if err != nil {
		s.logger.Warn("failed to release mutex", zap.String("owner", owner), zap.Error(err))
	}
}

// MutexHolder returns the current mutex record, if any.
func (s *Store) MutexHolder(ctx context.Context) (*MutexRecord, bool) {
	rec, _, ok := s.readMutex(ctx)
	if !ok {
		return nil, false
	}
	return &rec, true
}

func (s *Store) readRaw(ctx context.Context) (string, bool) {
	return s.read(ctx, KeyMutex)
}

// readMutex returns the decoded record and its raw form. A malformed record is
// reported as absent.
func (s *Store) readMutex(ctx context.Context) (MutexRecord, string, bool) {
	raw, ok := s.readRaw(ctx)
	if !ok {
		return MutexRecord{}, "", false
	}
	var rec MutexRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.OwnerID == "" {
		return MutexRecord{}, raw, false
	}
	return rec, raw, true
}

func (s *Store) encodeMutex(owner string, ttl time.Duration) (string, error) {
	data, err := json.Marshal(MutexRecord{
		OwnerID:   owner,
		ExpiresAt: s.now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
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

// Package store persists leads, runs and the run-start mutex on top of a kv.Store.
//
// Reads are tolerant: malformed data degrades to an empty collection. Writes never
// return errors to the caller; failures are reported through the Notifier and the
// caller continues with its in-memory state.
package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/kv"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

// Storage keys
const (
	KeyLeads = "agency.leads"
	KeyRuns  = "agency.runs"
	KeyMutex = "agency.mutex"
)

// Listener receives the persisted state after every successful write.
type Listener interface {
	LeadsChanged(leads []types.Lead)
	RunChanged(run *types.Run)
}

// Store is the key-value store adapter.
type Store struct {
	kv       kv.Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time

	// rmw serializes read-modify-write cycles within this process.
	rmw sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	mutex mutexTiming
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets where write failures are reported.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMutexTiming overrides the jitter range and settle delay of the
// non-atomic mutex protocol.
func WithMutexTiming(minJitter, maxJitter, settle time.Duration) Option {
	return func(s *Store) {
		s.mutex = mutexTiming{minJitter: minJitter, maxJitter: maxJitter, settle: settle}
	}
}

// New creates a Store over substrate.
func New(substrate kv.Store, opts ...Option) *Store {
	s := &Store{
		kv:        substrate,
		logger:    zap.NewNop(),
		now:       time.Now,
		listeners: make(map[int]Listener),
		mutex:     defaultMutexTiming(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

// Subscribe registers a listener and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) snapshotListeners() []Listener {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

// write stores value under key, reporting failure through the notifier.
func (s *Store) write(ctx context.Context, key, value string) bool {
	if err := s.kv.Set(ctx, key, value); err != nil {
		s.notifier.Notify(Notice{
			Level:   NoticeError,
			Key:     key,
			Message: "failed to save " + key,
			Err:     err,
		})
		return false
	}
	return true
}

// read returns the raw value under key; read errors degrade to absent.
func (s *Store) read(ctx context.Context, key string) (string, bool) {
	v, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Warn("store read failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return v, ok
}

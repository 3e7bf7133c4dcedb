// Package events turns store changes into events and fans them out to sinks:
// an in-process hub for streaming clients and an AMQP exchange.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/agency-orchestrator/internal/types"
)

// Type is the kind of an event. It doubles as the AMQP routing key.
type Type string

// Event types.
const (
	TypeLeadsChanged Type = "lead.changed"
	TypeRunChanged   Type = "run.changed"
)

// Event is one published change.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// LeadsChangedPayload summarizes the lead list after a write.
type LeadsChangedPayload struct {
	Count  int `json:"count"`
	Locked int `json:"locked"`
}

// StepSummary is the status of one step.
type StepSummary struct {
	Name     string           `json:"name"`
	Status   types.StepStatus `json:"status"`
	Attempts int              `json:"attempts"`
}

// RunChangedPayload is the state of a run after a write.
type RunChangedPayload struct {
	RunID         string          `json:"run_id"`
	LeadID        string          `json:"lead_id"`
	Mode          types.RunMode   `json:"mode"`
	Status        types.RunStatus `json:"status"`
	ErrorSummary  string          `json:"error_summary,omitempty"`
	ArtifactCount int             `json:"artifact_count"`
	Steps         []StepSummary   `json:"steps"`
}

// NewRunChanged builds a run.changed event.
func NewRunChanged(run *types.Run) Event {
	payload := RunChangedPayload{
		RunID:         run.ID,
		LeadID:        run.LeadID,
		Mode:          run.Mode,
		Status:        run.Status,
		ErrorSummary:  run.ErrorSummary,
		ArtifactCount: len(run.Artifacts),
		Steps:         make([]StepSummary, len(run.Steps)),
	}
	for i, s := range run.Steps {
		payload.Steps[i] = StepSummary{Name: s.Name, Status: s.Status, Attempts: s.Attempts}
	}
	return Event{ID: uuid.NewString(), Type: TypeRunChanged, Payload: payload, Timestamp: time.Now()}
}

// NewLeadsChanged builds a lead.changed event.
func NewLeadsChanged(leads []types.Lead) Event {
	payload := LeadsChangedPayload{Count: len(leads)}
	for _, l := range leads {
		if l.Locked {
			payload.Locked++
		}
	}
	return Event{ID: uuid.NewString(), Type: TypeLeadsChanged, Payload: payload, Timestamp: time.Now()}
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Broadcaster implements store.Listener. Events are queued and delivered to
// every sink on a single background goroutine, so store writes never wait on a
// sink. When the queue is full new events are dropped.
type Broadcaster struct {
	sinks  []Sink
	logger *zap.Logger

	mu     sync.Mutex
	queue  chan Event
	closed bool
	done   chan struct{}
}

// DefaultQueueSize is the broadcaster buffer when none is given.
const DefaultQueueSize = 256

// NewBroadcaster starts a broadcaster delivering to sinks. Call Close to stop it.
func NewBroadcaster(logger *zap.Logger, queueSize int, sinks ...Sink) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Broadcaster{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go b.loop()
	return b
}

// LeadsChanged implements store.Listener.
func (b *Broadcaster) LeadsChanged(leads []types.Lead) {
	b.enqueue(NewLeadsChanged(leads))
}

// RunChanged implements store.Listener.
func (b *Broadcaster) RunChanged(run *types.Run) {
	b.enqueue(NewRunChanged(run))
}

func (b *Broadcaster) enqueue(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- e:
	default:
		b.logger.Warn("event queue full, dropping event", zap.String("type", string(e.Type)))
	}
}

func (b *Broadcaster) loop() {
	defer close(b.done)
	for e := range b.queue {
		for _, sink := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := sink.Publish(ctx, e); err != nil {
				b.logger.Warn("failed to publish event",
					zap.String("type", string(e.Type)),
					zap.String("event_id", e.ID),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// Close stops accepting events, delivers the queued ones and returns.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()
	<-b.done
}

// Hub is an in-process sink that fans events out to subscribers.
// Slow subscribers miss events rather than block the hub.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Publish implements Sink.
func (h *Hub) Publish(_ context.Context, e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of events and a function that closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

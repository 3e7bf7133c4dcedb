package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/agency-orchestrator/internal/kv"
	"github.com/jonathan/agency-orchestrator/internal/store"
	"github.com/jonathan/agency-orchestrator/internal/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Types() []Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Type, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func TestNewRunChanged(t *testing.T) {
	run := types.NewRun("run-1", "lead-1", types.ModeLite, []string{"ResolveLead", "DeepResearch"}, time.Now())
	run.Steps[0].Status = types.StepSuccess
	run.Steps[0].Attempts = 2

	e := NewRunChanged(run)
	assert.Equal(t, TypeRunChanged, e.Type)
	assert.NotEmpty(t, e.ID)

	payload, ok := e.Payload.(RunChangedPayload)
	require.True(t, ok)
	assert.Equal(t, "run-1", payload.RunID)
	assert.Equal(t, types.ModeLite, payload.Mode)
	assert.Equal(t, []StepSummary{
		{Name: "ResolveLead", Status: types.StepSuccess, Attempts: 2},
		{Name: "DeepResearch", Status: types.StepPending},
	}, payload.Steps)
}

func TestNewLeadsChanged(t *testing.T) {
	e := NewLeadsChanged([]types.Lead{{ID: "a", Locked: true}, {ID: "b"}, {ID: "c", Locked: true}})
	assert.Equal(t, LeadsChangedPayload{Count: 3, Locked: 2}, e.Payload)
}

func TestBroadcaster_DeliversStoreChanges(t *testing.T) {
	sink := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker down")}
	b := NewBroadcaster(nil, 0, failing, sink)

	st := store.New(kv.NewMemory())
	unsubscribe := st.Subscribe(b)
	defer unsubscribe()

	ctx := context.Background()
	require.True(t, st.SaveLeads(ctx, []types.Lead{{ID: "a", BusinessName: "A"}}))
	require.True(t, st.SaveRun(ctx, types.NewRun("run-1", "a", types.ModeFull, nil, time.Now())))
	b.Close()

	assert.Equal(t, []Type{TypeLeadsChanged, TypeRunChanged}, sink.Types())
	assert.Len(t, failing.Types(), 2, "a failing sink does not stop delivery")

	b.RunChanged(types.NewRun("run-2", "a", types.ModeFull, nil, time.Now()))
	assert.Len(t, sink.Types(), 2, "closed broadcaster drops events")
}

func TestHub_Subscribe(t *testing.T) {
	h := NewHub()
	events, cancel := h.Subscribe(1)
	assert.Equal(t, 1, h.Subscribers())

	require.NoError(t, h.Publish(context.Background(), Event{ID: "1", Type: TypeRunChanged}))
	require.NoError(t, h.Publish(context.Background(), Event{ID: "2", Type: TypeRunChanged}))

	e := <-events
	assert.Equal(t, "1", e.ID, "slow subscriber misses later events")

	cancel()
	cancel()
	assert.Equal(t, 0, h.Subscribers())
	_, open := <-events
	assert.False(t, open)
}

package orchestrator

import (
	"errors"

	"github.com/jonathan/agency-orchestrator/internal/store"
)

// Orchestrator errors.
var (
	// ErrBusy is returned when another caller holds the run-start mutex.
	// Callers should retry after a short delay.
	ErrBusy = errors.New("orchestrator busy: another run is starting")

	// ErrNoEligibleLead is returned when no lead is unlocked and not won.
	ErrNoEligibleLead = errors.New("no eligible lead")

	// ErrLeadLocked is returned when the requested lead is held by another run.
	ErrLeadLocked = store.ErrLeadLocked

	// ErrLeadNotFound is returned when the requested lead does not exist.
	ErrLeadNotFound = store.ErrLeadNotFound

	// ErrRunNotFound is returned when a run id is unknown.
	ErrRunNotFound = store.ErrRunNotFound

	// ErrRunFinished is returned when an operation needs a non-terminal run.
	ErrRunFinished = errors.New("run already finished")

	// ErrRunAlreadyActive is returned when a run is already being driven in this process.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStopped is returned after Shutdown.
	ErrStopped = errors.New("orchestrator stopped")
)

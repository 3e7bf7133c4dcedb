package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/agency-orchestrator/internal/orchestrator"
)

// ErrInvalidCredentials indicates invalid operator credentials.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrValidation indicates request validation failure.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// validationError converts a validator failure into an ErrValidation for the
// first offending field.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &ErrValidation{Field: ve[0].Field(), Message: ve[0].Tag()}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// HTTPStatus returns the HTTP status code for an error.
func HTTPStatus(err error) int {
	var ve *ErrValidation
	switch {
	case errors.As(err, &ve), errors.Is(err, orchestrator.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, orchestrator.ErrRunNotFound), errors.Is(err, orchestrator.ErrLeadNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrLeadLocked),
		errors.Is(err, orchestrator.ErrRunFinished),
		errors.Is(err, orchestrator.ErrRunAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoEligibleLead):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orchestrator.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable code sent alongside the message.
func errorCode(err error) string {
	var ve *ErrValidation
	switch {
	case errors.As(err, &ve), errors.Is(err, orchestrator.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, orchestrator.ErrRunNotFound):
		return "run_not_found"
	case errors.Is(err, orchestrator.ErrLeadNotFound):
		return "lead_not_found"
	case errors.Is(err, orchestrator.ErrBusy):
		return "busy"
	case errors.Is(err, orchestrator.ErrLeadLocked):
		return "lead_locked"
	case errors.Is(err, orchestrator.ErrRunFinished):
		return "run_finished"
	case errors.Is(err, orchestrator.ErrRunAlreadyActive):
		return "run_active"
	case errors.Is(err, orchestrator.ErrNoEligibleLead):
		return "no_eligible_lead"
	case errors.Is(err, orchestrator.ErrStopped):
		return "shutting_down"
	default:
		return "internal"
	}
}

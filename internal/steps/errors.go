package steps

import "fmt"

// ErrorKind classifies why a step failed.
type ErrorKind string

// Step failure kinds
const (
	KindDependency ErrorKind = "dependency"
	KindGeneration ErrorKind = "generation"
	KindParse      ErrorKind = "parse"
	KindMissingKey ErrorKind = "missing_key"
	KindSchema     ErrorKind = "schema"
	KindEmpty      ErrorKind = "empty"
)

// StepError is returned by every failing step and names the step that failed.
type StepError struct {
	Step  string
	Kind  ErrorKind
	Cause error
}

func (e *StepError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s failed (%s)", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Step, e.Kind, e.Cause)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

func stepErr(step string, kind ErrorKind, cause error) *StepError {
	return &StepError{Step: step, Kind: kind, Cause: cause}
}

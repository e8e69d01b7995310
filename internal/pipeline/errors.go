package pipeline

import (
	"errors"
	"fmt"
)

// Code categorizes a pipeline failure.
type Code string

const (
	// CodePathNotFound marks a variable path that did not resolve. It is
	// recorded in stage details; it never fails a run on its own.
	CodePathNotFound Code = "PATH_NOT_FOUND"

	// CodeUnderspecified and CodeOverspecified halt the run before scaling.
	CodeUnderspecified Code = "UNDERSPECIFIED"
	CodeOverspecified  Code = "OVERSPECIFIED"

	// CodeInitializationFailed marks a unit whose initialization did not
	// converge. Recorded per unit; the run continues.
	CodeInitializationFailed Code = "INITIALIZATION_FAILED"

	CodeSolveFailed       Code = "SOLVE_FAILED"
	CodeRecoveryExhausted Code = "RECOVERY_EXHAUSTED"
	CodeUnreachableInlet  Code = "UNREACHABLE_INLET"
	CodeUnresolvableCycle Code = "UNRESOLVABLE_CYCLE"

	// Systemic failures. These abort the run and are also returned as
	// errors from Run.
	CodeNoSystem      Code = "NO_SYSTEM"
	CodeDOFCheckError Code = "DOF_CHECK_ERROR"
	CodeSystemError   Code = "SYSTEM_ERROR"
	CodeCancelled     Code = "CANCELLED"
)

// Error describes why a run failed.
type Error struct {
	// Code identifies the failure category.
	Code Code `json:"code"`

	// State is the state the run was in when it failed.
	State State `json:"state"`

	// Message is a human-readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s: %s (state=%s)", e.Code, e.Message, e.State)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Systemic reports whether the failure aborts a run as an error rather
// than as a recorded outcome.
func (e *Error) Systemic() bool {
	switch e.Code {
	case CodeNoSystem, CodeDOFCheckError, CodeSystemError, CodeCancelled:
		return true
	}
	return false
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code Code) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

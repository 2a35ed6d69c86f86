// Package apperr defines the domain error taxonomy. Every domain error
// carries a stable code and a severity; handlers at the boundary convert
// anything else to a generic internal error so internals never leak.
package apperr

import (
	"errors"
	"fmt"
)

// Severity classifies how an error should be treated operationally.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Stable error codes.
const (
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodePageLimitExceeded = "PAGE_LIMIT_EXCEEDED"
	CodeSecurityReject    = "SECURITY_REJECT"
	CodeLLMBudgetExhausted = "LLM_BUDGET_EXHAUSTED"
	CodeLLMRateLimited    = "LLM_RATE_LIMITED"
	CodeLLMCircuitOpen    = "LLM_CIRCUIT_OPEN"
	CodeTaskAlreadyLocked = "TASK_ALREADY_LOCKED"
	CodeTaskNotFound      = "TASK_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeReworkLimit       = "REWORK_LIMIT_EXCEEDED"
	CodeProfileConflict   = "PROFILE_VERSION_CONFLICT"
	CodeProfileInvariant  = "PROFILE_INVARIANT_VIOLATED"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodePermanentData     = "PERMANENT_DATA_ERROR"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error is a domain error with a stable code.
type Error struct {
	Code     string
	Severity Severity
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a domain error with the given code and message.
// Parameters:
//   - code: stable error code.
//   - severity: operational severity.
//   - format: message format string.
//   - args: format arguments.
// Returns:
//   - *Error: constructed error.
func New(code string, severity Severity, format string, args ...interface{}) *Error {
	return &Error{Code: code, Severity: severity, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error wrapping a cause.
func Wrap(code string, severity Severity, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Severity: severity, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the stable code from an error chain.
// Returns CodeInternal for non-domain errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}

package models

import (
	"errors"
	"fmt"
)

// Error codes used in logs, persisted failure messages, and severity
// decisions in the worker loop.
const (
	// ErrCodeTransientNetwork marks failures worth a later retry pass.
	ErrCodeTransientNetwork = "TRANSIENT_NETWORK"

	// ErrCodeMalformedPayload marks an unparseable lookup or bundle body.
	// Not fatal by itself unless it blocks identity resolution.
	ErrCodeMalformedPayload = "MALFORMED_PAYLOAD"

	// ErrCodeAmbiguousIdentity marks a frequency tie between candidate
	// bundles. Always an explicit failure, never silently resolved.
	ErrCodeAmbiguousIdentity = "AMBIGUOUS_IDENTITY"

	// ErrCodeBudgetExceeded marks a batch cut short by the cumulative
	// resource budget. Remaining items return to PENDING, not FAILED.
	ErrCodeBudgetExceeded = "BUDGET_EXCEEDED"

	// ErrCodeSessionEstablishment marks a failed full acquisition.
	// Fatal to the whole batch; every item returns to PENDING.
	ErrCodeSessionEstablishment = "SESSION_ESTABLISHMENT"

	ErrCodeTimeout      = "WAIT_TIMEOUT"
	ErrCodeNavigation   = "NAVIGATION_FAILED"
	ErrCodeBrowserCrash = "BROWSER_CRASH"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// TaskError is the internal error type carrying an error code.
// It implements the error interface and supports wrapping via Unwrap.
type TaskError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// NewTaskError creates a new TaskError.
func NewTaskError(code, message string, err error) *TaskError {
	return &TaskError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the error code from err, or ErrCodeInternal if err is
// not a TaskError.
func CodeOf(err error) string {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

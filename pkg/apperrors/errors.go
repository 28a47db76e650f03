// Package apperrors defines the agent core's error taxonomy.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrClassificationParse   = errors.New("classification output could not be parsed")
	ErrLowConfidenceIntent   = errors.New("intent confidence below actionable threshold")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrPermissionEscalated   = errors.New("permission escalated for human review")
	ErrUnknownIntentTemplate = errors.New("no approved template for intent")
	ErrAmbiguousEntity       = errors.New("entity reference is ambiguous")
	ErrTransientExecution    = errors.New("transient execution failure")
	ErrIntegrityExecution    = errors.New("integrity execution failure")
	ErrPersistenceFailure    = errors.New("turn could not be durably recorded")
	ErrRateLimited           = errors.New("turn submission rate limited")
	ErrConfirmationRequired  = errors.New("mutating plan requires prior confirmation")
	ErrNothingToConfirm      = errors.New("no pending action to confirm")
)

// ValidationError marks a parameter that failed type or length checks before
// binding. It is a validation failure, never a runtime query error.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Detail)
}

// NewValidationError builds a ValidationError for the named field.
func NewValidationError(field, detail string) *ValidationError {
	return &ValidationError{Field: field, Detail: detail}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Classified wraps an execution error with an explicit retryability flag so
// the retry package never has to guess from error text.
type Classified struct {
	Kind      error // one of the sentinels above
	Retryable bool
	Cause     error
}

func (e *Classified) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Cause)
	}
	return e.Kind.Error()
}

func (e *Classified) Unwrap() error { return e.Kind }

// IsRetryable implements the retry package's RetryableError interface.
func (e *Classified) IsRetryable() bool { return e.Retryable }

// Transient wraps cause as a retryable transient execution failure.
func Transient(cause error) *Classified {
	return &Classified{Kind: ErrTransientExecution, Retryable: true, Cause: cause}
}

// Integrity wraps cause as a non-retryable integrity failure.
func Integrity(cause error) *Classified {
	return &Classified{Kind: ErrIntegrityExecution, Retryable: false, Cause: cause}
}

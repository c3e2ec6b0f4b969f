package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for the orchestration error taxonomy. Callers classify
// failures with errors.Is against these, never by string matching.
var (
	// ErrInvalidTransition marks a status edge outside the allowed table.
	// Rejected synchronously and never retried.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrConflict marks an optimistic-concurrency mismatch. Callers re-read
	// and usually treat it as a no-op because another worker already advanced
	// the item.
	ErrConflict = errors.New("conflict")
	// ErrQuotaExceeded marks an operation rejected by the quota ledger.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrStage marks a stage executor failure. The item moves to failed with
	// the stage recorded; retry is explicit, never automatic.
	ErrStage = errors.New("stage failure")
	// ErrScheduleValidation marks a malformed or too-frequent schedule
	// descriptor, rejected at job create/update time.
	ErrScheduleValidation = errors.New("schedule validation")
	ErrValidation         = errors.New("validation error")
	ErrNotFound           = errors.New("not found")
	ErrTransient          = errors.New("transient failure")
)

// ErrorDetails carries the structured fields extracted from a wrapped error
// for logging and API responses.
type ErrorDetails struct {
	Kind      string
	Component string
	Operation string
	Message   string
	Cause     error
}

type wrappedError struct {
	marker    error
	component string
	operation string
	message   string
	cause     error
}

func (e *wrappedError) Error() string {
	detail := buildDetail(e.component, e.operation, e.message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.marker.Error(), detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.marker.Error(), detail)
}

func (e *wrappedError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.marker, e.cause}
	}
	return []error{e.marker}
}

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &wrappedError{
		marker:    marker,
		component: strings.TrimSpace(component),
		operation: strings.TrimSpace(operation),
		message:   strings.TrimSpace(message),
		cause:     err,
	}
}

// Details extracts structured fields from an error produced by Wrap. Plain
// errors yield a details struct with only Message and Cause populated.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var wrapped *wrappedError
	if errors.As(err, &wrapped) {
		return ErrorDetails{
			Kind:      kindOf(wrapped.marker),
			Component: wrapped.component,
			Operation: wrapped.operation,
			Message:   wrapped.message,
			Cause:     wrapped.cause,
		}
	}
	return ErrorDetails{Kind: kindOf(err), Message: err.Error(), Cause: err}
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrStage):
		return "stage_failure"
	case errors.Is(err, ErrScheduleValidation):
		return "schedule_validation"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "transient"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component != "" {
		parts = append(parts, component)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// Package errors provides standardized error handling for the trip plan pipeline.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeSubmissionFailed ErrorCode = "SUBMISSION_FAILED"

	ErrCodeListenerError    ErrorCode = "LISTENER_ERROR"
	ErrCodeListenerTimedOut ErrorCode = "LISTENER_TIMED_OUT"

	ErrCodePollTimedOut ErrorCode = "POLL_TIMED_OUT"
	ErrCodeQueryFailed  ErrorCode = "QUERY_FAILED"

	// Parse failures are non-fatal: the normalizer degrades to heuristics or
	// placeholders and only records the code in diagnostics.
	ErrCodeParseFailed ErrorCode = "PARSE_FAILED"

	ErrCodeRecordNotFound ErrorCode = "RECORD_NOT_FOUND"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationFailedError creates a non-retryable request validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Trip request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionFailedError creates a retryable webhook submission error.
// No wait cycle is started when submission fails.
func NewSubmissionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubmissionFailed,
		Message:   "Failed to send trip request to generation webhook",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubmissionStatusError creates a retryable error for a non-2xx webhook response.
func NewSubmissionStatusError(status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubmissionFailed,
		Message:   "Generation webhook rejected the trip request",
		Details:   fmt.Sprintf("status: %s", status),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewListenerError creates a retryable realtime channel error; the caller
// falls back to polling rather than retrying the subscription itself.
func NewListenerError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeListenerError,
		Message:   "Realtime insert subscription failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewListenerTimedOutError creates an error for a subscription that never
// reached the subscribed state.
func NewListenerTimedOutError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeListenerTimedOut,
		Message:   "Realtime subscription did not become ready in time",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPollTimedOutError creates the wait-budget-exhausted error. The caller
// decides whether to force-navigate, redirect to the list view, or retry.
func NewPollTimedOutError(budget time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodePollTimedOut,
		Message:   "No generated plan appeared within the wait budget",
		Details:   fmt.Sprintf("budget: %s", budget),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryFailedError creates a retryable plan store query error.
func NewQueryFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryFailed,
		Message:   "Plan store query failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewParseFailedError records a payload that could not be interpreted as
// structured data. Diagnostic only; never propagated out of the normalizer.
func NewParseFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeParseFailed,
		Message:   "Generated plan payload could not be parsed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRecordNotFoundError creates a non-retryable missing record error.
func NewRecordNotFoundError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRecordNotFound,
		Message:   "Generated plan record not found",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// HasCode reports whether err is (or wraps) a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// IsRetryable reports whether err carries a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// Package errors provides the standardized error taxonomy for the
// permit workflow core.
package errors

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidState           ErrorCode = "INVALID_STATE"
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	ErrCodeLockTimeout            ErrorCode = "LOCK_TIMEOUT"
	ErrCodeIssuanceFailed         ErrorCode = "ISSUANCE_FAILED"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// Postgres SQLSTATE values that indicate the transaction lost a race and
// may be retried from the top.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateUniqueViolation      = "23505"
	sqlstateLockNotAvailable     = "55P03"
	sqlstateQueryCanceled        = "57014"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a non-retryable bad-input error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidStateError creates a non-retryable workflow state error. The
// caller must re-fetch the submission before acting again.
func NewInvalidStateError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidState,
		Message:   "Operation not legal in current workflow state",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConcurrentModificationError creates an error for a submission that
// another actor mutated first. Not retried automatically.
func NewConcurrentModificationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConcurrentModification,
		Message:   "Submission was modified by another actor",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLockTimeoutError creates a retryable lock acquisition error.
func NewLockTimeoutError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLockTimeout,
		Message:   "Row lock could not be acquired in time",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewIssuanceFailedError creates a fatal error for when number issuance
// retries are exhausted. The submission stays pending for a later attempt.
func NewIssuanceFailedError(attempts int, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIssuanceFailed,
		Message:   "Permit number issuance failed after retries",
		Details:   fmt.Sprintf("attempts: %d, last error: %v", attempts, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable missing-resource error.
func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps an unexpected error.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected internal error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// FromDBError classifies a database error into the taxonomy. Serialization
// failures and deadlocks become retryable serialization conflicts, lock
// waits become LOCK_TIMEOUT, sql.ErrNoRows stays with the caller.
func FromDBError(err error) *StandardError {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case sqlstateSerializationFailure, sqlstateDeadlockDetected, sqlstateUniqueViolation:
			return &StandardError{
				Code:      ErrCodeConcurrentModification,
				Message:   "Transaction lost a serialization race",
				Details:   pqErr.Message,
				Retryable: true,
				Timestamp: time.Now().UTC(),
			}
		case sqlstateLockNotAvailable, sqlstateQueryCanceled:
			return NewLockTimeoutError(pqErr.Message)
		}
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewLockTimeoutError(err.Error())
	}
	return NewInternalError(err)
}

// Code extracts the ErrorCode from an error chain, or ErrCodeInternal.
func Code(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the error may be retried by the caller.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return Code(err) == code
}

// IsNoRows reports whether err is the database empty-result sentinel.
func IsNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}

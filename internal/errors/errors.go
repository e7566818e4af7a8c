package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Custom error types for the record fusion worker
 *
 * Lifecycle precondition failures (not found, ineligible, illegal transition)
 * are distinguishable from storage failures so the API can report them as
 * outcomes instead of server errors.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Lifecycle outcomes
	ErrorNotFound          ErrorCode = "NOT_FOUND"
	ErrorIneligible        ErrorCode = "INELIGIBLE"
	ErrorIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"

	// Input errors
	ErrorInvalidInput          ErrorCode = "INVALID_INPUT"
	ErrorUnsupportedRecordType ErrorCode = "UNSUPPORTED_RECORD_TYPE"

	// Infrastructure errors
	ErrorStorageFailed  ErrorCode = "STORAGE_FAILED"
	ErrorTenantNotFound ErrorCode = "TENANT_NOT_FOUND"
)

// Sentinels usable with Is
var (
	ErrNotFound          = stderrors.New("not found")
	ErrIneligible        = stderrors.New("ineligible")
	ErrIllegalTransition = stderrors.New("illegal workflow transition")
	ErrInvalidInput      = stderrors.New("invalid input")
	ErrUnsupported       = stderrors.New("unsupported record type")
	ErrStorage           = stderrors.New("storage failure")
	ErrTenantNotFound    = stderrors.New("tenant not found")
)

var sentinelByCode = map[ErrorCode]error{
	ErrorNotFound:              ErrNotFound,
	ErrorIneligible:            ErrIneligible,
	ErrorIllegalTransition:     ErrIllegalTransition,
	ErrorInvalidInput:          ErrInvalidInput,
	ErrorUnsupportedRecordType: ErrUnsupported,
	ErrorStorageFailed:         ErrStorage,
	ErrorTenantNotFound:        ErrTenantNotFound,
}

// ProcessingError represents a structured lifecycle or pipeline error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     int64
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel belonging to the error code
func (e *ProcessingError) Is(target error) bool {
	return sentinelByCode[e.Code] == target
}

// Factory functions for common errors

func NewNotFoundError(jobID int64, message string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNotFound,
		Message:   message,
		JobID:     jobID,
		Timestamp: time.Now(),
	}
}

func NewIneligibleError(jobID int64, entryIndex int, status string, operation string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorIneligible,
		Message:   fmt.Sprintf("entry %d is %s, %s not allowed", entryIndex, status, operation),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"entry_index": entryIndex,
			"status":      status,
			"operation":   operation,
		},
	}
}

// NewNothingEligibleError reports that entries exist but none is in a status
// that allows the operation
func NewNothingEligibleError(jobID int64, operation string, statuses map[int]string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorIneligible,
		Message:   fmt.Sprintf("no entries of job %d are eligible for %s", jobID, operation),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"operation": operation,
			"statuses":  statuses,
		},
	}
}

func NewIllegalTransitionError(from, to string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorIllegalTransition,
		Message:   fmt.Sprintf("cannot move from %s to %s", from, to),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

func NewInvalidInputError(message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidInput,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewUnsupportedRecordTypeError(recordType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedRecordType,
		Message:   fmt.Sprintf("Unsupported record_type: %s", recordType),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"record_type": recordType,
		},
	}
}

func NewStorageFailedError(jobID int64, operation string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   fmt.Sprintf("storage operation failed: %s", operation),
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewTenantNotFoundError(churchID int64, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorTenantNotFound,
		Message:   fmt.Sprintf("Church not found: %d", churchID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"church_id": churchID,
		},
		Cause: cause,
	}
}

// CodeOf returns the code of the first ProcessingError in the chain, or "" when none
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// ToMap converts error to map for API responses
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"error":      e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// Package errors provides the structured error type shared by the reconciliation packages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failure so callers can decide whether to absorb or surface it.
type ErrorCode string

const (
	// ErrCodeConnectivity means the remote service could not be reached.
	ErrCodeConnectivity ErrorCode = "CONNECTIVITY"
	// ErrCodeRemoteOperation means the remote service answered with a non-success status.
	ErrCodeRemoteOperation ErrorCode = "REMOTE_OPERATION"
	// ErrCodeLocalPersistence means a local mirror or queue write/read failed.
	ErrCodeLocalPersistence ErrorCode = "LOCAL_PERSISTENCE"
	// ErrCodeReplay marks a cached command that failed while being replayed.
	ErrCodeReplay ErrorCode = "REPLAY"
	// ErrCodeValidation marks arguments that do not fit the requested operation.
	ErrCodeValidation ErrorCode = "VALIDATION"
)

// Operation represents the step during which an error occurred
type Operation string

const (
	OpProbe       Operation = "probe"
	OpExecute     Operation = "execute"
	OpEnqueue     Operation = "enqueue"
	OpDrain       Operation = "drain"
	OpReplay      Operation = "replay"
	OpMirrorWrite Operation = "mirror_write"
	OpMirrorRead  Operation = "mirror_read"
	OpDeadLetter  Operation = "dead_letter"
	OpClose       Operation = "close"
)

// SyncError represents an error raised anywhere between the console and the remote service
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "mirror", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// WithMetadata attaches a key/value pair and returns the same error for chaining.
func (e *SyncError) WithMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewConnectivityError creates an error for an unreachable remote service
func NewConnectivityError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeConnectivity,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewRemoteOperationError creates an error for a non-success response from the remote service
func NewRemoteOperationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeRemoteOperation,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: false,
	}
}

// NewLocalPersistenceError creates a mirror or queue storage error
func NewLocalPersistenceError(op Operation, component string, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeLocalPersistence,
		Op:        op,
		Component: component,
		Err:       cause,
		Retryable: true,
	}
}

// NewReplayError creates an error for a cached command that failed during replay
func NewReplayError(cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeReplay,
		Op:        OpReplay,
		Component: "reconcile",
		Err:       cause,
		Retryable: IsRetryable(cause),
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidation,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// HasCode reports whether any SyncError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return false
		}
		if syncErr.Code == code {
			return true
		}
		err = syncErr.Err
	}
	return false
}

// IsConnectivity reports whether err means the remote service is unreachable.
func IsConnectivity(err error) bool {
	return HasCode(err, ErrCodeConnectivity)
}

// CodeOf returns the outermost error code in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return ""
		}
		if syncErr.Code != "" {
			return syncErr.Code
		}
		err = syncErr.Err
	}
	return ""
}

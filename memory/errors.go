package memory

import (
	"errors"
	"fmt"
)

// Error represents a failure inside the memory pipeline. Errors never
// propagate beyond the pipeline; they are logged and the conversation
// continues on the last successfully applied prompt.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	StatusCode int   // HTTP status for service errors, 0 otherwise
	Cause      error // Underlying transport or decode error
}

// ErrorType categorizes a pipeline failure.
type ErrorType string

const (
	// ErrorTypeTransport is a network/connectivity failure talking to the
	// memory service. Always recoverable, never fatal to the session.
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeService is a non-success response from the memory service.
	ErrorTypeService ErrorType = "service"
	// ErrorTypeTimeout means a tracker exhausted its poll budget without
	// reaching a completed state.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeComposition is malformed category data that could not be
	// normalized. Handled by skipping the entry, never by aborting a refresh.
	ErrorTypeComposition ErrorType = "composition"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsTransportError checks if an error is a transport error.
func IsTransportError(err error) bool {
	var memErr *Error
	if errors.As(err, &memErr) {
		return memErr.Type == ErrorTypeTransport
	}
	return false
}

// IsServiceError checks if an error is a service error.
func IsServiceError(err error) bool {
	var memErr *Error
	if errors.As(err, &memErr) {
		return memErr.Type == ErrorTypeService
	}
	return false
}

// IsTimeoutError checks if an error is a timeout error.
func IsTimeoutError(err error) bool {
	var memErr *Error
	if errors.As(err, &memErr) {
		return memErr.Type == ErrorTypeTimeout
	}
	return false
}

// IsCompositionError checks if an error is a composition error.
func IsCompositionError(err error) bool {
	var memErr *Error
	if errors.As(err, &memErr) {
		return memErr.Type == ErrorTypeComposition
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var memErr *Error
	if errors.As(err, &memErr) {
		return memErr.Retryable
	}
	return false
}

// NewTransportError creates a transport error wrapping a network failure.
func NewTransportError(message string, cause error) *Error {
	return &Error{
		Type:      ErrorTypeTransport,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewServiceError creates a service error for a non-success response.
// 429 and 5xx responses are retryable, other statuses are not.
func NewServiceError(message string, statusCode int, cause error) *Error {
	return &Error{
		Type:       ErrorTypeService,
		Message:    message,
		Retryable:  statusCode == 429 || statusCode >= 500,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// NewTimeoutError creates a timeout error for an exhausted poll budget.
func NewTimeoutError(taskID string, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeTimeout,
		Message: fmt.Sprintf("task %s abandoned after %d poll attempts", taskID, attempts),
	}
}

// NewCompositionError creates a composition error for category data that
// could not be normalized.
func NewCompositionError(message string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeComposition,
		Message: message,
		Cause:   cause,
	}
}

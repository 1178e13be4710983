// Package domain provides the shared payload types and canonical error
// taxonomy for the pipeline stages.
package domain

import (
	"fmt"
	"net/http"
)

// ErrorType classifies a stage failure.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates malformed or missing caller input.
	// No store or network access is attempted for these.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a definitive absence of a requested entity.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeConflict indicates a unique-key violation on direct creation.
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeStoreConnectivity indicates the backing store could not be
	// reached after exhausting the connect retry budget.
	ErrorTypeStoreConnectivity ErrorType = "store_connectivity"

	// ErrorTypeStoreOperation indicates a query or insert failed after a
	// connection was established. Never retried.
	ErrorTypeStoreOperation ErrorType = "store_operation"

	// ErrorTypeNetwork indicates the downstream stage was unreachable or
	// timed out. Never retried.
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProcessing indicates an unexpected internal fault.
	ErrorTypeProcessing ErrorType = "processing"

	// ErrorTypeInvalidAudit indicates the terminal stage rejected an
	// incomplete payload before any persistence.
	ErrorTypeInvalidAudit ErrorType = "invalid_audit"
)

// StageError is the canonical error returned by stage handlers. It carries
// enough context for a caller to tell how far a traversal progressed.
type StageError struct {
	// Type is the failure classification.
	Type ErrorType `json:"type"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// TraceID correlates the failure with the traversal, even when the id
	// was generated at the failing stage.
	TraceID string `json:"trace_id,omitempty"`

	// Chain is the partial service chain accumulated before the failure.
	Chain []string `json:"service_chain,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode maps the error type to the response status code.
func (e *StageError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeInvalidAudit:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WithTrace attaches the traversal's trace id.
func (e *StageError) WithTrace(traceID string) *StageError {
	e.TraceID = traceID
	return e
}

// WithChain attaches the partial chain accumulated so far.
func (e *StageError) WithChain(chain []string) *StageError {
	e.Chain = chain
	return e
}

// WithCause attaches the underlying error.
func (e *StageError) WithCause(err error) *StageError {
	e.Err = err
	return e
}

// NewStageError creates a classified stage error.
func NewStageError(errType ErrorType, message string) *StageError {
	return &StageError{Type: errType, Message: message}
}

// Convenience constructors for the common classifications.

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *StageError {
	return NewStageError(ErrorTypeInvalidRequest, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *StageError {
	return NewStageError(ErrorTypeNotFound, message)
}

// ErrConflict creates a uniqueness conflict error.
func ErrConflict(message string) *StageError {
	return NewStageError(ErrorTypeConflict, message)
}

// ErrStoreConnectivity creates a store connectivity error.
func ErrStoreConnectivity(message string) *StageError {
	return NewStageError(ErrorTypeStoreConnectivity, message)
}

// ErrStoreOperation creates a store operation error.
func ErrStoreOperation(message string) *StageError {
	return NewStageError(ErrorTypeStoreOperation, message)
}

// ErrNetwork creates a downstream network error.
func ErrNetwork(message string) *StageError {
	return NewStageError(ErrorTypeNetwork, message)
}

// ErrProcessing creates an internal processing error.
func ErrProcessing(message string) *StageError {
	return NewStageError(ErrorTypeProcessing, message)
}

// ErrInvalidAudit creates an audit validation error.
func ErrInvalidAudit(message string) *StageError {
	return NewStageError(ErrorTypeInvalidAudit, message)
}

package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeGraph represents in-memory graph errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeStore represents graph store (persistence) errors
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeProvider represents reasoning provider (LLM) errors
	ErrorTypeProvider ErrorType = "provider"
	// ErrorTypeValidation represents programmer-contract violations on inputs
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Graph Errors

// ErrNodeNotFound is returned when a node id is not present in the live graph
type ErrNodeNotFound struct {
	*BaseError
	NodeID int64
}

func NewNodeNotFound(nodeID int64) *ErrNodeNotFound {
	return &ErrNodeNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("node not found: %d", nodeID), nil),
		NodeID:    nodeID,
	}
}

// ErrEdgeNotFound is returned when an edge id is not present in the live graph
type ErrEdgeNotFound struct {
	*BaseError
	EdgeID int64
}

func NewEdgeNotFound(edgeID int64) *ErrEdgeNotFound {
	return &ErrEdgeNotFound{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("edge not found: %d", edgeID), nil),
		EdgeID:    edgeID,
	}
}

// Store Errors

// ErrStoreConnectionFailed is returned when the graph store cannot be reached
type ErrStoreConnectionFailed struct {
	*BaseError
	URI string
}

func NewStoreConnectionFailed(uri string, err error) *ErrStoreConnectionFailed {
	return &ErrStoreConnectionFailed{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("failed to connect to graph store: %s", uri), err),
		URI:       uri,
	}
}

// ErrStoreWriteFailed is returned when a single node/edge write is rejected
type ErrStoreWriteFailed struct {
	*BaseError
	Operation string
}

func NewStoreWriteFailed(operation string, err error) *ErrStoreWriteFailed {
	return &ErrStoreWriteFailed{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("store write failed: %s", operation), err),
		Operation: operation,
	}
}

// ErrStoreQueryFailed is returned when a read query fails
type ErrStoreQueryFailed struct {
	*BaseError
	Query string
}

func NewStoreQueryFailed(query string, err error) *ErrStoreQueryFailed {
	return &ErrStoreQueryFailed{
		BaseError: NewBaseError(ErrorTypeStore, fmt.Sprintf("query failed: %s", query), err),
		Query:     query,
	}
}

// Provider Errors

// ErrProviderCallFailed is returned when the reasoning provider request fails
type ErrProviderCallFailed struct {
	*BaseError
	Operation string
	Attempts  int
	Retryable bool
}

func NewProviderCallFailed(operation string, attempts int, retryable bool, err error) *ErrProviderCallFailed {
	return &ErrProviderCallFailed{
		BaseError: NewBaseError(ErrorTypeProvider, fmt.Sprintf("%s failed after %d attempts", operation, attempts), err),
		Operation: operation,
		Attempts:  attempts,
		Retryable: retryable,
	}
}

// ErrProviderResponseInvalid is returned when the provider answers with a
// non-JSON or wrongly shaped payload
type ErrProviderResponseInvalid struct {
	*BaseError
	Operation string
	Body      string
}

func NewProviderResponseInvalid(operation, body string, err error) *ErrProviderResponseInvalid {
	return &ErrProviderResponseInvalid{
		BaseError: NewBaseError(ErrorTypeProvider, fmt.Sprintf("invalid response from %s", operation), err),
		Operation: operation,
		Body:      body,
	}
}

// ErrProviderNoResponse is returned when the provider returns no choices
var ErrProviderNoResponse = NewBaseError(ErrorTypeProvider, "no response from reasoning provider", nil)

// Validation Errors

// ErrInvalidInput is returned for programmer-contract violations such as nil
// node lists handed to a utility
type ErrInvalidInput struct {
	*BaseError
	Field  string
	Reason string
}

func NewInvalidInput(field, reason string) *ErrInvalidInput {
	return &ErrInvalidInput{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Context Errors

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Helper functions

// IsErrorType checks if an error, or anything it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if typed, ok := err.(interface{ errorType() ErrorType }); ok && typed.errorType() == errType {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

func (e *BaseError) errorType() ErrorType { return e.Type }

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if IsErrorType(err, ErrorTypeContext) || IsErrorType(err, ErrorTypeValidation) {
		return false
	}
	var callErr *ErrProviderCallFailed
	if stderrors.As(err, &callErr) {
		return callErr.Retryable
	}
	// Malformed provider payloads will not fix themselves on retry
	var respErr *ErrProviderResponseInvalid
	if stderrors.As(err, &respErr) {
		return false
	}
	return IsErrorType(err, ErrorTypeStore)
}

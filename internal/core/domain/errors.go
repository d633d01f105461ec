package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of an exchange failure.
type ErrorType string

const (
	// ErrorTypeUnauthorized indicates a missing or unknown auth token.
	ErrorTypeUnauthorized ErrorType = "unauthorized"

	// ErrorTypeInvalidRequest indicates a malformed body or parameter.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeSchemaViolation indicates the caller's payload fails the schema.
	ErrorTypeSchemaViolation ErrorType = "schema_violation"

	// ErrorTypeNormalizationFailed indicates canonicalization failed or
	// produced a payload that fails the schema.
	ErrorTypeNormalizationFailed ErrorType = "normalization_failed"

	// ErrorTypeUnknownPeer indicates the target is not a configured outbound peer.
	ErrorTypeUnknownPeer ErrorType = "unknown_peer"

	// ErrorTypeTransportFailure indicates the peer could not be reached.
	ErrorTypeTransportFailure ErrorType = "transport_failure"

	// ErrorTypeUpstream indicates the peer answered with a non-2xx status.
	ErrorTypeUpstream ErrorType = "upstream_error"

	// ErrorTypeAuditWrite indicates the audit record could not be persisted.
	// It is logged and never returned to callers.
	ErrorTypeAuditWrite ErrorType = "audit_write_failure"
)

// APIError is a caller-visible failure of an exchange.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Detail carries the underlying diagnostic, e.g. the schema violation
	Detail string `json:"error,omitempty"`

	// StatusCode overrides the default status for the type
	StatusCode int `json:"-"`

	cause error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *APIError) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeInvalidRequest, ErrorTypeUnknownPeer:
		return http.StatusBadRequest
	case ErrorTypeSchemaViolation, ErrorTypeNormalizationFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{
		Type:    errType,
		Message: message,
	}
}

// WithCause records the underlying error as both Detail and Unwrap target.
func (e *APIError) WithCause(err error) *APIError {
	if err != nil {
		e.cause = err
		e.Detail = err.Error()
	}
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrUnauthorized creates an authentication error.
func ErrUnauthorized(message string) *APIError {
	return NewAPIError(ErrorTypeUnauthorized, message)
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message)
}

// ErrSchemaViolation creates a schema violation error.
func ErrSchemaViolation(message string) *APIError {
	return NewAPIError(ErrorTypeSchemaViolation, message)
}

// ErrNormalizationFailed creates a normalization error.
func ErrNormalizationFailed(message string) *APIError {
	return NewAPIError(ErrorTypeNormalizationFailed, message)
}

// ErrUnknownPeer creates an unknown peer error naming the peer.
func ErrUnknownPeer(peerID string) *APIError {
	return NewAPIError(ErrorTypeUnknownPeer, fmt.Sprintf("unknown peer: %s", peerID))
}

// ErrTransportFailure creates an error for a peer that could not be reached.
func ErrTransportFailure(message string) *APIError {
	return NewAPIError(ErrorTypeTransportFailure, message)
}

// AsAPIError converts any error to an APIError, wrapping unknown errors as
// transport failures.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrTransportFailure(err.Error()).WithCause(err)
}

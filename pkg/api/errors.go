package api

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError    ErrorType = "server_error"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeNotFound       ErrorType = "not_found"
)

// Branch failure taxonomy. Each of these settles a single branch as failed
// and never affects sibling branches.
const (
	ErrorTypeMissingCredential ErrorType = "missing_credential"
	ErrorTypeTransport         ErrorType = "transport_error"
	ErrorTypeProtocol          ErrorType = "protocol_error"
	ErrorTypeBackendRejected   ErrorType = "backend_rejected"
)

// ReasonNoCredential is the failure reason reported when no secret is
// stored for a target's provider.
const ReasonNoCredential = "no credential"

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewMissingCredentialError creates an APIError for a provider without a stored secret.
func NewMissingCredentialError() *APIError {
	return &APIError{
		Type:    ErrorTypeMissingCredential,
		Message: ReasonNoCredential,
	}
}

// NewTransportError creates an APIError for network or connection failures.
func NewTransportError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTransport,
		Message: message,
	}
}

// NewProtocolError creates an APIError for malformed or unexpected backend data.
func NewProtocolError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeProtocol,
		Message: message,
	}
}

// NewBackendRejectedError creates an APIError for an explicit backend error
// status. The HTTP status code, when known, is kept in Code.
func NewBackendRejectedError(status int, message string) *APIError {
	e := &APIError{
		Type:    ErrorTypeBackendRejected,
		Message: message,
	}
	if status > 0 {
		e.Code = fmt.Sprintf("%d", status)
	}
	return e
}

// IsBranchFailure reports whether t belongs to the branch failure taxonomy.
func IsBranchFailure(t ErrorType) bool {
	switch t {
	case ErrorTypeMissingCredential, ErrorTypeTransport, ErrorTypeProtocol, ErrorTypeBackendRejected:
		return true
	}
	return false
}

// Classify maps any error produced while running a branch onto the branch
// failure taxonomy and a human-readable reason. Errors outside the taxonomy
// are reported as transport errors.
func Classify(err error) (ErrorType, string) {
	if err == nil {
		return "", ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if IsBranchFailure(apiErr.Type) {
			return apiErr.Type, apiErr.Message
		}
		return ErrorTypeTransport, apiErr.Message
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeTransport, "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTransport, "timeout"
	}
	return ErrorTypeTransport, err.Error()
}

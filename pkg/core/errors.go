package core

import (
	"errors"
	"fmt"
)

// Error is the structured error carried across the gateway. Protocol frames,
// tool results, and HTTP envelopes all serialize this shape.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	Code      string    `json:"code,omitempty"`
	RequestID string    `json:"request_id,omitempty"`

	wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// Session and protocol errors.
	ErrSessionNotReady ErrorType = "session_not_ready"
	ErrEmptyBuffer     ErrorType = "empty_buffer"
	ErrTransportClosed ErrorType = "transport_closed"

	// Engine and dispatcher errors.
	ErrApplicationNotFound ErrorType = "application_not_found"
	ErrUnknownTool         ErrorType = "unknown_tool"
	ErrValidation          ErrorType = "validation_error"

	// Pipeline errors.
	ErrUpstreamUnavailable ErrorType = "upstream_unavailable"

	// HTTP surface errors.
	ErrAuthentication ErrorType = "authentication_error"
	ErrAPI            ErrorType = "api_error"
)

// NewSessionNotReadyError reports a frame arriving in a state that cannot
// accept it.
func NewSessionNotReadyError(message string) *Error {
	return &Error{Type: ErrSessionNotReady, Message: message}
}

// NewEmptyBufferError reports a commit with no buffered audio.
func NewEmptyBufferError(message string) *Error {
	return &Error{Type: ErrEmptyBuffer, Message: message}
}

// NewTransportClosedError reports a write attempted after the socket closed.
func NewTransportClosedError(message string) *Error {
	return &Error{Type: ErrTransportClosed, Message: message}
}

// NewApplicationNotFoundError reports a reference that resolved to nothing.
func NewApplicationNotFoundError(ref string) *Error {
	return &Error{
		Type:    ErrApplicationNotFound,
		Message: fmt.Sprintf("no application matches %q", ref),
	}
}

// NewUnknownToolError reports a dispatch to an unregistered tool name.
func NewUnknownToolError(name string) *Error {
	return &Error{
		Type:    ErrUnknownTool,
		Message: fmt.Sprintf("unknown tool %q", name),
	}
}

// NewValidationError creates a validation error for a named parameter.
func NewValidationError(message, param string) *Error {
	return &Error{Type: ErrValidation, Message: message, Param: param}
}

// NewUpstreamError wraps a failure from a pipeline provider.
func NewUpstreamError(provider string, underlying error) *Error {
	return &Error{
		Type:    ErrUpstreamUnavailable,
		Message: fmt.Sprintf("%s: %v", provider, underlying),
		wrapped: underlying,
	}
}

// NewAuthenticationError creates an authentication error.
func NewAuthenticationError(message string) *Error {
	return &Error{Type: ErrAuthentication, Message: message}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// IsRetryable returns true if retrying the operation may succeed.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrUpstreamUnavailable
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// AsError extracts a *Error from err, converting plain errors into api_error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Type: ErrAPI, Message: err.Error(), wrapped: err}
}

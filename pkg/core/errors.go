// Package core holds the error vocabulary shared by the gateway, the
// Responses client and the session layer.
package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error returned across package boundaries and
// rendered by the gateway as {"error": {...}}.
type Error struct {
	Type          ErrorType `json:"type"`
	Message       string    `json:"message"`
	Param         string    `json:"param,omitempty"`
	Code          string    `json:"code,omitempty"`
	RequestID     string    `json:"request_id,omitempty"`
	ProviderError any       `json:"provider_error,omitempty"`
	RetryAfter    *int      `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrProvider       ErrorType = "provider_error"
	// ErrCredential marks failures minting or reading an ephemeral realtime key.
	ErrCredential ErrorType = "credential_error"
	// ErrTransport marks realtime channel failures.
	ErrTransport ErrorType = "transport_error"
)

func newError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

func NewInvalidRequestError(message string) *Error { return newError(ErrInvalidRequest, message) }

// NewInvalidRequestErrorWithParam names the offending request field.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	e := newError(ErrInvalidRequest, message)
	e.Param = param
	return e
}

func NewAuthenticationError(message string) *Error { return newError(ErrAuthentication, message) }
func NewPermissionError(message string) *Error     { return newError(ErrPermission, message) }
func NewNotFoundError(message string) *Error       { return newError(ErrNotFound, message) }
func NewAPIError(message string) *Error            { return newError(ErrAPI, message) }
func NewOverloadedError(message string) *Error     { return newError(ErrOverloaded, message) }

// NewRateLimitError carries the retry hint in seconds.
func NewRateLimitError(message string, retryAfter int) *Error {
	e := newError(ErrRateLimit, message)
	e.RetryAfter = &retryAfter
	return e
}

// NewCredentialError wraps a failure to obtain an ephemeral session key.
// code is a stable identifier such as "no_ephemeral_key".
func NewCredentialError(code, message string) *Error {
	e := newError(ErrCredential, message)
	e.Code = code
	return e
}

// NewTransportError wraps a realtime channel failure.
func NewTransportError(underlying error) *Error {
	return &Error{
		Type:          ErrTransport,
		Message:       underlying.Error(),
		ProviderError: underlying,
	}
}

// NewProviderError wraps an upstream failure from the named backend.
func NewProviderError(provider string, underlying error) *Error {
	return &Error{
		Type:          ErrProvider,
		Message:       fmt.Sprintf("%s: %v", provider, underlying),
		ProviderError: underlying,
	}
}

// IsRetryable reports whether a later attempt may succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrOverloaded, ErrAPI, ErrTransport:
		return true
	default:
		return false
	}
}

func (e *Error) Unwrap() error {
	if ue, ok := e.ProviderError.(error); ok {
		return ue
	}
	return nil
}

// TypeOf returns the ErrorType of the first *Error in err's chain, or "".
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		return ce.Type
	}
	return ""
}

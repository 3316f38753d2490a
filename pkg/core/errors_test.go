package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{Type: ErrInvalidRequest, Message: "model is required"}
	if got, want := err.Error(), "invalid_request_error: model is required"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	err.Code = "missing_model"
	if got, want := err.Error(), "invalid_request_error: model is required (code: missing_model)"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("slow down", 3)
	if err.Type != ErrRateLimit {
		t.Fatalf("Type = %v", err.Type)
	}
	if err.RetryAfter == nil || *err.RetryAfter != 3 {
		t.Fatalf("RetryAfter = %v, want 3", err.RetryAfter)
	}
}

func TestNewCredentialError(t *testing.T) {
	err := NewCredentialError("no_ephemeral_key", "no ephemeral key provided by the server")
	if err.Type != ErrCredential || err.Code != "no_ephemeral_key" {
		t.Fatalf("err = %+v", err)
	}
	if err.IsRetryable() {
		t.Fatal("credential errors should not be retryable")
	}
}

func TestNewTransportError_Unwraps(t *testing.T) {
	base := errors.New("connection reset")
	err := NewTransportError(base)
	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to reach the underlying error")
	}
	if !err.IsRetryable() {
		t.Fatal("transport errors should be retryable")
	}
}

func TestTypeOf(t *testing.T) {
	wrapped := fmt.Errorf("connect: %w", NewCredentialError("http_error", "status 500"))
	if got := TypeOf(wrapped); got != ErrCredential {
		t.Fatalf("TypeOf = %q", got)
	}
	if got := TypeOf(errors.New("plain")); got != "" {
		t.Fatalf("TypeOf(plain) = %q", got)
	}
}

func TestError_IsRetryable(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrRateLimit, true},
		{ErrOverloaded, true},
		{ErrAPI, true},
		{ErrInvalidRequest, false},
		{ErrAuthentication, false},
		{ErrProvider, false},
	}
	for _, tt := range tests {
		err := &Error{Type: tt.errType}
		if got := err.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.errType, got, tt.want)
		}
	}
}

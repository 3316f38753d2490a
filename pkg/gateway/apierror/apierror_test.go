package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
	"github.com/vango-go/vai-voice-agents/pkg/core"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrAPI {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_DeadlineIs504(t *testing.T) {
	_, status := FromError(fmt.Errorf("upstream: %w", context.DeadlineExceeded), "req_test")
	if status != http.StatusGatewayTimeout {
		t.Fatalf("status=%d", status)
	}
}

func TestFromError_Overloaded_Is529(t *testing.T) {
	ce, status := FromError(&core.Error{Type: core.ErrOverloaded, Message: "overloaded"}, "req_test")
	if status != 529 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrOverloaded {
		t.Fatalf("type=%q", ce.Type)
	}
}

func TestFromError_ResponsesErrorKeepsStatus(t *testing.T) {
	retry := 3
	err := &responses.Error{Type: core.ErrRateLimit, Message: "slow down", StatusCode: 429, RetryAfter: &retry}
	ce, status := FromError(fmt.Errorf("wrapped: %w", err), "req_1")
	if status != 429 {
		t.Fatalf("status=%d", status)
	}
	if ce.Message != "slow down" || ce.RetryAfter == nil || *ce.RetryAfter != 3 {
		t.Fatalf("ce=%+v", ce)
	}
}

func TestFromError_UnknownDoesNotLeak(t *testing.T) {
	ce, status := FromError(errors.New("secret dsn"), "req_1")
	if status != 500 || ce.Message != "internal error" {
		t.Fatalf("status=%d ce=%+v", status, ce)
	}
}

func TestWriteMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteMessage(rec, 500, "OPENAI_API_KEY is not set", "")
	if rec.Code != 500 {
		t.Fatalf("code=%d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["error"] != "OPENAI_API_KEY is not set" {
		t.Fatalf("body=%s", rec.Body.String())
	}
	if _, ok := got["details"]; ok {
		t.Fatalf("details should be omitted: %s", rec.Body.String())
	}
}

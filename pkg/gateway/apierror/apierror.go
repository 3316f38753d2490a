package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
	"github.com/vango-go/vai-voice-agents/pkg/core"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// Message is the flat {"error": "...", "details": "..."} body served by the
// /api routes. responses.Client parses both shapes.
type Message struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Backend errors keep the upstream status when they carry one.
	var respErr *responses.Error
	if errors.As(err, &respErr) && respErr != nil {
		status := respErr.StatusCode
		if status == 0 {
			status = statusFromType(respErr.Type)
		}
		return &core.Error{
			Type:          respErr.Type,
			Message:       respErr.Message,
			Code:          respErr.Code,
			Param:         respErr.Param,
			RequestID:     requestID,
			ProviderError: respErr.ProviderError,
			RetryAfter:    respErr.RetryAfter,
		}, status
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return 529
	case core.ErrProvider, core.ErrAPI, core.ErrTransport:
		return http.StatusBadGateway
	case core.ErrCredential:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Write renders err as an Envelope.
func Write(w http.ResponseWriter, err error, requestID string) {
	ce, status := FromError(err, requestID)
	WriteJSON(w, status, Envelope{Error: ce})
}

func WriteMessage(w http.ResponseWriter, status int, msg, details string) {
	WriteJSON(w, status, Message{Error: msg, Details: details})
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

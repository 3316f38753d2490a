package responses

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vango-go/vai-voice-agents/pkg/core"
)

// ErrEmptyResponse is returned when the backend answers 2xx with no body.
var ErrEmptyResponse = errors.New("responses: empty response body")

// Error is a non-2xx answer or a response-level error from the backend.
type Error struct {
	Type          core.ErrorType `json:"type"`
	Message       string         `json:"message"`
	Code          string         `json:"code,omitempty"`
	Param         string         `json:"param,omitempty"`
	StatusCode    int            `json:"-"`
	ProviderError any            `json:"provider_error,omitempty"`
	RetryAfter    *int           `json:"retry_after,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("responses: %s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("responses: %s: %s", e.Type, e.Message)
}

func (e *Error) IsRetryable() bool {
	switch e.Type {
	case core.ErrRateLimit, core.ErrOverloaded, core.ErrAPI:
		return true
	default:
		return false
	}
}

// parseError decodes either the upstream {"error": {...}} envelope or the
// gateway's {"error": "..."} shorthand.
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	out := &Error{StatusCode: resp.StatusCode}
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		out.Type = core.ErrProvider
		out.Message = strings.TrimSpace(string(body))
		if out.Message == "" {
			out.Message = http.StatusText(resp.StatusCode)
		}
	} else {
		var obj struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Param   string `json:"param,omitempty"`
			Code    string `json:"code,omitempty"`
		}
		var s string
		switch {
		case json.Unmarshal(env.Error, &obj) == nil:
			out.Type = mapErrorType(obj.Type)
			out.Message = obj.Message
			out.Code = obj.Code
			out.Param = obj.Param
			out.ProviderError = obj
		case json.Unmarshal(env.Error, &s) == nil:
			out.Type = core.ErrProvider
			out.Message = s
		}
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		out.Type = core.ErrRateLimit
		if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			out.RetryAfter = &ra
		}
	case http.StatusServiceUnavailable:
		out.Type = core.ErrOverloaded
	}
	if out.Type == "" {
		out.Type = typeFromStatus(resp.StatusCode)
	}
	return out
}

func mapErrorType(t string) core.ErrorType {
	switch t {
	case "invalid_request_error":
		return core.ErrInvalidRequest
	case "authentication_error":
		return core.ErrAuthentication
	case "permission_error", "insufficient_quota":
		return core.ErrPermission
	case "not_found_error":
		return core.ErrNotFound
	case "rate_limit_error":
		return core.ErrRateLimit
	case "server_error", "api_error":
		return core.ErrAPI
	case "overloaded_error", "service_unavailable":
		return core.ErrOverloaded
	case "":
		return ""
	default:
		return core.ErrProvider
	}
}

func typeFromStatus(status int) core.ErrorType {
	switch {
	case status == http.StatusUnauthorized:
		return core.ErrAuthentication
	case status == http.StatusForbidden:
		return core.ErrPermission
	case status == http.StatusNotFound:
		return core.ErrNotFound
	case status >= 500:
		return core.ErrAPI
	case status >= 400:
		return core.ErrInvalidRequest
	default:
		return core.ErrProvider
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/config"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/mw"
)

const RouteResponses = "/api/responses"

// ResponsesHandler forwards a non-streaming Responses API request. For
// json_schema requests it adds output_parsed, decoded from the output text.
type ResponsesHandler struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

func (h ResponsesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		apierror.WriteMessage(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	if h.Config.OpenAIAPIKey == "" {
		logger.Error("responses call without upstream key", "request_id", reqID)
		apierror.WriteMessage(w, http.StatusInternalServerError, "OPENAI_API_KEY is not set", "")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierror.WriteMessage(w, http.StatusRequestEntityTooLarge, "request body too large", "")
			return
		}
		apierror.WriteMessage(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	body, structured, err := validateResponsesRequest(raw)
	if err != nil {
		apierror.WriteMessage(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	up := upstream{cfg: h.Config, client: h.HTTPClient, logger: logger, metrics: h.Metrics, route: RouteResponses}
	res, err := up.post(r.Context(), "/responses", body)
	if err != nil {
		logger.Warn("responses request failed", "request_id", reqID, "error", err)
		writeTransportError(w, err, reqID)
		return
	}
	if res.status < 200 || res.status > 299 || !structured {
		passThrough(w, res)
		return
	}

	out, err := withOutputParsed(res.body)
	if err != nil {
		logger.Warn("structured output did not decode", "request_id", reqID, "error", err)
		passThrough(w, res)
		return
	}
	res.body = out
	res.contentType = "application/json; charset=utf-8"
	passThrough(w, res)
}

// validateResponsesRequest requires model and input and forces stream off.
// It reports whether the request asks for json_schema output.
func validateResponsesRequest(raw []byte) ([]byte, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false, errors.New("body must be a JSON object")
	}
	var model string
	if err := json.Unmarshal(fields["model"], &model); err != nil || strings.TrimSpace(model) == "" {
		return nil, false, errors.New("model is required")
	}
	input := strings.TrimSpace(string(fields["input"]))
	if input == "" || input == "null" || input == "[]" || input == `""` {
		return nil, false, errors.New("input is required")
	}
	fields["stream"] = json.RawMessage("false")

	var text struct {
		Format struct {
			Type string `json:"type"`
		} `json:"format"`
	}
	structured := false
	if t, ok := fields["text"]; ok {
		if err := json.Unmarshal(t, &text); err != nil {
			return nil, false, errors.New("text must be an object")
		}
		structured = text.Format.Type == "json_schema"
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false, err
	}
	return out, structured, nil
}

// withOutputParsed re-encodes the upstream body with output_parsed set to the
// JSON value of its output text.
func withOutputParsed(body []byte) ([]byte, error) {
	var resp responses.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" || !json.Valid([]byte(text)) {
		return nil, errors.New("output text is not JSON")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["output_parsed"] = json.RawMessage(text)
	return json.Marshal(fields)
}

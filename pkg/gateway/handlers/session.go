package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-voice-agents/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/config"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/metrics"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/mw"
)

const RouteSession = "/api/session"

// SessionHandler mints an ephemeral realtime key by creating a realtime
// session upstream. The upstream answer, including client_secret, is passed
// through unchanged.
type SessionHandler struct {
	Config     config.Config
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		apierror.WriteMessage(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	if h.Config.OpenAIAPIKey == "" {
		logger.Error("session token requested without upstream key", "request_id", reqID)
		apierror.WriteMessage(w, http.StatusInternalServerError, "OPENAI_API_KEY is not set", "")
		return
	}

	body, err := json.Marshal(map[string]string{"model": h.Config.RealtimeModel})
	if err != nil {
		apierror.Write(w, err, reqID)
		return
	}

	up := upstream{cfg: h.Config, client: h.HTTPClient, logger: logger, metrics: h.Metrics, route: RouteSession}
	res, err := up.post(r.Context(), "/realtime/sessions", body)
	if err != nil {
		logger.Warn("realtime session request failed", "request_id", reqID, "error", err)
		writeTransportError(w, err, reqID)
		return
	}
	if res.status >= 200 && res.status <= 299 {
		h.Metrics.RecordSessionToken()
	} else {
		logger.Warn("realtime session rejected upstream", "request_id", reqID, "status", res.status)
	}
	passThrough(w, res)
}

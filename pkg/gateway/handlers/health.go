package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-voice-agents/pkg/gateway/config"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports 503 while draining so load balancers stop routing
// before the listener closes.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                bool     `json:"ok"`
		Draining          bool     `json:"draining,omitempty"`
		DrainingSince     string   `json:"draining_since,omitempty"`
		AuthMode          string   `json:"auth_mode"`
		UpstreamKeyLoaded bool     `json:"upstream_key_loaded"`
		LimitsEnabled     bool     `json:"limits_enabled"`
		Issues            []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.OpenAIAPIKey == "" {
		issues = append(issues, "OPENAI_API_KEY is not set")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}
	if h.Config.UpstreamTimeout <= 0 {
		issues = append(issues, "upstream timeout must be > 0")
	}

	since, draining := h.Lifecycle.DrainingSince()
	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	resp := readyResp{
		OK:                ok,
		Draining:          draining,
		AuthMode:          string(h.Config.AuthMode),
		UpstreamKeyLoaded: h.Config.OpenAIAPIKey != "",
		LimitsEnabled:     h.Config.LimitsEnabled(),
		Issues:            issues,
	}
	if draining {
		resp.DrainingSince = since.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

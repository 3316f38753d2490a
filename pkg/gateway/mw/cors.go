package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-voice-agents/pkg/core"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/config"
)

// The browser client only needs GET for session tokens and POST for
// responses calls.
const (
	corsAllowedMethods = "GET, POST, OPTIONS"
	corsAllowedHeaders = "Authorization, Content-Type, X-Request-ID"
	corsExposedHeaders = "X-Request-ID"
	corsMaxAge         = "600"
)

// CORS answers preflights for allowlisted origins and tags their actual
// responses. An empty allowlist disables cross-origin access entirely.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	originAllowed := func(origin string) bool {
		if origin == "" {
			return false
		}
		_, ok := allowed[origin]
		return ok
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		preflight := r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""

		if preflight {
			if !originAllowed(origin) {
				reqID, _ := RequestIDFrom(r.Context())
				writeJSONError(w, http.StatusForbidden, &core.Error{
					Type:      core.ErrPermission,
					Message:   "cors preflight not allowed",
					RequestID: reqID,
				})
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}

package handlers

import (
	"net/http"

	"github.com/vango-go/vai-voice-agents/pkg/core"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.WriteJSON(w, http.StatusNotFound, apierror.Envelope{Error: &core.Error{
		Type:      core.ErrNotFound,
		Message:   "not found",
		RequestID: reqID,
	}})
}

package mw

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/vai-voice-agents/pkg/core"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/metrics"
)

func TestRecover_PanicReturnsCanonicalJSON(t *testing.T) {
	h := Recover(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	h = RequestID(h)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var env struct {
		Error core.Error `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != core.ErrAPI {
		t.Fatalf("type=%q", env.Error.Type)
	}
	if env.Error.RequestID == "" || env.Error.RequestID != rr.Header().Get("X-Request-ID") {
		t.Fatalf("request_id=%q header=%q", env.Error.RequestID, rr.Header().Get("X-Request-ID"))
	}
}

func TestRequestID_HonorsInbound(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req_client")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "req_client" || rr.Header().Get("X-Request-ID") != "req_client" {
		t.Fatalf("seen=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(seen, "req_") || len(seen) != len("req_")+26 {
		t.Fatalf("generated id=%q", seen)
	}
}

func TestAccessLog_LogsAndRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	m := metrics.New("test")

	h := RequestID(AccessLog(logger, m, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["msg"] != "request" || line["status"] != float64(http.StatusTeapot) || line["path"] != "/api/session" {
		t.Fatalf("line=%v", line)
	}
	if id, _ := line["request_id"].(string); id == "" {
		t.Fatalf("missing request_id: %v", line)
	}

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), `test_requests_total{method="GET",route="/api/session",status="418"} 1`) {
		t.Fatalf("metrics=%s", scrape.Body.String())
	}
}

func TestRouteLabel(t *testing.T) {
	if got := routeLabel("/api/session"); got != "/api/session" {
		t.Fatalf("got %q", got)
	}
	if got := routeLabel("/random/123"); got != "other" {
		t.Fatalf("got %q", got)
	}
}

package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-voice-agents/pkg/gateway/config"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/metrics"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		AuthMode:                      config.AuthModeOptional,
		APIKeys:                       map[string]struct{}{},
		OpenAIAPIKey:                  "sk-upstream",
		OpenAIBaseURL:                 baseURL,
		RealtimeModel:                 "gpt-4o-realtime-preview-2025-06-03",
		MaxBodyBytes:                  1 << 20,
		ReadHeaderTimeout:             time.Second,
		ReadTimeout:                   time.Second,
		HandlerTimeout:                time.Second,
		UpstreamConnectTimeout:        time.Second,
		UpstreamResponseHeaderTimeout: time.Second,
		UpstreamTimeout:               2 * time.Second,
	}
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	return out
}

func TestReadyHandler_RequiredAuthEmptyKeys_NotReady(t *testing.T) {
	cfg := testConfig("http://upstream.invalid")
	cfg.AuthMode = config.AuthModeRequired
	h := ReadyHandler{Config: cfg}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ok, _ := decode(t, rr.Body.String())["ok"].(bool); ok {
		t.Fatalf("expected ok=false")
	}
}

func TestReadyHandler_Ready(t *testing.T) {
	h := ReadyHandler{Config: testConfig("http://upstream.invalid"), Lifecycle: &lifecycle.Lifecycle{}}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	resp := decode(t, rr.Body.String())
	if resp["upstream_key_loaded"] != true {
		t.Fatalf("resp=%v", resp)
	}
}

func TestReadyHandler_DrainingIs503(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.StartDraining(time.Unix(1700000000, 0))
	h := ReadyHandler{Config: testConfig("http://upstream.invalid"), Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	body := decode(t, rr.Body.String())
	if body["draining"] != true {
		t.Fatalf("body=%s", rr.Body.String())
	}
	if body["draining_since"] != time.Unix(1700000000, 0).UTC().Format(time.RFC3339) {
		t.Fatalf("draining_since=%v", body["draining_since"])
	}
}

func TestSessionHandler_MissingKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://upstream.invalid")
	cfg.OpenAIAPIKey = ""
	rr := httptest.NewRecorder()
	SessionHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, RouteSession, nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := decode(t, rr.Body.String())["error"]; got != "OPENAI_API_KEY is not set" {
		t.Fatalf("error=%v", got)
	}
}

func TestSessionHandler_ForwardsAndCounts(t *testing.T) {
	t.Parallel()

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/realtime/sessions" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-upstream" {
			t.Errorf("Authorization=%q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"gpt-4o-realtime-preview-2025-06-03"`) {
			t.Errorf("body=%s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess_1","client_secret":{"value":"ek_123","expires_at":1700000000}}`))
	}))
	defer upstreamSrv.Close()

	m := metrics.New("test")
	h := SessionHandler{Config: testConfig(upstreamSrv.URL + "/v1"), HTTPClient: upstreamSrv.Client(), Metrics: m}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, RouteSession, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	secret, _ := decode(t, rr.Body.String())["client_secret"].(map[string]any)
	if secret["value"] != "ek_123" {
		t.Fatalf("body=%s", rr.Body.String())
	}

	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), "test_session_tokens_minted_total 1") {
		t.Fatalf("metrics=%s", scrape.Body.String())
	}
}

func TestSessionHandler_PassesUpstreamStatus(t *testing.T) {
	t.Parallel()

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer upstreamSrv.Close()

	h := SessionHandler{Config: testConfig(upstreamSrv.URL), HTTPClient: upstreamSrv.Client()}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, RouteSession, nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "bad key") {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestSessionHandler_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	SessionHandler{Config: testConfig("http://upstream.invalid")}.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, RouteSession, nil))
	if rr.Code != http.StatusMethodNotAllowed || rr.Header().Get("Allow") != http.MethodGet {
		t.Fatalf("status=%d allow=%q", rr.Code, rr.Header().Get("Allow"))
	}
}

func TestSessionHandler_UpstreamDown(t *testing.T) {
	t.Parallel()

	upstreamSrv := httptest.NewServer(http.NotFoundHandler())
	url := upstreamSrv.URL
	upstreamSrv.Close()

	rr := httptest.NewRecorder()
	SessionHandler{Config: testConfig(url)}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, RouteSession, nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestResponsesHandler_Validation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "not json", body: `nope`, want: "JSON object"},
		{name: "missing model", body: `{"input":[{"role":"user","content":"hi"}]}`, want: "model is required"},
		{name: "missing input", body: `{"model":"gpt-4.1"}`, want: "input is required"},
		{name: "empty input", body: `{"model":"gpt-4.1","input":[]}`, want: "input is required"},
		{name: "bad text", body: `{"model":"gpt-4.1","input":"hi","text":"x"}`, want: "text must be an object"},
	}
	h := ResponsesHandler{Config: testConfig("http://upstream.invalid")}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, RouteResponses, strings.NewReader(tc.body)))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), tc.want) {
				t.Fatalf("body=%s want %q", rr.Body.String(), tc.want)
			}
		})
	}
}

func TestResponsesHandler_BodyTooLarge(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://upstream.invalid")
	cfg.MaxBodyBytes = 8
	rr := httptest.NewRecorder()
	ResponsesHandler{Config: cfg}.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, RouteResponses,
		strings.NewReader(`{"model":"gpt-4.1","input":"hello"}`)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestResponsesHandler_ForwardsText(t *testing.T) {
	t.Parallel()

	var forwarded map[string]any
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("path=%s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&forwarded)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp_1","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hi there"}]}]}`))
	}))
	defer upstreamSrv.Close()

	rr := httptest.NewRecorder()
	ResponsesHandler{Config: testConfig(upstreamSrv.URL), HTTPClient: upstreamSrv.Client()}.ServeHTTP(rr,
		httptest.NewRequest(http.MethodPost, RouteResponses, strings.NewReader(`{"model":"gpt-4.1","input":[{"role":"user","content":"hi"}],"stream":true}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if forwarded["stream"] != false {
		t.Fatalf("stream should be forced off: %v", forwarded)
	}
	if _, ok := decode(t, rr.Body.String())["output_parsed"]; ok {
		t.Fatalf("text requests must not carry output_parsed: %s", rr.Body.String())
	}
}

func TestResponsesHandler_AddsOutputParsed(t *testing.T) {
	t.Parallel()

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"resp_2","output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":"{\"moderationCategory\":\"NONE\",\"moderationRationale\":\"fine\"}"}]}]}`))
	}))
	defer upstreamSrv.Close()

	body := `{"model":"gpt-4o-mini","input":[{"role":"user","content":"classify"}],"text":{"format":{"type":"json_schema","name":"output_format","schema":{"type":"object"}}}}`
	rr := httptest.NewRecorder()
	ResponsesHandler{Config: testConfig(upstreamSrv.URL), HTTPClient: upstreamSrv.Client()}.ServeHTTP(rr,
		httptest.NewRequest(http.MethodPost, RouteResponses, strings.NewReader(body)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	parsed, _ := decode(t, rr.Body.String())["output_parsed"].(map[string]any)
	if parsed["moderationCategory"] != "NONE" {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestResponsesHandler_UpstreamErrorPassesThrough(t *testing.T) {
	t.Parallel()

	m := metrics.New("test")
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer upstreamSrv.Close()

	rr := httptest.NewRecorder()
	ResponsesHandler{Config: testConfig(upstreamSrv.URL), HTTPClient: upstreamSrv.Client(), Metrics: m}.ServeHTTP(rr,
		httptest.NewRequest(http.MethodPost, RouteResponses, strings.NewReader(`{"model":"gpt-4.1","input":"hi"}`)))

	if rr.Code != http.StatusTooManyRequests || !strings.Contains(rr.Body.String(), "slow down") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	scrape := httptest.NewRecorder()
	m.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(scrape.Body.String(), `test_upstream_errors_total{kind="status",route="/api/responses"} 1`) {
		t.Fatalf("metrics=%s", scrape.Body.String())
	}
}

func TestNotFoundHandler(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	errObj, _ := decode(t, rr.Body.String())["error"].(map[string]any)
	if errObj["type"] != "not_found_error" {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

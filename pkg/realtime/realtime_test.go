package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice-agents/pkg/core"
)

type seen struct {
	headers chan [3]string
	frames  chan map[string]any
}

func newServer(t *testing.T, first string, s *seen) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.headers <- [3]string{r.Header.Get("Authorization"), r.Header.Get("OpenAI-Beta"), r.URL.Query().Get("model")}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(first))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			_ = json.Unmarshal(data, &m)
			s.frames <- m
			if m["type"] == "response.create" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.text.delta","item_id":"a1","delta":"Hi"}`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_HandshakeAndRoundTrip(t *testing.T) {
	t.Parallel()

	s := &seen{headers: make(chan [3]string, 1), frames: make(chan map[string]any, 8)}
	srv := newServer(t, `{"type":"session.created","event_id":"e0"}`, s)

	conn, err := (&WSDialer{URL: wsURL(srv)}).Dial(context.Background(), DialRequest{Token: "ek_123", Model: "m1"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if h := <-s.headers; h != [3]string{"Bearer ek_123", "realtime=v1", "m1"} {
		t.Fatalf("headers=%q", h)
	}

	ev := <-conn.Events()
	if ev.Type != EventSessionCreated {
		t.Fatalf("first=%+v", ev)
	}

	if err := conn.Send(SessionUpdate(SessionConfig{TurnDetection: nil})); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := <-s.frames
	session, _ := got["session"].(map[string]any)
	if v, ok := session["turn_detection"]; !ok || v != nil {
		t.Fatalf("turn_detection must be explicit null: %v", got)
	}

	if err := conn.Send(ResponseCreate()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-s.frames
	select {
	case ev := <-conn.Events():
		if ev.Type != EventTextDelta || ev.ItemID != "a1" || ev.Delta != "Hi" {
			t.Fatalf("ev=%+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delta")
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Send(ResponseCreate()); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err=%v", err)
	}
}

func TestDial_RejectedSession(t *testing.T) {
	t.Parallel()

	s := &seen{headers: make(chan [3]string, 1), frames: make(chan map[string]any, 1)}
	srv := newServer(t, `{"type":"error","error":{"code":"invalid_api_key","message":"bad key"}}`, s)

	_, err := (&WSDialer{URL: wsURL(srv)}).Dial(context.Background(), DialRequest{Token: "x"})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Code != "invalid_api_key" {
		t.Fatalf("err=%v", err)
	}
}

func TestDial_RequiresToken(t *testing.T) {
	t.Parallel()

	_, err := (&WSDialer{}).Dial(context.Background(), DialRequest{})
	if core.TypeOf(err) != core.ErrCredential {
		t.Fatalf("err=%v", err)
	}
}

func TestServerVAD(t *testing.T) {
	t.Parallel()

	v := ServerVAD()
	if v.Threshold != 0.7 || v.PrefixPaddingMS != 500 || v.SilenceDurationMS != 800 || !v.CreateResponse {
		t.Fatalf("vad=%+v", v)
	}
}

func TestDecodeServerEvent(t *testing.T) {
	t.Parallel()

	ev, err := DecodeServerEvent([]byte(`{"type":"conversation.item.created","item":{"id":"m1","type":"message","role":"user","content":[{"type":"input_audio","transcript":"Hello"}]}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Item.ID != "m1" || ev.Item.Text() != "Hello" || len(ev.Raw) == 0 {
		t.Fatalf("ev=%+v", ev)
	}
	if _, err := DecodeServerEvent([]byte(`{}`)); err == nil {
		t.Fatal("missing type should fail")
	}
}

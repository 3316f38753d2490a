// Package realtime is the websocket transport to the OpenAI Realtime API.
//
// A Conn delivers decoded server events on a channel from a single reader
// goroutine, so per-item delta order is preserved, and serializes writes
// behind a mutex so tool goroutines may send concurrently.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice-agents/pkg/core"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2025-06-03"

	defaultHandshakeTimeout = 15 * time.Second
	defaultPingInterval     = 20 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	eventBuffer             = 256
)

var ErrClosed = errors.New("realtime: connection is closed")

// Conn is what the session orchestrator needs from a transport.
type Conn interface {
	Send(ev ClientEvent) error
	Events() <-chan ServerEvent
	Close() error
	// Err reports why the event stream ended. It blocks until it has.
	Err() error
}

// DialRequest carries the per-connection parameters.
type DialRequest struct {
	Token string
	Model string
}

type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}

// WSDialer dials the realtime endpoint over gorilla/websocket.
type WSDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	Dialer           *websocket.Dialer
	Logger           *slog.Logger
}

func (d *WSDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	if strings.TrimSpace(req.Token) == "" {
		return nil, core.NewCredentialError("missing_token", "realtime token is required")
	}
	base := d.URL
	if base == "" {
		base = DefaultURL
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	headers := make(http.Header)
	headers.Set("Authorization", "Bearer "+req.Token)
	headers.Set("OpenAI-Beta", "realtime=v1")

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(dialCtx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, core.NewTransportError(fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err))
		}
		return nil, core.NewTransportError(err)
	}

	// The connection counts as established once session.created arrives.
	deadline, _ := dialCtx.Deadline()
	_ = ws.SetReadDeadline(deadline)
	messageType, payload, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, core.NewTransportError(fmt.Errorf("read session.created: %w", err))
	}
	_ = ws.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected first realtime frame type %d", messageType)
	}
	first, err := DecodeServerEvent(payload)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	switch first.Type {
	case EventSessionCreated:
	case EventError:
		_ = ws.Close()
		e := &core.Error{Type: core.ErrAPI, Message: "realtime session rejected"}
		if first.Error != nil {
			e.Message = first.Error.Message
			e.Code = first.Error.Code
		}
		return nil, e
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected first realtime event %q", first.Type)
	}

	c := newWSConn(ws, d.PingInterval, d.Logger)
	c.emit(first)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

type WSConn struct {
	ws     *websocket.Conn
	logger *slog.Logger
	ping   time.Duration

	events  chan ServerEvent
	done    chan struct{}
	closing chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

func newWSConn(ws *websocket.Conn, ping time.Duration, logger *slog.Logger) *WSConn {
	if logger == nil {
		logger = slog.Default()
	}
	if ping <= 0 {
		ping = defaultPingInterval
	}
	return &WSConn{
		ws:      ws,
		logger:  logger,
		ping:    ping,
		events:  make(chan ServerEvent, eventBuffer),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
}

func (c *WSConn) Events() <-chan ServerEvent { return c.events }

func (c *WSConn) Send(ev ClientEvent) error {
	if c.closed.Load() {
		return ErrClosed
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type(), err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	<-c.done
	return nil
}

func (c *WSConn) Err() error {
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *WSConn) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *WSConn) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setErr(core.NewTransportError(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := DecodeServerEvent(data)
		if err != nil {
			c.logger.Warn("dropping undecodable realtime frame", "error", err)
			continue
		}
		if !c.emit(ev) {
			return
		}
	}
}

// emit blocks until the consumer takes the event or the conn is closing.
// Dropping would break delta ordering.
func (c *WSConn) emit(ev ServerEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.closing:
		return false
	}
}

func (c *WSConn) pingLoop() {
	t := time.NewTicker(c.ping)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteTimeout))
			c.writeMu.Unlock()
			if err != nil && !c.closed.Load() {
				c.logger.Debug("realtime ping failed", "error", err)
			}
		}
	}
}

var _ Conn = (*WSConn)(nil)

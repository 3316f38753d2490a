// Package session orchestrates one realtime voice-agent conversation: the
// connection lifecycle, turn detection, push-to-talk, agent activation and
// handoff, tool execution and output moderation.
//
// Inbound events are applied by a single goroutine per connection. Tool
// calls and guardrail checks run as tracked background tasks and feed their
// results back through the transcript store and the connection's writer.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/eventlog"
	"github.com/vango-go/vai-voice-agents/pkg/agents/guardrail"
	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
	"github.com/vango-go/vai-voice-agents/pkg/agents/transcript"
	"github.com/vango-go/vai-voice-agents/pkg/agents/workspace"
	"github.com/vango-go/vai-voice-agents/pkg/core"
	"github.com/vango-go/vai-voice-agents/pkg/realtime"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
)

var (
	ErrAlreadyConnected = errors.New("session: already connected or connecting")
	ErrNotConnected     = errors.New("session: not connected")
	ErrNoEphemeralKey   = core.NewCredentialError("no_ephemeral_key", "token response has no client_secret.value")

	// ErrDisconnected is returned by Connect when Disconnect ran while the
	// connection was being negotiated.
	ErrDisconnected = errors.New("session: disconnected during connect")
)

type Config struct {
	Model        string
	InitialAgent string
	PushToTalk   bool
	// Muted starts the session with audio playback disabled.
	Muted bool
	// Speed is the realtime voice speed factor. Zero leaves the backend
	// default in place.
	Speed      float64
	Modalities []string

	Greeting               string
	ReconnectDelay         time.Duration
	GuardrailDebounceChars int
	TranscribingText       string
	InaudibleText          string
	TranscriptionModel     string
	ToolTimeout            time.Duration
	GuardrailTimeout       time.Duration
}

// AudioSink receives base64 PCM chunks of agent speech while playback is
// enabled.
type AudioSink interface {
	PlayAudio(itemID, audioB64 string)
}

type Dependencies struct {
	Agents      *agents.Set
	Transcript  *transcript.Store
	Events      *eventlog.Log
	Credentials CredentialSource
	Dialer      realtime.Dialer
	// Guardrail is optional. Without it assistant output is not moderated.
	Guardrail guardrail.Checker
	Runner    tools.Runner
	Workspace *workspace.Workspace
	Audio     AudioSink
	Logger    *slog.Logger
	Now       func() time.Time
}

type Session struct {
	cfg        Config
	transcript *transcript.Store
	events     *eventlog.Log
	creds      CredentialSource
	dialer     realtime.Dialer
	guardrail  guardrail.Checker
	runner     tools.Runner
	workspace  *workspace.Workspace
	audio      AudioSink
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	state  State
	handle *Handle
	// attempt identifies the current connect attempt. Disconnect and every
	// new Connect bump it, so a stale dial never installs its handle.
	attempt       uint64
	cancelConnect context.CancelFunc
	agents           *agents.Set
	active           string
	pushToTalk       bool
	speaking         bool
	playback         bool
	handoffTriggered bool
	guards           map[string]*guardState
}

func New(cfg Config, deps Dependencies) (*Session, error) {
	if deps.Agents == nil {
		return nil, fmt.Errorf("agent set is required")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if deps.Dialer == nil {
		return nil, fmt.Errorf("realtime dialer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Transcript == nil {
		deps.Transcript = transcript.New(transcript.WithLogger(deps.Logger), transcript.WithClock(deps.Now))
	}
	if deps.Events == nil {
		deps.Events = eventlog.New(eventlog.WithLogger(deps.Logger), eventlog.WithClock(deps.Now))
	}
	if deps.Runner.Logger == nil {
		deps.Runner.Logger = deps.Logger
	}
	if cfg.Model == "" {
		cfg.Model = realtime.DefaultModel
	}
	if cfg.Greeting == "" {
		cfg.Greeting = "hello"
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.GuardrailDebounceChars <= 0 {
		cfg.GuardrailDebounceChars = 100
	}
	if cfg.TranscribingText == "" {
		cfg.TranscribingText = "[transcribing...]"
	}
	if cfg.InaudibleText == "" {
		cfg.InaudibleText = "[inaudible]"
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "gpt-4o-mini-transcribe"
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 60 * time.Second
	}
	if cfg.GuardrailTimeout <= 0 {
		cfg.GuardrailTimeout = 30 * time.Second
	}
	if len(cfg.Modalities) == 0 {
		cfg.Modalities = []string{"text", "audio"}
	}
	if deps.Runner.Timeout <= 0 {
		deps.Runner.Timeout = cfg.ToolTimeout
	}

	active := deps.Agents.Root().Name
	if cfg.InitialAgent != "" {
		if _, ok := deps.Agents.Lookup(cfg.InitialAgent); !ok {
			return nil, fmt.Errorf("unknown initial agent %q", cfg.InitialAgent)
		}
		active = cfg.InitialAgent
	}

	return &Session{
		cfg:        cfg,
		transcript: deps.Transcript,
		events:     deps.Events,
		creds:      deps.Credentials,
		dialer:     deps.Dialer,
		guardrail:  deps.Guardrail,
		runner:     deps.Runner,
		workspace:  deps.Workspace,
		audio:      deps.Audio,
		logger:     deps.Logger,
		now:        deps.Now,
		state:      StateDisconnected,
		agents:     deps.Agents,
		active:     active,
		pushToTalk: cfg.PushToTalk,
		playback:   !cfg.Muted,
		guards:     make(map[string]*guardState),
	}, nil
}

func (s *Session) Transcript() *transcript.Store { return s.transcript }
func (s *Session) Events() *eventlog.Log         { return s.events }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ActiveAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Handle returns the live connection, or nil when not connected.
func (s *Session) Handle() *Handle {
	h, _ := s.connected()
	return h
}

func (s *Session) PushToTalk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushToTalk
}

func (s *Session) AudioPlayback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

func (s *Session) connected() (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.handle == nil {
		return nil, false
	}
	return s.handle, true
}

// Connect fetches a credential, dials the realtime backend with the active
// agent as root and activates that agent. Any failure leaves the session
// DISCONNECTED. Disconnect cancels an attempt in flight, which then returns
// ErrDisconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.attempt++
	attempt := s.attempt
	ctx, cancel := context.WithCancel(ctx)
	s.cancelConnect = cancel
	set := s.agents.WithRoot(s.active)
	s.mu.Unlock()
	defer cancel()

	conn, err := s.dial(ctx, set)
	if err != nil {
		s.mu.Lock()
		current := s.attempt == attempt
		if current {
			s.state = StateDisconnected
			s.cancelConnect = nil
		}
		s.mu.Unlock()
		if !current {
			return ErrDisconnected
		}
		return err
	}

	h := newHandle(ulid.MustNew(ulid.Timestamp(s.now()), ulid.DefaultEntropy()).String(), conn, set)

	s.mu.Lock()
	if s.attempt != attempt || s.state != StateConnecting {
		s.mu.Unlock()
		h.teardown()
		return ErrDisconnected
	}
	s.handle = h
	s.state = StateConnected
	s.cancelConnect = nil
	s.speaking = false
	root := set.Root()
	s.mu.Unlock()

	s.logger.Info("realtime session connected", "session_id", h.ID, "agent", root.Name, "model", s.cfg.Model)
	go s.loop(h)
	s.activate(h, root)
	return nil
}

func (s *Session) dial(ctx context.Context, set *agents.Set) (realtime.Conn, error) {
	s.events.LogClient(map[string]any{"url": "/api/session"}, "fetch_session_token_request")
	cred, err := s.creds.Fetch(ctx)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoEphemeralKey):
			s.events.LogClient(rawOr(cred.Raw, map[string]any{}), "error.no_ephemeral_key")
		default:
			s.events.LogClient(map[string]any{"error": err.Error(), "body": rawOr(cred.Raw, nil)}, "fetch_session_token_error")
		}
		s.logger.Warn("session token fetch failed", "error", err)
		return nil, err
	}
	s.events.LogServer(rawOr(cred.Raw, map[string]any{}), "fetch_session_token_response")

	conn, err := s.dialer.Dial(ctx, realtime.DialRequest{Token: cred.Value, Model: s.cfg.Model})
	if err != nil {
		s.events.LogClient(map[string]any{"error": err.Error(), "agent": set.Root().Name}, "realtime_connect_error")
		s.logger.Warn("realtime connect failed", "error", err)
		return nil, err
	}
	return conn, nil
}

func rawOr(raw json.RawMessage, fallback any) any {
	if len(raw) == 0 {
		return fallback
	}
	return raw
}

// Disconnect tears the connection down from any state. It cancels a connect
// attempt in flight along with running tool calls and guardrail checks.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.attempt++
	cancelConnect := s.cancelConnect
	s.cancelConnect = nil
	h := s.handle
	s.handle = nil
	s.state = StateDisconnected
	s.speaking = false
	s.guards = make(map[string]*guardState)
	s.mu.Unlock()

	if cancelConnect != nil {
		cancelConnect()
	}
	if h == nil {
		return
	}
	h.teardown()
	<-h.done
	if !h.drain() {
		s.logger.Warn("tasks still running after disconnect", "session_id", h.ID, "in_flight", h.InFlight())
	}
	s.logger.Info("realtime session disconnected", "session_id", h.ID)
}

// Reconnect disconnects, waits ReconnectDelay for the teardown to settle and
// connects again.
func (s *Session) Reconnect(ctx context.Context) error {
	s.Disconnect()
	t := time.NewTimer(s.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Connect(ctx)
}

// Reconfigure replaces the agent set and voice speed. The active agent is
// kept when the new set has it. A live connection is renegotiated.
func (s *Session) Reconfigure(ctx context.Context, set *agents.Set, speed float64) error {
	if set == nil {
		return fmt.Errorf("agent set is required")
	}
	s.mu.Lock()
	s.agents = set
	s.cfg.Speed = speed
	if _, ok := set.Lookup(s.active); !ok {
		s.active = set.Root().Name
	}
	live := s.state != StateDisconnected
	s.mu.Unlock()

	if !live {
		return nil
	}
	return s.Reconnect(ctx)
}

// SetPushToTalk switches between client-driven turns and server VAD.
func (s *Session) SetPushToTalk(on bool) {
	s.mu.Lock()
	s.pushToTalk = on
	if !on {
		s.speaking = false
	}
	s.mu.Unlock()

	if h, ok := s.connected(); ok {
		_ = s.send(h, realtime.SessionUpdate(realtime.SessionConfig{TurnDetection: turnDetection(on)}), "")
	}
}

// TalkButtonDown interrupts the agent and starts a push-to-talk turn.
func (s *Session) TalkButtonDown() {
	h, ok := s.connected()
	if !ok {
		return
	}
	s.interrupt(h)
	s.mu.Lock()
	s.speaking = true
	s.mu.Unlock()
	_ = s.send(h, realtime.InputAudioClear(), "clear PTT buffer")
}

// TalkButtonUp commits the buffered audio and requests a response. It does
// nothing unless a push-to-talk turn is in progress.
func (s *Session) TalkButtonUp() {
	s.mu.Lock()
	h := s.handle
	if s.state != StateConnected || h == nil || !s.speaking {
		s.mu.Unlock()
		return
	}
	s.speaking = false
	s.mu.Unlock()

	_ = s.send(h, realtime.InputAudioCommit(), "commit PTT")
	_ = s.send(h, realtime.ResponseCreate(), "trigger response PTT")
}

// SendAudio appends microphone audio to the input buffer. Audio frames are
// not recorded in the event log.
func (s *Session) SendAudio(pcm []byte) error {
	h, ok := s.connected()
	if !ok {
		return ErrNotConnected
	}
	return h.conn.Send(realtime.InputAudioAppend(base64.StdEncoding.EncodeToString(pcm)))
}

// SendText interrupts the agent and sends a typed user message.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	h, ok := s.connected()
	if !ok {
		return ErrNotConnected
	}
	s.interrupt(h)
	if err := s.send(h, realtime.UserMessage(newItemID(), text), ""); err != nil {
		return err
	}
	return s.send(h, realtime.ResponseCreate(), "")
}

func (s *Session) Interrupt() {
	if h, ok := s.connected(); ok {
		s.interrupt(h)
	}
}

func (s *Session) interrupt(h *Handle) {
	_ = s.send(h, realtime.ResponseCancel(), "interrupt")
}

// SetAudioPlayback gates delivery of agent audio to the sink.
func (s *Session) SetAudioPlayback(on bool) {
	s.mu.Lock()
	s.playback = on
	s.mu.Unlock()
}

// SetAgent selects an agent manually. When connected the agent is activated
// and greets the user.
func (s *Session) SetAgent(name string) error {
	s.mu.Lock()
	a, ok := s.agents.Lookup(name)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown agent %q", name)
	}
	if s.active == name {
		s.mu.Unlock()
		return nil
	}
	s.active = name
	s.mu.Unlock()

	if h, ok := s.connected(); ok {
		s.activate(h, a)
	}
	return nil
}

// activate announces a, pushes its configuration and either greets the user
// or, after a handoff, asks the new agent to continue.
func (s *Session) activate(h *Handle, a *agents.Agent) {
	s.mu.Lock()
	handoff := s.handoffTriggered
	s.handoffTriggered = false
	s.mu.Unlock()

	s.transcript.AddBreadcrumb("Agent: "+a.Name, agentSummary(a))
	_ = s.send(h, realtime.SessionUpdate(s.agentConfig(a)), "")
	if handoff {
		_ = s.send(h, realtime.ResponseCreate(), "")
		return
	}
	s.simulateUserMessage(h, s.cfg.Greeting)
}

func (s *Session) agentConfig(a *agents.Agent) realtime.SessionConfig {
	s.mu.Lock()
	ptt := s.pushToTalk
	set := s.agents
	speed := s.cfg.Speed
	s.mu.Unlock()

	return realtime.SessionConfig{
		TurnDetection:           turnDetection(ptt),
		Instructions:            a.Instructions,
		Voice:                   a.Voice,
		Tools:                   set.FunctionDefs(a.Name),
		Modalities:              s.cfg.Modalities,
		InputAudioTranscription: &realtime.Transcription{Model: s.cfg.TranscriptionModel},
		Speed:                   speed,
	}
}

func turnDetection(pushToTalk bool) *realtime.TurnDetection {
	if pushToTalk {
		return nil
	}
	return realtime.ServerVAD()
}

func agentSummary(a *agents.Agent) map[string]any {
	toolNames := make([]string, 0, len(a.Tools))
	for _, t := range a.Tools {
		toolNames = append(toolNames, t.Name)
	}
	handoffs := make([]string, 0, len(a.Handoffs))
	for _, h := range a.Handoffs {
		handoffs = append(handoffs, h.AgentName)
	}
	return map[string]any{
		"name":         a.Name,
		"instructions": a.Instructions,
		"tools":        toolNames,
		"handoffs":     handoffs,
	}
}

// simulateUserMessage injects a hidden user turn and asks for a response.
func (s *Session) simulateUserMessage(h *Handle, text string) {
	id := newItemID()
	s.transcript.AddMessage(id, transcript.RoleUser, text, true)
	_ = s.send(h, realtime.UserMessage(id, text), "")
	_ = s.send(h, realtime.ResponseCreate(), "(simulated user text message)")
}

func (s *Session) send(h *Handle, ev realtime.ClientEvent, suffix string) error {
	s.events.LogClient(ev, suffix)
	if err := h.conn.Send(ev); err != nil {
		s.logger.Warn("realtime send failed", "session_id", h.ID, "event", ev.Type(), "error", err)
		return err
	}
	return nil
}

// newItemID returns a 32 character conversation item id.
func newItemID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

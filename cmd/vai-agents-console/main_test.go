package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/scenarios"
	"github.com/vango-go/vai-voice-agents/pkg/agents/transcript"
	"github.com/vango-go/vai-voice-agents/pkg/agents/workspace"
	"github.com/vango-go/vai-voice-agents/pkg/prefs"
	"github.com/vango-go/vai-voice-agents/pkg/session"
)

func mapEnv(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestParseConsoleConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseConsoleConfig(nil, mapEnv(nil))
	if err != nil {
		t.Fatalf("parseConsoleConfig() error = %v", err)
	}
	if cfg.GatewayURL != defaultGatewayURL {
		t.Fatalf("GatewayURL = %q", cfg.GatewayURL)
	}
	if cfg.PrefsPath != defaultPrefsPath {
		t.Fatalf("PrefsPath = %q", cfg.PrefsPath)
	}
	if cfg.Timeout != defaultTimeout {
		t.Fatalf("Timeout = %v", cfg.Timeout)
	}
	if cfg.pttSet || cfg.PushToTalk {
		t.Fatalf("ptt should be unset by default: %+v", cfg)
	}
}

func TestParseConsoleConfig_FlagsAndEnv(t *testing.T) {
	t.Parallel()

	env := mapEnv(map[string]string{
		"VAI_AGENTS_GATEWAY_URL":     "http://gw.example:8080/",
		"VAI_AGENTS_GATEWAY_API_KEY": " key-1 ",
	})
	cfg, err := parseConsoleConfig([]string{"-scenario", "simpleHandoff", "-agent", "haikuWriter", "-ptt", "-timeout", "5s"}, env)
	if err != nil {
		t.Fatalf("parseConsoleConfig() error = %v", err)
	}
	if cfg.GatewayURL != "http://gw.example:8080" {
		t.Fatalf("GatewayURL = %q, want trailing slash trimmed", cfg.GatewayURL)
	}
	if cfg.GatewayAPIKey != "key-1" {
		t.Fatalf("GatewayAPIKey = %q", cfg.GatewayAPIKey)
	}
	if cfg.Scenario != "simpleHandoff" || cfg.Agent != "haikuWriter" {
		t.Fatalf("scenario/agent = %q/%q", cfg.Scenario, cfg.Agent)
	}
	if !cfg.PushToTalk || !cfg.pttSet {
		t.Fatalf("expected explicit ptt")
	}
	if cfg.Timeout != 5*time.Second {
		t.Fatalf("Timeout = %v", cfg.Timeout)
	}
}

func TestParseConsoleConfig_Invalid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		args      []string
		errSubstr string
	}{
		{name: "relative gateway", args: []string{"-gateway", "/api"}, errSubstr: "-gateway"},
		{name: "unknown scenario", args: []string{"-scenario", "nope"}, errSubstr: "unknown scenario"},
		{name: "zero timeout", args: []string{"-timeout", "0s"}, errSubstr: "-timeout"},
		{name: "redis without user", args: []string{"-redis", "redis://localhost:6379", "-user", " "}, errSubstr: "-user"},
		{name: "unknown flag", args: []string{"-bogus"}, errSubstr: "bogus"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseConsoleConfig(tc.args, mapEnv(nil))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}

func TestResolvePrefs(t *testing.T) {
	t.Parallel()

	saved := prefs.Defaults()
	saved.Scenario = "simpleHandoff"
	saved.Agent = "haikuWriter"
	saved.PushToTalk = true

	got := resolvePrefs(consoleConfig{}, saved)
	if got.Scenario != "simpleHandoff" || got.Agent != "haikuWriter" || !got.PushToTalk {
		t.Fatalf("saved prefs should carry over: %+v", got)
	}

	got = resolvePrefs(consoleConfig{Scenario: "simpleChat", pttSet: true}, saved)
	if got.Scenario != "simpleChat" || got.Agent != "" {
		t.Fatalf("new scenario should reset agent: %+v", got)
	}
	if got.PushToTalk {
		t.Fatal("explicit -ptt=false should win")
	}

	stale := saved
	stale.Scenario = "retired"
	got = resolvePrefs(consoleConfig{}, stale)
	if got.Scenario != scenarios.DefaultKey || got.Agent != "" {
		t.Fatalf("unknown saved scenario should fall back: %+v", got)
	}
}

type fakeController struct {
	mu          sync.Mutex
	state       session.State
	active      string
	ptt         bool
	playback    bool
	downs, ups  int
	sent        []string
	sendErr     error
	reconnects  int
	reconfigSet *agents.Set
	reconfigSpd float64
	names       map[string]bool
}

func (f *fakeController) State() session.State { return f.state }
func (f *fakeController) ActiveAgent() string  { return f.active }
func (f *fakeController) PushToTalk() bool     { return f.ptt }
func (f *fakeController) AudioPlayback() bool  { return f.playback }
func (f *fakeController) SetPushToTalk(on bool) {
	f.ptt = on
}
func (f *fakeController) TalkButtonDown() { f.downs++ }
func (f *fakeController) TalkButtonUp()   { f.ups++ }
func (f *fakeController) SetAgent(name string) error {
	if !f.names[name] {
		return errors.New("unknown agent " + name)
	}
	f.active = name
	return nil
}
func (f *fakeController) SetAudioPlayback(on bool) { f.playback = on }
func (f *fakeController) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeController) Reconnect(context.Context) error {
	f.reconnects++
	return nil
}
func (f *fakeController) Reconfigure(_ context.Context, set *agents.Set, speed float64) error {
	f.reconfigSet = set
	f.reconfigSpd = speed
	return nil
}

func newTestRuntime(t *testing.T) (*consoleRuntime, *fakeController, *prefs.MemoryStore) {
	t.Helper()
	scenario := scenarios.SimpleHandoff()
	set, err := scenario.Build(scenarios.Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fake := &fakeController{
		state:    session.StateConnected,
		active:   "greeter",
		playback: true,
		names:    map[string]bool{"greeter": true, "haikuWriter": true},
	}
	store := &prefs.MemoryStore{}
	return &consoleRuntime{
		sess:     fake,
		scenario: scenario,
		set:      set,
		prefs:    prefs.Defaults(),
		store:    store,
	}, fake, store
}

func TestHandleSlashCommand_PushToTalk(t *testing.T) {
	t.Parallel()

	rt, fake, store := newTestRuntime(t)
	var out, errOut bytes.Buffer

	handled, err := handleSlashCommand(context.Background(), "/down", rt, &out, &errOut)
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if fake.downs != 0 || !strings.Contains(errOut.String(), "push-to-talk is off") {
		t.Fatalf("down without ptt: downs=%d errOut=%q", fake.downs, errOut.String())
	}

	if _, err := handleSlashCommand(context.Background(), "/ptt on", rt, &out, &errOut); err != nil {
		t.Fatal(err)
	}
	if !fake.ptt {
		t.Fatal("expected push-to-talk on")
	}
	saved, _ := store.Load(context.Background())
	if !saved.PushToTalk || saved.Scenario != "simpleHandoff" {
		t.Fatalf("saved prefs = %+v", saved)
	}

	_, _ = handleSlashCommand(context.Background(), "/down", rt, &out, &errOut)
	_, _ = handleSlashCommand(context.Background(), "/up", rt, &out, &errOut)
	if fake.downs != 1 || fake.ups != 1 {
		t.Fatalf("downs=%d ups=%d", fake.downs, fake.ups)
	}

	errOut.Reset()
	_, _ = handleSlashCommand(context.Background(), "/ptt maybe", rt, &out, &errOut)
	if !strings.Contains(errOut.String(), "usage: /ptt on|off") {
		t.Fatalf("errOut = %q", errOut.String())
	}
}

func TestHandleSlashCommand_Agent(t *testing.T) {
	t.Parallel()

	rt, fake, store := newTestRuntime(t)
	var out, errOut bytes.Buffer

	if _, err := handleSlashCommand(context.Background(), "/agent", rt, &out, &errOut); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "active agent: greeter (available: greeter, haikuWriter)") {
		t.Fatalf("out = %q", out.String())
	}

	_, _ = handleSlashCommand(context.Background(), "/agent haikuWriter", rt, &out, &errOut)
	if fake.active != "haikuWriter" {
		t.Fatalf("active = %q", fake.active)
	}
	if saved, _ := store.Load(context.Background()); saved.Agent != "haikuWriter" {
		t.Fatalf("saved agent = %q", saved.Agent)
	}

	_, _ = handleSlashCommand(context.Background(), "/agent nobody", rt, &out, &errOut)
	if fake.active != "haikuWriter" || !strings.Contains(errOut.String(), "agent switch error") {
		t.Fatalf("active=%q errOut=%q", fake.active, errOut.String())
	}
}

func TestHandleSlashCommand_SpeedRebuildsAgents(t *testing.T) {
	t.Parallel()

	rt, fake, store := newTestRuntime(t)
	var out, errOut bytes.Buffer

	if _, err := handleSlashCommand(context.Background(), "/speed fast", rt, &out, &errOut); err != nil {
		t.Fatal(err)
	}
	if fake.reconfigSet == nil {
		t.Fatal("expected Reconfigure")
	}
	if fake.reconfigSpd != scenarios.SpeedFast.Factor() {
		t.Fatalf("speed = %v", fake.reconfigSpd)
	}
	greeter, ok := fake.reconfigSet.Lookup("greeter")
	if !ok || !strings.Contains(greeter.Instructions, scenarios.SpeedFast.Instruction()) {
		t.Fatalf("rebuilt instructions missing speed hint: %+v", greeter)
	}
	if rt.set != fake.reconfigSet {
		t.Fatal("runtime should track the new set")
	}
	if saved, _ := store.Load(context.Background()); saved.SpeechSpeed != "fast" {
		t.Fatalf("saved speed = %q", saved.SpeechSpeed)
	}

	fake.reconfigSet = nil
	_, _ = handleSlashCommand(context.Background(), "/speed warp", rt, &out, &errOut)
	if fake.reconfigSet != nil || !strings.Contains(errOut.String(), "unknown speech speed") {
		t.Fatalf("invalid speed should not reconfigure: errOut=%q", errOut.String())
	}
}

func TestHandleSlashCommand_MuteReconnectWorkspace(t *testing.T) {
	t.Parallel()

	rt, fake, store := newTestRuntime(t)
	var out, errOut bytes.Buffer

	_, _ = handleSlashCommand(context.Background(), "/mute", rt, &out, &errOut)
	if fake.playback {
		t.Fatal("expected playback muted")
	}
	if saved, _ := store.Load(context.Background()); saved.AudioPlayback {
		t.Fatal("expected muted preference saved")
	}
	_, _ = handleSlashCommand(context.Background(), "/mute", rt, &out, &errOut)
	if !fake.playback {
		t.Fatal("expected playback restored")
	}

	_, _ = handleSlashCommand(context.Background(), "/reconnect", rt, &out, &errOut)
	if fake.reconnects != 1 {
		t.Fatalf("reconnects = %d", fake.reconnects)
	}

	_, _ = handleSlashCommand(context.Background(), "/workspace", rt, &out, &errOut)
	if !strings.Contains(errOut.String(), "has no workspace") {
		t.Fatalf("errOut = %q", errOut.String())
	}

	rt.workspace = workspace.New()
	rt.workspace.AddTab("Plan", workspace.TabMarkdown, "# plan")
	out.Reset()
	_, _ = handleSlashCommand(context.Background(), "/workspace", rt, &out, &errOut)
	if !strings.Contains(out.String(), "1 tab(s)") || !strings.Contains(out.String(), "* 0. Plan") {
		t.Fatalf("out = %q", out.String())
	}

	path := filepath.Join(t.TempDir(), "ws.json")
	_, _ = handleSlashCommand(context.Background(), "/workspace "+path, rt, &out, &errOut)
	if !strings.Contains(out.String(), "workspace saved to") {
		t.Fatalf("out = %q errOut = %q", out.String(), errOut.String())
	}
}

func TestHandleSlashCommand_Unhandled(t *testing.T) {
	t.Parallel()

	rt, _, _ := newTestRuntime(t)
	for _, line := range []string{"hello there", "/unknown"} {
		handled, err := handleSlashCommand(context.Background(), line, rt, nil, nil)
		if err != nil || handled {
			t.Fatalf("%q: handled=%v err=%v", line, handled, err)
		}
	}
	if _, err := handleSlashCommand(context.Background(), "/help", nil, nil, nil); err == nil {
		t.Fatal("expected error for nil runtime")
	}
}

func TestRepl_SendsTextUntilQuit(t *testing.T) {
	t.Parallel()

	rt, fake, _ := newTestRuntime(t)
	var out, errOut bytes.Buffer
	in := strings.NewReader("hello\n\n/ptt on\n/nope\nsecond\n/quit\nignored\n")

	if err := repl(context.Background(), rt, in, &out, &errOut, false); err != nil {
		t.Fatalf("repl() error = %v", err)
	}
	if got := strings.Join(fake.sent, "|"); got != "hello|second" {
		t.Fatalf("sent = %q", got)
	}
	if !fake.ptt {
		t.Fatal("expected /ptt on to be applied")
	}
	if !strings.Contains(errOut.String(), "unknown command /nope") {
		t.Fatalf("errOut = %q", errOut.String())
	}
	if !strings.HasSuffix(out.String(), "bye\n") {
		t.Fatalf("out = %q", out.String())
	}
	if strings.Contains(out.String(), "> ") {
		t.Fatal("non-interactive input should not print prompts")
	}
}

func TestRepl_NotConnectedAndEOF(t *testing.T) {
	t.Parallel()

	rt, fake, _ := newTestRuntime(t)
	fake.sendErr = session.ErrNotConnected
	var out, errOut bytes.Buffer

	if err := repl(context.Background(), rt, strings.NewReader("hi\n"), &out, &errOut, true); err != nil {
		t.Fatalf("repl() error = %v", err)
	}
	if !strings.Contains(errOut.String(), "not connected; use /reconnect") {
		t.Fatalf("errOut = %q", errOut.String())
	}
	if !strings.HasPrefix(out.String(), "> ") {
		t.Fatalf("interactive output should prompt: %q", out.String())
	}
}

func TestTranscriptPrinter(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := newTranscriptPrinter(&out)

	msg := transcript.Item{ItemID: "a1", Kind: transcript.KindMessage, Role: transcript.RoleAssistant, Text: "Hel", Status: transcript.StatusInProgress}
	p.observe(transcript.OpAdded, msg)
	if out.Len() != 0 {
		t.Fatalf("in-progress message should not print: %q", out.String())
	}

	msg.Text = "Hello!"
	msg.Status = transcript.StatusDone
	p.observe(transcript.OpUpdated, msg)
	p.observe(transcript.OpUpdated, msg)

	msg.Guardrail = &transcript.GuardrailResult{Status: transcript.StatusDone, Category: transcript.CategoryOffBrand, Rationale: "mentions a competitor"}
	p.observe(transcript.OpUpdated, msg)
	p.observe(transcript.OpUpdated, msg)

	p.observe(transcript.OpAdded, transcript.Item{ItemID: "b1", Kind: transcript.KindBreadcrumb, Title: "Agent: greeter"})
	p.observe(transcript.OpUpdated, transcript.Item{ItemID: "b1", Kind: transcript.KindBreadcrumb, Title: "Agent: greeter", Expanded: true})

	p.observe(transcript.OpAdded, transcript.Item{ItemID: "h1", Kind: transcript.KindMessage, Role: transcript.RoleUser, Text: "hi", Hidden: true, Status: transcript.StatusDone})

	want := "assistant: Hello!\n  ! guardrail OFF_BRAND: mentions a competitor\n  · Agent: greeter\n"
	if out.String() != want {
		t.Fatalf("out = %q, want %q", out.String(), want)
	}
}

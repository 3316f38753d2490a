package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/scenarios"
	"github.com/vango-go/vai-voice-agents/pkg/agents/workspace"
	"github.com/vango-go/vai-voice-agents/pkg/prefs"
	"github.com/vango-go/vai-voice-agents/pkg/session"
)

// controller is the part of *session.Session the console drives.
type controller interface {
	State() session.State
	ActiveAgent() string
	PushToTalk() bool
	AudioPlayback() bool
	SetPushToTalk(on bool)
	TalkButtonDown()
	TalkButtonUp()
	SetAgent(name string) error
	SetAudioPlayback(on bool)
	SendText(text string) error
	Reconnect(ctx context.Context) error
	Reconfigure(ctx context.Context, set *agents.Set, speed float64) error
}

var _ controller = (*session.Session)(nil)

type consoleRuntime struct {
	sess     controller
	scenario scenarios.Scenario
	deps     scenarios.Deps
	// set mirrors the agent set the session currently runs.
	set       *agents.Set
	prefs     prefs.Prefs
	store     prefs.Store
	workspace *workspace.Workspace
	logger    *slog.Logger
}

func (rt *consoleRuntime) agentSet() (*agents.Set, error) {
	if rt.set != nil {
		return rt.set, nil
	}
	set, err := rt.scenario.Build(rt.deps)
	if err != nil {
		return nil, err
	}
	rt.set = set
	return set, nil
}

// savePrefs persists the current preferences. Failures are logged only.
func (rt *consoleRuntime) savePrefs(ctx context.Context) {
	if rt.store == nil {
		return
	}
	rt.prefs.Scenario = rt.scenario.Key
	if err := rt.store.Save(ctx, rt.prefs); err != nil && rt.logger != nil {
		rt.logger.Warn("preferences not saved", "error", err)
	}
}

const helpText = `commands:
  /ptt on|off       switch push-to-talk
  /down, /up        press and release the talk button
  /agent [name]     show agents or switch to one
  /speed [level]    show or set speech speed (very_slow|slow|normal|fast|very_fast)
  /mute             toggle agent audio playback
  /workspace [path] show the workspace or save it as JSON
  /state            show connection state
  /reconnect        drop and re-establish the connection
  /quit             exit`

func handleSlashCommand(ctx context.Context, line string, rt *consoleRuntime, out io.Writer, errOut io.Writer) (handled bool, err error) {
	if rt == nil || rt.sess == nil {
		return false, errors.New("console runtime must not be nil")
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}

	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return false, nil
	}
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	switch fields[0] {
	case "/help":
		fmt.Fprintln(out, helpText)
	case "/state":
		fmt.Fprintf(out, "state=%s agent=%s ptt=%t playback=%t speed=%s\n",
			rt.sess.State(), rt.sess.ActiveAgent(), rt.sess.PushToTalk(), rt.sess.AudioPlayback(), rt.prefs.SpeechSpeed)
	case "/ptt":
		switch arg {
		case "on", "off":
			on := arg == "on"
			rt.sess.SetPushToTalk(on)
			rt.prefs.PushToTalk = on
			rt.savePrefs(ctx)
			fmt.Fprintf(out, "push-to-talk %s\n", arg)
		case "":
			fmt.Fprintf(out, "push-to-talk %t\n", rt.sess.PushToTalk())
		default:
			fmt.Fprintln(errOut, "usage: /ptt on|off")
		}
	case "/down":
		if !rt.sess.PushToTalk() {
			fmt.Fprintln(errOut, "push-to-talk is off")
			break
		}
		rt.sess.TalkButtonDown()
	case "/up":
		rt.sess.TalkButtonUp()
	case "/agent":
		set, buildErr := rt.agentSet()
		if buildErr != nil {
			fmt.Fprintf(errOut, "agents unavailable: %v\n", buildErr)
			break
		}
		if arg == "" {
			fmt.Fprintf(out, "active agent: %s (available: %s)\n", rt.sess.ActiveAgent(), strings.Join(set.Names(), ", "))
			break
		}
		if setErr := rt.sess.SetAgent(arg); setErr != nil {
			fmt.Fprintf(errOut, "agent switch error: %v\n", setErr)
			break
		}
		rt.prefs.Agent = arg
		rt.savePrefs(ctx)
		fmt.Fprintf(out, "agent: %s\n", arg)
	case "/speed":
		if arg == "" {
			fmt.Fprintf(out, "speech speed: %s\n", rt.prefs.SpeechSpeed)
			break
		}
		speed, parseErr := scenarios.ParseSpeechSpeed(arg)
		if parseErr != nil {
			fmt.Fprintf(errOut, "speed error: %v\n", parseErr)
			break
		}
		deps := rt.deps
		deps.Speed = speed
		set, buildErr := rt.scenario.Build(deps)
		if buildErr != nil {
			fmt.Fprintf(errOut, "speed error: %v\n", buildErr)
			break
		}
		if cfgErr := rt.sess.Reconfigure(ctx, set, speed.Factor()); cfgErr != nil {
			fmt.Fprintf(errOut, "reconnect after speed change failed: %v\n", cfgErr)
		}
		rt.deps = deps
		rt.set = set
		rt.prefs.SpeechSpeed = string(speed)
		rt.savePrefs(ctx)
		fmt.Fprintf(out, "speech speed: %s\n", speed)
	case "/mute":
		on := !rt.sess.AudioPlayback()
		rt.sess.SetAudioPlayback(on)
		rt.prefs.AudioPlayback = on
		rt.savePrefs(ctx)
		if on {
			fmt.Fprintln(out, "audio playback on")
		} else {
			fmt.Fprintln(out, "audio playback muted")
		}
	case "/workspace":
		if rt.workspace == nil {
			fmt.Fprintf(errOut, "scenario %s has no workspace\n", rt.scenario.Key)
			break
		}
		if arg == "" {
			printWorkspace(out, rt.workspace.Info())
			break
		}
		if saveErr := saveWorkspace(rt.workspace, arg); saveErr != nil {
			fmt.Fprintf(errOut, "workspace save error: %v\n", saveErr)
			break
		}
		fmt.Fprintf(out, "workspace saved to %s\n", arg)
	case "/reconnect":
		if recErr := rt.sess.Reconnect(ctx); recErr != nil {
			fmt.Fprintf(errOut, "reconnect error: %v\n", recErr)
			break
		}
		fmt.Fprintf(out, "reconnected, active agent %s\n", rt.sess.ActiveAgent())
	default:
		return false, nil
	}
	return true, nil
}

func saveWorkspace(ws *workspace.Workspace, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := ws.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func printWorkspace(out io.Writer, info workspace.Info) {
	name := info.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(out, "workspace %s: %d tab(s)\n", name, len(info.Tabs))
	for i, tab := range info.Tabs {
		marker := " "
		if tab.ID == info.SelectedTabID {
			marker = "*"
		}
		fmt.Fprintf(out, " %s %d. %s [%s] %d chars\n", marker, i, tab.Name, tab.Type, len(tab.Content))
	}
}

// Package scenarios holds the predefined agent sets a session can be started
// with, along with the output guardrail each one runs under.
package scenarios

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/guardrail"
	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
)

// DefaultKey is used when no scenario is requested or the requested key is
// unknown.
const DefaultKey = "simpleChat"

const defaultVoice = "sage"

// Deps are the collaborators scenario builders close over.
type Deps struct {
	// Client backs delegating tools and guardrails. It may be nil for
	// scenarios that only use local tools.
	Client responses.Creator
	Speed  SpeechSpeed
	Logger *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Scenario is a named agent set.
type Scenario struct {
	Key         string
	Description string
	Build       func(Deps) (*agents.Set, error)
	// Policy is the output guardrail policy. Nil disables the guardrail.
	Policy *guardrail.Policy
	// Workspace reports whether the scenario's tools edit a workspace.
	Workspace bool
}

// Guardrail returns the checker for the scenario or nil when it has none or
// no client is available.
func (s Scenario) Guardrail(d Deps) guardrail.Checker {
	if s.Policy == nil || d.Client == nil {
		return nil
	}
	c := guardrail.New(d.Client, *s.Policy)
	c.Logger = d.logger()
	return c
}

type Registry struct {
	byKey map[string]Scenario
}

func NewRegistry(list ...Scenario) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Scenario, len(list))}
	for _, s := range list {
		if s.Key == "" || s.Build == nil {
			return nil, fmt.Errorf("scenarios: scenario %q is incomplete", s.Key)
		}
		if _, dup := r.byKey[s.Key]; dup {
			return nil, fmt.Errorf("scenarios: duplicate key %q", s.Key)
		}
		r.byKey[s.Key] = s
	}
	return r, nil
}

// Default returns every built-in scenario.
func Default() *Registry {
	r, err := NewRegistry(
		SimpleChat(),
		SimpleHandoff(),
		CustomerServiceRetail(),
		ChatSupervisor(),
		WorkspaceBuilder(),
	)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Lookup(key string) (Scenario, bool) {
	s, ok := r.byKey[key]
	return s, ok
}

// Resolve looks key up and falls back to DefaultKey.
func (r *Registry) Resolve(key string) Scenario {
	if s, ok := r.byKey[key]; ok {
		return s
	}
	return r.byKey[DefaultKey]
}

func (r *Registry) Keys() []string {
	out := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func policyPtr(p guardrail.Policy) *guardrail.Policy { return &p }

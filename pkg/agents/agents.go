// Package agents defines agent personas and the handoff graph between them.
package agents

import (
	"encoding/json"
	"fmt"

	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
)

// HandoffPrefix is prepended to a target agent's name to form the function
// name the backend calls to request a handoff.
const HandoffPrefix = "transfer_to_"

// HandoffTarget is a typed edge to another agent in the same Set.
type HandoffTarget struct {
	AgentName string
}

// To is shorthand for a HandoffTarget.
func To(name string) HandoffTarget { return HandoffTarget{AgentName: name} }

// Agent is a persona definition. It is not mutated once placed in a Set.
type Agent struct {
	Name               string
	Voice              string
	Instructions       string
	HandoffDescription string
	Tools              []tools.Spec
	Handoffs           []HandoffTarget
}

// FunctionDef is the wire form of a function tool in a realtime session
// configuration.
type FunctionDef struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Set is an ordered collection of agents. The first agent is the root.
type Set struct {
	order    []*Agent
	byName   map[string]*Agent
	handoffs map[string]map[string]HandoffTarget
	registry map[string]*tools.Registry
}

// NewSet validates names, tool uniqueness per agent and that every handoff
// edge points at a member of the set.
func NewSet(list ...*Agent) (*Set, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("agents: empty set")
	}
	s := &Set{
		byName:   make(map[string]*Agent, len(list)),
		handoffs: make(map[string]map[string]HandoffTarget, len(list)),
		registry: make(map[string]*tools.Registry, len(list)),
	}
	for i, a := range list {
		if a == nil || a.Name == "" {
			return nil, fmt.Errorf("agents[%d]: name must be non-empty", i)
		}
		if _, dup := s.byName[a.Name]; dup {
			return nil, fmt.Errorf("agents[%d]: duplicate agent name %q", i, a.Name)
		}
		s.byName[a.Name] = a
		s.order = append(s.order, a)
	}

	for _, a := range s.order {
		reg, err := tools.NewRegistry(a.Tools...)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", a.Name, err)
		}
		table := make(map[string]HandoffTarget, len(a.Handoffs))
		for _, h := range a.Handoffs {
			if _, ok := s.byName[h.AgentName]; !ok {
				return nil, fmt.Errorf("agent %q: handoff to unknown agent %q", a.Name, h.AgentName)
			}
			name := HandoffPrefix + h.AgentName
			if reg.Has(name) {
				return nil, fmt.Errorf("agent %q: tool %q collides with handoff", a.Name, name)
			}
			table[name] = h
		}
		s.registry[a.Name] = reg
		s.handoffs[a.Name] = table
	}
	return s, nil
}

// MustSet is NewSet for static definitions.
func MustSet(list ...*Agent) *Set {
	s, err := NewSet(list...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Set) Root() *Agent { return s.order[0] }

func (s *Set) Lookup(name string) (*Agent, bool) {
	a, ok := s.byName[name]
	return a, ok
}

// Names lists agents in set order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	for i, a := range s.order {
		out[i] = a.Name
	}
	return out
}

// WithRoot returns a copy with name moved to the front. Unknown names return
// s unchanged.
func (s *Set) WithRoot(name string) *Set {
	a, ok := s.byName[name]
	if !ok || s.order[0] == a {
		return s
	}
	cp := *s
	cp.order = make([]*Agent, 0, len(s.order))
	cp.order = append(cp.order, a)
	for _, other := range s.order {
		if other != a {
			cp.order = append(cp.order, other)
		}
	}
	return &cp
}

// Tools returns the executable tool registry of an agent.
func (s *Set) Tools(agentName string) *tools.Registry {
	return s.registry[agentName]
}

// ResolveHandoff maps a function name issued while from was active onto its
// target agent. It is a table lookup over from's declared edges.
func (s *Set) ResolveHandoff(from, functionName string) (*Agent, bool) {
	h, ok := s.handoffs[from][functionName]
	if !ok {
		return nil, false
	}
	return s.Lookup(h.AgentName)
}

// FunctionDefs returns the tools advertised for an agent: its own tools in
// declaration order followed by one transfer function per handoff edge.
func (s *Set) FunctionDefs(agentName string) []FunctionDef {
	a, ok := s.byName[agentName]
	if !ok {
		return nil
	}
	out := make([]FunctionDef, 0, len(a.Tools)+len(a.Handoffs))
	for _, t := range a.Tools {
		out = append(out, FunctionDef{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	for _, h := range a.Handoffs {
		target := s.byName[h.AgentName]
		desc := fmt.Sprintf("Handoff to the %s agent to handle the request.", target.Name)
		if target.HandoffDescription != "" {
			desc += " " + target.HandoffDescription
		}
		out = append(out, FunctionDef{
			Type:        "function",
			Name:        HandoffPrefix + target.Name,
			Description: desc,
			Parameters:  tools.ObjectSchema(map[string]any{}),
		})
	}
	return out
}

package agents

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
)

func noopTool(name string) tools.Spec {
	return tools.Spec{
		Name:       name,
		Parameters: tools.ObjectSchema(map[string]any{}),
		Invoker: tools.InvokerFunc(func(context.Context, json.RawMessage, tools.Context) (any, error) {
			return nil, nil
		}),
	}
}

func retailSet(t *testing.T) *Set {
	t.Helper()
	s, err := NewSet(
		&Agent{Name: "authentication", Handoffs: []HandoffTarget{To("returns"), To("sales")}},
		&Agent{Name: "returns", HandoffDescription: "Handles returns.", Tools: []tools.Spec{noopTool("lookupOrders")}, Handoffs: []HandoffTarget{To("authentication")}},
		&Agent{Name: "sales"},
	)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	return s
}

func TestNewSet_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewSet(); err == nil {
		t.Fatal("empty set should fail")
	}
	if _, err := NewSet(&Agent{Name: "a"}, &Agent{Name: "a"}); err == nil {
		t.Fatal("duplicate names should fail")
	}
	if _, err := NewSet(&Agent{Name: "a", Handoffs: []HandoffTarget{To("ghost")}}); err == nil {
		t.Fatal("dangling handoff should fail")
	}
	if _, err := NewSet(
		&Agent{Name: "a", Tools: []tools.Spec{noopTool("transfer_to_b")}, Handoffs: []HandoffTarget{To("b")}},
		&Agent{Name: "b"},
	); err == nil {
		t.Fatal("tool/handoff collision should fail")
	}
}

func TestWithRoot(t *testing.T) {
	t.Parallel()

	s := retailSet(t)
	r := s.WithRoot("sales")
	if got := strings.Join(r.Names(), ","); got != "sales,authentication,returns" {
		t.Fatalf("order=%s", got)
	}
	if s.Root().Name != "authentication" {
		t.Fatal("original set must not be reordered")
	}
	if s.WithRoot("ghost") != s {
		t.Fatal("unknown root should return the same set")
	}
}

func TestResolveHandoff(t *testing.T) {
	t.Parallel()

	s := retailSet(t)
	a, ok := s.ResolveHandoff("authentication", "transfer_to_returns")
	if !ok || a.Name != "returns" {
		t.Fatalf("resolve=%v %v", a, ok)
	}
	if _, ok := s.ResolveHandoff("sales", "transfer_to_returns"); ok {
		t.Fatal("sales has no edge to returns")
	}
	if _, ok := s.ResolveHandoff("returns", "lookupOrders"); ok {
		t.Fatal("plain tools are not handoffs")
	}
}

func TestFunctionDefs(t *testing.T) {
	t.Parallel()

	s := retailSet(t)
	defs := s.FunctionDefs("authentication")
	if len(defs) != 2 || defs[0].Name != "transfer_to_returns" {
		t.Fatalf("defs=%+v", defs)
	}
	if !strings.Contains(defs[0].Description, "Handles returns.") {
		t.Fatalf("description=%q", defs[0].Description)
	}

	defs = s.FunctionDefs("returns")
	if len(defs) != 2 || defs[0].Name != "lookupOrders" || defs[1].Name != "transfer_to_authentication" {
		t.Fatalf("defs=%+v", defs)
	}
	if !s.Tools("returns").Has("lookupOrders") {
		t.Fatal("registry missing tool")
	}
}

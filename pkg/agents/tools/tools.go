// Package tools defines how agent tools are declared and invoked.
//
// A tool is a Spec: a name, a description, a JSON schema for its arguments
// and an Invoker. Local functions and delegating tools that drive a nested
// model loop implement the same Invoker interface, so callers never need to
// know which kind they are running.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/vango-go/vai-voice-agents/pkg/agents/transcript"
	"github.com/vango-go/vai-voice-agents/pkg/agents/workspace"
)

// BreadcrumbFunc appends a breadcrumb to the session transcript.
type BreadcrumbFunc func(title string, data any)

// Context is handed to every invocation. It is assembled per session and
// never read from package state.
type Context struct {
	// History is a snapshot of the transcript taken when the call started.
	History    []transcript.Item
	Breadcrumb BreadcrumbFunc
	Workspace  *workspace.Workspace
	// Agent is the name of the agent that issued the call.
	Agent string
}

func (c Context) AddBreadcrumb(title string, data any) {
	if c.Breadcrumb != nil {
		c.Breadcrumb(title, data)
	}
}

// Messages returns only the message entries of History.
func (c Context) Messages() []transcript.Item {
	out := make([]transcript.Item, 0, len(c.History))
	for _, it := range c.History {
		if it.Kind == transcript.KindMessage {
			out = append(out, it)
		}
	}
	return out
}

// Invoker executes a tool. A returned error is converted by Runner into an
// {"error": ...} result; it never crosses the tool boundary.
type Invoker interface {
	Invoke(ctx context.Context, args json.RawMessage, ictx Context) (any, error)
}

// InvokerFunc adapts a plain function to Invoker.
type InvokerFunc func(ctx context.Context, args json.RawMessage, ictx Context) (any, error)

func (f InvokerFunc) Invoke(ctx context.Context, args json.RawMessage, ictx Context) (any, error) {
	return f(ctx, args, ictx)
}

// Typed decodes the arguments into T before calling fn.
func Typed[T any](fn func(ctx context.Context, args T, ictx Context) (any, error)) Invoker {
	return InvokerFunc(func(ctx context.Context, raw json.RawMessage, ictx Context) (any, error) {
		var args T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}
		}
		return fn(ctx, args, ictx)
	})
}

// Spec declares one tool.
type Spec struct {
	Name        string
	Description string
	// Parameters is the JSON schema the backend validates arguments against.
	Parameters json.RawMessage
	Invoker    Invoker
	// Silent suppresses start/result breadcrumbs.
	Silent bool
}

// Func builds a Spec whose schema is reflected from T.
func Func[T any](name, description string, fn func(ctx context.Context, args T, ictx Context) (any, error)) Spec {
	return Spec{
		Name:        name,
		Description: description,
		Parameters:  SchemaFor[T](),
		Invoker:     Typed(fn),
	}
}

// SchemaFor reflects a strict object schema from T: every field without
// omitempty is required and unknown properties are rejected.
func SchemaFor[T any]() json.RawMessage {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	var schema *jsonschema.Schema
	if t.Kind() == reflect.Struct && t.NumField() == 0 {
		schema = &jsonschema.Schema{
			Type:                 "object",
			Properties:           jsonschema.NewProperties(),
			AdditionalProperties: jsonschema.FalseSchema,
		}
	} else {
		r := &jsonschema.Reflector{
			ExpandedStruct:            true,
			DoNotReference:            true,
			AllowAdditionalProperties: false,
		}
		schema = r.ReflectFromType(t)
		schema.Version = ""
		schema.ID = ""
	}

	b, err := json.Marshal(schema)
	if err != nil {
		// jsonschema types always marshal.
		panic(fmt.Sprintf("tools: marshal schema for %s: %v", t, err))
	}
	return b
}

// ObjectSchema is a schema literal helper for tools whose arguments are not
// modelled as a Go struct.
func ObjectSchema(properties map[string]any, required ...string) json.RawMessage {
	if required == nil {
		required = []string{}
	}
	b, _ := json.Marshal(map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	})
	return b
}

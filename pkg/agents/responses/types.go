// Package responses is a minimal client for the OpenAI Responses API, used
// by the supervisor loop, delegating tools and the guardrail classifier.
// It talks either to the upstream API directly or to the gateway's
// /api/responses proxy.
package responses

import (
	"encoding/json"
	"strings"
)

// Request is the Responses API request body.
type Request struct {
	Model             string      `json:"model"`
	Instructions      string      `json:"instructions,omitempty"`
	Input             []InputItem `json:"input"`
	Tools             []Tool      `json:"tools,omitempty"`
	ToolChoice        any         `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool       `json:"parallel_tool_calls,omitempty"`
	MaxOutputTokens   *int        `json:"max_output_tokens,omitempty"`
	Store             *bool       `json:"store,omitempty"`
	Text              *TextConfig `json:"text,omitempty"`
}

// InputItem is a message, a prior function_call or a function_call_output.
type InputItem struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content any    `json:"content,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Output    string `json:"output,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Message builds a plain-text message item.
func Message(role, text string) InputItem {
	return InputItem{Type: "message", Role: role, Content: text}
}

// FunctionCall echoes a model-issued call back into the input list.
func FunctionCall(callID, name, arguments string) InputItem {
	return InputItem{Type: "function_call", CallID: callID, Name: name, Arguments: arguments}
}

func FunctionCallOutput(callID, output string) InputItem {
	return InputItem{Type: "function_call_output", CallID: callID, Output: output}
}

// Tool is a function tool or a hosted tool such as code_interpreter or
// web_search_preview.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Strict      *bool           `json:"strict,omitempty"`

	Container         *Container `json:"container,omitempty"`
	SearchContextSize string     `json:"search_context_size,omitempty"`
}

type Container struct {
	Type string `json:"type"`
}

// CodeInterpreter is the hosted code_interpreter tool with an automatic container.
func CodeInterpreter() Tool {
	return Tool{Type: "code_interpreter", Container: &Container{Type: "auto"}}
}

// WebSearchPreview is the hosted web_search_preview tool.
func WebSearchPreview() Tool {
	return Tool{Type: "web_search_preview"}
}

type TextConfig struct {
	Format *Format `json:"format,omitempty"`
}

// Format requests structured output.
type Format struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict *bool           `json:"strict,omitempty"`
}

// JSONSchemaFormat is a strict json_schema text format.
func JSONSchemaFormat(name string, schema json.RawMessage) *TextConfig {
	strict := true
	return &TextConfig{Format: &Format{Type: "json_schema", Name: name, Schema: schema, Strict: &strict}}
}

// Response is the Responses API response body. OutputParsed is only set by
// the gateway proxy for json_schema requests.
type Response struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	Model        string          `json:"model"`
	Output       []OutputItem    `json:"output"`
	OutputText   json.RawMessage `json:"output_text,omitempty"`
	OutputParsed json.RawMessage `json:"output_parsed,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
}

type OutputItem struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content []OutputContent `json:"content,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type OutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// FunctionCalls returns the function_call items in output order.
func (r *Response) FunctionCalls() []OutputItem {
	var out []OutputItem
	for _, it := range r.Output {
		if it.Type == "function_call" {
			out = append(out, it)
		}
	}
	return out
}

// Text concatenates output_text parts: parts of one message are joined
// directly, messages are joined with "\n".
func (r *Response) Text() string {
	var msgs []string
	for _, it := range r.Output {
		if it.Type != "message" {
			continue
		}
		var b strings.Builder
		for _, c := range it.Content {
			if c.Type == "output_text" {
				b.WriteString(c.Text)
			}
		}
		msgs = append(msgs, b.String())
	}
	if len(msgs) == 0 {
		return r.outputTextField()
	}
	return strings.Join(msgs, "\n")
}

// ErrorMessage reports the response-level error, whether the body carried it
// as a string or an object.
func (r *Response) ErrorMessage() string {
	if len(r.Error) == 0 || string(r.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Error, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(r.Error, &obj); err == nil && (obj.Message != "" || obj.Code != "") {
		if obj.Message == "" {
			return obj.Code
		}
		return obj.Message
	}
	return string(r.Error)
}

func (r *Response) outputTextField() string {
	if len(r.OutputText) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.OutputText, &s); err == nil {
		return s
	}
	return string(r.OutputText)
}

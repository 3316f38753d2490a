package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
)

// PromptFunc renders the user-context message for one delegated call.
type PromptFunc func(args json.RawMessage, ictx tools.Context) (string, error)

// Delegate is a tools.Invoker that answers by running a nested Loop. From
// the outside it is indistinguishable from a local tool.
type Delegate struct {
	Client       responses.Creator
	Model        string
	Instructions string
	Prompt       PromptFunc

	// Tools are executed locally inside the nested loop.
	Tools *tools.Registry
	// Hosted tools run on the backend (code_interpreter, web_search_preview).
	Hosted []responses.Tool

	// ResultKey names the field carrying the answer, e.g. "nextResponse".
	ResultKey string
	// Prefix labels nested tool breadcrumbs, e.g. "[supervisorAgent] ".
	Prefix string
	// Announce, when set, emits "<Announce>" with the arguments before the
	// call and "<Announce> response" with the answer after it.
	Announce string

	MaxRounds    int
	RoundTimeout time.Duration
	ToolTimeout  time.Duration
	Logger       *slog.Logger
}

func (d *Delegate) Invoke(ctx context.Context, args json.RawMessage, ictx tools.Context) (any, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var decoded any
	_ = json.Unmarshal(args, &decoded)
	if d.Announce != "" {
		ictx.AddBreadcrumb(d.Announce, decoded)
	}

	prompt := d.Prompt
	if prompt == nil {
		prompt = HistoryPrompt("relevantContextFromLastUserMessage")
	}
	userContent, err := prompt(args, ictx)
	if err != nil {
		logger.Warn("delegate prompt failed", "model", d.Model, "error", err)
		return failure(), nil
	}

	var input []responses.InputItem
	if d.Instructions != "" {
		input = append(input, responses.Message("system", d.Instructions))
	}
	input = append(input, responses.Message("user", userContent))

	loop := &Loop{
		Client:       d.Client,
		Tools:        d.Tools,
		Runner:       tools.Runner{Prefix: d.Prefix, Timeout: d.ToolTimeout, Logger: logger},
		MaxRounds:    d.MaxRounds,
		RoundTimeout: d.RoundTimeout,
		Logger:       logger,
	}
	res, err := loop.Run(ctx, &responses.Request{
		Model: d.Model,
		Input: input,
		Tools: d.Hosted,
	}, ictx)
	if err != nil {
		logger.Warn("delegated loop failed", "model", d.Model, "rounds", res.Rounds, "error", err)
		return failure(), nil
	}

	if d.Announce != "" {
		ictx.AddBreadcrumb(d.Announce+" response", res.Text)
	}
	key := d.ResultKey
	if key == "" {
		key = "result"
	}
	return map[string]any{key: res.Text}, nil
}

func failure() map[string]any {
	return map[string]any{"error": FailureMessage}
}

// HistoryPrompt renders the filtered message history followed by the string
// argument named field.
func HistoryPrompt(field string) PromptFunc {
	return func(args json.RawMessage, ictx tools.Context) (string, error) {
		extra, err := stringArg(args, field)
		if err != nil {
			return "", err
		}
		history, err := json.MarshalIndent(ictx.Messages(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal history: %w", err)
		}
		var b strings.Builder
		b.WriteString("==== Conversation History ====\n")
		b.Write(history)
		b.WriteString("\n\n==== Relevant Context From Last User Message ===\n")
		b.WriteString(extra)
		return b.String(), nil
	}
}

// stringArg returns args[field] as a string. Missing fields yield "".
func stringArg(args json.RawMessage, field string) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return "", fmt.Errorf("decode arguments: %w", err)
	}
	switch v := m[field].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, _ := json.Marshal(v)
		return string(b), nil
	}
}

var _ tools.Invoker = (*Delegate)(nil)

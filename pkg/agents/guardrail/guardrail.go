// Package guardrail classifies agent output against a moderation policy
// using a structured-output Responses call.
package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vango-go/vai-voice-agents/pkg/agents/responses"
	"github.com/vango-go/vai-voice-agents/pkg/agents/transcript"
)

const (
	DefaultModel = "gpt-4o-mini"
	formatName   = "output_format"

	// FailedMessage is reported in Outcome.Error when classification failed
	// and the output was let through.
	FailedMessage = "guardrail failed"
)

// Class is one category a policy can assign.
type Class struct {
	Category    transcript.Category
	Description string
}

// Policy describes what the classifier is checking for.
type Policy struct {
	Name    string
	Info    string
	Classes []Class
}

// CompanyPolicy flags offensive, off-brand and violent output for a company.
func CompanyPolicy(companyName string) Policy {
	return Policy{
		Name: "moderation_guardrail",
		Info: "- Company name: " + companyName,
		Classes: []Class{
			{transcript.CategoryOffensive, "Content that includes hate speech, discriminatory language, insults, slurs, or harassment."},
			{transcript.CategoryOffBrand, "Content that discusses competitors in a disparaging way."},
			{transcript.CategoryViolence, "Content that includes explicit threats, incitement of harm, or graphic descriptions of physical injury or violence."},
			{transcript.CategoryNone, "If no other classes are appropriate and the message is fine."},
		},
	}
}

// TopicPolicy keeps the agent on a conversational purpose.
func TopicPolicy(purpose string) Policy {
	return Policy{
		Name: "topic_guardrail",
		Info: "Purpose of the conversation: " + purpose,
		Classes: []Class{
			{transcript.CategoryOffTopic, "Content not related to the purpose of the conversation, including the agent discussing its own preferences or opinions."},
			{transcript.CategoryInappropriate, "Content that is threatening, offensive, or otherwise inappropriate."},
			{transcript.CategoryNone, "If no other classes are appropriate and the message is fine."},
		},
	}
}

func (p Policy) allows(c transcript.Category) bool {
	for _, cl := range p.Classes {
		if cl.Category == c {
			return true
		}
	}
	return false
}

func (p Policy) schema() json.RawMessage {
	enum := make([]string, 0, len(p.Classes))
	for _, cl := range p.Classes {
		enum = append(enum, string(cl.Category))
	}
	b, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"moderationRationale": map[string]any{"type": "string"},
			"moderationCategory":  map[string]any{"type": "string", "enum": enum},
		},
		"required":             []string{"moderationRationale", "moderationCategory"},
		"additionalProperties": false,
	})
	return b
}

func (p Policy) prompt(text string) string {
	var b strings.Builder
	b.WriteString("You are an expert at classifying text according to moderation policies. ")
	b.WriteString("Consider the provided message, analyze potential classes from output_classes, and output the best classification. ")
	b.WriteString("Output json, following the provided schema. Keep your analysis and reasoning short and to the point, maximum 2 sentences.\n\n")
	fmt.Fprintf(&b, "<info>\n%s\n</info>\n\n", p.Info)
	fmt.Fprintf(&b, "<message>\n%s\n</message>\n\n", text)
	b.WriteString("<output_classes>\n")
	for _, cl := range p.Classes {
		fmt.Fprintf(&b, "- %s: %s\n", cl.Category, cl.Description)
	}
	b.WriteString("</output_classes>\n")
	return b.String()
}

// Verdict is the classifier's answer for one piece of text.
type Verdict struct {
	Rationale string              `json:"moderationRationale"`
	Category  transcript.Category `json:"moderationCategory"`
	TestText  string              `json:"testText,omitempty"`
}

func (v Verdict) Tripped() bool { return v.Category != transcript.CategoryNone }

// Outcome is what a Checker reports. Error is set when classification
// failed and the output was let through.
type Outcome struct {
	Tripwire bool    `json:"tripwireTriggered"`
	Verdict  Verdict `json:"outputInfo"`
	Error    string  `json:"error,omitempty"`
}

// Checker is consumed by the session orchestrator.
type Checker interface {
	Check(ctx context.Context, text string) Outcome
}

var ErrUnparsable = errors.New("guardrail: classifier output is not a valid verdict")

type Classifier struct {
	Client responses.Creator
	Policy Policy
	Model  string
	Logger *slog.Logger
}

func New(client responses.Creator, policy Policy) *Classifier {
	return &Classifier{Client: client, Policy: policy, Model: DefaultModel}
}

// Classify returns the verdict for text or an error.
func (c *Classifier) Classify(ctx context.Context, text string) (Verdict, error) {
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	resp, err := c.Client.Create(ctx, &responses.Request{
		Model: model,
		Input: []responses.InputItem{responses.Message("user", c.Policy.prompt(text))},
		Text:  responses.JSONSchemaFormat(formatName, c.Policy.schema()),
	})
	if err != nil {
		return Verdict{}, err
	}

	raw := resp.OutputParsed
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(resp.Text())
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnparsable, err)
	}
	if !c.Policy.allows(v.Category) {
		return Verdict{}, fmt.Errorf("%w: category %q", ErrUnparsable, v.Category)
	}
	v.TestText = text
	return v, nil
}

// Check classifies text and fails open.
func (c *Classifier) Check(ctx context.Context, text string) Outcome {
	v, err := c.Classify(ctx, text)
	if err != nil {
		logger := c.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("guardrail classification failed; allowing output", "policy", c.Policy.Name, "error", err)
		return Outcome{Error: FailedMessage}
	}
	return Outcome{Tripwire: v.Tripped(), Verdict: v}
}

var _ Checker = (*Classifier)(nil)

package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Server event types the session layer interprets. Anything else is passed
// through with only Type and Raw populated.
const (
	EventSessionCreated         = "session.created"
	EventError                  = "error"
	EventItemCreated            = "conversation.item.created"
	EventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventAudioTranscriptDelta   = "response.audio_transcript.delta"
	EventAudioTranscriptDone    = "response.audio_transcript.done"
	EventTextDelta              = "response.text.delta"
	EventTextDone               = "response.text.done"
	EventAudioDelta             = "response.audio.delta"
	EventOutputItemDone         = "response.output_item.done"
)

// ContentPart is one element of an item's content list.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Audio      string `json:"audio,omitempty"`
}

// Item is a conversation item as the backend reports it.
type Item struct {
	ID        string        `json:"id,omitempty"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	Name      string        `json:"name,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// Text returns the first text or transcript carried by the item.
func (it *Item) Text() string {
	if it == nil {
		return ""
	}
	for _, c := range it.Content {
		if c.Text != "" {
			return c.Text
		}
		if c.Transcript != "" {
			return c.Transcript
		}
	}
	return ""
}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// ServerEvent is the decoded form of any inbound frame.
type ServerEvent struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	ItemID     string       `json:"item_id,omitempty"`
	ResponseID string       `json:"response_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Text       string       `json:"text,omitempty"`
	Item       *Item        `json:"item,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// DecodeServerEvent parses one text frame. A frame without a type is an
// error.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ServerEvent{}, fmt.Errorf("decode realtime event: %w", err)
	}
	if ev.Type == "" {
		return ServerEvent{}, fmt.Errorf("decode realtime event: missing type")
	}
	ev.Raw = append(json.RawMessage(nil), data...)
	return ev, nil
}

// ClientEvent is an outbound command. It is a plain map so the event log can
// record exactly what was sent.
type ClientEvent map[string]any

func (e ClientEvent) Type() string {
	t, _ := e["type"].(string)
	return t
}

func newEvent(typ string) ClientEvent {
	return ClientEvent{"type": typ, "event_id": "evt_" + uuid.NewString()}
}

// TurnDetection is the server VAD configuration. A nil *TurnDetection
// serializes as null, which selects push-to-talk.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

// ServerVAD returns the fixed VAD parameters used whenever push-to-talk is off.
func ServerVAD() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.7,
		PrefixPaddingMS:   500,
		SilenceDurationMS: 800,
		CreateResponse:    true,
	}
}

type Transcription struct {
	Model string `json:"model"`
}

// SessionConfig is the body of session.update. TurnDetection is always
// sent; the agent fields are omitted when empty so a PTT toggle does not
// reset the active agent.
type SessionConfig struct {
	TurnDetection           *TurnDetection `json:"turn_detection"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	Tools                   any            `json:"tools,omitempty"`
	Modalities              []string       `json:"modalities,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	Speed                   float64        `json:"speed,omitempty"`
}

func SessionUpdate(cfg SessionConfig) ClientEvent {
	ev := newEvent("session.update")
	ev["session"] = cfg
	return ev
}

func InputAudioAppend(audioB64 string) ClientEvent {
	ev := newEvent("input_audio_buffer.append")
	ev["audio"] = audioB64
	return ev
}

func InputAudioClear() ClientEvent  { return newEvent("input_audio_buffer.clear") }
func InputAudioCommit() ClientEvent { return newEvent("input_audio_buffer.commit") }
func ResponseCreate() ClientEvent   { return newEvent("response.create") }
func ResponseCancel() ClientEvent   { return newEvent("response.cancel") }

// UserMessage creates a user text item with the given id.
func UserMessage(itemID, text string) ClientEvent {
	ev := newEvent("conversation.item.create")
	ev["item"] = Item{
		ID:      itemID,
		Type:    "message",
		Role:    "user",
		Content: []ContentPart{{Type: "input_text", Text: text}},
	}
	return ev
}

// FunctionCallOutput returns a tool result to the backend.
func FunctionCallOutput(callID, output string) ClientEvent {
	ev := newEvent("conversation.item.create")
	ev["item"] = Item{Type: "function_call_output", CallID: callID, Output: output}
	return ev
}

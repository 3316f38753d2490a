package session

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/agents/eventlog"
	"github.com/vango-go/vai-voice-agents/pkg/agents/tools"
	"github.com/vango-go/vai-voice-agents/pkg/agents/transcript"
	"github.com/vango-go/vai-voice-agents/pkg/realtime"
)

// failureDetailsPattern matches the corrective message injected after a
// guardrail trip.
var failureDetailsPattern = regexp.MustCompile(`Failure Details: (\{.*?\})`)

func (s *Session) loop(h *Handle) {
	defer close(h.done)
	for ev := range h.conn.Events() {
		s.handleEvent(h, ev)
	}

	err := h.conn.Err()
	if err != nil {
		s.events.LogServer(map[string]any{"type": "transport_error", "error": err.Error()}, "")
		s.logger.Warn("realtime transport closed", "session_id", h.ID, "error", err)
	}

	s.mu.Lock()
	current := s.handle == h
	if current {
		s.handle = nil
		s.state = StateDisconnected
		s.speaking = false
		s.guards = make(map[string]*guardState)
	}
	s.mu.Unlock()
	if current {
		h.cancel()
		h.tasks.CancelAll()
	}
}

func (s *Session) handleEvent(h *Handle, ev realtime.ServerEvent) {
	switch ev.Type {
	case realtime.EventItemCreated:
		if ev.Item != nil {
			s.onHistoryAdded(*ev.Item)
		}
	case realtime.EventOutputItemDone:
		if ev.Item != nil {
			s.onHistoryUpdated(h, ev.ResponseID, *ev.Item)
		}
	case realtime.EventAudioDelta:
		s.mu.Lock()
		play := s.playback
		s.mu.Unlock()
		if play && s.audio != nil {
			s.audio.PlayAudio(ev.ItemID, ev.Delta)
		}
	default:
		s.events.LogServer(ev.Raw, "")
	}

	switch ev.Type {
	case realtime.EventTranscriptionDelta:
		if ev.ItemID != "" {
			s.transcript.UpdateMessage(ev.ItemID, ev.Delta, true)
		}
	case realtime.EventTranscriptionCompleted:
		final := ev.Transcript
		if strings.TrimSpace(final) == "" {
			final = s.cfg.InaudibleText
		}
		if !s.complete(ev.ItemID, final) {
			s.logger.Debug("transcription for unknown item", "session_id", h.ID, "item_id", ev.ItemID)
		}
	case realtime.EventAudioTranscriptDelta, realtime.EventTextDelta:
		s.onAssistantDelta(h, ev.ItemID, ev.Delta)
	case realtime.EventAudioTranscriptDone, realtime.EventTextDone:
		final := ev.Transcript
		if ev.Type == realtime.EventTextDone {
			final = ev.Text
		}
		s.onAssistantDone(h, ev.ItemID, final)
	case realtime.EventError:
		if ev.Error != nil {
			s.logger.Warn("realtime server error", "session_id", h.ID, "code", ev.Error.Code, "message", ev.Error.Message)
		}
	}
}

func historyItem(it realtime.Item) eventlog.HistoryItem {
	return eventlog.HistoryItem{ItemID: it.ID, Type: it.Type, Role: it.Role, Status: it.Status, Name: it.Name}
}

// onHistoryAdded mirrors a new conversation message into the transcript. The
// corrective guardrail message becomes a breadcrumb instead.
func (s *Session) onHistoryAdded(it realtime.Item) {
	if it.Status == "" {
		it.Status = "in_progress"
	}
	s.events.LogHistoryItem(historyItem(it))
	if it.Type != "message" || it.ID == "" || it.Role == "" {
		return
	}

	text := it.Text()
	if m := failureDetailsPattern.FindStringSubmatch(text); m != nil {
		var details any
		if err := json.Unmarshal([]byte(m[1]), &details); err != nil {
			details = m[1]
		}
		s.transcript.AddBreadcrumb("output guardrail active", map[string]any{"details": details})
		return
	}

	role := transcript.Role(it.Role)
	if role == transcript.RoleUser && text == "" {
		text = s.cfg.TranscribingText
	}
	s.transcript.AddMessage(it.ID, role, text, false)
}

func (s *Session) onHistoryUpdated(h *Handle, responseID string, it realtime.Item) {
	s.events.LogHistoryItem(historyItem(it))
	switch it.Type {
	case "message":
		if text := it.Text(); text != "" {
			s.transcript.UpdateMessage(it.ID, text, false)
		}
	case "function_call":
		s.onFunctionCall(h, responseID, it)
	}
}

// complete forces the final text, marks the message DONE and resolves a
// pending guardrail to a pass. Unknown items are left alone.
func (s *Session) complete(itemID string, final string) bool {
	if itemID == "" {
		return false
	}
	return s.transcript.Mutate(itemID, func(it *transcript.Item) bool {
		if final != "" {
			it.Text = final
		}
		it.Status = transcript.StatusDone
		if it.Guardrail != nil && it.Guardrail.Status == transcript.StatusInProgress {
			it.Guardrail = &transcript.GuardrailResult{Status: transcript.StatusDone, Category: transcript.CategoryNone}
		}
		return true
	})
}

// onFunctionCall routes a completed function call either to a handoff or to
// the tool queue of the response that produced it.
func (s *Session) onFunctionCall(h *Handle, responseID string, it realtime.Item) {
	s.mu.Lock()
	from := s.active
	set := s.agents
	s.mu.Unlock()

	if target, ok := set.ResolveHandoff(from, it.Name); ok {
		s.handoff(h, it, target)
		return
	}

	key := responseID
	if key == "" {
		key = "call:" + it.CallID
	}
	s.enqueueToolCall(h, key, pendingCall{item: it, agent: from, registry: set.Tools(from)})
}

type pendingCall struct {
	item     realtime.Item
	agent    string
	registry *tools.Registry
}

// toolBatch holds the function calls of one model response. A single worker
// runs them in arrival order.
type toolBatch struct {
	pending []pendingCall
}

func (s *Session) enqueueToolCall(h *Handle, key string, call pendingCall) {
	h.toolMu.Lock()
	b, running := h.batches[key]
	if !running {
		b = &toolBatch{}
		h.batches[key] = b
		h.batchSeq++
	}
	b.pending = append(b.pending, call)
	taskKey := fmt.Sprintf("tools:%s#%d", key, h.batchSeq)
	h.toolMu.Unlock()

	if !running {
		h.tasks.Go(h.ctx, taskKey, func(ctx context.Context) {
			s.runToolBatch(ctx, h, key, b)
		})
	}
}

// runToolBatch answers every queued call in order, then asks for one
// response once the queue is empty.
func (s *Session) runToolBatch(ctx context.Context, h *Handle, key string, b *toolBatch) {
	answered := 0
	for {
		h.toolMu.Lock()
		if len(b.pending) == 0 || ctx.Err() != nil {
			h.dropBatchLocked(key, b)
			h.toolMu.Unlock()
			break
		}
		call := b.pending[0]
		b.pending = b.pending[1:]
		h.toolMu.Unlock()

		ictx := tools.Context{
			History:    s.transcript.Snapshot(),
			Breadcrumb: func(title string, data any) { s.transcript.AddBreadcrumb(title, data) },
			Workspace:  s.workspace,
			Agent:      call.agent,
		}
		res := s.runner.RunNamed(ctx, call.registry, call.item.Name, call.item.Arguments, ictx)
		if ctx.Err() != nil {
			continue
		}
		if err := s.send(h, realtime.FunctionCallOutput(call.item.CallID, res.Output), ""); err != nil {
			h.toolMu.Lock()
			h.dropBatchLocked(key, b)
			h.toolMu.Unlock()
			return
		}
		answered++
	}
	if answered > 0 && ctx.Err() == nil {
		_ = s.send(h, realtime.ResponseCreate(), "")
	}
}

func (s *Session) handoff(h *Handle, it realtime.Item, target *agents.Agent) {
	s.mu.Lock()
	from := s.active
	s.handoffTriggered = true
	s.active = target.Name
	s.mu.Unlock()

	s.logger.Info("agent handoff", "session_id", h.ID, "from", from, "agent", target.Name)
	out, _ := json.Marshal(map[string]string{"assistant": target.Name})
	_ = s.send(h, realtime.FunctionCallOutput(it.CallID, string(out)), "")
	s.activate(h, target)
}

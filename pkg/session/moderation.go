package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vango-go/vai-voice-agents/pkg/agents/guardrail"
	"github.com/vango-go/vai-voice-agents/pkg/agents/transcript"
	"github.com/vango-go/vai-voice-agents/pkg/realtime"
)

// guardState accumulates the streamed text of one assistant message.
type guardState struct {
	text    string
	checked int
}

func (s *Session) onAssistantDelta(h *Handle, itemID, delta string) {
	if itemID == "" {
		return
	}
	if _, ok := s.transcript.Get(itemID); !ok {
		s.logger.Debug("delta for unknown item", "session_id", h.ID, "item_id", itemID)
		return
	}
	s.transcript.UpdateMessage(itemID, delta, true)
	if s.guardrail == nil {
		return
	}

	s.mu.Lock()
	g := s.guards[itemID]
	if g == nil {
		g = &guardState{}
		s.guards[itemID] = g
	}
	g.text += delta
	due := len(g.text)-g.checked >= s.cfg.GuardrailDebounceChars
	text := g.text
	if due {
		g.checked = len(text)
	}
	s.mu.Unlock()

	if due {
		s.check(h, itemID, text)
	}
}

func (s *Session) onAssistantDone(h *Handle, itemID, final string) {
	if itemID == "" {
		return
	}
	if !s.complete(itemID, final) {
		s.logger.Debug("completion for unknown item", "session_id", h.ID, "item_id", itemID)
		return
	}
	if s.guardrail == nil {
		return
	}

	s.mu.Lock()
	g := s.guards[itemID]
	delete(s.guards, itemID)
	s.mu.Unlock()

	if final == "" {
		it, _ := s.transcript.Get(itemID)
		final = it.Text
	}
	if final == "" || (g != nil && g.checked >= len(final)) {
		return
	}
	s.check(h, itemID, final)
}

// check classifies text in the background. The verdict targets itemID; if
// that message is gone it falls back to the last assistant message of the
// transcript as it was when the check started.
func (s *Session) check(h *Handle, itemID, text string) {
	var fallback string
	if last, ok := transcript.LastAssistantMessage(s.transcript.Snapshot()); ok {
		fallback = last.ItemID
	}
	s.transcript.Mutate(itemID, func(it *transcript.Item) bool {
		if it.Status == transcript.StatusDone || it.Guardrail != nil {
			return false
		}
		it.Guardrail = &transcript.GuardrailResult{Status: transcript.StatusInProgress}
		return true
	})

	key := fmt.Sprintf("guardrail:%s:%d", itemID, len(text))
	h.tasks.Go(h.ctx, key, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, s.cfg.GuardrailTimeout)
		defer cancel()
		out := s.guardrail.Check(ctx, text)
		if h.ctx.Err() != nil {
			return
		}
		s.applyVerdict(h, itemID, fallback, out)
	})
}

func (s *Session) applyVerdict(h *Handle, itemID, fallback string, out guardrail.Outcome) {
	target := itemID
	if _, ok := s.transcript.Get(target); !ok {
		target = fallback
	}
	if target == "" {
		return
	}

	if !out.Tripwire {
		s.transcript.Mutate(target, func(it *transcript.Item) bool {
			if it.Guardrail != nil && it.Guardrail.Status == transcript.StatusDone &&
				it.Guardrail.Category != transcript.CategoryNone {
				return false
			}
			it.Guardrail = &transcript.GuardrailResult{
				Status:    transcript.StatusDone,
				Category:  transcript.CategoryNone,
				Rationale: out.Verdict.Rationale,
			}
			return true
		})
		return
	}

	v := out.Verdict
	s.events.LogServer(map[string]any{"type": "guardrail_tripped", "payload": v}, "")
	s.logger.Info("guardrail tripped", "session_id", h.ID, "item_id", target, "category", v.Category)
	s.transcript.Patch(target, transcript.Patch{Guardrail: &transcript.GuardrailResult{
		Status:      transcript.StatusDone,
		Category:    v.Category,
		Rationale:   v.Rationale,
		FlaggedText: v.TestText,
	}})

	_ = s.send(h, realtime.ResponseCancel(), "guardrail")
	details, _ := json.Marshal(map[string]string{
		"moderationCategory":  string(v.Category),
		"moderationRationale": v.Rationale,
	})
	msg := "Your last response was blocked by the output guardrail. Apologize briefly and answer again within policy.\n" +
		"Failure Details: " + string(details)
	_ = s.send(h, realtime.UserMessage(newItemID(), msg), "")
	_ = s.send(h, realtime.ResponseCreate(), "")
}

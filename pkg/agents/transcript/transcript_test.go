package transcript

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestAddMessage_IsIdempotent(t *testing.T) {
	t.Parallel()

	s := New()
	if !s.AddMessage("m1", RoleUser, "first", false) {
		t.Fatal("first add should succeed")
	}
	if s.AddMessage("m1", RoleUser, "second", true) {
		t.Fatal("second add should be a no-op")
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d, want 1", s.Len())
	}
	it, ok := s.Get("m1")
	if !ok {
		t.Fatal("m1 missing")
	}
	if it.Text != "first" || it.Hidden {
		t.Fatalf("item=%+v, want first call preserved", it)
	}
	if it.Status != StatusInProgress {
		t.Fatalf("status=%q", it.Status)
	}
}

func TestUpdateMessage_AppendsDeltasInOrder(t *testing.T) {
	t.Parallel()

	s := New()
	s.AddMessage("m1", RoleAssistant, "", false)
	for _, d := range []string{"Hel", "lo", " world"} {
		s.UpdateMessage("m1", d, true)
	}
	it, _ := s.Get("m1")
	if it.Text != "Hello world" {
		t.Fatalf("text=%q", it.Text)
	}

	s.UpdateMessage("m1", "replaced", false)
	it, _ = s.Get("m1")
	if it.Text != "replaced" {
		t.Fatalf("text=%q", it.Text)
	}
}

func TestUpdateMessage_MissingItemDoesNotCreate(t *testing.T) {
	t.Parallel()

	s := New()
	if s.UpdateMessage("ghost", "boo", true) {
		t.Fatal("update of missing item should report false")
	}
	if s.Len() != 0 {
		t.Fatalf("len=%d", s.Len())
	}
}

func TestUpdateMessage_IgnoredAfterDone(t *testing.T) {
	t.Parallel()

	s := New()
	s.AddMessage("m1", RoleAssistant, "final", false)
	done := StatusDone
	s.Patch("m1", Patch{Status: &done})
	if s.UpdateMessage("m1", " more", true) {
		t.Fatal("finalized message should not accept deltas")
	}
	it, _ := s.Get("m1")
	if it.Text != "final" {
		t.Fatalf("text=%q", it.Text)
	}
}

func TestAddBreadcrumb_FreshIDs(t *testing.T) {
	t.Parallel()

	s := New()
	a := s.AddBreadcrumb("function call: lookupOrders", map[string]any{"phoneNumber": "(206) 555-1234"})
	b := s.AddBreadcrumb("function call: lookupOrders", nil)
	if a.ItemID == b.ItemID {
		t.Fatal("breadcrumbs must get distinct ids")
	}
	if !strings.HasPrefix(a.ItemID, "breadcrumb-") {
		t.Fatalf("id=%q", a.ItemID)
	}
	if a.Kind != KindBreadcrumb || a.Title != "function call: lookupOrders" {
		t.Fatalf("breadcrumb=%+v", a)
	}
}

func TestAddBreadcrumb_DecodesRawJSON(t *testing.T) {
	t.Parallel()

	s := New()
	it := s.AddBreadcrumb("result", json.RawMessage(`{"ok":true}`))
	m, ok := it.Data.(map[string]any)
	if !ok || m["ok"] != true {
		t.Fatalf("data=%#v", it.Data)
	}
}

func TestSnapshot_OrdersByCreationTime(t *testing.T) {
	t.Parallel()

	s := New(WithClock(fixedClock(time.Unix(0, 0))))
	s.AddMessage("b", RoleUser, "first", false)
	s.AddBreadcrumb("middle", nil)
	s.AddMessage("a", RoleAssistant, "last", false)
	s.UpdateMessage("b", " edited", true)

	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len=%d", len(snap))
	}
	if snap[0].ItemID != "b" || snap[1].Kind != KindBreadcrumb || snap[2].ItemID != "a" {
		t.Fatalf("order=%q,%q,%q", snap[0].ItemID, snap[1].ItemID, snap[2].ItemID)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	t.Parallel()

	s := New()
	s.AddMessage("m1", RoleAssistant, "hi", false)
	s.Patch("m1", Patch{Guardrail: &GuardrailResult{Status: StatusInProgress}})

	snap := s.Snapshot()
	snap[0].Text = "mutated"
	snap[0].Guardrail.Status = StatusDone

	it, _ := s.Get("m1")
	if it.Text != "hi" || it.Guardrail.Status != StatusInProgress {
		t.Fatalf("store leaked mutation: %+v", it)
	}
}

func TestToggleExpand(t *testing.T) {
	t.Parallel()

	s := New()
	bc := s.AddBreadcrumb("x", nil)
	s.ToggleExpand(bc.ItemID)
	it, _ := s.Get(bc.ItemID)
	if !it.Expanded {
		t.Fatal("expected expanded")
	}
	s.ToggleExpand(bc.ItemID)
	it, _ = s.Get(bc.ItemID)
	if it.Expanded {
		t.Fatal("expected collapsed")
	}
}

func TestLastAssistantMessage(t *testing.T) {
	t.Parallel()

	s := New(WithClock(fixedClock(time.Unix(0, 0))))
	s.AddMessage("u1", RoleUser, "q", false)
	s.AddMessage("a1", RoleAssistant, "x", false)
	s.AddMessage("a2", RoleAssistant, "y", false)
	s.AddBreadcrumb("tool", nil)

	it, ok := LastAssistantMessage(s.Snapshot())
	if !ok || it.ItemID != "a2" {
		t.Fatalf("last=%+v ok=%v", it, ok)
	}
	if _, ok := LastAssistantMessage(nil); ok {
		t.Fatal("expected no assistant in empty history")
	}
}

func TestObserver_SeesMutations(t *testing.T) {
	t.Parallel()

	var ops []Op
	s := New(WithObserver(func(op Op, _ Item) { ops = append(ops, op) }))
	s.AddMessage("m1", RoleUser, "", false)
	s.AddMessage("m1", RoleUser, "", false)
	s.UpdateMessage("m1", "x", true)
	s.UpdateMessage("missing", "x", true)

	if len(ops) != 2 || ops[0] != OpAdded || ops[1] != OpUpdated {
		t.Fatalf("ops=%v", ops)
	}
}

func TestConcurrentDeltasAcrossItems(t *testing.T) {
	t.Parallel()

	s := New()
	s.AddMessage("a", RoleAssistant, "", false)
	s.AddMessage("b", RoleAssistant, "", false)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s.UpdateMessage(id, ".", true)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		it, _ := s.Get(id)
		if len(it.Text) != 100 {
			t.Fatalf("%s len=%d", id, len(it.Text))
		}
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	if ParseCategory("OFF_BRAND") != CategoryOffBrand {
		t.Fatal("OFF_BRAND")
	}
	if ParseCategory("weird") != CategoryUnknown {
		t.Fatal("unknown")
	}
}

// Package transcript holds the ordered, in-memory conversation view of a
// realtime session: messages keyed by backend item id, plus breadcrumbs that
// surface internal activity (tool calls, handoffs, moderation) without taking
// a conversational turn.
//
// All mutations are applied under a single lock so readers never observe a
// partially-applied update. Snapshots are deep copies sorted by creation time.
package transcript

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindMessage    Kind = "MESSAGE"
	KindBreadcrumb Kind = "BREADCRUMB"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Category is a moderation verdict class.
type Category string

const (
	CategoryNone          Category = "NONE"
	CategoryOffensive     Category = "OFFENSIVE"
	CategoryOffBrand      Category = "OFF_BRAND"
	CategoryViolence      Category = "VIOLENCE"
	CategoryOffTopic      Category = "OFF_TOPIC"
	CategoryInappropriate Category = "INAPPROPRIATE"
	CategoryUnknown       Category = "UNKNOWN"
)

// ParseCategory maps a classifier string onto a Category. Unrecognized
// values map to CategoryUnknown.
func ParseCategory(s string) Category {
	switch c := Category(s); c {
	case CategoryNone, CategoryOffensive, CategoryOffBrand, CategoryViolence,
		CategoryOffTopic, CategoryInappropriate:
		return c
	default:
		return CategoryUnknown
	}
}

// GuardrailResult is the moderation state attached to an assistant message.
type GuardrailResult struct {
	Status      Status   `json:"status"`
	Category    Category `json:"category,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
	FlaggedText string   `json:"flaggedText,omitempty"`
}

// Item is either a Message or a Breadcrumb, discriminated by Kind.
type Item struct {
	ItemID    string           `json:"itemId"`
	Kind      Kind             `json:"type"`
	Role      Role             `json:"role,omitempty"`
	Text      string           `json:"text,omitempty"`
	Title     string           `json:"title,omitempty"`
	Data      any              `json:"data,omitempty"`
	Expanded  bool             `json:"expanded"`
	Status    Status           `json:"status,omitempty"`
	Hidden    bool             `json:"isHidden,omitempty"`
	Guardrail *GuardrailResult `json:"guardrailResult,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`

	seq uint64
}

func (it Item) IsMessage() bool { return it.Kind == KindMessage }

func (it Item) clone() Item {
	out := it
	if it.Guardrail != nil {
		g := *it.Guardrail
		out.Guardrail = &g
	}
	return out
}

// Patch carries optional auxiliary-field updates. Nil fields are left as-is.
type Patch struct {
	Status    *Status
	Guardrail *GuardrailResult
	Hidden    *bool
	Text      *string
	Title     *string
}

// Op names a transcript mutation for observers.
type Op string

const (
	OpAdded   Op = "added"
	OpUpdated Op = "updated"
)

// Observer is notified after each mutation, outside the store lock.
type Observer func(op Op, item Item)

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(s *Store) { s.observer = fn }
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	items    map[string]*Item
	seq      uint64
	logger   *slog.Logger
	now      func() time.Time
	observer Observer
}

func New(opts ...Option) *Store {
	s := &Store{
		items:  make(map[string]*Item),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddMessage creates an IN_PROGRESS message. A second call for the same id
// is ignored and reported as false.
func (s *Store) AddMessage(itemID string, role Role, text string, hidden bool) bool {
	s.mu.Lock()
	if _, exists := s.items[itemID]; exists {
		s.mu.Unlock()
		s.logger.Warn("transcript message already exists", "item_id", itemID, "role", string(role))
		return false
	}
	s.seq++
	it := &Item{
		ItemID:    itemID,
		Kind:      KindMessage,
		Role:      role,
		Text:      text,
		Status:    StatusInProgress,
		Hidden:    hidden,
		CreatedAt: s.now(),
		seq:       s.seq,
	}
	s.items[itemID] = it
	snap := it.clone()
	s.mu.Unlock()

	s.notify(OpAdded, snap)
	return true
}

// UpdateMessage appends to or replaces a message's text. Missing ids and
// finalized messages are left untouched.
func (s *Store) UpdateMessage(itemID, text string, appendText bool) bool {
	return s.mutate(itemID, func(it *Item) bool {
		if it.Kind != KindMessage || it.Status == StatusDone {
			return false
		}
		if appendText {
			it.Text += text
		} else {
			it.Text = text
		}
		return true
	})
}

// AddBreadcrumb always creates a new entry with a fresh id.
func (s *Store) AddBreadcrumb(title string, data any) Item {
	s.mu.Lock()
	s.seq++
	it := &Item{
		ItemID:    "breadcrumb-" + uuid.NewString(),
		Kind:      KindBreadcrumb,
		Title:     title,
		Data:      normalizeData(data),
		CreatedAt: s.now(),
		seq:       s.seq,
	}
	s.items[it.ItemID] = it
	snap := it.clone()
	s.mu.Unlock()

	s.notify(OpAdded, snap)
	return snap
}

func (s *Store) ToggleExpand(itemID string) bool {
	return s.mutate(itemID, func(it *Item) bool {
		it.Expanded = !it.Expanded
		return true
	})
}

// Patch applies the non-nil fields of p.
func (s *Store) Patch(itemID string, p Patch) bool {
	return s.mutate(itemID, func(it *Item) bool {
		if p.Status != nil {
			it.Status = *p.Status
		}
		if p.Guardrail != nil {
			g := *p.Guardrail
			it.Guardrail = &g
		}
		if p.Hidden != nil {
			it.Hidden = *p.Hidden
		}
		if p.Text != nil {
			it.Text = *p.Text
		}
		if p.Title != nil {
			it.Title = *p.Title
		}
		return true
	})
}

// Mutate runs fn against the live item under the store lock. fn reports
// whether it changed anything.
func (s *Store) Mutate(itemID string, fn func(*Item) bool) bool {
	return s.mutate(itemID, fn)
}

func (s *Store) mutate(itemID string, fn func(*Item) bool) bool {
	s.mu.Lock()
	it, ok := s.items[itemID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	changed := fn(it)
	var snap Item
	if changed {
		snap = it.clone()
	}
	s.mu.Unlock()

	if changed {
		s.notify(OpUpdated, snap)
	}
	return changed
}

func (s *Store) Get(itemID string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[itemID]
	if !ok {
		return Item{}, false
	}
	return it.clone(), true
}

// Snapshot returns every item ordered by creation time.
func (s *Store) Snapshot() []Item {
	s.mu.Lock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Messages returns the message items of Snapshot, hidden ones included.
func (s *Store) Messages() []Item {
	all := s.Snapshot()
	out := all[:0]
	for _, it := range all {
		if it.Kind == KindMessage {
			out = append(out, it)
		}
	}
	return out
}

// LastAssistantMessage returns the newest assistant message, if any.
func LastAssistantMessage(items []Item) (Item, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind == KindMessage && items[i].Role == RoleAssistant {
			return items[i], true
		}
	}
	return Item{}, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) notify(op Op, it Item) {
	if s.observer != nil {
		s.observer(op, it)
	}
}

// normalizeData keeps raw JSON readable in snapshots.
func normalizeData(data any) any {
	raw, ok := data.(json.RawMessage)
	if !ok {
		return data
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

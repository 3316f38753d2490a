// Package eventlog keeps a bounded, FIFO-evicting record of raw realtime
// protocol events for diagnostics.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is the number of entries retained before the oldest is evicted.
const DefaultCapacity = 1000

// DefaultSinkTimeout bounds one Sink.Append so a slow sink cannot stall the
// goroutine that logs, typically the realtime event loop.
const DefaultSinkTimeout = 250 * time.Millisecond

type Direction string

const (
	DirectionClient Direction = "client"
	DirectionServer Direction = "server"
)

type Entry struct {
	ID        string          `json:"id"`
	Direction Direction       `json:"direction"`
	Name      string          `json:"eventName"`
	Data      json.RawMessage `json:"eventData"`
	Timestamp time.Time       `json:"timestamp"`
	Expanded  bool            `json:"expanded"`
}

// Sink receives every appended entry. Implementations must be safe for
// concurrent use.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// HistoryItem is the subset of a conversation item used to name history log
// entries.
type HistoryItem struct {
	ItemID string `json:"item_id,omitempty"`
	Type   string `json:"type"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
	Name   string `json:"name,omitempty"`
}

type Option func(*Log)

func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithSinkTimeout overrides DefaultSinkTimeout.
func WithSinkTimeout(d time.Duration) Option {
	return func(l *Log) {
		if d > 0 {
			l.sinkTimeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// Log is a ring buffer of entries. The zero value is not usable; use New.
type Log struct {
	mu       sync.Mutex
	buf      []Entry
	head     int
	n        int
	capacity int

	sink        Sink
	sinkTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func New(opts ...Option) *Log {
	l := &Log{
		capacity:    DefaultCapacity,
		sinkTimeout: DefaultSinkTimeout,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.buf = make([]Entry, l.capacity)
	return l
}

// LogClient records an outbound event. event may be any JSON-marshalable
// value or raw JSON bytes.
func (l *Log) LogClient(event any, suffix string) Entry {
	return l.add(DirectionClient, event, suffix)
}

// LogServer records an inbound event.
func (l *Log) LogServer(event any, suffix string) Entry {
	return l.add(DirectionServer, event, suffix)
}

// LogHistoryItem records a conversation item under a name derived from its
// kind: "<role>.<status>" for messages, "function.<name>.<status>" for calls.
func (l *Log) LogHistoryItem(item HistoryItem) Entry {
	name := item.Type
	switch item.Type {
	case "message":
		name = item.Role + "." + item.Status
	case "function_call":
		name = "function." + item.Name + "." + item.Status
	}
	raw, _ := json.Marshal(item)
	return l.append(DirectionServer, name, "", raw)
}

func (l *Log) add(dir Direction, event any, suffix string) Entry {
	raw := toRaw(event)
	var head struct {
		Type    string `json:"type"`
		EventID string `json:"event_id"`
	}
	_ = json.Unmarshal(raw, &head)
	name := strings.TrimSpace(head.Type + " " + suffix)
	return l.append(dir, name, head.EventID, raw)
}

func (l *Log) append(dir Direction, name, id string, raw json.RawMessage) Entry {
	if id == "" {
		id = uuid.NewString()
	}
	e := Entry{
		ID:        id,
		Direction: dir,
		Name:      name,
		Data:      raw,
		Timestamp: l.now(),
	}

	l.mu.Lock()
	idx := (l.head + l.n) % l.capacity
	if l.n == l.capacity {
		// full: overwrite the oldest and advance.
		idx = l.head
		l.head = (l.head + 1) % l.capacity
	} else {
		l.n++
	}
	l.buf[idx] = e
	l.mu.Unlock()

	if l.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), l.sinkTimeout)
		err := l.sink.Append(ctx, e)
		cancel()
		if err != nil {
			l.logger.Warn("event log sink append failed", "error", err, "event", name)
		}
	}
	return e
}

// Snapshot returns entries oldest first.
func (l *Log) Snapshot() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, l.n)
	for i := 0; i < l.n; i++ {
		out[i] = l.buf[(l.head+i)%l.capacity]
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// ToggleExpand flips the expanded flag of the first entry with id.
func (l *Log) ToggleExpand(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < l.n; i++ {
		idx := (l.head + i) % l.capacity
		if l.buf[idx].ID == id {
			l.buf[idx].Expanded = !l.buf[idx].Expanded
			return true
		}
	}
	return false
}

func toRaw(event any) json.RawMessage {
	switch v := event.(type) {
	case nil:
		return json.RawMessage(`{}`)
	case json.RawMessage:
		if json.Valid(v) {
			return v
		}
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v)
		}
	default:
		if b, err := json.Marshal(v); err == nil {
			return b
		}
	}
	b, _ := json.Marshal(map[string]string{"raw": toString(event)})
	return b
}

func toString(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

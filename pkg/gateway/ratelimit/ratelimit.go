// Package ratelimit is a single-process, per-principal limiter. Every API
// call draws from a request bucket and holds a concurrency slot; minting a
// realtime session additionally draws from a slower session bucket, since
// each minted key opens a billed realtime conversation.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentRequests int

	// SessionsPerMinute caps ephemeral key minting. Zero disables it.
	SessionsPerMinute int

	// Bounds for the in-memory principal map.
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry
}

// entry is the state of one principal.
type entry struct {
	mu       sync.Mutex
	requests bucket
	sessions bucket
	slots    chan struct{}
	lastSeen time.Time
}

// bucket is a token bucket that starts full.
type bucket struct {
	tokens float64
	last   time.Time
	primed bool
}

// take refills at rate tokens/second up to capacity and removes one token.
// When empty it reports the whole seconds until a token is available.
func (b *bucket) take(now time.Time, rate, capacity float64) (bool, int) {
	if !b.primed {
		b.tokens, b.last, b.primed = capacity, now, true
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed*rate)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	// The epsilon keeps float error from rounding an exact wait up a second.
	return false, max(1, int(math.Ceil((1-b.tokens)/rate-1e-9)))
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{cfg: cfg, entries: make(map[string]*entry)}
}

// PrincipalKeyFromAPIKey hashes a gateway key so raw keys never sit in the
// limiter map.
func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

// Release is idempotent and nil-safe.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// Entries reports how many principals are tracked.
func (l *Limiter) Entries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// AcquireRequest admits one API call. An allowed decision carries a permit
// that must be released when the call finishes.
func (l *Limiter) AcquireRequest(principal string, now time.Time) Decision {
	e := l.lookup(principal, now)

	if l.cfg.RPS > 0 && l.cfg.Burst > 0 {
		e.mu.Lock()
		ok, retry := e.requests.take(now, l.cfg.RPS, float64(l.cfg.Burst))
		e.mu.Unlock()
		if !ok {
			return Decision{RetryAfter: retry}
		}
	}

	if l.cfg.MaxConcurrentRequests <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	select {
	case e.slots <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-e.slots }}}
	default:
		return Decision{RetryAfter: 1}
	}
}

// AcquireSession admits one ephemeral key mint. It does not hold a slot.
func (l *Limiter) AcquireSession(principal string, now time.Time) Decision {
	if l.cfg.SessionsPerMinute <= 0 {
		return Decision{Allowed: true}
	}
	e := l.lookup(principal, now)
	perMinute := float64(l.cfg.SessionsPerMinute)

	e.mu.Lock()
	ok, retry := e.sessions.take(now, perMinute/60, perMinute)
	e.mu.Unlock()
	if !ok {
		return Decision{RetryAfter: retry}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) lookup(principal string, now time.Time) *entry {
	if principal == "" {
		principal = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[principal]; ok {
		e.lastSeen = now
		return e
	}
	if len(l.entries) >= l.cfg.MaxEntries {
		l.evictLocked(now)
	}
	e := &entry{
		slots:    make(chan struct{}, max(1, l.cfg.MaxConcurrentRequests)),
		lastSeen: now,
	}
	l.entries[principal] = e
	return e
}

// evictLocked drops idle principals, then an arbitrary one if the map is
// still full.
func (l *Limiter) evictLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.cfg.EntryTTL {
			delete(l.entries, k)
		}
	}
	if len(l.entries) < l.cfg.MaxEntries {
		return
	}
	for k := range l.entries {
		delete(l.entries, k)
		return
	}
}

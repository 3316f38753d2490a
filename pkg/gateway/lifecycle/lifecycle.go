// Package lifecycle carries the gateway's drain state from the binary's
// signal handling to the readiness endpoint.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// Lifecycle is safe for concurrent use. The zero value is serving.
type Lifecycle struct {
	// Unix nanoseconds of the drain start; zero while serving.
	drainingSince atomic.Int64
}

// StartDraining marks the gateway as draining. Later calls keep the first
// timestamp.
func (l *Lifecycle) StartDraining(now time.Time) {
	if l == nil {
		return
	}
	l.drainingSince.CompareAndSwap(0, now.UnixNano())
}

// Resume returns the gateway to serving.
func (l *Lifecycle) Resume() {
	if l == nil {
		return
	}
	l.drainingSince.Store(0)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.drainingSince.Load() != 0
}

// DrainingSince reports when draining started.
func (l *Lifecycle) DrainingSince() (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	ns := l.drainingSince.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/vango-go/vai-voice-agents/pkg/agents"
	"github.com/vango-go/vai-voice-agents/pkg/realtime"
)

const taskDrainTimeout = 2 * time.Second

// Handle is one live connection. It is created by Connect and torn down by
// Disconnect; a reconnect always produces a new Handle.
type Handle struct {
	ID string

	conn   realtime.Conn
	agents *agents.Set
	ctx    context.Context
	cancel context.CancelFunc
	tasks  *taskTracker
	done   chan struct{}

	toolMu   sync.Mutex
	batches  map[string]*toolBatch
	batchSeq uint64
}

func newHandle(id string, conn realtime.Conn, set *agents.Set) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handle{
		ID:      id,
		conn:    conn,
		agents:  set,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   newTaskTracker(),
		done:    make(chan struct{}),
		batches: make(map[string]*toolBatch),
	}
}

// Context is canceled when the handle is torn down.
func (h *Handle) Context() context.Context { return h.ctx }

// Agents is the agent set the connection was negotiated with.
func (h *Handle) Agents() *agents.Set { return h.agents }

// Done is closed once the event loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// InFlight reports the number of running tool calls and guardrail checks.
func (h *Handle) InFlight() int { return h.tasks.Count() }

func (h *Handle) dropBatchLocked(key string, b *toolBatch) {
	if h.batches[key] == b {
		delete(h.batches, key)
	}
}

func (h *Handle) teardown() {
	h.cancel()
	h.tasks.CancelAll()
	_ = h.conn.Close()
}

// drain waits briefly for canceled tasks to return.
func (h *Handle) drain() bool {
	ctx, cancel := context.WithTimeout(context.Background(), taskDrainTimeout)
	defer cancel()
	return h.tasks.Wait(ctx)
}

package session

import (
	"context"
	"sync"
)

// taskTracker owns the background work of one connection: tool calls and
// guardrail checks. Every task gets a cancelable child context so teardown
// can stop them all.
type taskTracker struct {
	mu    sync.Mutex
	tasks map[string]*trackedTask
	wg    sync.WaitGroup
}

type trackedTask struct {
	cancel context.CancelFunc
	once   sync.Once
}

func newTaskTracker() *taskTracker {
	return &taskTracker{tasks: make(map[string]*trackedTask)}
}

// Go runs fn in its own goroutine under key. A second task with the same key
// cancels the first.
func (t *taskTracker) Go(parent context.Context, key string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	unregister := t.register(key, cancel)
	go func() {
		defer unregister()
		defer cancel()
		fn(ctx)
	}()
}

func (t *taskTracker) register(key string, cancel context.CancelFunc) (unregister func()) {
	entry := &trackedTask{cancel: cancel}

	t.mu.Lock()
	old := t.tasks[key]
	t.tasks[key] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		old.cancel()
	}
	return func() { t.unregister(key, entry) }
}

func (t *taskTracker) unregister(key string, entry *trackedTask) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.tasks[key] == entry {
			delete(t.tasks, key)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *taskTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

func (t *taskTracker) CancelAll() (canceled int) {
	var cancels []context.CancelFunc
	t.mu.Lock()
	for _, entry := range t.tasks {
		cancels = append(cancels, entry.cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every task has returned or ctx is done.
func (t *taskTracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Package scheduler provides a deferred-work queue keyed by id. Dispatch
// completions and settlement pay-out transitions are scheduled here so a
// cancellation can deterministically remove a pending task instead of
// racing a timer.
package scheduler

import (
	"sync"
	"time"

	"github.com/gridmesh/vpp/core/logger"
)

// Queue schedules one pending func per key. Scheduling a key again
// replaces the previous entry.
type Queue struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
	log    logger.Logger
}

// NewQueue creates an empty queue.
func NewQueue(log logger.Logger) *Queue {
	return &Queue{timers: map[string]*time.Timer{}, log: log}
}

// Schedule runs fn after delay unless the key is cancelled first. fn runs
// on the timer goroutine.
func (q *Queue) Schedule(key string, delay time.Duration, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if t, ok := q.timers[key]; ok {
		t.Stop()
		q.log.Warnf("scheduler: replacing pending task %s", key)
	}
	// The fired closure runs only while it still owns the map entry, so a
	// replacement scheduled after an already-expired timer is never lost.
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		owner := q.timers[key] == t
		if owner {
			delete(q.timers, key)
		}
		q.mu.Unlock()
		if owner {
			fn()
		}
	})
	q.timers[key] = t
}

// Cancel removes the pending task for key. It reports whether a task was
// pending.
func (q *Queue) Cancel(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(q.timers, key)
	return true
}

// Pending returns the number of scheduled tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Close cancels every pending task. Further Schedule calls are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for key, t := range q.timers {
		t.Stop()
		delete(q.timers, key)
	}
}

// Package signalqueue holds the inbound signaling log and the processor that
// replays it, in order and exactly once, into the call.
package signalqueue

import (
	"sync"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signaling"
)

// Queue is an append-only, ordered log of inbound signals. The transport
// appends; the Processor reads behind a cursor. Safe for concurrent use.
type Queue struct {
	mu      sync.RWMutex
	signals []signaling.Signal
	changed chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{changed: make(chan struct{}, 1)}
}

// Append adds sig at the end of the queue and raises a change notification.
func (q *Queue) Append(sig signaling.Signal) {
	q.mu.Lock()
	q.signals = append(q.signals, sig)
	q.mu.Unlock()

	q.Notify()
}

// Notify raises a change notification without appending. Notifications
// coalesce: any number of them before the processor wakes count as one.
func (q *Queue) Notify() {
	select {
	case q.changed <- struct{}{}:
	default:
	}
}

// Changed delivers a value after one or more Append/Notify calls.
func (q *Queue) Changed() <-chan struct{} {
	return q.changed
}

// Len returns the number of signals ever appended.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.signals)
}

// Since returns a copy of the signals after index cursor, i.e.
// queue[cursor+1:]. A cursor of -1 returns everything.
func (q *Queue) Since(cursor int) []signaling.Signal {
	q.mu.RLock()
	defer q.mu.RUnlock()

	start := cursor + 1
	if start < 0 {
		start = 0
	}
	if start >= len(q.signals) {
		return nil
	}

	out := make([]signaling.Signal, len(q.signals)-start)
	copy(out, q.signals[start:])
	return out
}

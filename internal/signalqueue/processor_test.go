package signalqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRouter struct {
	mu     sync.Mutex
	routed []signaling.Signal
	fail   map[int]error
	hook   func(n int)
}

func (r *recordingRouter) RouteSignal(_ context.Context, sig signaling.Signal) error {
	r.mu.Lock()
	r.routed = append(r.routed, sig)
	n := len(r.routed)
	hook := r.hook
	err := r.fail[n]
	r.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return err
}

func (r *recordingRouter) snapshot() []signaling.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signaling.Signal(nil), r.routed...)
}

func candidate(s string) signaling.Signal {
	return signaling.NewCandidate(webrtc.ICECandidateInit{Candidate: s})
}

func TestProcessRoutesInOrderExactlyOnce(t *testing.T) {
	q := New()
	r := &recordingRouter{}
	p := NewProcessor(q, r)

	assert.Equal(t, -1, p.LastProcessedIndex())
	assert.Equal(t, 0, p.Process(context.Background()))

	q.Append(signaling.NewOffer("o"))
	q.Append(candidate("c1"))
	q.Append(candidate("c2"))

	assert.Equal(t, 3, p.Process(context.Background()))
	assert.Equal(t, 2, p.LastProcessedIndex())

	// Redundant notifications with nothing new route nothing.
	q.Notify()
	q.Notify()
	assert.Equal(t, 0, p.Process(context.Background()))

	q.Append(candidate("c3"))
	assert.Equal(t, 1, p.Process(context.Background()))
	assert.Equal(t, 3, p.LastProcessedIndex())

	got := r.snapshot()
	require.Len(t, got, 4)
	assert.Equal(t, signaling.KindOffer, got[0].Type)
	assert.Equal(t, "c1", got[1].Candidate.Candidate)
	assert.Equal(t, "c2", got[2].Candidate.Candidate)
	assert.Equal(t, "c3", got[3].Candidate.Candidate)
}

func TestProcessContinuesPastRouterErrors(t *testing.T) {
	q := New()
	r := &recordingRouter{fail: map[int]error{1: errors.New("boom")}}
	p := NewProcessor(q, r)

	q.Append(signaling.NewAnswer("a"))
	q.Append(candidate("c1"))

	assert.Equal(t, 2, p.Process(context.Background()))
	assert.Len(t, r.snapshot(), 2)
	assert.Equal(t, 1, p.LastProcessedIndex())
}

func TestSignalsAppendedMidBatchWaitForNextBatch(t *testing.T) {
	q := New()
	r := &recordingRouter{}
	r.hook = func(n int) {
		if n == 1 {
			q.Append(candidate("late"))
		}
	}
	p := NewProcessor(q, r)

	q.Append(signaling.NewOffer("o"))
	q.Append(candidate("c1"))

	assert.Equal(t, 2, p.Process(context.Background()))
	assert.Equal(t, 1, p.LastProcessedIndex())

	assert.Equal(t, 1, p.Process(context.Background()))
	got := r.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, "late", got[2].Candidate.Candidate)
}

func TestProcessStopsOnCancelWithoutLosingSignals(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	r := &recordingRouter{}
	r.hook = func(n int) {
		if n == 1 {
			cancel()
		}
	}
	p := NewProcessor(q, r)

	q.Append(candidate("c1"))
	q.Append(candidate("c2"))

	assert.Equal(t, 1, p.Process(ctx))
	assert.Equal(t, 0, p.LastProcessedIndex())

	r.hook = nil
	assert.Equal(t, 1, p.Process(context.Background()))
	got := r.snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[1].Candidate.Candidate)
}

func TestRunDrainsOnNotification(t *testing.T) {
	q := New()
	r := &recordingRouter{}
	p := NewProcessor(q, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 5; i++ {
		q.Append(candidate("c"))
	}

	assert.Eventually(t, func() bool {
		return len(r.snapshot()) == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 4, p.LastProcessedIndex())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSinceReturnsCopy(t *testing.T) {
	q := New()
	q.Append(candidate("c1"))

	batch := q.Since(-1)
	require.Len(t, batch, 1)
	batch[0] = signaling.NewBye()

	assert.Equal(t, signaling.KindCandidate, q.Since(-1)[0].Type)
	assert.Nil(t, q.Since(0))
	assert.Equal(t, 1, q.Len())
}

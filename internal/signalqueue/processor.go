package signalqueue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Atharv-Kokate/Agentic-AI-Nurse-CrewAI-sub000/internal/signaling"
)

// Router decides what happens to each queued signal. The call state machine
// implements it: an offer while idle becomes an incoming call, everything
// else reaches the peer connection.
type Router interface {
	RouteSignal(ctx context.Context, sig signaling.Signal) error
}

// Processor feeds queued signals to a Router strictly in arrival order and
// never hands the same queue index over twice.
type Processor struct {
	queue  *Queue
	router Router

	// mu serialises batches; a second Process waits for the first.
	mu                 sync.Mutex
	lastProcessedIndex int
}

// NewProcessor returns a processor positioned before the first signal.
func NewProcessor(queue *Queue, router Router) *Processor {
	return &Processor{
		queue:              queue,
		router:             router,
		lastProcessedIndex: -1,
	}
}

// Process routes every signal appended since the last batch, one at a time,
// waiting for each RouteSignal to return before starting the next. The
// cursor moves once, after the batch. If ctx is cancelled mid-batch the
// cursor covers only what was routed, so the rest is picked up next time.
// It returns the number of signals routed.
func (p *Processor) Process(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := p.queue.Since(p.lastProcessedIndex)
	if len(batch) == 0 {
		return 0
	}

	slog.Debug("processing signals", "count", len(batch), "from", p.lastProcessedIndex+1)

	for i, sig := range batch {
		if err := ctx.Err(); err != nil {
			slog.Debug("signal batch interrupted", "processed", i, "error", err)
			p.lastProcessedIndex += i
			return i
		}
		if err := p.router.RouteSignal(ctx, sig); err != nil {
			slog.Warn("signal not applied", "kind", sig.Type, "index", p.lastProcessedIndex+1+i, "error", err)
		}
	}

	p.lastProcessedIndex += len(batch)
	return len(batch)
}

// LastProcessedIndex returns the queue index of the last routed signal,
// or -1 before the first batch.
func (p *Processor) LastProcessedIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastProcessedIndex
}

// Run processes a batch on every queue notification until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.queue.Changed():
			p.Process(ctx)
		}
	}
}

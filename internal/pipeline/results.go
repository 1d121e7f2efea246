package pipeline

import (
	"context"
	"sync"

	"codeberg.org/mutker/eegpipe/internal/signal"
)

// ResultStats counts traffic through a Results mailbox.
type ResultStats struct {
	Published   uint64
	Overwritten uint64
	Consumed    uint64
}

// Results is a single-slot mailbox between the tick loop and a consumer.
// A new summary replaces one that has not been read yet, so consumers only
// ever see the most recent result.
type Results struct {
	mu     sync.Mutex
	latest *signal.Summary
	closed bool
	stats  ResultStats
	ready  chan struct{}
	done   chan struct{}
}

func NewResults() *Results {
	return &Results{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Publish stores s without blocking. It reports false if the mailbox is
// closed.
func (r *Results) Publish(s signal.Summary) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if r.latest != nil {
		r.stats.Overwritten++
	}
	r.latest = &s
	r.stats.Published++

	select {
	case r.ready <- struct{}{}:
	default:
	}

	return true
}

// TryReceive takes the pending summary, if any, without blocking.
func (r *Results) TryReceive() (signal.Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.take()
}

// Receive waits for a summary. It returns false when ctx is done or the
// mailbox is closed and drained.
func (r *Results) Receive(ctx context.Context) (signal.Summary, bool) {
	for {
		r.mu.Lock()
		if s, ok := r.take(); ok {
			r.mu.Unlock()
			return s, true
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return signal.Summary{}, false
		}

		select {
		case <-ctx.Done():
			return signal.Summary{}, false
		case <-r.done:
		case <-r.ready:
		}
	}
}

// Close stops further publishing and wakes blocked receivers. A pending
// summary can still be received.
func (r *Results) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.done)
}

// Closed is closed once Close has been called.
func (r *Results) Closed() <-chan struct{} {
	return r.done
}

func (r *Results) Stats() ResultStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Results) take() (signal.Summary, bool) {
	if r.latest == nil {
		return signal.Summary{}, false
	}
	s := *r.latest
	r.latest = nil
	r.stats.Consumed++
	return s, true
}

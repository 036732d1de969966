package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/monitoring"
)

type queuedItem[H any] struct {
	h   H
	buf *bufpool.Buffer
}

// Queued runs a listener on its own goroutine behind a bounded queue so a
// slow consumer cannot stall the receive loop. Each queued message holds a
// reference on its buffer until the wrapped listener returns. When the queue
// is full the newest message is dropped.
type Queued[H any] struct {
	l  Listener[H]
	ch chan queuedItem[H]

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewQueued starts a queued wrapper around l. depth is at least 1.
func NewQueued[H any](l Listener[H], depth int) *Queued[H] {
	if depth < 1 {
		depth = 1
	}
	q := &Queued[H]{
		l:    l,
		ch:   make(chan queuedItem[H], depth),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queued[H]) run() {
	defer close(q.done)
	for item := range q.ch {
		q.l.Dispatch(&item.h, item.buf)
		if item.buf != nil {
			item.buf.Release()
		}
		q.delivered.Add(1)
	}
}

// Dispatch implements Listener. The header is copied; its slices keep
// pointing into buf, which stays retained while queued.
func (q *Queued[H]) Dispatch(h *H, buf *bufpool.Buffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if buf != nil {
		buf.Retain()
	}
	select {
	case q.ch <- queuedItem[H]{h: *h, buf: buf}:
	default:
		if buf != nil {
			buf.Release()
		}
		if n := q.dropped.Add(1); n == 1 || n%100 == 0 {
			monitoring.Logf("dispatch: queued listener full, %d messages dropped", n)
		}
	}
}

// Close stops accepting messages, delivers what is already queued and waits
// for the worker to exit. It is safe to call more than once.
func (q *Queued[H]) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}

// Delivered returns the number of messages handed to the wrapped listener.
func (q *Queued[H]) Delivered() uint64 { return q.delivered.Load() }

// Dropped returns the number of messages discarded because the queue was full.
func (q *Queued[H]) Dropped() uint64 { return q.dropped.Load() }

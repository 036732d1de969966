// Package watch lets callers block until a keyed event is signalled by the
// receive loop. It bridges the one-way data stream and request/response
// commands: register interest, send the command, then wait for the reply.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/multisense/internal/timeutil"
)

// ErrTimedOut is returned when no signal arrives before the deadline.
var ErrTimedOut = errors.New("timed out")

// Watch correlates signals with waiters by key. Every waiter registered on a
// key is released by the next signal for that key.
type Watch[K comparable, P any] struct {
	clock timeutil.Clock

	mu      sync.Mutex
	waiters map[K]map[*Ticket[K, P]]struct{}

	signals  uint64
	released uint64
	timeouts uint64
}

// New returns a Watch using clock for deadlines. A nil clock uses real time.
func New[K comparable, P any](clock timeutil.Clock) *Watch[K, P] {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Watch[K, P]{
		clock:   clock,
		waiters: make(map[K]map[*Ticket[K, P]]struct{}),
	}
}

// Ticket is a registered interest in one signal for a key. Register before
// sending a request so a fast reply cannot be missed.
type Ticket[K comparable, P any] struct {
	w   *Watch[K, P]
	key K
	ch  chan P
}

// Prepare registers a waiter for key without blocking.
func (w *Watch[K, P]) Prepare(key K) *Ticket[K, P] {
	t := &Ticket[K, P]{w: w, key: key, ch: make(chan P, 1)}

	w.mu.Lock()
	set := w.waiters[key]
	if set == nil {
		set = make(map[*Ticket[K, P]]struct{})
		w.waiters[key] = set
	}
	set[t] = struct{}{}
	w.mu.Unlock()
	return t
}

// Wait blocks until key is signalled, the timeout passes or ctx is done.
func (w *Watch[K, P]) Wait(ctx context.Context, key K, timeout time.Duration) (P, error) {
	return w.Prepare(key).Wait(ctx, timeout)
}

// Wait blocks until the ticket's key is signalled, the timeout passes or ctx
// is done. A ticket is used once; it is unregistered when Wait returns.
func (t *Ticket[K, P]) Wait(ctx context.Context, timeout time.Duration) (P, error) {
	timer := t.w.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-t.ch:
		return p, nil
	case <-timer.C():
		if p, ok := t.cancel(); ok {
			return p, nil
		}
		t.w.mu.Lock()
		t.w.timeouts++
		t.w.mu.Unlock()
		var zero P
		return zero, fmt.Errorf("%w after %v waiting for %v", ErrTimedOut, timeout, t.key)
	case <-ctx.Done():
		if p, ok := t.cancel(); ok {
			return p, nil
		}
		var zero P
		return zero, ctx.Err()
	}
}

// Cancel unregisters the ticket without waiting.
func (t *Ticket[K, P]) Cancel() { t.cancel() }

// cancel removes the ticket and returns a payload that raced in, if any.
func (t *Ticket[K, P]) cancel() (P, bool) {
	t.w.mu.Lock()
	if set := t.w.waiters[t.key]; set != nil {
		delete(set, t)
		if len(set) == 0 {
			delete(t.w.waiters, t.key)
		}
	}
	t.w.mu.Unlock()

	select {
	case p := <-t.ch:
		return p, true
	default:
		var zero P
		return zero, false
	}
}

// Signal releases every waiter on key with payload and returns how many were
// released.
func (w *Watch[K, P]) Signal(key K, payload P) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.signals++
	set := w.waiters[key]
	delete(w.waiters, key)
	for t := range set {
		t.ch <- payload // buffered; each ticket is signalled at most once
	}
	w.released += uint64(len(set))
	return len(set)
}

// Waiting returns the number of waiters parked on key.
func (w *Watch[K, P]) Waiting(key K) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.waiters[key])
}

// Stats counts signals, released waiters and timeouts.
type Stats struct {
	Waiting  int    `json:"waiting"`
	Signals  uint64 `json:"signals"`
	Released uint64 `json:"released"`
	Timeouts uint64 `json:"timeouts"`
}

// Stats returns a snapshot of the counters.
func (w *Watch[K, P]) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, set := range w.waiters {
		n += len(set)
	}
	return Stats{Waiting: n, Signals: w.signals, Released: w.released, Timeouts: w.timeouts}
}

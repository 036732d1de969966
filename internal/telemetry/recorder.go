package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/multisense/internal/monitoring"
	"github.com/banshee-data/multisense/internal/rx"
	"github.com/banshee-data/multisense/internal/timeutil"
	"github.com/banshee-data/multisense/internal/wire"
)

// replyQueueDepth bounds replies waiting to be written.
const replyQueueDepth = 64

// StatsSource is anything that can report engine counters.
type StatsSource interface {
	Stats() rx.Stats
}

// Recorder writes a snapshot of the engine every interval and every reply
// handed to OnReply. Database writes happen on the Run goroutine only.
type Recorder struct {
	store    *Store
	source   StatsSource
	clock    timeutil.Clock
	interval time.Duration

	replies chan reply
	dropped atomic.Uint64
	written atomic.Uint64
}

type reply struct {
	at  time.Time
	msg wire.Message
}

// NewRecorder returns a Recorder. A nil clock uses the real clock.
func NewRecorder(store *Store, source StatsSource, clock timeutil.Clock, interval time.Duration) *Recorder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Recorder{
		store:    store,
		source:   source,
		clock:    clock,
		interval: interval,
		replies:  make(chan reply, replyQueueDepth),
	}
}

// OnReply queues m for storage. It never blocks; when the queue is full the
// reply is counted and dropped. Suitable as rx.Config.OnReply.
func (r *Recorder) OnReply(m wire.Message) {
	select {
	case r.replies <- reply{at: r.clock.Now(), msg: m}:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			monitoring.Logf("telemetry: reply queue full, %d replies dropped", n)
		}
	}
}

// Dropped returns the number of replies lost to a full queue.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of rows stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Run writes until ctx is done, then flushes queued replies and one final
// snapshot.
func (r *Recorder) Run(ctx context.Context) {
	var tick <-chan time.Time
	if r.interval > 0 && r.source != nil {
		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.snapshot()
			return
		case <-tick:
			r.snapshot()
		case rep := <-r.replies:
			r.writeReply(rep)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case rep := <-r.replies:
			r.writeReply(rep)
		default:
			return
		}
	}
}

func (r *Recorder) snapshot() {
	if r.source == nil {
		return
	}
	if err := r.store.RecordStats(r.clock.Now(), r.source.Stats()); err != nil {
		monitoring.Logf("telemetry: %v", err)
		return
	}
	r.written.Add(1)
}

func (r *Recorder) writeReply(rep reply) {
	if err := r.store.RecordReply(rep.at, rep.msg); err != nil {
		monitoring.Logf("telemetry: %v", err)
		return
	}
	r.written.Add(1)
}

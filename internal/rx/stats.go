package rx

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/dispatch"
	"github.com/banshee-data/multisense/internal/monitoring"
	"github.com/banshee-data/multisense/internal/watch"
)

// latencyWindow is the number of recent multi-datagram messages kept for the
// reassembly latency summary.
const latencyWindow = 1024

type counters struct {
	datagrams      atomic.Uint64
	bytes          atomic.Uint64
	framingErrors  atomic.Uint64
	lateFragments  atomic.Uint64
	allocFailures  atomic.Uint64
	poolExhausted  atomic.Uint64
	assembleErrors atomic.Uint64
	messages       atomic.Uint64
	dispatchErrors atomic.Uint64
	panics         atomic.Uint64
	evictions      atomic.Uint64
	readErrors     atomic.Uint64
}

// latencies is a ring of reassembly durations in milliseconds.
type latencies struct {
	mu      sync.Mutex
	samples []float64
	next    int
}

func (l *latencies) add(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ms := float64(d) / float64(time.Millisecond)
	if len(l.samples) < latencyWindow {
		l.samples = append(l.samples, ms)
		return
	}
	l.samples[l.next] = ms
	l.next = (l.next + 1) % latencyWindow
}

// Latency summarises reassembly time of multi-datagram messages.
type Latency struct {
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P99Ms  float64 `json:"p99_ms"`
	MaxMs  float64 `json:"max_ms"`
}

func (l *latencies) summary() Latency {
	l.mu.Lock()
	sorted := slices.Clone(l.samples)
	l.mu.Unlock()

	if len(sorted) == 0 {
		return Latency{}
	}
	slices.Sort(sorted)
	return Latency{
		Count:  len(sorted),
		MeanMs: stat.Mean(sorted, nil),
		P50Ms:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P99Ms:  stat.Quantile(0.99, stat.Empirical, sorted, nil),
		MaxMs:  sorted[len(sorted)-1],
	}
}

// Stats is a snapshot of the engine and its components.
type Stats struct {
	Datagrams      uint64 `json:"datagrams"`
	Bytes          uint64 `json:"bytes"`
	FramingErrors  uint64 `json:"framing_errors"`
	LateFragments  uint64 `json:"late_fragments"`
	AllocFailures  uint64 `json:"alloc_failures"`
	PoolExhausted  uint64 `json:"pool_exhausted"`
	AssembleErrors uint64 `json:"assemble_errors"`
	Messages       uint64 `json:"messages"`
	DispatchErrors uint64 `json:"dispatch_errors"`
	Panics         uint64 `json:"panics"`
	ReadErrors     uint64 `json:"read_errors"`

	TrackersInFlight int    `json:"trackers_in_flight"`
	TrackerEvictions uint64 `json:"tracker_evictions"`

	Latency  Latency        `json:"latency"`
	Pool     bufpool.Stats  `json:"pool"`
	Dispatch dispatch.Stats `json:"dispatch"`
	Watch    watch.Stats    `json:"watch"`
}

// Dropped sums the datagrams and messages discarded for any reason.
func (s Stats) Dropped() uint64 {
	return s.FramingErrors + s.LateFragments + s.AllocFailures + s.PoolExhausted +
		s.AssembleErrors + s.DispatchErrors + s.Panics + s.TrackerEvictions
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	c := &e.stats
	return Stats{
		Datagrams:        c.datagrams.Load(),
		Bytes:            c.bytes.Load(),
		FramingErrors:    c.framingErrors.Load(),
		LateFragments:    c.lateFragments.Load(),
		AllocFailures:    c.allocFailures.Load(),
		PoolExhausted:    c.poolExhausted.Load(),
		AssembleErrors:   c.assembleErrors.Load(),
		Messages:         c.messages.Load(),
		DispatchErrors:   c.dispatchErrors.Load(),
		Panics:           c.panics.Load(),
		ReadErrors:       c.readErrors.Load(),
		TrackersInFlight: e.trackers.Len(),
		TrackerEvictions: c.evictions.Load(),
		Latency:          e.latency.summary(),
		Pool:             e.pool.Stats(),
		Dispatch:         e.dispatcher.Stats(),
		Watch:            e.dispatcher.Watch().Stats(),
	}
}

// logStats reports counters shortly after start and then every interval.
func (e *Engine) logStats(ctx context.Context) {
	if e.statsInterval <= 0 {
		return
	}
	timer := e.clock.NewTimer(2 * time.Second)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C():
		e.logStatsOnce()
	}

	ticker := e.clock.NewTicker(e.statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			e.logStatsOnce()
		}
	}
}

func (e *Engine) logStatsOnce() {
	s := e.Stats()
	monitoring.Logf("rx: %d datagrams (%d bytes), %d messages, %d dropped, %d trackers in flight, reassembly p50 %.2fms p99 %.2fms",
		s.Datagrams, s.Bytes, s.Messages, s.Dropped(), s.TrackersInFlight, s.Latency.P50Ms, s.Latency.P99Ms)
}

// Package bufpool provides the fixed two-tier pool of receive buffers that
// reassembled messages are written into.
//
// Small messages (acks, replies, metadata, IMU batches) take buffers from the
// small tier and images take buffers from the large tier. The number of
// buffers in each tier is fixed; when a tier has no free buffer the message is
// dropped rather than allocating more. Buffers are created lazily the first
// time their slot is used, so an idle engine does not hold the full large
// tier in memory.
package bufpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/multisense/internal/monitoring"
)

var (
	// ErrAllocation is returned when a message is larger than the large tier.
	ErrAllocation = errors.New("message too large for receive buffers")

	// ErrPoolExhausted is returned when every buffer of the selected tier is
	// in use.
	ErrPoolExhausted = errors.New("no free receive buffers")
)

// Tier identifies one of the two buffer size classes.
type Tier int

const (
	Small Tier = iota
	Large
)

func (t Tier) String() string {
	if t == Small {
		return "small"
	}
	return "large"
}

// Config sizes the pool. Zero fields take the defaults.
type Config struct {
	SmallSize  int
	SmallCount int
	LargeSize  int
	LargeCount int
}

// Defaults for a stereo head streaming full resolution images.
const (
	DefaultSmallSize  = 10 * 1024
	DefaultSmallCount = 100
	DefaultLargeSize  = 10 * 1024 * 1024
	DefaultLargeCount = 50
)

func (c Config) withDefaults() Config {
	if c.SmallSize <= 0 {
		c.SmallSize = DefaultSmallSize
	}
	if c.SmallCount <= 0 {
		c.SmallCount = DefaultSmallCount
	}
	if c.LargeSize <= 0 {
		c.LargeSize = DefaultLargeSize
	}
	if c.LargeCount <= 0 {
		c.LargeCount = DefaultLargeCount
	}
	return c
}

// Buffer is one pooled receive buffer. A buffer handed out by Acquire holds
// one reference. Consumers that keep it beyond a dispatch callback call
// Retain before returning and Release when done; the pool reuses a buffer
// only once every reference has been released.
type Buffer struct {
	tier Tier
	data []byte
	n    int

	refs atomic.Int32
}

// Bytes returns the message bytes held by the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Len returns the length of the message held by the buffer.
func (b *Buffer) Len() int { return b.n }

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int { return len(b.data) }

// Tier returns the size class the buffer belongs to.
func (b *Buffer) Tier() Tier { return b.tier }

// Retain adds a reference.
func (b *Buffer) Retain() {
	if b == nil {
		return
	}
	b.refs.Add(1)
}

// Release drops a reference. A buffer with no references is free for reuse.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	if n := b.refs.Add(-1); n < 0 {
		// Unbalanced Release; clamp so the buffer stays reusable.
		b.refs.Store(0)
		monitoring.Logf("bufpool: unbalanced release of %s buffer", b.tier)
	}
}

// RefCount returns the current reference count (for tests and diagnostics).
func (b *Buffer) RefCount() int32 { return b.refs.Load() }

type tier struct {
	size  int
	slots []*Buffer // nil until first use

	acquired  uint64
	exhausted uint64
}

func newTier(size, count int) tier {
	return tier{size: size, slots: make([]*Buffer, count)}
}

func (t *tier) acquire(kind Tier, n int) *Buffer {
	for i, b := range t.slots {
		if b == nil {
			b = &Buffer{tier: kind, data: make([]byte, t.size)}
			t.slots[i] = b
		}
		if b.refs.CompareAndSwap(0, 1) {
			b.n = n
			t.acquired++
			return b
		}
	}
	t.exhausted++
	return nil
}

func (t *tier) stats() TierStats {
	s := TierStats{Size: t.size, Count: len(t.slots), Acquired: t.acquired, Exhausted: t.exhausted}
	for _, b := range t.slots {
		if b == nil {
			continue
		}
		s.Allocated++
		if b.refs.Load() > 0 {
			s.InUse++
		}
	}
	return s
}

// Pool is the two-tier receive buffer pool. It is safe for concurrent use,
// although only the receive loop acquires buffers.
type Pool struct {
	mu    sync.Mutex
	small tier
	large tier

	oversize uint64

	recommended Config
}

// New builds a pool sized by cfg.
func New(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	if cfg.LargeSize < cfg.SmallSize {
		cfg.LargeSize = cfg.SmallSize
	}
	return &Pool{
		small:       newTier(cfg.SmallSize, cfg.SmallCount),
		large:       newTier(cfg.LargeSize, cfg.LargeCount),
		recommended: cfg,
	}
}

// Acquire returns a free buffer able to hold n bytes, chosen from the
// smallest tier that fits. The buffer's length is set to n.
func (p *Pool) Acquire(n int) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case n <= p.small.size:
		if b := p.small.acquire(Small, n); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("%w: %s tier, %d bytes", ErrPoolExhausted, Small, n)
	case n <= p.large.size:
		if b := p.large.acquire(Large, n); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("%w: %s tier, %d bytes", ErrPoolExhausted, Large, n)
	default:
		p.oversize++
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrAllocation, n, p.large.size)
	}
}

// ReplaceLarge swaps the large tier for caller-supplied buffers. Each buffer
// becomes one slot; the tier size is the smallest buffer length. Buffers
// from the old tier that are still referenced stay valid until released.
func (p *Pool) ReplaceLarge(buffers [][]byte) error {
	if len(buffers) == 0 {
		return fmt.Errorf("no buffers supplied")
	}
	size := len(buffers[0])
	for _, b := range buffers[1:] {
		size = min(size, len(b))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if size < p.small.size {
		return fmt.Errorf("large buffers of %d bytes are smaller than the small tier (%d bytes)", size, p.small.size)
	}

	if len(buffers) < p.recommended.LargeCount || size < p.recommended.LargeSize {
		monitoring.Logf("bufpool: using %d large buffers of %d bytes, recommended %d of %d bytes",
			len(buffers), size, p.recommended.LargeCount, p.recommended.LargeSize)
	}

	t := tier{size: size, slots: make([]*Buffer, len(buffers))}
	for i, b := range buffers {
		t.slots[i] = &Buffer{tier: Large, data: b[:size]}
	}
	p.large = t
	return nil
}

// LargeDetails returns the recommended number and size of large buffers.
func (p *Pool) LargeDetails() (count, size int) {
	return p.recommended.LargeCount, p.recommended.LargeSize
}

// TierStats describes one tier.
type TierStats struct {
	Size      int    `json:"size"`
	Count     int    `json:"count"`
	Allocated int    `json:"allocated"`
	InUse     int    `json:"in_use"`
	Acquired  uint64 `json:"acquired"`
	Exhausted uint64 `json:"exhausted"`
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Small    TierStats `json:"small"`
	Large    TierStats `json:"large"`
	Oversize uint64    `json:"oversize"`
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Small: p.small.stats(), Large: p.large.stats(), Oversize: p.oversize}
}

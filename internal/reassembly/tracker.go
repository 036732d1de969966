package reassembly

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/wire"
)

// Tracker accumulates the fragments of one message in a pooled buffer.
type Tracker struct {
	id       wire.ID
	asm      Assembler
	buf      *bufpool.Buffer
	total    uint32
	received atomic.Uint64
	packets  atomic.Int64
	started  time.Time
}

// NewTracker starts a message from its first fragment (byte offset zero).
// The assembler is looked up from the id carried in that fragment and a
// buffer large enough for the assembled message is taken from pool. Only the
// id is needed up front unless the assembler is a Sizer.
func NewTracker(pool *bufpool.Pool, asms *Assemblers, messageLength uint32, first []byte, now time.Time) (*Tracker, error) {
	id, ok := wire.PeekID(first)
	if !ok {
		return nil, fmt.Errorf("first fragment: %w: need 2 bytes for the id, have %d", wire.ErrTruncated, len(first))
	}

	asm := asms.For(id)
	size := int(messageLength)
	if s, ok := asm.(Sizer); ok {
		var err error
		if size, err = s.BufferSize(messageLength, first); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
	}

	buf, err := pool.Acquire(size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}

	return &Tracker{
		id:      id,
		asm:     asm,
		buf:     buf,
		total:   messageLength,
		started: now,
	}, nil
}

// Assemble writes one fragment and reports whether the message is complete.
// Overlapping or repeated fragments overwrite earlier bytes and still count
// towards the total.
func (t *Tracker) Assemble(offset uint32, fragment []byte) (bool, error) {
	if uint64(offset)+uint64(len(fragment)) > uint64(t.total) {
		return false, fmt.Errorf("%w: %d bytes at offset %d, message length %d", ErrFragmentBounds, len(fragment), offset, t.total)
	}
	if err := t.asm.Assemble(t.buf.Bytes(), offset, fragment); err != nil {
		return false, err
	}
	t.packets.Add(1)
	t.received.Add(uint64(len(fragment)))

	if !t.Complete() {
		return false, nil
	}
	if f, ok := t.asm.(Finisher); ok {
		if err := f.Finish(t.buf.Bytes()); err != nil {
			return false, fmt.Errorf("%s: finish: %w", t.id, err)
		}
	}
	return true, nil
}

// Complete reports whether the cumulative fragment bytes equal the message
// length. A repeated fragment that overshoots the length leaves the message
// incomplete until the tracker is evicted.
func (t *Tracker) Complete() bool { return t.received.Load() == uint64(t.total) }

// ID returns the message id from the first fragment.
func (t *Tracker) ID() wire.ID { return t.id }

// Packets returns the number of fragments assembled so far. It may be called
// from another goroutine while fragments arrive.
func (t *Tracker) Packets() int { return int(t.packets.Load()) }

// Received returns the cumulative fragment bytes. It may be called from
// another goroutine while fragments arrive.
func (t *Tracker) Received() uint64 { return t.received.Load() }

// Length returns the message length on the wire.
func (t *Tracker) Length() uint32 { return t.total }

// Started returns when the first fragment arrived.
func (t *Tracker) Started() time.Time { return t.started }

// Buffer returns the message buffer. It is only meaningful once Complete.
func (t *Tracker) Buffer() *bufpool.Buffer { return t.buf }

// Release returns the buffer to the pool. It is safe to call more than once.
func (t *Tracker) Release() {
	if t.buf != nil {
		t.buf.Release()
		t.buf = nil
	}
}

package reassembly

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/wire"
)

type fragment struct {
	offset uint32
	data   []byte
}

// split cuts msg into fragments at the given cut points.
func split(msg []byte, cuts []int) []fragment {
	var out []fragment
	prev := 0
	for _, c := range append(cuts, len(msg)) {
		if c <= prev {
			continue
		}
		out = append(out, fragment{offset: uint32(prev), data: msg[prev:c]})
		prev = c
	}
	return out
}

func testMessage(n int, rng *rand.Rand) []byte {
	msg := make([]byte, n)
	rng.Read(msg)
	binary.LittleEndian.PutUint16(msg[0:], uint16(wire.IDCamConfig))
	binary.LittleEndian.PutUint16(msg[2:], 1)
	return msg
}

// A message cut into fragments of arbitrary sizes reassembles byte for byte
// whatever order the fragments arrive in, as long as the first fragment
// starts the tracker.
func TestTrackerPermutations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := bufpool.New(bufpool.Config{SmallSize: 4096, SmallCount: 4, LargeSize: 1 << 16, LargeCount: 2})
	asms := NewAssemblers()

	for trial := 0; trial < 200; trial++ {
		msg := testMessage(8+rng.Intn(3000), rng)
		ncuts := rng.Intn(12)
		cuts := make([]int, ncuts)
		// The first fragment carries at least the id.
		for i := range cuts {
			cuts[i] = 2 + rng.Intn(len(msg)-2)
		}
		// Sort cuts so fragments are disjoint.
		for i := 1; i < len(cuts); i++ {
			for j := i; j > 0 && cuts[j] < cuts[j-1]; j-- {
				cuts[j], cuts[j-1] = cuts[j-1], cuts[j]
			}
		}
		frags := split(msg, cuts)
		if frags[0].offset != 0 {
			t.Fatal("first fragment does not start at zero")
		}
		rest := frags[1:]
		rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

		tr, err := NewTracker(pool, asms, uint32(len(msg)), frags[0].data, time.Now())
		require.NoError(t, err)

		order := append([]fragment{frags[0]}, rest...)
		for i, f := range order {
			done, err := tr.Assemble(f.offset, f.data)
			require.NoError(t, err)
			if done != (i == len(order)-1) {
				t.Fatalf("trial %d: complete=%v after %d/%d fragments", trial, done, i+1, len(order))
			}
		}
		if !bytes.Equal(tr.Buffer().Bytes(), msg) {
			t.Fatalf("trial %d: reassembled bytes differ", trial)
		}
		assert.Equal(t, len(order), tr.Packets())
		tr.Release()
	}

	s := pool.Stats()
	assert.Zero(t, s.Small.InUse+s.Large.InUse, "buffers leaked")
}

func TestTrackerStartsFromIDOnlyFragment(t *testing.T) {
	pool := bufpool.New(bufpool.Config{SmallSize: 64, SmallCount: 1, LargeSize: 128, LargeCount: 1})
	msg := testMessage(24, rand.New(rand.NewSource(4)))

	tr, err := NewTracker(pool, NewAssemblers(), uint32(len(msg)), msg[:2], time.Now())
	require.NoError(t, err)
	defer tr.Release()
	assert.Equal(t, wire.IDCamConfig, tr.ID())

	for off := 0; off < len(msg); off += 2 {
		done, err := tr.Assemble(uint32(off), msg[off:off+2])
		require.NoError(t, err)
		assert.Equal(t, off+2 == len(msg), done)
	}
	assert.Equal(t, msg, tr.Buffer().Bytes())
	assert.Equal(t, 12, tr.Packets())
}

func TestTrackerRejectsOverflow(t *testing.T) {
	pool := bufpool.New(bufpool.Config{SmallSize: 64, SmallCount: 1, LargeSize: 128, LargeCount: 1})
	msg := testMessage(32, rand.New(rand.NewSource(1)))

	tr, err := NewTracker(pool, NewAssemblers(), 32, msg[:16], time.Now())
	require.NoError(t, err)
	defer tr.Release()

	_, err = tr.Assemble(30, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrFragmentBounds)
	assert.Zero(t, tr.Packets(), "rejected fragment was counted")
}

func TestTrackerPoolErrors(t *testing.T) {
	pool := bufpool.New(bufpool.Config{SmallSize: 64, SmallCount: 1, LargeSize: 128, LargeCount: 1})
	asms := NewAssemblers()
	first := testMessage(16, rand.New(rand.NewSource(2)))

	_, err := NewTracker(pool, asms, 4096, first, time.Now())
	assert.ErrorIs(t, err, bufpool.ErrAllocation)

	held, err := NewTracker(pool, asms, 32, first, time.Now())
	require.NoError(t, err)
	_, err = NewTracker(pool, asms, 32, first, time.Now())
	assert.ErrorIs(t, err, bufpool.ErrPoolExhausted)

	held.Release()
	held.Release() // idempotent
	_, err = NewTracker(pool, asms, 32, first, time.Now())
	assert.NoError(t, err)

	_, err = NewTracker(pool, asms, 32, first[:1], time.Now())
	assert.ErrorIs(t, err, wire.ErrTruncated)
}

func TestCustomAssembler(t *testing.T) {
	pool := bufpool.New(bufpool.Config{SmallSize: 64, SmallCount: 1, LargeSize: 128, LargeCount: 1})
	asms := NewAssemblers()

	var calls int
	asms.Register(wire.IDCamConfig, AssemblerFunc(func(dst []byte, off uint32, frag []byte) error {
		calls++
		return Copy.Assemble(dst, off, frag)
	}))

	msg := testMessage(20, rand.New(rand.NewSource(3)))
	tr, err := NewTracker(pool, asms, 20, msg, time.Now())
	require.NoError(t, err)
	done, err := tr.Assemble(0, msg)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, 1, calls)
	tr.Release()

	asms.Register(wire.IDCamConfig, nil)
	assert.Equal(t, Copy, asms.For(wire.IDCamConfig))
}

func disparityMessage(t *testing.T, frameID int64, w, h uint16) (encoded, pixels []byte) {
	t.Helper()
	pixels = make([]byte, int(w)*int(h)*2)
	for i := 0; i < int(w)*int(h); i++ {
		binary.LittleEndian.PutUint16(pixels[2*i:], uint16(i*31+7)%4096)
	}
	encoded, err := wire.Encode(&wire.Disparity{FrameID: frameID, Width: w, Height: h, Data: pixels})
	require.NoError(t, err)
	return encoded, pixels
}

func TestDisparityAssembler(t *testing.T) {
	pool := bufpool.New(bufpool.Config{SmallSize: 256, SmallCount: 2, LargeSize: 1 << 16, LargeCount: 2})
	asms := NewAssemblers()

	for _, geom := range [][2]uint16{{4, 3}, {7, 5}, {64, 48}} {
		encoded, pixels := disparityMessage(t, 11, geom[0], geom[1])

		// Odd fragment size so fragments split pixel pairs and the meta block.
		var frags []fragment
		for off := 0; off < len(encoded); off += 7 {
			end := min(off+7, len(encoded))
			frags = append(frags, fragment{uint32(off), encoded[off:end]})
		}
		rest := frags[1:]
		rand.New(rand.NewSource(int64(geom[0]))).Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

		tr, err := NewTracker(pool, asms, uint32(len(encoded)), frags[0].data[:0:0], time.Now())
		if err == nil {
			t.Fatal("tracker accepted a disparity first fragment without geometry")
		}

		tr, err = NewTracker(pool, asms, uint32(len(encoded)), encoded[:wire.DisparityMetaSize], time.Now())
		require.NoError(t, err)
		require.Equal(t, wire.DisparityMetaSize+len(pixels), tr.Buffer().Len())

		var done bool
		for _, f := range append([]fragment{frags[0]}, rest...) {
			done, err = tr.Assemble(f.offset, f.data)
			require.NoError(t, err)
		}
		require.True(t, done)

		m, err := wire.Decode(tr.Buffer().Bytes())
		require.NoError(t, err)
		d := m.(*wire.Disparity)
		assert.Equal(t, int64(11), d.FrameID)
		assert.Equal(t, geom[0], d.Width)
		assert.Equal(t, pixels, d.Data, "geometry %v", geom)
		tr.Release()
	}
}

func TestDisparityLengthMismatch(t *testing.T) {
	pool := bufpool.New(bufpool.Config{})
	encoded, _ := disparityMessage(t, 1, 4, 4)
	_, err := NewTracker(pool, NewAssemblers(), uint32(len(encoded)+1), encoded, time.Now())
	if err == nil || errors.Is(err, bufpool.ErrAllocation) {
		t.Fatalf("err = %v, want geometry mismatch", err)
	}
}

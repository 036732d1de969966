package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/dispatch"
	"github.com/banshee-data/multisense/internal/monitoring"
	"github.com/banshee-data/multisense/internal/rx"
	"github.com/banshee-data/multisense/internal/wire"
)

func init() {
	monitoring.SetLogger(nil)
}

// capture collects written datagrams.
type capture struct{ datagrams [][]byte }

func (c *capture) Write(b []byte) (int, error) {
	c.datagrams = append(c.datagrams, append([]byte(nil), b...))
	return len(b), nil
}

func newEngine(t *testing.T) *rx.Engine {
	t.Helper()
	e, err := rx.New(rx.Config{
		Socket: rx.NewMockUDPSocket(),
		Pool:   bufpool.Config{SmallSize: 16 * 1024, SmallCount: 16, LargeSize: 64 * 1024, LargeCount: 4},
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSimulatedStreamReassembles(t *testing.T) {
	c := &capture{}
	s := &sender{w: c, maxPayload: maxPayload(1500)}
	dev := newDevice(64, 48, 10, time.Now().Add(-3*time.Second))

	require.NoError(t, run(context.Background(), s, dev, time.Millisecond, 2))
	assert.Greater(t, len(c.datagrams), s.messages, "images span several datagrams")

	e := newEngine(t)
	var disparity []dispatch.ImageHeader
	e.Registry().AddImageListener(wire.SourceDisparity, dispatch.ListenerFunc[dispatch.ImageHeader](
		func(h *dispatch.ImageHeader, _ *bufpool.Buffer) {
			disparity = append(disparity, dispatch.ImageHeader{FrameID: h.FrameID, BitsPerPixel: h.BitsPerPixel, Data: append([]byte(nil), h.Data...)})
		}))

	for _, d := range c.datagrams {
		require.NoError(t, e.Handle(d))
	}

	st := e.Stats()
	assert.Equal(t, uint64(s.messages), st.Messages)
	assert.Equal(t, uint64(0), st.Dropped())
	assert.Equal(t, uint64(6), st.Dispatch.Images, "luma, disparity and jpeg per frame")
	assert.Equal(t, uint64(2), st.Dispatch.Lidar)
	assert.Equal(t, uint64(2), st.Dispatch.Imu)
	assert.GreaterOrEqual(t, st.Dispatch.Pps, uint64(1))

	require.Len(t, disparity, 2)
	assert.Equal(t, uint32(wire.DisparityBitsPerPixel), disparity[1].BitsPerPixel)
	require.Len(t, disparity[1].Data, 64*48*2)
	// Pixel i of frame 2 carries (i+2) & 0xfff.
	assert.Equal(t, []byte{2, 0, 3, 0}, disparity[1].Data[:4])

	_, ok := e.Dispatcher().Stored(wire.IDVersionResponse)
	assert.True(t, ok)
	mtu, ok := e.Dispatcher().Stored(wire.IDSysMtu)
	require.True(t, ok)
	assert.Equal(t, int32(1500), mtu.(*wire.SysMtu).Mtu)
}

func TestDroppedDatagramsAreEvicted(t *testing.T) {
	c := &capture{}
	s := &sender{w: c, maxPayload: 512, drop: 20, rng: rand.New(rand.NewSource(7))}
	dev := newDevice(64, 48, 10, time.Now())

	require.NoError(t, run(context.Background(), s, dev, time.Millisecond, 30))
	require.Positive(t, s.dropped)

	e := newEngine(t)
	for _, d := range c.datagrams {
		_ = e.Handle(d)
	}

	st := e.Stats()
	assert.Less(t, st.Messages, uint64(s.messages))
	assert.Positive(t, st.LateFragments+st.TrackerEvictions)
	assert.LessOrEqual(t, st.TrackersInFlight, rx.DefaultTrackerCacheDepth)
	// Only trackers still in flight hold buffers.
	assert.Equal(t, st.TrackersInFlight, st.Pool.Small.InUse)
	assert.Len(t, e.Trackers(), st.TrackersInFlight)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := &capture{}
	s := &sender{w: c, maxPayload: maxPayload(9000)}
	dev := newDevice(8, 8, 10, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := run(ctx, s, dev, time.Hour, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEmpty(t, c.datagrams)
}

func TestMaxPayload(t *testing.T) {
	assert.Equal(t, 1500-28-wire.HeaderSize, maxPayload(1500))
}

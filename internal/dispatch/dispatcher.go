// Package dispatch turns reassembled messages into listener callbacks and
// stored replies. Streaming data (images, lidar, PPS, IMU) fans out to
// registered listeners; command replies are kept per type for the command
// layer. Every handled message then signals the Watch.
package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/cache"
	"github.com/banshee-data/multisense/internal/monitoring"
	"github.com/banshee-data/multisense/internal/timeutil"
	"github.com/banshee-data/multisense/internal/watch"
	"github.com/banshee-data/multisense/internal/wire"
)

// ErrMissingMetadata is returned when an image arrives whose frame has no
// cached metadata record. The image is dropped.
var ErrMissingMetadata = errors.New("no metadata for image frame")

// DefaultMetaCacheDepth is used when Config.MetaCacheDepth is zero.
const DefaultMetaCacheDepth = 20

// Watch is the reply correlation used by the dispatcher: keyed by message
// id, carrying the decoded message.
type Watch = watch.Watch[wire.ID, wire.Message]

// Ticket is a registered wait on a Watch.
type Ticket = watch.Ticket[wire.ID, wire.Message]

// NewWatch returns a Watch using clock for deadlines.
func NewWatch(clock timeutil.Clock) *Watch { return watch.New[wire.ID, wire.Message](clock) }

// Config wires a Dispatcher. Nil fields get fresh defaults.
type Config struct {
	Registry        *Registry
	Watch           *Watch
	Translator      timeutil.Translator
	MetaCacheDepth  int
	NetworkTimeSync bool
	// OnStore, when set, is called with every stored reply from the
	// dispatching goroutine. It must not block.
	OnStore func(wire.Message)
}

// Dispatcher routes complete messages. Dispatch is called from the receive
// goroutine; the accessors are safe from any goroutine.
type Dispatcher struct {
	registry   *Registry
	watch      *Watch
	translator timeutil.Translator
	meta       *cache.Cache[int64, *wire.ImageMeta]
	timeSync   atomic.Bool
	onStore    func(wire.Message)

	storedMu sync.Mutex
	stored   map[wire.ID]wire.Message

	stats counters
}

type counters struct {
	messages        atomic.Uint64
	unknown         atomic.Uint64
	decodeErrors    atomic.Uint64
	missingMetadata atomic.Uint64
	stored          atomic.Uint64
	images          atomic.Uint64
	lidar           atomic.Uint64
	pps             atomic.Uint64
	imu             atomic.Uint64
	deliveries      atomic.Uint64
}

// New returns a Dispatcher for cfg.
func New(cfg Config) *Dispatcher {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Watch == nil {
		cfg.Watch = NewWatch(nil)
	}
	if cfg.Translator == nil {
		cfg.Translator = timeutil.Identity
	}
	if cfg.MetaCacheDepth <= 0 {
		cfg.MetaCacheDepth = DefaultMetaCacheDepth
	}
	d := &Dispatcher{
		registry:   cfg.Registry,
		watch:      cfg.Watch,
		translator: cfg.Translator,
		meta:       cache.New[int64, *wire.ImageMeta](cfg.MetaCacheDepth, nil),
		stored:     make(map[wire.ID]wire.Message),
		onStore:    cfg.OnStore,
	}
	d.timeSync.Store(cfg.NetworkTimeSync)
	return d
}

// Registry returns the listener registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Watch returns the reply correlation signalled by Dispatch.
func (d *Dispatcher) Watch() *Watch { return d.watch }

// SetNetworkTimeSync turns device-to-host time translation on or off.
func (d *Dispatcher) SetNetworkTimeSync(enabled bool) { d.timeSync.Store(enabled) }

// NetworkTimeSync reports whether timestamps are translated to host time.
func (d *Dispatcher) NetworkTimeSync() bool { return d.timeSync.Load() }

// Dispatch decodes the complete message in buf and routes it. The caller
// keeps its reference on buf; listeners that need the data past their
// callback retain it themselves.
func (d *Dispatcher) Dispatch(buf *bufpool.Buffer) error {
	msg := buf.Bytes()
	id, version, err := wire.PeekPrefix(msg)
	if err != nil {
		d.stats.decodeErrors.Add(1)
		return fmt.Errorf("dispatch: %w", err)
	}
	if !wire.Decodable(id) {
		d.stats.unknown.Add(1)
		monitoring.Debugf("dispatch: unknown message id=%s version=%d length=%d", id, version, len(msg))
		return fmt.Errorf("%w: id=%s version=%d", wire.ErrUnknownMessageType, id, version)
	}

	m, err := wire.Decode(msg)
	if err != nil {
		d.stats.decodeErrors.Add(1)
		return fmt.Errorf("dispatch: %w", err)
	}
	d.stats.messages.Add(1)

	var routeErr error
	switch v := m.(type) {
	case *wire.Ack:
		d.store(v)
		d.watch.Signal(v.Command, v)
		d.watch.Signal(wire.IDAck, v)
		return nil
	case *wire.LidarData:
		d.dispatchLidar(v, buf)
	case *wire.ImageMeta:
		d.meta.Insert(v.FrameID, v)
	case *wire.Image:
		routeErr = d.dispatchImage(ImageHeader{
			Source:       v.Source,
			BitsPerPixel: v.BitsPerPixel,
			Width:        v.Width,
			Height:       v.Height,
			FrameID:      v.FrameID,
			Data:         v.Data,
		}, buf)
		m = &wire.Image{Source: v.Source, BitsPerPixel: v.BitsPerPixel, FrameID: v.FrameID, Width: v.Width, Height: v.Height}
	case *wire.Disparity:
		routeErr = d.dispatchImage(ImageHeader{
			Source:       wire.SourceDisparity,
			BitsPerPixel: wire.DisparityBitsPerPixel,
			Width:        v.Width,
			Height:       v.Height,
			FrameID:      v.FrameID,
			Data:         v.Data,
		}, buf)
		m = &wire.Disparity{FrameID: v.FrameID, Width: v.Width, Height: v.Height}
	case *wire.JpegImage:
		routeErr = d.dispatchImage(ImageHeader{
			Source:  v.Source,
			Width:   v.Width,
			Height:  v.Height,
			FrameID: v.FrameID,
			Data:    v.Data,
		}, buf)
		m = &wire.JpegImage{Source: v.Source, FrameID: v.FrameID, Width: v.Width, Height: v.Height, Quality: v.Quality}
	case *wire.SysPps:
		d.dispatchPps(v, buf)
	case *wire.ImuData:
		d.dispatchImu(v, buf)
	default:
		d.store(m)
	}

	// Image payloads alias buf, so waiters get the message without its data.
	d.watch.Signal(id, m)
	return routeErr
}

func (d *Dispatcher) translate(s, us uint32) (uint32, uint32) {
	if d.timeSync.Load() {
		return d.translator.DeviceToHost(s, us)
	}
	return s, us
}

func (d *Dispatcher) translateNanos(ns int64) (uint32, uint32) {
	if d.timeSync.Load() {
		return timeutil.TranslateNanos(d.translator, ns)
	}
	return timeutil.SplitMicros(ns)
}

func (d *Dispatcher) dispatchImage(h ImageHeader, buf *bufpool.Buffer) error {
	meta, ok := d.meta.Find(h.FrameID)
	if !ok {
		d.stats.missingMetadata.Add(1)
		monitoring.Debugf("dispatch: dropping image frame %d from %s, no metadata", h.FrameID, h.Source)
		return fmt.Errorf("%w: frame %d", ErrMissingMetadata, h.FrameID)
	}
	h.TimeSeconds, h.TimeMicros = d.translate(meta.TimeSeconds, meta.TimeMicroSeconds)
	h.Exposure = meta.ExposureTime
	h.Gain = meta.Gain
	h.FramesPerSecond = meta.FramesPerSecond

	d.stats.images.Add(1)
	d.stats.deliveries.Add(uint64(d.registry.dispatchImage(&h, buf)))
	return nil
}

func (d *Dispatcher) dispatchLidar(v *wire.LidarData, buf *bufpool.Buffer) {
	h := LidarHeader{
		ScanID:            v.ScanCount,
		SpindleAngleStart: v.AngleStart,
		SpindleAngleEnd:   v.AngleEnd,
		ScanArc:           LidarScanArc,
		MaxRange:          LidarMaxRange,
		Ranges:            v.Distances,
		Intensities:       v.Intensities,
	}
	h.TimeStartSeconds, h.TimeStartMicros = d.translate(v.TimeStartSeconds, v.TimeStartMicroSeconds)
	h.TimeEndSeconds, h.TimeEndMicros = d.translate(v.TimeEndSeconds, v.TimeEndMicroSeconds)

	d.stats.lidar.Add(1)
	d.stats.deliveries.Add(uint64(d.registry.dispatchLidar(&h, buf)))
}

func (d *Dispatcher) dispatchPps(v *wire.SysPps, buf *bufpool.Buffer) {
	h := PpsHeader{SensorTime: v.PpsNanoSeconds}
	h.TimeSeconds, h.TimeMicros = d.translateNanos(v.PpsNanoSeconds)

	d.stats.pps.Add(1)
	d.stats.deliveries.Add(uint64(d.registry.dispatchPps(&h, buf)))
}

func (d *Dispatcher) dispatchImu(v *wire.ImuData, buf *bufpool.Buffer) {
	h := ImuHeader{Sequence: v.Sequence, Samples: make([]ImuSample, len(v.Samples))}
	for i, s := range v.Samples {
		out := &h.Samples[i]
		out.Type = s.Type
		out.TimeSeconds, out.TimeMicros = d.translateNanos(s.TimeNanoSeconds)
		out.X, out.Y, out.Z = s.X, s.Y, s.Z
	}

	d.stats.imu.Add(1)
	d.stats.deliveries.Add(uint64(d.registry.dispatchImu(&h, buf)))
}

func (d *Dispatcher) store(m wire.Message) {
	d.storedMu.Lock()
	d.stored[m.MessageID()] = m
	d.storedMu.Unlock()
	d.stats.stored.Add(1)
	if d.onStore != nil {
		d.onStore(m)
	}
}

// Stored returns the most recent reply of type id without removing it.
func (d *Dispatcher) Stored(id wire.ID) (wire.Message, bool) {
	d.storedMu.Lock()
	defer d.storedMu.Unlock()
	m, ok := d.stored[id]
	return m, ok
}

// TakeStored returns and removes the most recent reply of type id.
func (d *Dispatcher) TakeStored(id wire.ID) (wire.Message, bool) {
	d.storedMu.Lock()
	defer d.storedMu.Unlock()
	m, ok := d.stored[id]
	delete(d.stored, id)
	return m, ok
}

// StoredIDs lists the reply types currently held.
func (d *Dispatcher) StoredIDs() []wire.ID {
	d.storedMu.Lock()
	defer d.storedMu.Unlock()
	ids := make([]wire.ID, 0, len(d.stored))
	for id := range d.stored {
		ids = append(ids, id)
	}
	return ids
}

// MetaFrames lists the frame ids held in the metadata cache, oldest first.
func (d *Dispatcher) MetaFrames() []int64 { return d.meta.Keys() }

// Stats counts routed messages.
type Stats struct {
	Messages        uint64 `json:"messages"`
	Unknown         uint64 `json:"unknown"`
	DecodeErrors    uint64 `json:"decode_errors"`
	MissingMetadata uint64 `json:"missing_metadata"`
	Stored          uint64 `json:"stored"`
	Images          uint64 `json:"images"`
	Lidar           uint64 `json:"lidar"`
	Pps             uint64 `json:"pps"`
	Imu             uint64 `json:"imu"`
	Deliveries      uint64 `json:"deliveries"`
	MetaCached      int    `json:"meta_cached"`
	MetaEvictions   uint64 `json:"meta_evictions"`
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Messages:        d.stats.messages.Load(),
		Unknown:         d.stats.unknown.Load(),
		DecodeErrors:    d.stats.decodeErrors.Load(),
		MissingMetadata: d.stats.missingMetadata.Load(),
		Stored:          d.stats.stored.Load(),
		Images:          d.stats.images.Load(),
		Lidar:           d.stats.lidar.Load(),
		Pps:             d.stats.pps.Load(),
		Imu:             d.stats.imu.Load(),
		Deliveries:      d.stats.deliveries.Load(),
		MetaCached:      d.meta.Len(),
		MetaEvictions:   d.meta.Evictions(),
	}
}

package main

import (
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/multisense/internal/bufpool"
	"github.com/banshee-data/multisense/internal/config"
	"github.com/banshee-data/multisense/internal/dispatch"
	"github.com/banshee-data/multisense/internal/monitoring"
	"github.com/banshee-data/multisense/internal/wire"
)

// summary counts what the engine delivers. Each category runs behind its own
// queued listener so a slow log line never holds up the receive loop.
type summary struct {
	images atomic.Uint64
	bytes  atomic.Uint64
	lidar  atomic.Uint64
	pps    atomic.Uint64
	imu    atomic.Uint64

	lastFrame atomic.Int64
	lastPps   atomic.Int64
}

func (s *summary) image(h *dispatch.ImageHeader, _ *bufpool.Buffer) {
	n := s.images.Add(1)
	s.bytes.Add(uint64(len(h.Data)))
	s.lastFrame.Store(h.FrameID)
	if n%100 == 1 {
		monitoring.Debugf("image source=%#x frame=%d %dx%d bpp=%d t=%d.%06d", h.Source, h.FrameID, h.Width, h.Height, h.BitsPerPixel, h.TimeSeconds, h.TimeMicros)
	}
}

func (s *summary) scan(h *dispatch.LidarHeader, _ *bufpool.Buffer) {
	if n := s.lidar.Add(1); n%100 == 1 {
		monitoring.Debugf("lidar scan=%d points=%d", h.ScanID, len(h.Ranges))
	}
}

func (s *summary) ppsEvent(h *dispatch.PpsHeader, _ *bufpool.Buffer) {
	s.pps.Add(1)
	s.lastPps.Store(h.SensorTime)
}

func (s *summary) imuBatch(h *dispatch.ImuHeader, _ *bufpool.Buffer) {
	s.imu.Add(uint64(len(h.Samples)))
}

func (s *summary) String() string {
	return fmt.Sprintf("%d images (%d bytes, last frame %d), %d lidar scans, %d pps, %d imu samples",
		s.images.Load(), s.bytes.Load(), s.lastFrame.Load(), s.lidar.Load(), s.pps.Load(), s.imu.Load())
}

// register attaches s to every category with the configured queue depths.
func (s *summary) register(r *dispatch.Registry, cfg *config.EngineConfig) {
	r.AddImageListener(wire.SourceAll, dispatch.NewQueued[dispatch.ImageHeader](
		dispatch.ListenerFunc[dispatch.ImageHeader](s.image), cfg.GetImageQueueDepth()))
	r.AddLidarListener(dispatch.NewQueued[dispatch.LidarHeader](
		dispatch.ListenerFunc[dispatch.LidarHeader](s.scan), cfg.GetLidarQueueDepth()))
	r.AddPpsListener(dispatch.NewQueued[dispatch.PpsHeader](
		dispatch.ListenerFunc[dispatch.PpsHeader](s.ppsEvent), cfg.GetPpsQueueDepth()))
	r.AddImuListener(dispatch.NewQueued[dispatch.ImuHeader](
		dispatch.ListenerFunc[dispatch.ImuHeader](s.imuBatch), cfg.GetImuQueueDepth()))
}

package dispatch

import (
	"github.com/banshee-data/multisense/internal/wire"
)

// ImageHeader describes one image delivered to image listeners. Timestamps
// come from the frame's metadata record and are in host time when network
// time synchronisation is on. Data aliases the dispatched buffer.
type ImageHeader struct {
	Source          wire.SourceType
	BitsPerPixel    uint32 // 0 for JPEG
	Width           uint16
	Height          uint16
	FrameID         int64
	TimeSeconds     uint32
	TimeMicros      uint32
	Exposure        uint32
	Gain            float32
	FramesPerSecond float32
	Data            []byte
}

// Lidar geometry reported with every scan.
const (
	LidarScanArc  int32  = 4712388 // 270 degrees in microradians
	LidarMaxRange uint32 = 30000   // millimeters
)

// LidarHeader describes one laser scan.
type LidarHeader struct {
	ScanID            uint32
	TimeStartSeconds  uint32
	TimeStartMicros   uint32
	TimeEndSeconds    uint32
	TimeEndMicros     uint32
	SpindleAngleStart int32
	SpindleAngleEnd   int32
	ScanArc           int32
	MaxRange          uint32
	Ranges            []uint32
	Intensities       []uint32
}

// PpsHeader reports a pulse-per-second edge. SensorTime is device time in
// nanoseconds; TimeSeconds and TimeMicros carry the same instant in host
// time when network time synchronisation is on.
type PpsHeader struct {
	SensorTime  int64
	TimeSeconds uint32
	TimeMicros  uint32
}

// ImuSample is one IMU reading with its timestamp split into seconds and
// microseconds.
type ImuSample struct {
	Type        wire.ImuSampleType
	TimeSeconds uint32
	TimeMicros  uint32
	X, Y, Z     float32
}

// ImuHeader is one batch of IMU samples.
type ImuHeader struct {
	Sequence uint32
	Samples  []ImuSample
}

package main

import (
	"math"
	"time"

	"github.com/banshee-data/multisense/internal/wire"
)

// ipUDPOverhead is the IPv4 plus UDP header size subtracted from the MTU.
const ipUDPOverhead = 28

// lidarPoints is the number of returns in one emulated scan.
const lidarPoints = 1081

// device produces the message stream of an emulated sensor.
type device struct {
	width, height uint16
	fps           float32
	start         time.Time

	frame int64
	scan  uint32
	imu   uint32
}

func newDevice(width, height uint16, fps float32, start time.Time) *device {
	return &device{width: width, height: height, fps: fps, start: start}
}

// deviceTime splits the elapsed time since power-on as the device reports it.
func (d *device) deviceTime(now time.Time) (uint32, uint32) {
	el := now.Sub(d.start)
	if el < 0 {
		el = 0
	}
	return uint32(el / time.Second), uint32((el % time.Second) / time.Microsecond)
}

// startup is what the device sends unprompted when the emulator starts: the
// replies a host would collect while configuring the stream.
func (d *device) startup() []wire.Message {
	return []wire.Message{
		&wire.VersionResponse{
			FirmwareBuildDate: "sim " + d.start.UTC().Format(time.DateOnly),
			FirmwareVersion:   0x0312,
			HardwareVersion:   0x0107,
		},
		&wire.SysMtu{Mtu: 1500},
		&wire.Ack{Command: wire.IDCmdStreamControl, Status: wire.StatusOk},
	}
}

// frameMessages returns one camera frame: metadata first, then a luma image,
// a disparity image and a JPEG sharing its frame id.
func (d *device) frameMessages(now time.Time) []wire.Message {
	d.frame++
	s, us := d.deviceTime(now)
	pixels := int(d.width) * int(d.height)

	luma := make([]byte, pixels)
	for i := range luma {
		luma[i] = byte(int64(i) + d.frame)
	}
	disparity := make([]byte, pixels*2)
	for i := 0; i < pixels; i++ {
		v := uint16((i + int(d.frame)) & 0x0fff)
		disparity[2*i] = byte(v)
		disparity[2*i+1] = byte(v >> 8)
	}

	return []wire.Message{
		&wire.ImageMeta{
			FrameID:          d.frame,
			FramesPerSecond:  d.fps,
			Gain:             1.5,
			ExposureTime:     8000,
			TimeSeconds:      s,
			TimeMicroSeconds: us,
		},
		&wire.Image{
			Source:       wire.SourceLumaLeft,
			BitsPerPixel: 8,
			FrameID:      d.frame,
			Width:        d.width,
			Height:       d.height,
			Data:         luma,
		},
		&wire.Disparity{FrameID: d.frame, Width: d.width, Height: d.height, Data: disparity},
		&wire.JpegImage{
			Source:  wire.SourceJpegLeft,
			FrameID: d.frame,
			Width:   d.width,
			Height:  d.height,
			Quality: 80,
			Data:    []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0xff, 0xd9},
		},
	}
}

// scanMessage returns one lidar sweep ending at now.
func (d *device) scanMessage(now time.Time, period time.Duration) *wire.LidarData {
	d.scan++
	es, eus := d.deviceTime(now)
	ss, sus := d.deviceTime(now.Add(-period))

	m := &wire.LidarData{
		ScanCount:             d.scan,
		TimeStartSeconds:      ss,
		TimeStartMicroSeconds: sus,
		TimeEndSeconds:        es,
		TimeEndMicroSeconds:   eus,
		AngleStart:            -2356194,
		AngleEnd:              2356194,
		Distances:             make([]uint32, lidarPoints),
		Intensities:           make([]uint32, lidarPoints),
	}
	for i := range m.Distances {
		a := float64(i) / lidarPoints * 2 * math.Pi
		m.Distances[i] = uint32(5000 + 2000*math.Sin(a+float64(d.scan)/10))
		m.Intensities[i] = uint32(i % 256)
	}
	return m
}

// imuMessage returns a batch of accelerometer and gyroscope samples.
func (d *device) imuMessage(now time.Time, samples int) *wire.ImuData {
	d.imu++
	base := now.Sub(d.start).Nanoseconds()
	m := &wire.ImuData{Sequence: d.imu, Samples: make([]wire.ImuSample, 0, samples)}
	for i := 0; i < samples; i++ {
		typ := wire.ImuAccelerometer
		z := float32(1)
		if i%2 == 1 {
			typ = wire.ImuGyroscope
			z = 0
		}
		m.Samples = append(m.Samples, wire.ImuSample{
			Type:            typ,
			TimeNanoSeconds: base - int64(samples-i)*int64(time.Millisecond),
			Z:               z,
		})
	}
	return m
}

// ppsMessage reports the last whole second of device time.
func (d *device) ppsMessage(now time.Time) *wire.SysPps {
	el := now.Sub(d.start).Truncate(time.Second)
	return &wire.SysPps{PpsNanoSeconds: el.Nanoseconds()}
}

// maxPayload is the message bytes that fit in one datagram at mtu.
func maxPayload(mtu int) int {
	return mtu - ipUDPOverhead - wire.HeaderSize
}

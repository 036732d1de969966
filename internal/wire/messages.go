package wire

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMessageType is returned by Decode for ids outside the catalogue
	// of messages the host receives.
	ErrUnknownMessageType = errors.New("unknown message type")

	// ErrMalformed is returned when a message decodes but carries values that
	// cannot be valid, such as an unknown IMU sample type.
	ErrMalformed = errors.New("malformed message")
)

// MessagePrefixSize is the size of the id and version fields that start every
// reassembled message.
const MessagePrefixSize = 4

// Message is a decoded message. The concrete type is one of the types in this
// file; switch on it to reach the fields.
type Message interface {
	MessageID() ID
}

// body is implemented by every message with a structured encoding.
type body interface {
	Message
	wireVersion() uint16
	decode(r *Reader, version uint16)
	encode(w *Writer)
}

// Ack acknowledges a command. Every command is answered by an Ack, whether or
// not a data message follows.
type Ack struct {
	Command ID
	Status  Status
}

func (*Ack) MessageID() ID       { return IDAck }
func (*Ack) wireVersion() uint16 { return 1 }

func (m *Ack) decode(r *Reader, _ uint16) {
	m.Command = ID(r.Uint16())
	m.Status = Status(r.Int32())
}

func (m *Ack) encode(w *Writer) {
	w.Uint16(uint16(m.Command))
	w.Int32(int32(m.Status))
}

// LidarData is one laser scan.
type LidarData struct {
	ScanCount             uint32
	TimeStartSeconds      uint32
	TimeStartMicroSeconds uint32
	TimeEndSeconds        uint32
	TimeEndMicroSeconds   uint32
	AngleStart            int32 // microradians
	AngleEnd              int32
	Distances             []uint32 // millimeters
	Intensities           []uint32
}

func (*LidarData) MessageID() ID       { return IDLidarData }
func (*LidarData) wireVersion() uint16 { return 1 }

func (m *LidarData) decode(r *Reader, _ uint16) {
	m.ScanCount = r.Uint32()
	m.TimeStartSeconds = r.Uint32()
	m.TimeStartMicroSeconds = r.Uint32()
	m.TimeEndSeconds = r.Uint32()
	m.TimeEndMicroSeconds = r.Uint32()
	m.AngleStart = r.Int32()
	m.AngleEnd = r.Int32()
	points := r.Uint32()
	if !r.Need(uint64(points) * 8) {
		return
	}
	m.Distances = make([]uint32, points)
	for i := range m.Distances {
		m.Distances[i] = r.Uint32()
	}
	m.Intensities = make([]uint32, points)
	for i := range m.Intensities {
		m.Intensities[i] = r.Uint32()
	}
}

func (m *LidarData) encode(w *Writer) {
	w.Uint32(m.ScanCount)
	w.Uint32(m.TimeStartSeconds)
	w.Uint32(m.TimeStartMicroSeconds)
	w.Uint32(m.TimeEndSeconds)
	w.Uint32(m.TimeEndMicroSeconds)
	w.Int32(m.AngleStart)
	w.Int32(m.AngleEnd)
	w.Uint32(uint32(len(m.Distances)))
	for _, d := range m.Distances {
		w.Uint32(d)
	}
	for i := range m.Distances {
		var v uint32
		if i < len(m.Intensities) {
			v = m.Intensities[i]
		}
		w.Uint32(v)
	}
}

// ImageMeta carries the capture parameters of a frame. Image, disparity and
// JPEG messages are matched to it by frame id.
type ImageMeta struct {
	FrameID          int64
	FramesPerSecond  float32
	Gain             float32
	ExposureTime     uint32
	TimeSeconds      uint32
	TimeMicroSeconds uint32
	Angle            int32
}

func (*ImageMeta) MessageID() ID       { return IDImageMeta }
func (*ImageMeta) wireVersion() uint16 { return 1 }

func (m *ImageMeta) decode(r *Reader, _ uint16) {
	m.FrameID = r.Int64()
	m.FramesPerSecond = r.Float32()
	m.Gain = r.Float32()
	m.ExposureTime = r.Uint32()
	m.TimeSeconds = r.Uint32()
	m.TimeMicroSeconds = r.Uint32()
	m.Angle = r.Int32()
}

func (m *ImageMeta) encode(w *Writer) {
	w.Int64(m.FrameID)
	w.Float32(m.FramesPerSecond)
	w.Float32(m.Gain)
	w.Uint32(m.ExposureTime)
	w.Uint32(m.TimeSeconds)
	w.Uint32(m.TimeMicroSeconds)
	w.Int32(m.Angle)
}

// Image is an uncompressed image. Data aliases the buffer it was decoded
// from.
type Image struct {
	Source       SourceType
	BitsPerPixel uint32
	FrameID      int64
	Width        uint16
	Height       uint16
	Data         []byte
}

func (*Image) MessageID() ID       { return IDImage }
func (*Image) wireVersion() uint16 { return 1 }

// ImageLength returns the number of data bytes for the given geometry,
// rounding partial bytes up.
func ImageLength(bitsPerPixel uint32, width, height uint16) int {
	bits := uint64(bitsPerPixel) * uint64(width) * uint64(height)
	return int((bits + 7) / 8)
}

func (m *Image) decode(r *Reader, _ uint16) {
	m.Source = SourceType(r.Uint32())
	m.BitsPerPixel = r.Uint32()
	m.FrameID = r.Int64()
	m.Width = r.Uint16()
	m.Height = r.Uint16()
	if m.BitsPerPixel > 64 {
		r.Fail(fmt.Errorf("%w: %d bits per pixel", ErrMalformed, m.BitsPerPixel))
		return
	}
	m.Data = r.Bytes(ImageLength(m.BitsPerPixel, m.Width, m.Height))
}

func (m *Image) encode(w *Writer) {
	w.Uint32(uint32(m.Source))
	w.Uint32(m.BitsPerPixel)
	w.Int64(m.FrameID)
	w.Uint16(m.Width)
	w.Uint16(m.Height)
	w.Raw(m.Data)
}

// DisparityWireBitsPerPixel and DisparityBitsPerPixel are the packed width on
// the wire and the unpacked width delivered to listeners.
const (
	DisparityWireBitsPerPixel = 12
	DisparityBitsPerPixel     = 16

	// DisparityMetaSize covers id, version, frame id, width and height.
	DisparityMetaSize = MessagePrefixSize + 8 + 2 + 2
)

// Disparity is a disparity image. Once reassembled, Data holds Width*Height
// little-endian 16-bit pixels and aliases the buffer it was decoded from.
type Disparity struct {
	FrameID int64
	Width   uint16
	Height  uint16
	Data    []byte
}

func (*Disparity) MessageID() ID       { return IDDisparity }
func (*Disparity) wireVersion() uint16 { return 1 }

func (m *Disparity) decode(r *Reader, _ uint16) {
	m.FrameID = r.Int64()
	m.Width = r.Uint16()
	m.Height = r.Uint16()
	m.Data = r.Bytes(ImageLength(DisparityBitsPerPixel, m.Width, m.Height))
}

// encode writes the packed wire form: pixel pairs share three bytes.
func (m *Disparity) encode(w *Writer) {
	w.Int64(m.FrameID)
	w.Uint16(m.Width)
	w.Uint16(m.Height)
	w.Raw(PackDisparity(m.Data))
}

// JpegImage is a JPEG-compressed image. Data aliases the decode buffer.
type JpegImage struct {
	Source  SourceType
	FrameID int64
	Width   uint16
	Height  uint16
	Quality uint32
	Data    []byte
}

func (*JpegImage) MessageID() ID       { return IDJpegImage }
func (*JpegImage) wireVersion() uint16 { return 1 }

func (m *JpegImage) decode(r *Reader, _ uint16) {
	m.Source = SourceType(r.Uint32())
	m.FrameID = r.Int64()
	m.Width = r.Uint16()
	m.Height = r.Uint16()
	length := r.Uint32()
	m.Quality = r.Uint32()
	if !r.Need(uint64(length)) {
		return
	}
	m.Data = r.Bytes(int(length))
}

func (m *JpegImage) encode(w *Writer) {
	w.Uint32(uint32(m.Source))
	w.Int64(m.FrameID)
	w.Uint16(m.Width)
	w.Uint16(m.Height)
	w.Uint32(uint32(len(m.Data)))
	w.Uint32(m.Quality)
	w.Raw(m.Data)
}

// SysPps reports the device time of the most recent pulse-per-second edge.
type SysPps struct {
	PpsNanoSeconds int64
}

func (*SysPps) MessageID() ID       { return IDSysPps }
func (*SysPps) wireVersion() uint16 { return 1 }

func (m *SysPps) decode(r *Reader, _ uint16) { m.PpsNanoSeconds = r.Int64() }
func (m *SysPps) encode(w *Writer)           { w.Int64(m.PpsNanoSeconds) }

// ImuSampleType identifies the sensor that produced an IMU sample.
type ImuSampleType uint16

const (
	ImuAccelerometer ImuSampleType = 1
	ImuGyroscope     ImuSampleType = 2
	ImuMagnetometer  ImuSampleType = 3
)

func (t ImuSampleType) String() string {
	switch t {
	case ImuAccelerometer:
		return "accelerometer"
	case ImuGyroscope:
		return "gyroscope"
	case ImuMagnetometer:
		return "magnetometer"
	}
	return fmt.Sprintf("imu(%d)", uint16(t))
}

// ImuSample is one reading. Units are g, degrees per second or gauss
// depending on the sample type.
type ImuSample struct {
	Type            ImuSampleType
	TimeNanoSeconds int64
	X, Y, Z         float32
}

const imuSampleSize = 2 + 8 + 4*3

// ImuData is a batch of IMU samples.
type ImuData struct {
	Sequence uint32
	Samples  []ImuSample
}

func (*ImuData) MessageID() ID       { return IDImu }
func (*ImuData) wireVersion() uint16 { return 1 }

func (m *ImuData) decode(r *Reader, _ uint16) {
	m.Sequence = r.Uint32()
	count := r.Uint32()
	if !r.Need(uint64(count) * imuSampleSize) {
		return
	}
	m.Samples = make([]ImuSample, count)
	for i := range m.Samples {
		s := &m.Samples[i]
		s.Type = ImuSampleType(r.Uint16())
		s.TimeNanoSeconds = r.Int64()
		s.X = r.Float32()
		s.Y = r.Float32()
		s.Z = r.Float32()
	}
}

func (m *ImuData) encode(w *Writer) {
	w.Uint32(m.Sequence)
	w.Uint32(uint32(len(m.Samples)))
	for _, s := range m.Samples {
		w.Uint16(uint16(s.Type))
		w.Int64(s.TimeNanoSeconds)
		w.Float32(s.X)
		w.Float32(s.Y)
		w.Float32(s.Z)
	}
}

func (m *ImuData) validate() error {
	for i, s := range m.Samples {
		switch s.Type {
		case ImuAccelerometer, ImuGyroscope, ImuMagnetometer:
		default:
			return fmt.Errorf("%w: unknown IMU sample type %d at index %d", ErrMalformed, s.Type, i)
		}
	}
	return nil
}

// CamConfig is the current camera configuration. Fields added in later
// message versions take their documented defaults when absent.
type CamConfig struct {
	Width, Height   uint16
	FramesPerSecond float32
	Gain            float32

	Exposure           uint32
	AutoExposure       bool
	AutoExposureMax    uint32
	AutoExposureDecay  uint32
	AutoExposureThresh float32

	WhiteBalanceRed        float32
	WhiteBalanceBlue       float32
	AutoWhiteBalance       bool
	AutoWhiteBalanceDecay  uint32
	AutoWhiteBalanceThresh float32

	Fx, Fy, Cx, Cy   float32
	Tx, Ty, Tz       float32
	Roll, Pitch, Yaw float32

	Disparities              int32   // version 2, -1 before
	StereoPostFilterStrength float32 // version 3, 0.5 before
	HDREnabled               bool    // version 4
}

func (*CamConfig) MessageID() ID       { return IDCamConfig }
func (*CamConfig) wireVersion() uint16 { return 4 }

func (m *CamConfig) decode(r *Reader, version uint16) {
	m.Width = r.Uint16()
	m.Height = r.Uint16()
	m.FramesPerSecond = r.Float32()
	m.Gain = r.Float32()

	m.Exposure = r.Uint32()
	m.AutoExposure = r.Bool()
	m.AutoExposureMax = r.Uint32()
	m.AutoExposureDecay = r.Uint32()
	m.AutoExposureThresh = r.Float32()

	m.WhiteBalanceRed = r.Float32()
	m.WhiteBalanceBlue = r.Float32()
	m.AutoWhiteBalance = r.Bool()
	m.AutoWhiteBalanceDecay = r.Uint32()
	m.AutoWhiteBalanceThresh = r.Float32()

	m.Fx, m.Fy, m.Cx, m.Cy = r.Float32(), r.Float32(), r.Float32(), r.Float32()
	m.Tx, m.Ty, m.Tz = r.Float32(), r.Float32(), r.Float32()
	m.Roll, m.Pitch, m.Yaw = r.Float32(), r.Float32(), r.Float32()

	m.Disparities = -1
	if version >= 2 {
		m.Disparities = r.Int32()
	}
	m.StereoPostFilterStrength = 0.5
	if version >= 3 {
		m.StereoPostFilterStrength = r.Float32()
	}
	m.HDREnabled = false
	if version >= 4 {
		m.HDREnabled = r.Bool()
	}
}

func (m *CamConfig) encode(w *Writer) {
	w.Uint16(m.Width)
	w.Uint16(m.Height)
	w.Float32(m.FramesPerSecond)
	w.Float32(m.Gain)

	w.Uint32(m.Exposure)
	w.Bool(m.AutoExposure)
	w.Uint32(m.AutoExposureMax)
	w.Uint32(m.AutoExposureDecay)
	w.Float32(m.AutoExposureThresh)

	w.Float32(m.WhiteBalanceRed)
	w.Float32(m.WhiteBalanceBlue)
	w.Bool(m.AutoWhiteBalance)
	w.Uint32(m.AutoWhiteBalanceDecay)
	w.Float32(m.AutoWhiteBalanceThresh)

	for _, f := range []float32{m.Fx, m.Fy, m.Cx, m.Cy, m.Tx, m.Ty, m.Tz, m.Roll, m.Pitch, m.Yaw} {
		w.Float32(f)
	}

	w.Int32(m.Disparities)
	w.Float32(m.StereoPostFilterStrength)
	w.Bool(m.HDREnabled)
}

// VersionResponse describes firmware and hardware versions.
type VersionResponse struct {
	FirmwareBuildDate string
	FirmwareVersion   uint16
	HardwareVersion   uint64
	HardwareMagic     uint64
	FpgaDna           uint64
}

func (*VersionResponse) MessageID() ID       { return IDVersionResponse }
func (*VersionResponse) wireVersion() uint16 { return 1 }

func (m *VersionResponse) decode(r *Reader, _ uint16) {
	m.FirmwareBuildDate = r.Text()
	m.FirmwareVersion = r.Uint16()
	m.HardwareVersion = uint64(r.Int64())
	m.HardwareMagic = uint64(r.Int64())
	m.FpgaDna = uint64(r.Int64())
}

func (m *VersionResponse) encode(w *Writer) {
	w.Text(m.FirmwareBuildDate)
	w.Uint16(m.FirmwareVersion)
	w.Int64(int64(m.HardwareVersion))
	w.Int64(int64(m.HardwareMagic))
	w.Int64(int64(m.FpgaDna))
}

// Device status bits reported in StatusResponse.Status.
const (
	StatusGeneralOk     uint32 = 1 << 0
	StatusLaserOk       uint32 = 1 << 1
	StatusLaserMotorOk  uint32 = 1 << 2
	StatusCamerasOk     uint32 = 1 << 3
	StatusImuOk         uint32 = 1 << 4
	StatusExternalLedOk uint32 = 1 << 5
	StatusPipelineOk    uint32 = 1 << 6
)

// StatusResponse is the device health report.
type StatusResponse struct {
	UptimeSeconds      uint32
	UptimeMicroSeconds uint32
	Status             uint32

	TemperatureFPGA        float32
	TemperatureLeftImager  float32
	TemperatureRightImager float32
	TemperaturePowerSupply float32
	InputVolts             float32 // version 2, -1 before
	InputCurrent           float32 // version 2, -1 before
}

func (*StatusResponse) MessageID() ID       { return IDStatusResponse }
func (*StatusResponse) wireVersion() uint16 { return 2 }

func (m *StatusResponse) decode(r *Reader, version uint16) {
	m.UptimeSeconds = r.Uint32()
	m.UptimeMicroSeconds = r.Uint32()
	m.Status = r.Uint32()
	m.TemperatureFPGA = r.Float32()
	m.TemperatureLeftImager = r.Float32()
	m.TemperatureRightImager = r.Float32()
	m.TemperaturePowerSupply = r.Float32()
	m.InputVolts, m.InputCurrent = -1, -1
	if version >= 2 {
		m.InputVolts = r.Float32()
		m.InputCurrent = r.Float32()
	}
}

func (m *StatusResponse) encode(w *Writer) {
	w.Uint32(m.UptimeSeconds)
	w.Uint32(m.UptimeMicroSeconds)
	w.Uint32(m.Status)
	w.Float32(m.TemperatureFPGA)
	w.Float32(m.TemperatureLeftImager)
	w.Float32(m.TemperatureRightImager)
	w.Float32(m.TemperaturePowerSupply)
	w.Float32(m.InputVolts)
	w.Float32(m.InputCurrent)
}

// LedCount is the number of illumination channels.
const LedCount = 8

// LedStatus reports which lights exist and their intensities.
type LedStatus struct {
	Available uint8 // bit mask
	Intensity [LedCount]uint8
	Flash     bool
}

func (*LedStatus) MessageID() ID       { return IDLedStatus }
func (*LedStatus) wireVersion() uint16 { return 1 }

func (m *LedStatus) decode(r *Reader, _ uint16) {
	m.Available = r.Uint8()
	for i := range m.Intensity {
		m.Intensity[i] = r.Uint8()
	}
	m.Flash = r.Bool()
}

func (m *LedStatus) encode(w *Writer) {
	w.Uint8(m.Available)
	for _, v := range m.Intensity {
		w.Uint8(v)
	}
	w.Bool(m.Flash)
}

// SysMtu is the device's current MTU.
type SysMtu struct {
	Mtu int32
}

func (*SysMtu) MessageID() ID                { return IDSysMtu }
func (*SysMtu) wireVersion() uint16          { return 1 }
func (m *SysMtu) decode(r *Reader, _ uint16) { m.Mtu = r.Int32() }
func (m *SysMtu) encode(w *Writer)           { w.Int32(m.Mtu) }

// SysNetwork is the device's network configuration.
type SysNetwork struct {
	Interface uint8
	Address   string
	Gateway   string
	Netmask   string
}

func (*SysNetwork) MessageID() ID       { return IDSysNetwork }
func (*SysNetwork) wireVersion() uint16 { return 1 }

func (m *SysNetwork) decode(r *Reader, _ uint16) {
	m.Interface = r.Uint8()
	m.Address = r.Text()
	m.Gateway = r.Text()
	m.Netmask = r.Text()
}

func (m *SysNetwork) encode(w *Writer) {
	w.Uint8(m.Interface)
	w.Text(m.Address)
	w.Text(m.Gateway)
	w.Text(m.Netmask)
}

// DeviceMode is one supported resolution and its data sources.
type DeviceMode struct {
	Width                uint32
	Height               uint32
	SupportedDataSources SourceType
	Disparities          int32 // version 2, 0 before
}

// SysDeviceModes lists the modes the device supports.
type SysDeviceModes struct {
	Modes []DeviceMode
}

func (*SysDeviceModes) MessageID() ID       { return IDSysDeviceModes }
func (*SysDeviceModes) wireVersion() uint16 { return 2 }

func (m *SysDeviceModes) decode(r *Reader, version uint16) {
	count := r.Uint32()
	if !r.Need(uint64(count) * 12) {
		return
	}
	m.Modes = make([]DeviceMode, count)
	for i := range m.Modes {
		d := &m.Modes[i]
		d.Width = r.Uint32()
		d.Height = r.Uint32()
		d.SupportedDataSources = SourceType(r.Uint32())
		if version >= 2 {
			d.Disparities = r.Int32()
		}
	}
}

func (m *SysDeviceModes) encode(w *Writer) {
	w.Uint32(uint32(len(m.Modes)))
	for _, d := range m.Modes {
		w.Uint32(d.Width)
		w.Uint32(d.Height)
		w.Uint32(uint32(d.SupportedDataSources))
		w.Int32(d.Disparities)
	}
}

// SysTestMtuResponse reports whether a test datagram of the requested size
// reached the device.
type SysTestMtuResponse struct {
	Ok bool
}

func (*SysTestMtuResponse) MessageID() ID                { return IDSysTestMtuResponse }
func (*SysTestMtuResponse) wireVersion() uint16          { return 1 }
func (m *SysTestMtuResponse) decode(r *Reader, _ uint16) { m.Ok = r.Bool() }
func (m *SysTestMtuResponse) encode(w *Writer)           { w.Bool(m.Ok) }

// DirectedStream is a data stream the device sends to a host other than
// the one that configured it.
type DirectedStream struct {
	Mask          SourceType
	Address       string
	UDPPort       uint16
	FpsDecimation uint32
}

// Directed stream commands.
const (
	DirectedStreamsNone  uint32 = 0
	DirectedStreamsStart uint32 = 1
	DirectedStreamsStop  uint32 = 2
)

// SysDirectedStreams lists the active directed streams.
type SysDirectedStreams struct {
	Command uint32
	Streams []DirectedStream
}

func (*SysDirectedStreams) MessageID() ID       { return IDSysDirectedStreams }
func (*SysDirectedStreams) wireVersion() uint16 { return 1 }

func (m *SysDirectedStreams) decode(r *Reader, _ uint16) {
	m.Command = r.Uint32()
	count := r.Uint32()
	// Each element is at least version, mask, empty address, port and decimation.
	if !r.Need(uint64(count) * 14) {
		return
	}
	m.Streams = make([]DirectedStream, count)
	for i := range m.Streams {
		s := &m.Streams[i]
		r.Uint16() // element version
		s.Mask = SourceType(r.Uint32())
		s.Address = r.Text()
		s.UDPPort = r.Uint16()
		s.FpsDecimation = r.Uint32()
	}
}

func (m *SysDirectedStreams) encode(w *Writer) {
	w.Uint32(m.Command)
	w.Uint32(uint32(len(m.Streams)))
	for _, s := range m.Streams {
		w.Uint16(1)
		w.Uint32(uint32(s.Mask))
		w.Text(s.Address)
		w.Uint16(s.UDPPort)
		w.Uint32(s.FpsDecimation)
	}
}

// PcbInfo names one circuit board in the device.
type PcbInfo struct {
	Name     string
	Revision uint32
}

// MaxPcbs bounds SysDeviceInfo.Pcbs.
const MaxPcbs = 8

// SysDeviceInfo is the device inventory stored in flash.
type SysDeviceInfo struct {
	Key              string
	Name             string
	BuildDate        string
	SerialNumber     string
	HardwareRevision uint32
	Pcbs             []PcbInfo

	ImagerName   string
	ImagerType   uint32
	ImagerWidth  uint32
	ImagerHeight uint32

	LensName                string
	LensType                uint32
	NominalBaseline         float32
	NominalFocalLength      float32
	NominalRelativeAperture float32

	LightingType   uint32
	NumberOfLights uint32

	LaserName string
	LaserType uint32

	MotorName          string
	MotorType          uint32
	MotorGearReduction float32
}

func (*SysDeviceInfo) MessageID() ID       { return IDSysDeviceInfo }
func (*SysDeviceInfo) wireVersion() uint16 { return 1 }

func (m *SysDeviceInfo) decode(r *Reader, _ uint16) {
	m.Key = r.Text()
	m.Name = r.Text()
	m.BuildDate = r.Text()
	m.SerialNumber = r.Text()
	m.HardwareRevision = r.Uint32()

	n := int(min(r.Uint8(), MaxPcbs))
	m.Pcbs = make([]PcbInfo, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Pcbs = append(m.Pcbs, PcbInfo{Name: r.Text(), Revision: r.Uint32()})
	}

	m.ImagerName = r.Text()
	m.ImagerType = r.Uint32()
	m.ImagerWidth = r.Uint32()
	m.ImagerHeight = r.Uint32()
	m.LensName = r.Text()
	m.LensType = r.Uint32()
	m.NominalBaseline = r.Float32()
	m.NominalFocalLength = r.Float32()
	m.NominalRelativeAperture = r.Float32()
	m.LightingType = r.Uint32()
	m.NumberOfLights = r.Uint32()
	m.LaserName = r.Text()
	m.LaserType = r.Uint32()
	m.MotorName = r.Text()
	m.MotorType = r.Uint32()
	m.MotorGearReduction = r.Float32()
}

func (m *SysDeviceInfo) encode(w *Writer) {
	w.Text(m.Key)
	w.Text(m.Name)
	w.Text(m.BuildDate)
	w.Text(m.SerialNumber)
	w.Uint32(m.HardwareRevision)
	pcbs := m.Pcbs
	if len(pcbs) > MaxPcbs {
		pcbs = pcbs[:MaxPcbs]
	}
	w.Uint8(uint8(len(pcbs)))
	for _, p := range pcbs {
		w.Text(p.Name)
		w.Uint32(p.Revision)
	}
	w.Text(m.ImagerName)
	w.Uint32(m.ImagerType)
	w.Uint32(m.ImagerWidth)
	w.Uint32(m.ImagerHeight)
	w.Text(m.LensName)
	w.Uint32(m.LensType)
	w.Float32(m.NominalBaseline)
	w.Float32(m.NominalFocalLength)
	w.Float32(m.NominalRelativeAperture)
	w.Uint32(m.LightingType)
	w.Uint32(m.NumberOfLights)
	w.Text(m.LaserName)
	w.Uint32(m.LaserType)
	w.Text(m.MotorName)
	w.Uint32(m.MotorType)
	w.Float32(m.MotorGearReduction)
}

// Opaque holds a stored reply whose body is not decoded by this package:
// camera history, flash responses, calibrations, lidar configuration and IMU
// info or configuration. Payload is a copy owned by the message.
type Opaque struct {
	ID      ID
	Version uint16
	Payload []byte
}

func (m *Opaque) MessageID() ID { return m.ID }

// opaqueIDs are stored replies decoded as Opaque.
var opaqueIDs = map[ID]bool{
	IDCamHistory:       true,
	IDLidarConfig:      true,
	IDSysFlashResponse: true,
	IDSysCameraCal:     true,
	IDSysLidarCal:      true,
	IDImuInfo:          true,
	IDImuConfig:        true,
}

func newBody(id ID) body {
	switch id {
	case IDAck:
		return &Ack{}
	case IDLidarData:
		return &LidarData{}
	case IDImageMeta:
		return &ImageMeta{}
	case IDImage:
		return &Image{}
	case IDDisparity:
		return &Disparity{}
	case IDJpegImage:
		return &JpegImage{}
	case IDSysPps:
		return &SysPps{}
	case IDImu:
		return &ImuData{}
	case IDCamConfig:
		return &CamConfig{}
	case IDVersionResponse:
		return &VersionResponse{}
	case IDStatusResponse:
		return &StatusResponse{}
	case IDLedStatus:
		return &LedStatus{}
	case IDSysMtu:
		return &SysMtu{}
	case IDSysNetwork:
		return &SysNetwork{}
	case IDSysDeviceModes:
		return &SysDeviceModes{}
	case IDSysTestMtuResponse:
		return &SysTestMtuResponse{}
	case IDSysDirectedStreams:
		return &SysDirectedStreams{}
	case IDSysDeviceInfo:
		return &SysDeviceInfo{}
	}
	return nil
}

// Decodable reports whether Decode accepts messages with this id.
func Decodable(id ID) bool {
	return newBody(id) != nil || opaqueIDs[id]
}

// PeekPrefix returns the id and version at the start of a reassembled
// message.
func PeekPrefix(msg []byte) (ID, uint16, error) {
	r := NewReader(msg)
	id := ID(r.Uint16())
	version := r.Uint16()
	if err := r.Err(); err != nil {
		return 0, 0, err
	}
	return id, version, nil
}

// Decode parses a complete reassembled message. Byte slices in the result
// alias msg, except for Opaque payloads, which are copied.
func Decode(msg []byte) (Message, error) {
	id, version, err := PeekPrefix(msg)
	if err != nil {
		return nil, err
	}
	r := NewReader(msg[MessagePrefixSize:])

	if opaqueIDs[id] {
		return &Opaque{ID: id, Version: version, Payload: append([]byte(nil), r.Rest()...)}, nil
	}

	b := newBody(id)
	if b == nil {
		return nil, fmt.Errorf("%w: id=%s version=%d", ErrUnknownMessageType, id, version)
	}
	b.decode(r, version)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %s v%d: %w", id, version, err)
	}
	if imu, ok := b.(*ImuData); ok {
		if err := imu.validate(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

package wire

import "fmt"

// ID is the message type identifier carried in the first four bytes of every
// reassembled message.
type ID uint16

// Acknowledgement.
const IDAck ID = 0x0001

// Commands sent to the device.
const (
	IDCmdGetVersion           ID = 0x0002
	IDCmdGetStatus            ID = 0x0003
	IDCmdCamGetConfig         ID = 0x0004
	IDCmdCamControl           ID = 0x0007
	IDCmdCamGetHistory        ID = 0x0008
	IDCmdCamSetHDR            ID = 0x000b
	IDCmdCamSetResolution     ID = 0x000c
	IDCmdLidarGetConfig       ID = 0x000d
	IDCmdLidarSetMotor        ID = 0x0010
	IDCmdLedGetStatus         ID = 0x0012
	IDCmdLedSet               ID = 0x0013
	IDCmdSysMtu               ID = 0x0014
	IDCmdSysFlashOp           ID = 0x0015
	IDCmdSysSetNetwork        ID = 0x0016
	IDCmdSysGetDeviceInfo     ID = 0x0017
	IDCmdSysGetCameraCal      ID = 0x0018
	IDCmdSysGetLidarCal       ID = 0x0019
	IDCmdSysGetMtu            ID = 0x001a
	IDCmdSysGetNetwork        ID = 0x001b
	IDCmdStreamControl        ID = 0x001c
	IDCmdSysGetDeviceModes    ID = 0x001d
	IDCmdCamSetTriggerSource  ID = 0x001e
	IDCmdImuGetInfo           ID = 0x001f
	IDCmdImuGetConfig         ID = 0x0020
	IDCmdSysTestMtu           ID = 0x0021
	IDCmdSysGetDirectedStream ID = 0x0022
)

// Data messages sent by the device.
const (
	IDVersionResponse    ID = 0x0102
	IDStatusResponse     ID = 0x0103
	IDCamConfig          ID = 0x0104
	IDCamHistory         ID = 0x0105
	IDLidarConfig        ID = 0x0108
	IDLidarData          ID = 0x0109
	IDLedStatus          ID = 0x010a
	IDSysFlashResponse   ID = 0x010b
	IDSysDeviceInfo      ID = 0x010c
	IDSysCameraCal       ID = 0x010d
	IDSysLidarCal        ID = 0x010e
	IDImageMeta          ID = 0x010f
	IDImage              ID = 0x0110
	IDDisparity          ID = 0x0111
	IDSysDeviceModes     ID = 0x0112
	IDSysPps             ID = 0x0113
	IDImu                ID = 0x0114
	IDImuInfo            ID = 0x0115
	IDImuConfig          ID = 0x0116
	IDSysTestMtuResponse ID = 0x0117
	IDJpegImage          ID = 0x0118
	IDSysDirectedStreams ID = 0x0119
)

// The MTU and network replies reuse the id of the command that sets them.
const (
	IDSysMtu     = IDCmdSysMtu
	IDSysNetwork = IDCmdSysSetNetwork
)

var idNames = map[ID]string{
	IDAck:                     "Ack",
	IDCmdGetVersion:           "CmdGetVersion",
	IDCmdGetStatus:            "CmdGetStatus",
	IDCmdCamGetConfig:         "CmdCamGetConfig",
	IDCmdCamControl:           "CmdCamControl",
	IDCmdCamGetHistory:        "CmdCamGetHistory",
	IDCmdCamSetHDR:            "CmdCamSetHDR",
	IDCmdCamSetResolution:     "CmdCamSetResolution",
	IDCmdLidarGetConfig:       "CmdLidarGetConfig",
	IDCmdLidarSetMotor:        "CmdLidarSetMotor",
	IDCmdLedGetStatus:         "CmdLedGetStatus",
	IDCmdLedSet:               "CmdLedSet",
	IDCmdSysMtu:               "CmdSysMtu",
	IDCmdSysFlashOp:           "CmdSysFlashOp",
	IDCmdSysSetNetwork:        "CmdSysSetNetwork",
	IDCmdSysGetDeviceInfo:     "CmdSysGetDeviceInfo",
	IDCmdSysGetCameraCal:      "CmdSysGetCameraCal",
	IDCmdSysGetLidarCal:       "CmdSysGetLidarCal",
	IDCmdSysGetMtu:            "CmdSysGetMtu",
	IDCmdSysGetNetwork:        "CmdSysGetNetwork",
	IDCmdStreamControl:        "CmdStreamControl",
	IDCmdSysGetDeviceModes:    "CmdSysGetDeviceModes",
	IDCmdCamSetTriggerSource:  "CmdCamSetTriggerSource",
	IDCmdImuGetInfo:           "CmdImuGetInfo",
	IDCmdImuGetConfig:         "CmdImuGetConfig",
	IDCmdSysTestMtu:           "CmdSysTestMtu",
	IDCmdSysGetDirectedStream: "CmdSysGetDirectedStreams",
	IDVersionResponse:         "VersionResponse",
	IDStatusResponse:          "StatusResponse",
	IDCamConfig:               "CamConfig",
	IDCamHistory:              "CamHistory",
	IDLidarConfig:             "LidarConfig",
	IDLidarData:               "LidarData",
	IDLedStatus:               "LedStatus",
	IDSysFlashResponse:        "SysFlashResponse",
	IDSysDeviceInfo:           "SysDeviceInfo",
	IDSysCameraCal:            "SysCameraCal",
	IDSysLidarCal:             "SysLidarCal",
	IDImageMeta:               "ImageMeta",
	IDImage:                   "Image",
	IDDisparity:               "Disparity",
	IDSysDeviceModes:          "SysDeviceModes",
	IDSysPps:                  "SysPps",
	IDImu:                     "Imu",
	IDImuInfo:                 "ImuInfo",
	IDImuConfig:               "ImuConfig",
	IDSysTestMtuResponse:      "SysTestMtuResponse",
	IDJpegImage:               "JpegImage",
	IDSysDirectedStreams:      "SysDirectedStreams",
}

func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return fmt.Sprintf("ID(0x%04x)", uint16(id))
}

// Known reports whether id is part of the message catalogue.
func (id ID) Known() bool {
	_, ok := idNames[id]
	return ok
}

// Streaming reports whether messages of this type are delivered to listeners
// rather than stored for a synchronous caller.
func (id ID) Streaming() bool {
	switch id {
	case IDLidarData, IDImageMeta, IDImage, IDDisparity, IDJpegImage, IDSysPps, IDImu:
		return true
	}
	return false
}

// SourceType is a bit mask identifying a data source on the device. Listener
// registrations carry a mask; a message is delivered when its source bit is
// set in the mask.
type SourceType uint32

const (
	SourceRawLeft            SourceType = 1 << 0
	SourceRawRight           SourceType = 1 << 1
	SourceLumaLeft           SourceType = 1 << 2
	SourceLumaRight          SourceType = 1 << 3
	SourceLumaRectifiedLeft  SourceType = 1 << 4
	SourceLumaRectifiedRight SourceType = 1 << 5
	SourceChromaLeft         SourceType = 1 << 6
	SourceChromaRight        SourceType = 1 << 7
	SourceDisparity          SourceType = 1 << 10
	SourceDisparityRight     SourceType = 1 << 11
	SourceDisparityCost      SourceType = 1 << 12
	SourceJpegLeft           SourceType = 1 << 16
	SourceRgbLeft            SourceType = 1 << 17
	SourceLidarScan          SourceType = 1 << 24
	SourceImu                SourceType = 1 << 25

	SourceAll SourceType = 0xffffffff

	SourceImages = SourceRawLeft | SourceRawRight |
		SourceLumaLeft | SourceLumaRight |
		SourceLumaRectifiedLeft | SourceLumaRectifiedRight |
		SourceChromaLeft | SourceChromaRight |
		SourceDisparity | SourceDisparityRight | SourceDisparityCost |
		SourceJpegLeft | SourceRgbLeft
)

// Matches reports whether any bit of s is selected by mask.
func (s SourceType) Matches(mask SourceType) bool {
	return s&mask != 0
}

// Status is the outcome carried by an Ack and returned to callers waiting on
// a command.
type Status int32

const (
	StatusOk          Status = 0
	StatusTimedOut    Status = -1
	StatusError       Status = -2
	StatusFailed      Status = -3
	StatusUnsupported Status = -4
	StatusUnknown     Status = -5
	StatusException   Status = -6
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusTimedOut:
		return "timed out"
	case StatusError:
		return "error"
	case StatusFailed:
		return "failed"
	case StatusUnsupported:
		return "unsupported"
	case StatusUnknown:
		return "unknown"
	case StatusException:
		return "exception"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

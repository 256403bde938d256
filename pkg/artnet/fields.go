package artnet

import "fmt"

// ArtPoll TalkToMe bits.
const (
	// TTMUnicastReply asks the node to unicast replies to the poller instead of
	// broadcasting them.
	TTMUnicastReply uint8 = 0x01
	// TTMReplyOnChange asks the node to send ArtPollReply whenever its
	// conditions change.
	TTMReplyOnChange uint8 = 0x02
)

// Style codes carried in ArtPollReply.
const (
	StyleNode   uint8 = 0x00
	StyleServer uint8 = 0x01
	StyleMedia  uint8 = 0x02
	StyleRoute  uint8 = 0x03
	StyleBackup uint8 = 0x04
	StyleConfig uint8 = 0x05
)

// Port type bits (ArtPollReply PortTypes).
const (
	PortEnableOutput uint8 = 0x80
	PortEnableInput  uint8 = 0x40

	PortDataDMX    uint8 = 0x00
	PortDataMIDI   uint8 = 0x01
	PortDataAVAB   uint8 = 0x02
	PortDataCMX    uint8 = 0x03
	PortDataADB    uint8 = 0x04
	PortDataArtNet uint8 = 0x05
)

// Port status bits (ArtPollReply GoodInput / GoodOutput). Several bits carry
// different meanings for inputs and outputs and so share a value.
const (
	PortStatusLTP      uint8 = 0x02
	PortStatusShort    uint8 = 0x04
	PortStatusError    uint8 = 0x04
	PortStatusDisabled uint8 = 0x08
	PortStatusMerge    uint8 = 0x08
	PortStatusText     uint8 = 0x10
	PortStatusSIP      uint8 = 0x20
	PortStatusTest     uint8 = 0x40
	PortStatusActivity uint8 = 0x80
)

// PortDisable is the ArtInput bit that disables an input port.
const PortDisable uint8 = 0x01

// ArtAddress programming values for names, subnet and universe nibbles.
const (
	ProgramNoChange   uint8 = 0x7f
	ProgramDefaults   uint8 = 0x00
	ProgramChangeMask uint8 = 0x80
)

// ArtAddress port commands.
const (
	CmdNone        uint8 = 0x00
	CmdCancelMerge uint8 = 0x01
	CmdLEDNormal   uint8 = 0x02
	CmdLEDMute     uint8 = 0x03
	CmdLEDLocate   uint8 = 0x04
	CmdReset       uint8 = 0x05
	CmdMergeLTP0   uint8 = 0x10
	CmdMergeLTP1   uint8 = 0x11
	CmdMergeLTP2   uint8 = 0x12
	CmdMergeLTP3   uint8 = 0x13
	CmdMergeHTP0   uint8 = 0x50
	CmdMergeHTP1   uint8 = 0x51
	CmdMergeHTP2   uint8 = 0x52
	CmdMergeHTP3   uint8 = 0x53
	CmdClear0      uint8 = 0x90
	CmdClear1      uint8 = 0x91
	CmdClear2      uint8 = 0x92
	CmdClear3      uint8 = 0x93
)

// ArtPollReply Status bits.
const (
	StatusUBEAPresent  uint8 = 0x01
	StatusRDMCapable   uint8 = 0x02
	StatusROMBoot      uint8 = 0x04
	StatusProgAuthMask uint8 = 0x30
	StatusProgPanel    uint8 = 0x10
	StatusProgNetwork  uint8 = 0x20
	StatusIndicators   uint8 = 0xc0
)

// TOD request, data and control codes.
const (
	TodFull uint8 = 0x00
	// TodResponseFull is the TodData CommandResponse for a complete table. The
	// NAK response historically shares the same value and is not distinguished.
	TodResponseFull uint8 = 0x00
	TodResponseNAK  uint8 = 0x00

	TodControlNone  uint8 = 0x00
	TodControlFlush uint8 = 0x01
)

// RDMProcess is the ArtRdm command for "process the packet".
const RDMProcess uint8 = 0x00

// RDMVersion is the RDM standard revision advertised in ArtTodData/ArtRdm.
const RDMVersion uint8 = 0x01

// Firmware block types (ArtFirmwareMaster Type).
const (
	FirmwareFirst     uint8 = 0x00
	FirmwareCont      uint8 = 0x01
	FirmwareLast      uint8 = 0x02
	FirmwareUBEAFirst uint8 = 0x03
	FirmwareUBEACont  uint8 = 0x04
	FirmwareUBEALast  uint8 = 0x05
)

// Firmware reply codes (ArtFirmwareReply Type).
const (
	FirmwareBlockGood uint8 = 0x00
	FirmwareAllGood   uint8 = 0x01
	FirmwareFail      uint8 = 0xff
)

// ArtIpProg command bits.
const (
	IPProgEnable     uint8 = 0x80
	IPProgDHCP       uint8 = 0x40
	IPProgDefaults   uint8 = 0x08
	IPProgIP         uint8 = 0x04
	IPProgSubnetMask uint8 = 0x02
	IPProgPort       uint8 = 0x01
)

// Node report codes embedded in the ArtPollReply NodeReport.
const (
	RcDebug uint16 = iota
	RcPowerOK
	RcPowerFail
	RcSocketWr1
	RcParseFail
	RcUDPFail
	RcShNameOK
	RcLoNameOK
	RcDMXError
	RcDMXUDPFull
	RcDMXRXFull
	RcSwitchErr
	RcConfigErr
	RcDMXShort
	RcFirmwareFail
	RcUserFail
)

// OEM and ESTA codes advertised by this library.
const (
	OEMCode  uint16 = 0x0430
	ESTACode uint16 = 'z'<<8 | 'p'
)

// UID is a 48-bit RDM unique identifier: a 16-bit manufacturer id followed by
// a 32-bit device id, both big-endian.
type UID [UIDWidth]byte

// NewUID builds a UID from manufacturer and device parts.
func NewUID(manufacturer uint16, device uint32) UID {
	return UID{
		byte(manufacturer >> 8), byte(manufacturer),
		byte(device >> 24), byte(device >> 16), byte(device >> 8), byte(device),
	}
}

// String formats the UID as mmmm:dddddddd.
func (u UID) String() string {
	return fmt.Sprintf("%02x%02x:%02x%02x%02x%02x", u[0], u[1], u[2], u[3], u[4], u[5])
}

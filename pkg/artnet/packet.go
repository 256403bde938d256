// Package artnet provides the Art-Net wire codec: opcodes, per-opcode packet
// layouts and the Decode/Encode entry points used by the node engine.
package artnet

import (
	"encoding/binary"
)

// OpCode identifies an Art-Net packet type. It travels little-endian.
type OpCode uint16

const (
	OpPoll           OpCode = 0x2000
	OpPollReply      OpCode = 0x2100
	OpDmx            OpCode = 0x5000
	OpAddress        OpCode = 0x6000
	OpInput          OpCode = 0x7000
	OpTodRequest     OpCode = 0x8000
	OpTodData        OpCode = 0x8100
	OpTodControl     OpCode = 0x8200
	OpRdm            OpCode = 0x8300
	OpMedia          OpCode = 0x9000
	OpMediaPatch     OpCode = 0x9100
	OpMediaControl   OpCode = 0x9200
	OpMediaCtrlReply OpCode = 0x9300
	OpVideoSetup     OpCode = 0xa010
	OpVideoPalette   OpCode = 0xa020
	OpVideoData      OpCode = 0xa040
	OpMacMaster      OpCode = 0xf000
	OpMacSlave       OpCode = 0xf100
	OpFirmwareMaster OpCode = 0xf200
	OpFirmwareReply  OpCode = 0xf300
	OpIPProg         OpCode = 0xf800
	OpIPProgReply    OpCode = 0xf900
)

var opNames = map[OpCode]string{
	OpPoll:           "ArtPoll",
	OpPollReply:      "ArtPollReply",
	OpDmx:            "ArtDmx",
	OpAddress:        "ArtAddress",
	OpInput:          "ArtInput",
	OpTodRequest:     "ArtTodRequest",
	OpTodData:        "ArtTodData",
	OpTodControl:     "ArtTodControl",
	OpRdm:            "ArtRdm",
	OpMedia:          "ArtMedia",
	OpMediaPatch:     "ArtMediaPatch",
	OpMediaControl:   "ArtMediaControl",
	OpMediaCtrlReply: "ArtMediaControlReply",
	OpVideoSetup:     "ArtVideoSetup",
	OpVideoPalette:   "ArtVideoPalette",
	OpVideoData:      "ArtVideoData",
	OpMacMaster:      "ArtMacMaster",
	OpMacSlave:       "ArtMacSlave",
	OpFirmwareMaster: "ArtFirmwareMaster",
	OpFirmwareReply:  "ArtFirmwareReply",
	OpIPProg:         "ArtIpProg",
	OpIPProgReply:    "ArtIpProgReply",
}

// String returns the Art-Net name of the opcode, or its hex value.
func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "Op(0x" + hex16(uint16(o)) + ")"
}

const (
	// ProtocolVersion is the Art-Net protocol version.
	ProtocolVersion uint16 = 14
	// DMXDataLength is the number of DMX channels per universe.
	DMXDataLength uint16 = 512
	// DmxHeaderSize is the ArtDmx header length preceding the channel data.
	DmxHeaderSize = 18
	// PacketSize is the total size of a full-universe Art-Net DMX packet.
	PacketSize = DmxHeaderSize + DMXDataLength
	// DefaultPort is the standard Art-Net UDP port.
	DefaultPort = 6454
	// MinPacketSize is the smallest datagram that can carry a header and opcode.
	MinPacketSize = 10
	// headerSize covers ID, opcode and protocol version.
	headerSize = 12

	// ShortNameLength and friends are fixed field widths including the NUL.
	ShortNameLength = 18
	LongNameLength  = 64
	ReportLength    = 64

	// MaxPorts is the number of ports carried in a single ArtPollReply.
	MaxPorts = 4
	// MaxRDMAddresses bounds the address list of an ArtTodRequest.
	MaxRDMAddresses = 32
	// MaxUIDCount bounds the UIDs carried by one ArtTodData.
	MaxUIDCount = 200
	// UIDWidth is the width of an RDM UID on the wire.
	UIDWidth = 6
	// MaxRDMData bounds the payload of an ArtRdm.
	MaxRDMData = 512
	// FirmwareBlockWords is the number of 16-bit words in one firmware block.
	FirmwareBlockWords = 1024
	// MACLength is the width of the hardware address.
	MACLength = 6
)

// ArtNetID is the Art-Net packet identifier.
var ArtNetID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// BuildDMXPacket creates an Art-Net DMX packet for the specified 15-bit port
// address. At most 512 channels are carried; sequence 0 disables receiver
// reordering, so senders should count 1..255.
func BuildDMXPacket(universe uint16, channels []byte, sequence byte) []byte {
	n := len(channels)
	if n > int(DMXDataLength) {
		n = int(DMXDataLength)
	}
	packet := make([]byte, DmxHeaderSize+n)

	putHeader(packet, OpDmx)
	packet[12] = sequence
	// Physical input port
	packet[13] = 0
	// Universe is little-endian, the data length big-endian.
	binary.LittleEndian.PutUint16(packet[14:16], universe)
	binary.BigEndian.PutUint16(packet[16:18], uint16(n))
	copy(packet[DmxHeaderSize:], channels[:n])

	return packet
}

// putHeader writes ID, opcode and protocol version into the first 12 bytes.
func putHeader(buf []byte, op OpCode) {
	copy(buf[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(op))
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
}

func hex16(v uint16) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[v>>12&0xf], digits[v>>8&0xf], digits[v>>4&0xf], digits[v&0xf]})
}

// putString copies s into a fixed-width NUL padded field, keeping room for
// the terminator.
func putString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	if len(s) > len(dst)-1 {
		s = s[:len(dst)-1]
	}
	copy(dst, s)
}

// getString reads a NUL terminated fixed-width field.
func getString(src []byte) string {
	for i, c := range src {
		if c == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}

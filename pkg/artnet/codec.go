package artnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Packet is a decoded Art-Net datagram.
type Packet interface {
	OpCode() OpCode
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// Decode parses a raw datagram. Datagrams shorter than MinPacketSize, with a
// bad identifier or (for versioned packets) a protocol version other than 14
// are rejected. Unrecognised opcodes decode to *Unknown.
func Decode(data []byte) (Packet, error) {
	if len(data) < MinPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	if !bytes.Equal(data[0:8], ArtNetID) {
		return nil, ErrWrongMagic
	}

	var p Packet
	switch op := OpCode(binary.LittleEndian.Uint16(data[8:10])); op {
	case OpPoll:
		p = &Poll{}
	case OpPollReply:
		p = &PollReply{}
	case OpDmx:
		p = &Dmx{}
	case OpAddress:
		p = &Address{}
	case OpInput:
		p = &Input{}
	case OpTodRequest:
		p = &TodRequest{}
	case OpTodData:
		p = &TodData{}
	case OpTodControl:
		p = &TodControl{}
	case OpRdm:
		p = &Rdm{}
	case OpIPProg:
		p = &IPProg{}
	case OpIPProgReply:
		p = &IPProgReply{}
	case OpFirmwareMaster:
		p = &FirmwareMaster{}
	case OpFirmwareReply:
		p = &FirmwareReply{}
	default:
		p = &Unknown{}
	}

	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return p, nil
}

// Encode serialises p into a new buffer.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrFieldRange)
	}
	return p.MarshalBinary()
}

// checkHeader validates identifier, opcode, protocol version and a minimum
// body length for a versioned packet.
func checkHeader(data []byte, op OpCode, size int) error {
	if len(data) < MinPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	if !bytes.Equal(data[0:8], ArtNetID) {
		return ErrWrongMagic
	}
	if got := OpCode(binary.LittleEndian.Uint16(data[8:10])); got != op {
		return fmt.Errorf("%w: opcode %s, want %s", ErrMalformed, got, op)
	}
	if op != OpPollReply {
		if len(data) < headerSize {
			return fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
		}
		if v := binary.BigEndian.Uint16(data[10:12]); v != ProtocolVersion {
			return fmt.Errorf("%w: %d", ErrWrongVersion, v)
		}
	}
	if len(data) < size {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrMalformed, op, size, len(data))
	}
	return nil
}

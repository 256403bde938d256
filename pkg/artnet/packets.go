package artnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Wire sizes of the fixed-length packets.
const (
	PollSize           = 14
	PollReplySize      = 239
	PollReplyMinSize   = 207
	AddressSize        = 107
	InputSize          = 20
	TodRequestSize     = 56
	TodDataHeaderSize  = 28
	TodControlSize     = 24
	RdmHeaderSize      = 24
	IPProgSize         = 34
	IPProgReplySize    = 34
	FirmwareHeaderSize = 40
	FirmwareReplySize  = 36
)

// Poll is an ArtPoll discovery request.
type Poll struct {
	TalkToMe uint8
	Priority uint8
}

func (*Poll) OpCode() OpCode { return OpPoll }

func (p *Poll) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PollSize)
	putHeader(buf, OpPoll)
	buf[12] = p.TalkToMe
	buf[13] = p.Priority
	return buf, nil
}

func (p *Poll) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpPoll, PollSize); err != nil {
		return err
	}
	p.TalkToMe = data[12]
	p.Priority = data[13]
	return nil
}

// PollReply is an ArtPollReply node advertisement. It is the only packet
// without a protocol version after the opcode.
type PollReply struct {
	IP          [4]byte
	Port        uint16
	VersionInfo uint16
	NetSwitch   uint8
	SubSwitch   uint8
	OEM         uint16
	UBEAVersion uint8
	Status      uint8
	ESTA        uint16
	ShortName   string
	LongName    string
	NodeReport  string
	NumPorts    uint16
	PortTypes   [MaxPorts]uint8
	GoodInput   [MaxPorts]uint8
	GoodOutput  [MaxPorts]uint8
	SwIn        [MaxPorts]uint8
	SwOut       [MaxPorts]uint8
	SwVideo     uint8
	SwMacro     uint8
	SwRemote    uint8
	Style       uint8
	MAC         [MACLength]byte
}

func (*PollReply) OpCode() OpCode { return OpPollReply }

func (p *PollReply) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PollReplySize)
	copy(buf[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(OpPollReply))
	copy(buf[10:14], p.IP[:])
	binary.LittleEndian.PutUint16(buf[14:16], p.Port)
	binary.BigEndian.PutUint16(buf[16:18], p.VersionInfo)
	buf[18] = p.NetSwitch
	buf[19] = p.SubSwitch
	binary.BigEndian.PutUint16(buf[20:22], p.OEM)
	buf[22] = p.UBEAVersion
	buf[23] = p.Status
	// EstaManLo comes first.
	binary.LittleEndian.PutUint16(buf[24:26], p.ESTA)
	putString(buf[26:44], p.ShortName)
	putString(buf[44:108], p.LongName)
	putString(buf[108:172], p.NodeReport)
	binary.BigEndian.PutUint16(buf[172:174], p.NumPorts)
	copy(buf[174:178], p.PortTypes[:])
	copy(buf[178:182], p.GoodInput[:])
	copy(buf[182:186], p.GoodOutput[:])
	copy(buf[186:190], p.SwIn[:])
	copy(buf[190:194], p.SwOut[:])
	buf[194] = p.SwVideo
	buf[195] = p.SwMacro
	buf[196] = p.SwRemote
	buf[200] = p.Style
	copy(buf[201:207], p.MAC[:])
	return buf, nil
}

func (p *PollReply) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpPollReply, PollReplyMinSize); err != nil {
		return err
	}
	copy(p.IP[:], data[10:14])
	p.Port = binary.LittleEndian.Uint16(data[14:16])
	p.VersionInfo = binary.BigEndian.Uint16(data[16:18])
	p.NetSwitch = data[18]
	p.SubSwitch = data[19]
	p.OEM = binary.BigEndian.Uint16(data[20:22])
	p.UBEAVersion = data[22]
	p.Status = data[23]
	p.ESTA = binary.LittleEndian.Uint16(data[24:26])
	p.ShortName = getString(data[26:44])
	p.LongName = getString(data[44:108])
	p.NodeReport = getString(data[108:172])
	p.NumPorts = binary.BigEndian.Uint16(data[172:174])
	copy(p.PortTypes[:], data[174:178])
	copy(p.GoodInput[:], data[178:182])
	copy(p.GoodOutput[:], data[182:186])
	copy(p.SwIn[:], data[186:190])
	copy(p.SwOut[:], data[190:194])
	p.SwVideo = data[194]
	p.SwMacro = data[195]
	p.SwRemote = data[196]
	p.Style = data[200]
	copy(p.MAC[:], data[201:207])
	return nil
}

// Dmx is an ArtDmx frame carrying up to 512 channels for one universe.
type Dmx struct {
	Sequence uint8
	Physical uint8
	Universe uint16
	Data     []byte
}

func (*Dmx) OpCode() OpCode { return OpDmx }

func (p *Dmx) MarshalBinary() ([]byte, error) {
	if len(p.Data) > int(DMXDataLength) {
		return nil, fmt.Errorf("%w: %d DMX channels", ErrFieldRange, len(p.Data))
	}
	buf := BuildDMXPacket(p.Universe, p.Data, p.Sequence)
	buf[13] = p.Physical
	return buf, nil
}

func (p *Dmx) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpDmx, DmxHeaderSize); err != nil {
		return err
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length > int(DMXDataLength) {
		return fmt.Errorf("%w: DMX length %d", ErrMalformed, length)
	}
	if len(data) < DmxHeaderSize+length {
		return fmt.Errorf("%w: DMX length %d exceeds datagram", ErrMalformed, length)
	}
	p.Sequence = data[12]
	p.Physical = data[13]
	p.Universe = binary.LittleEndian.Uint16(data[14:16])
	p.Data = make([]byte, length)
	copy(p.Data, data[DmxHeaderSize:DmxHeaderSize+length])
	return nil
}

// Address is an ArtAddress remote programming request.
type Address struct {
	ShortName string
	LongName  string
	SwIn      [MaxPorts]uint8
	SwOut     [MaxPorts]uint8
	SubSwitch uint8
	SwVideo   uint8
	Command   uint8
}

func (*Address) OpCode() OpCode { return OpAddress }

func (p *Address) MarshalBinary() ([]byte, error) {
	buf := make([]byte, AddressSize)
	putHeader(buf, OpAddress)
	putString(buf[14:32], p.ShortName)
	putString(buf[32:96], p.LongName)
	copy(buf[96:100], p.SwIn[:])
	copy(buf[100:104], p.SwOut[:])
	buf[104] = p.SubSwitch
	buf[105] = p.SwVideo
	buf[106] = p.Command
	return buf, nil
}

func (p *Address) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpAddress, AddressSize); err != nil {
		return err
	}
	p.ShortName = getString(data[14:32])
	p.LongName = getString(data[32:96])
	copy(p.SwIn[:], data[96:100])
	copy(p.SwOut[:], data[100:104])
	p.SubSwitch = data[104]
	p.SwVideo = data[105]
	p.Command = data[106]
	return nil
}

// Input is an ArtInput request enabling or disabling input ports.
type Input struct {
	NumPorts uint16
	Input    [MaxPorts]uint8
}

func (*Input) OpCode() OpCode { return OpInput }

func (p *Input) MarshalBinary() ([]byte, error) {
	buf := make([]byte, InputSize)
	putHeader(buf, OpInput)
	binary.BigEndian.PutUint16(buf[14:16], p.NumPorts)
	copy(buf[16:20], p.Input[:])
	return buf, nil
}

func (p *Input) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpInput, InputSize); err != nil {
		return err
	}
	p.NumPorts = binary.BigEndian.Uint16(data[14:16])
	copy(p.Input[:], data[16:20])
	return nil
}

// TodRequest asks nodes to report the RDM table of devices for a list of
// port addresses.
type TodRequest struct {
	Net       uint8
	Command   uint8
	Addresses []uint8
}

func (*TodRequest) OpCode() OpCode { return OpTodRequest }

func (p *TodRequest) MarshalBinary() ([]byte, error) {
	if len(p.Addresses) > MaxRDMAddresses {
		return nil, fmt.Errorf("%w: %d TOD addresses", ErrFieldRange, len(p.Addresses))
	}
	buf := make([]byte, TodRequestSize)
	putHeader(buf, OpTodRequest)
	buf[21] = p.Net
	buf[22] = p.Command
	buf[23] = uint8(len(p.Addresses))
	copy(buf[24:], p.Addresses)
	return buf, nil
}

func (p *TodRequest) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpTodRequest, 24); err != nil {
		return err
	}
	count := int(data[23])
	if count > MaxRDMAddresses || len(data) < 24+count {
		return fmt.Errorf("%w: TOD request address count %d", ErrMalformed, count)
	}
	p.Net = data[21]
	p.Command = data[22]
	p.Addresses = make([]uint8, count)
	copy(p.Addresses, data[24:24+count])
	return nil
}

// TodData carries one block of a port's RDM table of devices.
type TodData struct {
	RDMVersion      uint8
	Port            uint8
	Net             uint8
	CommandResponse uint8
	Address         uint8
	UIDTotal        uint16
	BlockCount      uint8
	UIDs            []UID
}

func (*TodData) OpCode() OpCode { return OpTodData }

func (p *TodData) MarshalBinary() ([]byte, error) {
	if len(p.UIDs) > MaxUIDCount {
		return nil, fmt.Errorf("%w: %d UIDs", ErrFieldRange, len(p.UIDs))
	}
	buf := make([]byte, TodDataHeaderSize+len(p.UIDs)*UIDWidth)
	putHeader(buf, OpTodData)
	buf[12] = p.RDMVersion
	buf[13] = p.Port
	buf[21] = p.Net
	buf[22] = p.CommandResponse
	buf[23] = p.Address
	binary.BigEndian.PutUint16(buf[24:26], p.UIDTotal)
	buf[26] = p.BlockCount
	buf[27] = uint8(len(p.UIDs))
	for i, uid := range p.UIDs {
		off := TodDataHeaderSize + i*UIDWidth
		copy(buf[off:off+UIDWidth], uid[:])
	}
	return buf, nil
}

func (p *TodData) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpTodData, TodDataHeaderSize); err != nil {
		return err
	}
	count := int(data[27])
	if count > MaxUIDCount || len(data) < TodDataHeaderSize+count*UIDWidth {
		return fmt.Errorf("%w: TOD data UID count %d", ErrMalformed, count)
	}
	p.RDMVersion = data[12]
	p.Port = data[13]
	p.Net = data[21]
	p.CommandResponse = data[22]
	p.Address = data[23]
	p.UIDTotal = binary.BigEndian.Uint16(data[24:26])
	p.BlockCount = data[26]
	p.UIDs = make([]UID, count)
	for i := range p.UIDs {
		off := TodDataHeaderSize + i*UIDWidth
		copy(p.UIDs[i][:], data[off:off+UIDWidth])
	}
	return nil
}

// TodControl asks a node to act on the table of devices of one port.
type TodControl struct {
	Net     uint8
	Command uint8
	Address uint8
}

func (*TodControl) OpCode() OpCode { return OpTodControl }

func (p *TodControl) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TodControlSize)
	putHeader(buf, OpTodControl)
	buf[21] = p.Net
	buf[22] = p.Command
	buf[23] = p.Address
	return buf, nil
}

func (p *TodControl) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpTodControl, TodControlSize); err != nil {
		return err
	}
	p.Net = data[21]
	p.Command = data[22]
	p.Address = data[23]
	return nil
}

// Rdm tunnels an RDM message to or from a port address.
type Rdm struct {
	RDMVersion uint8
	Net        uint8
	Command    uint8
	Address    uint8
	Data       []byte
}

func (*Rdm) OpCode() OpCode { return OpRdm }

func (p *Rdm) MarshalBinary() ([]byte, error) {
	if len(p.Data) > MaxRDMData {
		return nil, fmt.Errorf("%w: %d RDM bytes", ErrFieldRange, len(p.Data))
	}
	buf := make([]byte, RdmHeaderSize+len(p.Data))
	putHeader(buf, OpRdm)
	buf[12] = p.RDMVersion
	buf[21] = p.Net
	buf[22] = p.Command
	buf[23] = p.Address
	copy(buf[RdmHeaderSize:], p.Data)
	return buf, nil
}

func (p *Rdm) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpRdm, RdmHeaderSize); err != nil {
		return err
	}
	body := data[RdmHeaderSize:]
	if len(body) > MaxRDMData {
		return fmt.Errorf("%w: %d RDM bytes", ErrMalformed, len(body))
	}
	p.RDMVersion = data[12]
	p.Net = data[21]
	p.Command = data[22]
	p.Address = data[23]
	p.Data = make([]byte, len(body))
	copy(p.Data, body)
	return nil
}

// IPProg reprograms the IP configuration of a node.
type IPProg struct {
	Command    uint8
	IP         [4]byte
	SubnetMask [4]byte
	Port       uint16
}

func (*IPProg) OpCode() OpCode { return OpIPProg }

func (p *IPProg) MarshalBinary() ([]byte, error) {
	buf := make([]byte, IPProgSize)
	putHeader(buf, OpIPProg)
	buf[14] = p.Command
	copy(buf[16:20], p.IP[:])
	copy(buf[20:24], p.SubnetMask[:])
	binary.BigEndian.PutUint16(buf[24:26], p.Port)
	return buf, nil
}

func (p *IPProg) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpIPProg, IPProgSize); err != nil {
		return err
	}
	p.Command = data[14]
	copy(p.IP[:], data[16:20])
	copy(p.SubnetMask[:], data[20:24])
	p.Port = binary.BigEndian.Uint16(data[24:26])
	return nil
}

// IPProgReply reports the IP configuration after an ArtIpProg.
type IPProgReply struct {
	IP         [4]byte
	SubnetMask [4]byte
	Port       uint16
}

func (*IPProgReply) OpCode() OpCode { return OpIPProgReply }

func (p *IPProgReply) MarshalBinary() ([]byte, error) {
	buf := make([]byte, IPProgReplySize)
	putHeader(buf, OpIPProgReply)
	copy(buf[16:20], p.IP[:])
	copy(buf[20:24], p.SubnetMask[:])
	binary.BigEndian.PutUint16(buf[24:26], p.Port)
	return buf, nil
}

func (p *IPProgReply) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpIPProgReply, IPProgReplySize); err != nil {
		return err
	}
	copy(p.IP[:], data[16:20])
	copy(p.SubnetMask[:], data[20:24])
	p.Port = binary.BigEndian.Uint16(data[24:26])
	return nil
}

// FirmwareMaster carries one block of a firmware or UBEA upload. Data words
// travel big-endian.
type FirmwareMaster struct {
	Type           uint8
	BlockID        uint8
	FirmwareLength uint32
	Data           []uint16
}

func (*FirmwareMaster) OpCode() OpCode { return OpFirmwareMaster }

func (p *FirmwareMaster) MarshalBinary() ([]byte, error) {
	if len(p.Data) > FirmwareBlockWords {
		return nil, fmt.Errorf("%w: %d firmware words", ErrFieldRange, len(p.Data))
	}
	buf := make([]byte, FirmwareHeaderSize+2*len(p.Data))
	putHeader(buf, OpFirmwareMaster)
	buf[14] = p.Type
	buf[15] = p.BlockID
	binary.BigEndian.PutUint32(buf[16:20], p.FirmwareLength)
	for i, w := range p.Data {
		binary.BigEndian.PutUint16(buf[FirmwareHeaderSize+2*i:], w)
	}
	return buf, nil
}

func (p *FirmwareMaster) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpFirmwareMaster, FirmwareHeaderSize); err != nil {
		return err
	}
	body := data[FirmwareHeaderSize:]
	words := len(body) / 2
	if words > FirmwareBlockWords {
		return fmt.Errorf("%w: %d firmware words", ErrMalformed, words)
	}
	p.Type = data[14]
	p.BlockID = data[15]
	p.FirmwareLength = binary.BigEndian.Uint32(data[16:20])
	p.Data = make([]uint16, words)
	for i := range p.Data {
		p.Data[i] = binary.BigEndian.Uint16(body[2*i:])
	}
	return nil
}

// FirmwareReply acknowledges a firmware block.
type FirmwareReply struct {
	Type uint8
}

func (*FirmwareReply) OpCode() OpCode { return OpFirmwareReply }

func (p *FirmwareReply) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FirmwareReplySize)
	putHeader(buf, OpFirmwareReply)
	buf[14] = p.Type
	return buf, nil
}

func (p *FirmwareReply) UnmarshalBinary(data []byte) error {
	if err := checkHeader(data, OpFirmwareReply, FirmwareReplySize); err != nil {
		return err
	}
	p.Type = data[14]
	return nil
}

// Unknown holds a datagram with a valid identifier but an opcode this codec
// does not interpret.
type Unknown struct {
	Code    OpCode
	Payload []byte
}

func (p *Unknown) OpCode() OpCode { return p.Code }

func (p *Unknown) MarshalBinary() ([]byte, error) {
	buf := make([]byte, MinPacketSize+len(p.Payload))
	copy(buf[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(buf[8:10], uint16(p.Code))
	copy(buf[MinPacketSize:], p.Payload)
	return buf, nil
}

func (p *Unknown) UnmarshalBinary(data []byte) error {
	if len(data) < MinPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	if !bytes.Equal(data[0:8], ArtNetID) {
		return ErrWrongMagic
	}
	p.Code = OpCode(binary.LittleEndian.Uint16(data[8:10]))
	p.Payload = make([]byte, len(data)-MinPacketSize)
	copy(p.Payload, data[MinPacketSize:])
	return nil
}

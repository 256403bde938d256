package node

import (
	"fmt"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

// Direction selects input or output ports.
type Direction int

const (
	PortInput Direction = iota
	PortOutput
)

func (d Direction) String() string {
	if d == PortOutput {
		return "output"
	}
	return "input"
}

// ParseDirection maps "input" or "output" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "input", "in":
		return PortInput, nil
	case "output", "out":
		return PortOutput, nil
	}
	return 0, fmt.Errorf("%w: direction %q", ErrArg, s)
}

// port is the state shared by inputs and outputs. addr is the full 8-bit
// port address; its high nibble always equals the node subnet.
type port struct {
	addr        uint8
	defaultAddr uint8
	netCtl      bool
	status      uint8
	enabled     bool
	tod         TOD
}

// universe returns the low nibble of the address.
func (p *port) universe() uint8 { return p.addr & 0x0f }

// program applies an ArtAddress nibble value to the port.
func (p *port) program(v uint8, subnet uint8) bool {
	switch {
	case v == artnet.ProgramNoChange:
		return false
	case v == artnet.ProgramDefaults:
		p.netCtl = false
		p.addr = subnet<<4 | p.defaultAddr
		return true
	case v&artnet.ProgramChangeMask != 0:
		p.netCtl = true
		p.enabled = true
		p.addr = subnet<<4 | v&0x0f
		return true
	}
	return false
}

type inputPort struct {
	port
	seq uint8
}

// active reports whether the input may emit DMX.
func (p *inputPort) active() bool {
	return p.enabled && p.status&artnet.PortStatusDisabled == 0
}

// nextSeq returns the next ArtDmx sequence. Zero is reserved, so the counter
// runs 1..255.
func (p *inputPort) nextSeq() uint8 {
	p.seq++
	if p.seq == 0 {
		p.seq = 1
	}
	return p.seq
}

func checkPort(id int) error {
	if id < 0 || id >= MaxPorts {
		return fmt.Errorf("%w: port %d", ErrArg, id)
	}
	return nil
}

func (n *Node) portFor(dir Direction, id int) (*port, error) {
	if err := checkPort(id); err != nil {
		return nil, err
	}
	switch dir {
	case PortInput:
		return &n.in[id].port, nil
	case PortOutput:
		return &n.out[id].port, nil
	}
	return nil, fmt.Errorf("%w: direction %d", ErrArg, dir)
}

// SetPortAddr assigns the universe nibble of a port and enables it. The
// active address changes only while the port is not under network control.
func (n *Node) SetPortAddr(dir Direction, id int, addr uint8) error {
	p, err := n.portFor(dir, id)
	if err != nil {
		return err
	}
	if addr > 0x0f {
		return fmt.Errorf("%w: universe %#x", ErrArg, addr)
	}
	p.defaultAddr = addr
	p.enabled = true
	if !p.netCtl {
		p.addr = n.subnet<<4 | addr
	}
	n.changed()
	return nil
}

// UniverseAddr returns the full port address of a port.
func (n *Node) UniverseAddr(dir Direction, id int) (uint8, error) {
	p, err := n.portFor(dir, id)
	if err != nil {
		return 0, err
	}
	return p.addr, nil
}

// SetSubnetAddr stores the default subnet. The live subnet follows unless a
// peer programmed it with ArtAddress.
func (n *Node) SetSubnetAddr(subnet uint8) error {
	if subnet > 0x0f {
		return fmt.Errorf("%w: subnet %#x", ErrArg, subnet)
	}
	n.defaultSubnet = subnet
	if !n.subnetNetCtl {
		n.setSubnet(subnet)
	}
	n.changed()
	return nil
}

// Subnet returns the live subnet.
func (n *Node) Subnet() uint8 { return n.subnet }

// setSubnet re-derives every port address from the new subnet.
func (n *Node) setSubnet(subnet uint8) {
	n.subnet = subnet
	for i := range n.in {
		n.in[i].addr = subnet<<4 | n.in[i].universe()
	}
	for i := range n.out {
		n.out[i].addr = subnet<<4 | n.out[i].universe()
	}
}

// programSubnet applies an ArtAddress SubSwitch value.
func (n *Node) programSubnet(v uint8) bool {
	switch {
	case v == artnet.ProgramNoChange:
		return false
	case v == artnet.ProgramDefaults:
		n.subnetNetCtl = false
		n.setSubnet(n.defaultSubnet)
		return true
	case v&artnet.ProgramChangeMask != 0:
		n.subnetNetCtl = true
		n.setSubnet(v & 0x0f)
		return true
	}
	return false
}

// SetPortType sets the advertised type of port id: enable bits from
// settings (artnet.PortEnableInput, artnet.PortEnableOutput) and the data
// protocol.
func (n *Node) SetPortType(id int, settings, data uint8) error {
	if err := checkPort(id); err != nil {
		return err
	}
	if settings&^(artnet.PortEnableInput|artnet.PortEnableOutput) != 0 {
		return fmt.Errorf("%w: port settings %#x", ErrArg, settings)
	}
	if data > artnet.PortDataArtNet {
		return fmt.Errorf("%w: port data type %#x", ErrArg, data)
	}
	n.portTypes[id] = settings | data
	n.changed()
	return nil
}

// SetMergeMode selects HTP or LTP merging on an output port.
func (n *Node) SetMergeMode(id int, mode MergeMode) error {
	if err := checkPort(id); err != nil {
		return err
	}
	if mode != MergeHTP && mode != MergeLTP {
		return fmt.Errorf("%w: merge mode %d", ErrArg, mode)
	}
	n.out[id].setMode(mode)
	n.changed()
	return nil
}

// PortStatus returns the status bits of a port.
func (n *Node) PortStatus(dir Direction, id int) (uint8, error) {
	p, err := n.portFor(dir, id)
	if err != nil {
		return 0, err
	}
	return p.status, nil
}

// applyCommand runs an ArtAddress port command.
func (n *Node) applyCommand(cmd uint8) {
	switch {
	case cmd == artnet.CmdNone:
	case cmd == artnet.CmdCancelMerge:
		for i := range n.out {
			n.out[i].cancelMerge = true
		}
	case cmd >= artnet.CmdLEDNormal && cmd <= artnet.CmdLEDLocate:
		n.led = cmd
	case cmd == artnet.CmdReset:
		const flags = artnet.PortStatusSIP | artnet.PortStatusText | artnet.PortStatusTest
		for i := range n.in {
			n.in[i].status &^= flags
		}
		for i := range n.out {
			n.out[i].status &^= flags
		}
	case cmd >= artnet.CmdMergeLTP0 && cmd <= artnet.CmdMergeLTP3:
		n.out[cmd-artnet.CmdMergeLTP0].setMode(MergeLTP)
	case cmd >= artnet.CmdMergeHTP0 && cmd <= artnet.CmdMergeHTP3:
		n.out[cmd-artnet.CmdMergeHTP0].setMode(MergeHTP)
	case cmd >= artnet.CmdClear0 && cmd <= artnet.CmdClear3:
		id := int(cmd - artnet.CmdClear0)
		n.out[id].clear()
		n.notifyDMX(id)
	default:
		n.log.WithField("command", cmd).Debug("unknown ArtAddress command")
	}
}

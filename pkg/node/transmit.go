package node

import (
	"fmt"
	"net"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

// send encodes p and puts it on the wire. A nil ip broadcasts.
func (n *Node) send(ip net.IP, p artnet.Packet) error {
	dst := ip
	if dst == nil {
		dst = n.bcast
	}
	if n.fire(HookSend, dst, p) {
		return nil
	}
	data, err := artnet.Encode(p)
	if err != nil {
		return err
	}
	if ip == nil {
		return n.tr.Broadcast(data)
	}
	return n.tr.Send(ip, data)
}

func (n *Node) logSend(err error) {
	if err != nil {
		n.log.WithError(err).Warn("send failed")
	}
}

func (n *Node) checkOn(op string) error {
	if n.mode != ModeOn {
		return fmt.Errorf("%w: %s in mode %s", ErrState, op, n.mode)
	}
	return nil
}

func (n *Node) status() uint8 {
	var s uint8
	switch n.led {
	case artnet.CmdLEDLocate:
		s = 0x40
	case artnet.CmdLEDMute:
		s = 0x80
	default:
		s = artnet.StatusIndicators
	}
	if n.subnetNetCtl {
		s |= artnet.StatusProgNetwork
	} else {
		s |= artnet.StatusProgPanel
	}
	return s | artnet.StatusRDMCapable
}

func (n *Node) pollReply() *artnet.PollReply {
	r := &artnet.PollReply{
		Port:        uint16(n.udpPort),
		VersionInfo: firmwareVersion,
		SubSwitch:   n.subnet,
		OEM:         n.oem,
		Status:      n.status(),
		ESTA:        n.esta,
		ShortName:   n.shortName,
		LongName:    n.longName,
		NodeReport:  fmt.Sprintf("#%04x [%04d] %s", n.reportCode, n.arCount%10000, n.reportText),
		Style:       uint8(n.style),
		MAC:         n.mac,
	}
	copy(r.IP[:], n.ip.To4())

	for i := 0; i < MaxPorts; i++ {
		typ := n.portTypes[i]
		if !n.in[i].active() {
			typ &^= artnet.PortEnableInput
		}
		if !n.out[i].enabled {
			typ &^= artnet.PortEnableOutput
		}
		if n.portTypes[i]&(artnet.PortEnableInput|artnet.PortEnableOutput) != 0 {
			r.NumPorts++
		}
		r.PortTypes[i] = typ
		r.GoodInput[i] = n.in[i].status
		r.GoodOutput[i] = n.out[i].status
		r.SwIn[i] = n.in[i].universe()
		r.SwOut[i] = n.out[i].universe()
	}
	return r
}

// sendPollReply emits an ArtPollReply to the current reply destination.
// Unsolicited replies bump the reply counter.
func (n *Node) sendPollReply(response bool) error {
	if !response {
		n.arCount++
	}
	n.dirty = false
	return n.send(n.replyTo, n.pollReply())
}

// flushReply sends a deferred reply when state changed, peers asked to be
// told and a token is left.
func (n *Node) flushReply() {
	if !n.dirty || !n.replyOnChange || n.tokens == 0 {
		return
	}
	n.tokens--
	n.logSend(n.sendPollReply(false))
}

// SendPoll sends an ArtPoll to ip, or broadcasts it when ip is nil.
func (n *Node) SendPoll(ip net.IP, ttm uint8) error {
	if err := n.checkOn("send poll"); err != nil {
		return err
	}
	return n.send(ip, &artnet.Poll{TalkToMe: ttm})
}

// SendDMX transmits data on input port id. Peers that subscribed to the
// port's universe get it unicast while their number is within the broadcast
// limit; otherwise it is broadcast.
func (n *Node) SendDMX(id int, data []byte) error {
	if err := n.checkOn("send dmx"); err != nil {
		return err
	}
	if err := checkPort(id); err != nil {
		return err
	}
	if len(data) > channels {
		return fmt.Errorf("%w: %d DMX channels", ErrArg, len(data))
	}
	in := &n.in[id]
	if !in.enabled {
		return fmt.Errorf("%w: input port %d has no address", ErrArg, id)
	}
	if in.status&artnet.PortStatusDisabled != 0 {
		return fmt.Errorf("%w: input port %d disabled", ErrAction, id)
	}

	p := &artnet.Dmx{
		Sequence: in.nextSeq(),
		Physical: uint8(id),
		Universe: uint16(in.addr),
		Data:     data,
	}
	in.status |= artnet.PortStatusActivity

	if targets := n.subscribers(in.addr); len(targets) > 0 && len(targets) <= n.bcastLimit {
		for _, ip := range targets {
			if err := n.send(ip, p); err != nil {
				return err
			}
		}
		return nil
	}
	return n.send(nil, p)
}

func (n *Node) subscribers(addr uint8) []net.IP {
	if n.bcastLimit == 0 {
		return nil
	}
	var out []net.IP
	for _, p := range n.peers.peers {
		if p.entry.Outputs(addr) {
			out = append(out, p.entry.IP)
		}
	}
	return out
}

// SendRawDMX broadcasts data to any universe, bypassing the port model.
func (n *Node) SendRawDMX(universe uint16, data []byte) error {
	if err := n.checkOn("send raw dmx"); err != nil {
		return err
	}
	if len(data) > channels || universe > 0x7fff {
		return fmt.Errorf("%w: raw dmx universe %d, %d channels", ErrArg, universe, len(data))
	}
	return n.send(nil, &artnet.Dmx{Universe: universe, Data: data})
}

// SendRDM broadcasts an RDM message for a port address.
func (n *Node) SendRDM(address uint8, data []byte) error {
	if err := n.checkOn("send rdm"); err != nil {
		return err
	}
	if len(data) > artnet.MaxRDMData {
		return fmt.Errorf("%w: %d RDM bytes", ErrArg, len(data))
	}
	return n.send(nil, &artnet.Rdm{
		RDMVersion: artnet.RDMVersion,
		Command:    artnet.RDMProcess,
		Address:    address,
		Data:       data,
	})
}

// SendAddress programs a remote node.
func (n *Node) SendAddress(ip net.IP, a artnet.Address) error {
	if err := n.checkOn("send address"); err != nil {
		return err
	}
	if ip == nil {
		return fmt.Errorf("%w: address needs a target", ErrArg)
	}
	return n.send(ip, &a)
}

// SendInput enables or disables the input ports of a remote node.
func (n *Node) SendInput(ip net.IP, disabled [MaxPorts]bool) error {
	if err := n.checkOn("send input"); err != nil {
		return err
	}
	if ip == nil {
		return fmt.Errorf("%w: input needs a target", ErrArg)
	}
	p := &artnet.Input{NumPorts: MaxPorts}
	for i, d := range disabled {
		if d {
			p.Input[i] = artnet.PortDisable
		}
	}
	return n.send(ip, p)
}

// SendTodRequest asks peers for the tables of devices behind the node's
// enabled input ports.
func (n *Node) SendTodRequest() error {
	if err := n.checkOn("send tod request"); err != nil {
		return err
	}
	p := &artnet.TodRequest{Command: artnet.TodFull}
	for i := range n.in {
		if n.in[i].enabled {
			p.Addresses = append(p.Addresses, n.in[i].addr)
		}
	}
	return n.send(nil, p)
}

// SendTodControl broadcasts a table of devices control command.
func (n *Node) SendTodControl(address, command uint8) error {
	if err := n.checkOn("send tod control"); err != nil {
		return err
	}
	return n.send(nil, &artnet.TodControl{Command: command, Address: address})
}

// SendTodData broadcasts the table of devices of output port id, split into
// blocks of at most 200 UIDs.
func (n *Node) SendTodData(id int) error {
	if err := n.checkOn("send tod data"); err != nil {
		return err
	}
	if err := checkPort(id); err != nil {
		return err
	}
	o := &n.out[id]
	total := o.tod.Len()
	for block, uids := range o.tod.blocks() {
		p := &artnet.TodData{
			RDMVersion:      artnet.RDMVersion,
			Port:            uint8(id + 1),
			CommandResponse: artnet.TodResponseFull,
			Address:         o.addr,
			UIDTotal:        uint16(total),
			BlockCount:      uint8(block),
			UIDs:            uids,
		}
		if err := n.send(nil, p); err != nil {
			return err
		}
	}
	return nil
}

package node

import (
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
	"github.com/bbernstein/lacylights-artnet/pkg/transport"
)

// Read processes pending datagrams. With block true it waits for the first
// one. It returns ErrNoData when nothing was pending in non-blocking mode.
func (n *Node) Read(block bool) error {
	if n.mode != ModeOn {
		return fmt.Errorf("%w: read in mode %s", ErrState, n.mode)
	}

	d, err := n.tr.Recv(block)
	if err != nil {
		return n.recvErr(err)
	}
	n.handle(d)

	for n.mode == ModeOn {
		d, err := n.tr.Recv(false)
		if errors.Is(err, transport.ErrNoData) {
			return nil
		}
		if err != nil {
			return n.recvErr(err)
		}
		n.handle(d)
	}
	return nil
}

func (n *Node) recvErr(err error) error {
	switch {
	case errors.Is(err, transport.ErrNoData):
		return ErrNoData
	case errors.Is(err, transport.ErrClosed):
		return fmt.Errorf("%w: transport closed", ErrState)
	}
	return err
}

// HandleDatagram runs one raw datagram through the engine as if it had been
// received from from.
func (n *Node) HandleDatagram(data []byte, from net.IP) {
	n.handle(transport.Datagram{Data: data, From: from})
}

func (n *Node) handle(d transport.Datagram) {
	if n.ip != nil && d.From.Equal(n.ip) {
		return
	}
	p, err := artnet.Decode(d.Data)
	if err != nil {
		n.dropped(logrus.Fields{"peer": d.From, "size": len(d.Data), "error": err}, "dropped datagram")
		return
	}
	if n.fire(HookRecv, d.From, p) {
		return
	}
	n.dispatch(d.From, p)
}

func (n *Node) dispatch(from net.IP, p artnet.Packet) {
	switch pkt := p.(type) {
	case *artnet.Poll:
		if !n.fire(HookPoll, from, pkt) {
			n.handlePoll(from, pkt)
		}
	case *artnet.PollReply:
		if !n.fire(HookReply, from, pkt) {
			n.handlePollReply(from, pkt)
		}
	case *artnet.Dmx:
		if !n.fire(HookDmx, from, pkt) {
			n.handleDmx(from, pkt)
		}
	case *artnet.Address:
		if !n.fire(HookAddress, from, pkt) {
			n.handleAddress(pkt)
		}
	case *artnet.Input:
		if !n.fire(HookInput, from, pkt) {
			n.handleInput(pkt)
		}
	case *artnet.TodRequest:
		if !n.fire(HookTodRequest, from, pkt) {
			n.handleTodRequest(pkt)
		}
	case *artnet.TodData:
		if !n.fire(HookTodData, from, pkt) {
			n.handleTodData(pkt)
		}
	case *artnet.TodControl:
		if !n.fire(HookTodControl, from, pkt) {
			n.handleTodControl(pkt)
		}
	case *artnet.Rdm:
		if !n.fire(HookRdm, from, pkt) {
			n.notifyRDM(pkt.Address, pkt.Data)
		}
	case *artnet.IPProg:
		if !n.fire(HookIPProg, from, pkt) {
			n.handleIPProg(from, pkt)
		}
	case *artnet.FirmwareMaster:
		if !n.fire(HookFirmware, from, pkt) {
			n.handleFirmwareMaster(from, pkt)
		}
	case *artnet.FirmwareReply:
		if !n.fire(HookFirmwareReply, from, pkt) {
			n.handleFirmwareReply(from, pkt)
		}
	default:
		n.dropped(logrus.Fields{"peer": from, "op": p.OpCode()}, "unhandled opcode")
	}
}

func (n *Node) handlePoll(from net.IP, p *artnet.Poll) {
	if p.TalkToMe&artnet.TTMUnicastReply != 0 {
		n.replyTo = from
	} else {
		n.replyTo = nil
	}
	n.replyOnChange = p.TalkToMe&artnet.TTMReplyOnChange != 0
	n.logSend(n.sendPollReply(true))
}

func (n *Node) handlePollReply(from net.IP, p *artnet.PollReply) {
	if _, err := n.peers.upsert(from, p); err != nil {
		n.log.WithField("peer", from).WithError(err).Warn("peer not recorded")
	}
}

func (n *Node) handleDmx(from net.IP, p *artnet.Dmx) {
	now := n.now()
	for i := range n.out {
		o := &n.out[i]
		if !o.enabled || uint16(o.addr) != p.Universe {
			continue
		}
		ok, mergeChanged := o.receive(now, from, p.Data)
		if !ok {
			n.dropped(logrus.Fields{"peer": from, "port": i}, "third merge source refused")
			continue
		}
		if mergeChanged {
			n.changed()
		}
		n.notifyDMX(i)
	}
}

func (n *Node) handleAddress(p *artnet.Address) {
	if n.style == StyleServer {
		return
	}
	if p.ShortName != "" {
		n.shortName = p.ShortName
		n.reportCode = artnet.RcShNameOK
	}
	if p.LongName != "" {
		n.longName = p.LongName
		n.reportCode = artnet.RcLoNameOK
	}
	n.programSubnet(p.SubSwitch)
	for i := 0; i < MaxPorts; i++ {
		n.in[i].program(p.SwIn[i], n.subnet)
		n.out[i].program(p.SwOut[i], n.subnet)
	}
	n.applyCommand(p.Command)

	n.notifyProgram()
	n.logSend(n.sendPollReply(true))
}

func (n *Node) handleInput(p *artnet.Input) {
	count := int(p.NumPorts)
	if count > MaxPorts {
		count = MaxPorts
	}
	for i := 0; i < count; i++ {
		if p.Input[i]&artnet.PortDisable != 0 {
			n.in[i].status |= artnet.PortStatusDisabled
		} else {
			n.in[i].status &^= artnet.PortStatusDisabled
		}
	}
	n.logSend(n.sendPollReply(true))
}

func (n *Node) handleTodRequest(p *artnet.TodRequest) {
	for _, addr := range p.Addresses {
		for i := range n.out {
			if n.out[i].enabled && n.out[i].addr == addr {
				n.logSend(n.SendTodData(i))
			}
		}
	}
}

// handleTodData mirrors a peer's table into matching input ports. NAK and
// full responses share one code, so every response is treated as full.
func (n *Node) handleTodData(p *artnet.TodData) {
	if p.CommandResponse != artnet.TodResponseFull {
		return
	}
	for i := range n.in {
		in := &n.in[i]
		if !in.enabled || in.addr != p.Address {
			continue
		}
		if p.BlockCount == 0 {
			in.tod.Flush()
		}
		for _, uid := range p.UIDs {
			if err := in.tod.Add(uid); err != nil {
				n.log.WithField("port", i).WithError(err).Warn("table of devices full")
				break
			}
		}
		n.notifyRDMTod(i)
	}
}

func (n *Node) handleTodControl(p *artnet.TodControl) {
	if p.Command != artnet.TodControlFlush {
		return
	}
	for i := range n.out {
		if !n.out[i].enabled || n.out[i].addr != p.Address {
			continue
		}
		n.out[i].tod.Flush()
		n.notifyRDMInit(i)
		n.logSend(n.SendTodData(i))
	}
}

func (n *Node) handleIPProg(from net.IP, p *artnet.IPProg) {
	if n.ipProg && p.Command&artnet.IPProgEnable != 0 {
		if p.Command&artnet.IPProgDefaults != 0 {
			n.ip = n.defaultIP
			n.mask = net.IPv4(255, 0, 0, 0).To4()
			n.udpPort = artnet.DefaultPort
		}
		if p.Command&artnet.IPProgIP != 0 {
			n.ip = net.IP(append([]byte(nil), p.IP[:]...))
		}
		if p.Command&artnet.IPProgSubnetMask != 0 {
			n.mask = net.IP(append([]byte(nil), p.SubnetMask[:]...))
		}
		if p.Command&artnet.IPProgPort != 0 {
			n.udpPort = int(p.Port)
		}
		n.notifyProgram()
	}

	reply := &artnet.IPProgReply{Port: uint16(n.udpPort)}
	copy(reply.IP[:], n.ip.To4())
	copy(reply.SubnetMask[:], n.mask.To4())
	n.logSend(n.send(from, reply))
}

// Tick advances timers: merge and firmware timeouts, reply tokens and
// deferred ArtPollReply emission. Call it at least once a second.
func (n *Node) Tick() {
	if n.mode != ModeOn {
		return
	}
	now := n.now()

	for i := range n.out {
		o := &n.out[i]
		before := o.status & artnet.PortStatusMerge
		if o.expire(now) {
			n.log.WithField("port", i).Debug("merge source timed out")
			if before != o.status&artnet.PortStatusMerge {
				n.dirty = true
			}
			n.notifyDMX(i)
		}
	}

	n.expireOutbound(now)
	n.expireInbound(now)

	if n.tokens < maxReplyTokens {
		n.tokens++
	}
	n.flushReply()
}

package node

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

const (
	// FirmwareBlockWords is the number of 16-bit words per firmware block.
	FirmwareBlockWords = artnet.FirmwareBlockWords
	// FirmwareRetries bounds retransmissions of a block the peer rejected.
	FirmwareRetries = 3
	// MaxFirmwareWords bounds the size of one firmware image.
	MaxFirmwareWords = 1 << 20
)

// FirmwareStatus is the outcome of an outbound transfer.
type FirmwareStatus int

const (
	FirmwareAllGood FirmwareStatus = iota
	FirmwareFailed
)

func (s FirmwareStatus) String() string {
	if s == FirmwareAllGood {
		return "all-good"
	}
	return "failed"
}

// FirmwareResult reports the end of an outbound transfer.
type FirmwareResult struct {
	Peer         net.IP
	UBEA         bool
	Status       FirmwareStatus
	BytesCurrent int
	BytesTotal   int
}

type outboundTransfer struct {
	peer     net.IP
	ubea     bool
	words    []uint16
	block    int
	acked    int
	retries  int
	lastTime time.Time
	done     FirmwareCallback
}

func (t *outboundTransfer) blocks() int {
	return (len(t.words) + FirmwareBlockWords - 1) / FirmwareBlockWords
}

func (t *outboundTransfer) chunk(block int) []uint16 {
	start := block * FirmwareBlockWords
	end := start + FirmwareBlockWords
	if end > len(t.words) {
		end = len(t.words)
	}
	return t.words[start:end]
}

func (t *outboundTransfer) packet() *artnet.FirmwareMaster {
	last := t.blocks() - 1
	typ := artnet.FirmwareCont
	switch {
	case t.block == 0:
		typ = artnet.FirmwareFirst
	case t.block == last:
		typ = artnet.FirmwareLast
	}
	if t.ubea {
		typ += artnet.FirmwareUBEAFirst
	}
	return &artnet.FirmwareMaster{
		Type:           typ,
		BlockID:        uint8(t.block),
		FirmwareLength: uint32(len(t.words)),
		Data:           t.chunk(t.block),
	}
}

// SendFirmware uploads words to a known peer. done is called once with the
// outcome; a peer holds at most one transfer at a time.
func (n *Node) SendFirmware(ip net.IP, ubea bool, words []uint16, done FirmwareCallback) error {
	if n.mode != ModeOn {
		return fmt.Errorf("%w: send firmware in mode %s", ErrState, n.mode)
	}
	if len(words) == 0 || len(words) > MaxFirmwareWords {
		return fmt.Errorf("%w: firmware of %d words", ErrArg, len(words))
	}
	p := n.peers.find(ip)
	if p == nil {
		return fmt.Errorf("%w: unknown peer %v", ErrArg, ip)
	}
	if p.fw != nil {
		return fmt.Errorf("%w: firmware transfer to %v in progress", ErrAction, ip)
	}

	t := &outboundTransfer{
		peer:     p.entry.IP,
		ubea:     ubea,
		words:    append([]uint16(nil), words...),
		lastTime: n.now(),
		done:     done,
	}
	if err := n.send(t.peer, t.packet()); err != nil {
		return err
	}
	p.fw = t
	n.log.WithFields(logrus.Fields{
		"peer":  t.peer,
		"words": len(words),
		"ubea":  ubea,
	}).Info("firmware upload started")
	return nil
}

// FirmwareProgress reports the acknowledged and total bytes of the transfer
// to ip.
func (n *Node) FirmwareProgress(ip net.IP) (current, total int, ok bool) {
	p := n.peers.find(ip)
	if p == nil || p.fw == nil {
		return 0, 0, false
	}
	return p.fw.acked * 2, len(p.fw.words) * 2, true
}

// handleFirmwareReply advances the outbound transfer to peer.
func (n *Node) handleFirmwareReply(from net.IP, r *artnet.FirmwareReply) {
	p := n.peers.find(from)
	if p == nil || p.fw == nil {
		n.dropped(logrus.Fields{"peer": from}, "firmware reply without transfer")
		return
	}
	t := p.fw
	t.lastTime = n.now()

	switch r.Type {
	case artnet.FirmwareBlockGood:
		t.acked += len(t.chunk(t.block))
		t.retries = 0
		if t.block+1 >= t.blocks() {
			n.finishOutbound(p, FirmwareAllGood)
			return
		}
		t.block++
		n.logSend(n.send(t.peer, t.packet()))
	case artnet.FirmwareAllGood:
		t.acked = len(t.words)
		n.finishOutbound(p, FirmwareAllGood)
	case artnet.FirmwareFail:
		t.retries++
		if t.retries > FirmwareRetries {
			n.finishOutbound(p, FirmwareFailed)
			return
		}
		n.logSend(n.send(t.peer, t.packet()))
	default:
		n.dropped(logrus.Fields{"peer": from, "type": r.Type}, "unknown firmware reply")
	}
}

func (n *Node) finishOutbound(p *peer, status FirmwareStatus) {
	t := p.fw
	p.fw = nil
	n.log.WithFields(logrus.Fields{
		"peer":   t.peer,
		"status": status,
	}).Info("firmware upload finished")
	if t.done != nil {
		t.done(n, FirmwareResult{
			Peer:         t.peer,
			UBEA:         t.ubea,
			Status:       status,
			BytesCurrent: t.acked * 2,
			BytesTotal:   len(t.words) * 2,
		})
	}
}

// expireOutbound fails stalled uploads and forgets their peers.
func (n *Node) expireOutbound(now time.Time) {
	var stale []*peer
	for _, p := range n.peers.peers {
		if p.fw != nil && now.Sub(p.fw.lastTime) >= FirmwareTimeout {
			stale = append(stale, p)
		}
	}
	for _, p := range stale {
		n.log.WithField("peer", p.entry.IP).Warn("firmware upload timed out")
		n.peers.remove(p.entry.IP)
		n.finishOutbound(p, FirmwareFailed)
	}
}

type inboundTransfer struct {
	active   bool
	peer     net.IP
	ubea     bool
	total    int
	words    []uint16
	expected uint8
	lastTime time.Time
}

func (t *inboundTransfer) reset() {
	*t = inboundTransfer{}
}

// handleFirmwareMaster assembles an inbound upload. Every block is answered.
func (n *Node) handleFirmwareMaster(from net.IP, m *artnet.FirmwareMaster) {
	if n.style == StyleServer {
		return
	}
	t := &n.incoming
	fields := logrus.Fields{"peer": from, "block": m.BlockID, "type": m.Type}

	switch m.Type {
	case artnet.FirmwareFirst, artnet.FirmwareUBEAFirst:
		if t.active && !t.peer.Equal(from) {
			n.dropped(fields, "firmware upload already in progress")
			n.replyFirmware(from, artnet.FirmwareFail)
			return
		}
		if m.FirmwareLength == 0 || m.FirmwareLength > MaxFirmwareWords {
			n.log.WithFields(fields).WithError(ErrMem).Warn("firmware image too large")
			t.reset()
			n.replyFirmware(from, artnet.FirmwareFail)
			return
		}
		*t = inboundTransfer{
			active:   true,
			peer:     from,
			ubea:     m.Type == artnet.FirmwareUBEAFirst,
			total:    int(m.FirmwareLength),
			words:    make([]uint16, 0, m.FirmwareLength),
			expected: m.BlockID + 1,
			lastTime: n.now(),
		}
		n.log.WithFields(fields).Info("firmware download started")
		n.acceptBlock(from, m.Data, false)

	case artnet.FirmwareCont, artnet.FirmwareLast, artnet.FirmwareUBEACont, artnet.FirmwareUBEALast:
		ubea := m.Type == artnet.FirmwareUBEACont || m.Type == artnet.FirmwareUBEALast
		if !t.active || !t.peer.Equal(from) || ubea != t.ubea || m.BlockID != t.expected {
			n.dropped(fields, "firmware block out of sequence")
			n.replyFirmware(from, artnet.FirmwareFail)
			return
		}
		t.expected++
		t.lastTime = n.now()
		last := m.Type == artnet.FirmwareLast || m.Type == artnet.FirmwareUBEALast
		n.acceptBlock(from, m.Data, last)

	default:
		n.dropped(fields, "unknown firmware block type")
		n.replyFirmware(from, artnet.FirmwareFail)
	}
}

func (n *Node) acceptBlock(from net.IP, data []uint16, last bool) {
	t := &n.incoming
	room := t.total - len(t.words)
	if len(data) > room {
		data = data[:room]
	}
	t.words = append(t.words, data...)

	if !last && len(t.words) < t.total {
		n.replyFirmware(from, artnet.FirmwareBlockGood)
		return
	}

	words, ubea := t.words, t.ubea
	t.reset()
	n.replyFirmware(from, artnet.FirmwareAllGood)
	n.log.WithFields(logrus.Fields{"peer": from, "words": len(words)}).Info("firmware download complete")
	n.notifyFirmware(ubea, words)
}

func (n *Node) replyFirmware(to net.IP, code uint8) {
	n.logSend(n.send(to, &artnet.FirmwareReply{Type: code}))
}

// expireInbound resets a stalled download.
func (n *Node) expireInbound(now time.Time) {
	t := &n.incoming
	if t.active && now.Sub(t.lastTime) >= FirmwareTimeout {
		n.log.WithField("peer", t.peer).Warn("firmware download timed out")
		t.reset()
	}
}

// FirmwareReceiving reports whether an inbound transfer is in progress.
func (n *Node) FirmwareReceiving() bool {
	return n.incoming.active
}

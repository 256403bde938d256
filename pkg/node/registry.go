package node

import (
	"fmt"
	"net"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

// NodeEntry describes a peer as advertised in its last ArtPollReply. IP is the
// source address the reply came from; the address inside the payload is not
// trusted.
type NodeEntry struct {
	IP         net.IP
	Style      Style
	ShortName  string
	LongName   string
	NodeReport string
	SubSwitch  uint8
	OEM        uint16
	ESTA       uint16
	UBEA       uint8
	Status     uint8
	NumPorts   uint16
	PortTypes  [MaxPorts]uint8
	GoodInput  [MaxPorts]uint8
	GoodOutput [MaxPorts]uint8
	SwIn       [MaxPorts]uint8
	SwOut      [MaxPorts]uint8
	SwVideo    uint8
	SwMacro    uint8
	SwRemote   uint8
	MAC        [artnet.MACLength]byte
}

// Outputs reports whether the peer advertises an output port for the given
// port address.
func (e *NodeEntry) Outputs(addr uint8) bool {
	for i := 0; i < MaxPorts; i++ {
		if e.PortTypes[i]&artnet.PortEnableOutput == 0 {
			continue
		}
		if (e.SubSwitch&0x0f)<<4|e.SwOut[i]&0x0f == addr {
			return true
		}
	}
	return false
}

func entryFromReply(ip net.IP, p *artnet.PollReply) NodeEntry {
	return NodeEntry{
		IP:         ip,
		Style:      Style(p.Style),
		ShortName:  p.ShortName,
		LongName:   p.LongName,
		NodeReport: p.NodeReport,
		SubSwitch:  p.SubSwitch,
		OEM:        p.OEM,
		ESTA:       p.ESTA,
		UBEA:       p.UBEAVersion,
		Status:     p.Status,
		NumPorts:   p.NumPorts,
		PortTypes:  p.PortTypes,
		GoodInput:  p.GoodInput,
		GoodOutput: p.GoodOutput,
		SwIn:       p.SwIn,
		SwOut:      p.SwOut,
		SwVideo:    p.SwVideo,
		SwMacro:    p.SwMacro,
		SwRemote:   p.SwRemote,
		MAC:        p.MAC,
	}
}

type peer struct {
	entry NodeEntry
	fw    *outboundTransfer
}

// registry is the insertion-ordered peer table with a host cursor.
type registry struct {
	peers  []*peer
	cursor int
}

func (r *registry) find(ip net.IP) *peer {
	for _, p := range r.peers {
		if p.entry.IP.Equal(ip) {
			return p
		}
	}
	return nil
}

// upsert records a reply from ip, updating an existing entry in place.
func (r *registry) upsert(ip net.IP, reply *artnet.PollReply) (*peer, error) {
	if p := r.find(ip); p != nil {
		p.entry = entryFromReply(p.entry.IP, reply)
		return p, nil
	}
	if len(r.peers) >= MaxNodeEntries {
		return nil, fmt.Errorf("%w: node list full", ErrMem)
	}
	owned := make(net.IP, len(ip))
	copy(owned, ip)
	p := &peer{entry: entryFromReply(owned, reply)}
	r.peers = append(r.peers, p)
	return p, nil
}

func (r *registry) remove(ip net.IP) {
	for i, p := range r.peers {
		if p.entry.IP.Equal(ip) {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			if i < r.cursor {
				r.cursor--
			}
			return
		}
	}
}

func (r *registry) reset() {
	r.peers = nil
	r.cursor = 0
}

func (r *registry) at(i int) *NodeEntry {
	if i < 0 || i >= len(r.peers) {
		return nil
	}
	e := r.peers[i].entry
	return &e
}

// First moves the node list cursor to the first peer and returns it, or nil
// for an empty list. The cursor is shared and not reentrant: do not call Read
// while iterating.
func (n *Node) First() *NodeEntry {
	n.peers.cursor = 0
	return n.peers.at(0)
}

// Next advances the cursor and returns the peer under it, or nil past the
// end.
func (n *Node) Next() *NodeEntry {
	if n.peers.cursor < len(n.peers.peers) {
		n.peers.cursor++
	}
	return n.peers.at(n.peers.cursor)
}

// Current returns the peer under the cursor.
func (n *Node) Current() *NodeEntry {
	return n.peers.at(n.peers.cursor)
}

// Len returns the number of known peers.
func (n *Node) Len() int {
	return len(n.peers.peers)
}

// Peer looks up a peer by address.
func (n *Node) Peer(ip net.IP) (*NodeEntry, bool) {
	p := n.peers.find(ip)
	if p == nil {
		return nil, false
	}
	e := p.entry
	return &e, true
}

// ResetNodeList forgets every peer. Outbound firmware transfers in flight are
// dropped without completion.
func (n *Node) ResetNodeList() {
	n.peers.reset()
}

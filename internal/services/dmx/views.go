package dmx

import (
	"net"

	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

// PeerInfo is the JSON form of a peer entry.
type PeerInfo struct {
	IP         string `json:"ip"`
	Style      string `json:"style"`
	ShortName  string `json:"shortName"`
	LongName   string `json:"longName"`
	NodeReport string `json:"nodeReport"`
	Subnet     int    `json:"subnet"`
	NumPorts   int    `json:"numPorts"`
	SwIn       []int  `json:"swIn"`
	SwOut      []int  `json:"swOut"`
	MAC        string `json:"mac"`
}

// NewPeerInfo converts a registry entry.
func NewPeerInfo(e node.NodeEntry) PeerInfo {
	info := PeerInfo{
		IP:         e.IP.String(),
		Style:      e.Style.String(),
		ShortName:  e.ShortName,
		LongName:   e.LongName,
		NodeReport: e.NodeReport,
		Subnet:     int(e.SubSwitch & 0x0f),
		NumPorts:   int(e.NumPorts),
		SwIn:       make([]int, node.MaxPorts),
		SwOut:      make([]int, node.MaxPorts),
		MAC:        net.HardwareAddr(e.MAC[:]).String(),
	}
	for i := 0; i < node.MaxPorts; i++ {
		info.SwIn[i] = int(e.SwIn[i])
		info.SwOut[i] = int(e.SwOut[i])
	}
	return info
}

// Channels widens a frame so it encodes as a JSON array of numbers.
func Channels(frame []byte) []int {
	out := make([]int, len(frame))
	for i, v := range frame {
		out[i] = int(v)
	}
	return out
}

// Peers returns the current registry.
func (s *Service) Peers() []PeerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerInfo, 0, s.node.Len())
	for e := s.node.First(); e != nil; e = s.node.Next() {
		out = append(out, NewPeerInfo(*e))
	}
	return out
}

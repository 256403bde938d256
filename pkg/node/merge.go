package node

import (
	"net"
	"time"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

// MergeMode selects how two DMX sources combine on an output port.
type MergeMode int

const (
	// MergeHTP takes the highest value per channel.
	MergeHTP MergeMode = iota
	// MergeLTP takes the most recently updated source.
	MergeLTP
)

func (m MergeMode) String() string {
	if m == MergeLTP {
		return "ltp"
	}
	return "htp"
}

// ParseMergeMode maps "htp" or "ltp" to a MergeMode.
func ParseMergeMode(s string) (MergeMode, error) {
	switch s {
	case "htp", "HTP", "":
		return MergeHTP, nil
	case "ltp", "LTP":
		return MergeLTP, nil
	}
	return 0, ErrArg
}

const channels = int(artnet.DMXDataLength)

type source struct {
	ip      net.IP
	updated time.Time
	data    [channels]byte
}

func (s *source) live(now time.Time) bool {
	return s.ip != nil && now.Sub(s.updated) <= MergeTimeout
}

type outputPort struct {
	port
	mode        MergeMode
	slots       [2]source
	owner       int
	cancelMerge bool
	data        [channels]byte
	// length is one past the highest channel that changed since the host
	// last read.
	length int
}

func (o *outputPort) setMode(m MergeMode) {
	o.mode = m
	if m == MergeLTP {
		o.status |= artnet.PortStatusLTP
	} else {
		o.status &^= artnet.PortStatusLTP
	}
}

// admit picks the slot for src, or -1 when two other sources are live.
func (o *outputPort) admit(now time.Time, src net.IP) int {
	for i := range o.slots {
		if o.slots[i].ip != nil && o.slots[i].ip.Equal(src) {
			return i
		}
	}
	for i := range o.slots {
		if o.slots[i].ip == nil {
			return i
		}
	}
	for i := range o.slots {
		if !o.slots[i].live(now) {
			return i
		}
	}
	return -1
}

// receive stores an ArtDmx payload from src and re-merges. It reports whether
// the packet was accepted and whether the merge bit changed.
func (o *outputPort) receive(now time.Time, src net.IP, data []byte) (accepted, mergeChanged bool) {
	if o.cancelMerge {
		o.slots = [2]source{}
		o.owner = 0
		o.cancelMerge = false
	}
	idx := o.admit(now, src)
	if idx < 0 {
		return false, false
	}

	s := &o.slots[idx]
	if s.ip == nil || !s.ip.Equal(src) {
		s.data = [channels]byte{}
	}
	s.ip = src
	s.updated = now
	copy(s.data[:], data)

	o.status |= artnet.PortStatusActivity
	return true, o.merge(now)
}

// merge rebuilds the output buffer from the live slots and reports whether
// the merge status bit changed.
func (o *outputPort) merge(now time.Time) bool {
	before := o.status & artnet.PortStatusMerge
	prev := o.data
	a, b := o.slots[0].live(now), o.slots[1].live(now)

	switch {
	case a && b:
		o.status |= artnet.PortStatusMerge
		if o.mode == MergeHTP {
			for i := range o.data {
				o.data[i] = max(o.slots[0].data[i], o.slots[1].data[i])
			}
			break
		}
		w := o.owner
		if o.slots[1-w].updated.After(o.slots[w].updated) {
			w = 1 - w
		}
		o.owner = w
		o.data = o.slots[w].data
	case a:
		o.status &^= artnet.PortStatusMerge
		o.owner = 0
		o.data = o.slots[0].data
	case b:
		o.status &^= artnet.PortStatusMerge
		o.owner = 1
		o.data = o.slots[1].data
	default:
		o.status &^= artnet.PortStatusMerge
	}
	o.markChanged(&prev)
	return before != o.status&artnet.PortStatusMerge
}

// markChanged raises length to cover the highest channel that differs from
// prev.
func (o *outputPort) markChanged(prev *[channels]byte) {
	for i := channels - 1; i >= o.length; i-- {
		if o.data[i] != prev[i] {
			o.length = i + 1
			return
		}
	}
}

// expire drops slots older than MergeTimeout. It reports whether any slot
// was dropped.
func (o *outputPort) expire(now time.Time) bool {
	dropped := false
	for i := range o.slots {
		if o.slots[i].ip != nil && !o.slots[i].live(now) {
			o.slots[i] = source{}
			dropped = true
		}
	}
	if dropped {
		o.merge(now)
	}
	return dropped
}

// clear blanks the output and forgets both sources.
func (o *outputPort) clear() {
	o.slots = [2]source{}
	o.owner = 0
	o.data = [channels]byte{}
	o.length = channels
	o.status &^= artnet.PortStatusMerge
}

// sources returns the live source addresses.
func (o *outputPort) sources(now time.Time) []net.IP {
	var out []net.IP
	for i := range o.slots {
		if o.slots[i].live(now) {
			out = append(out, o.slots[i].ip)
		}
	}
	return out
}

// ReadDMX returns a copy of the merged output of a port and the number of
// channels changed since the previous call.
func (n *Node) ReadDMX(id int) ([]byte, int, error) {
	if err := checkPort(id); err != nil {
		return nil, 0, err
	}
	o := &n.out[id]
	data := make([]byte, channels)
	copy(data, o.data[:])
	length := o.length
	o.length = 0
	return data, length, nil
}

// MergeSources returns the addresses currently feeding an output port.
func (n *Node) MergeSources(id int) ([]net.IP, error) {
	if err := checkPort(id); err != nil {
		return nil, err
	}
	return n.out[id].sources(n.now()), nil
}

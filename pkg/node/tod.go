package node

import (
	"fmt"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

// MaxTODEntries bounds the RDM table of devices of one port.
const MaxTODEntries = 512

// TOD is an ordered set of RDM UIDs.
type TOD struct {
	uids []artnet.UID
}

// Add appends uid unless it is already present.
func (t *TOD) Add(uid artnet.UID) error {
	if t.Contains(uid) {
		return nil
	}
	if len(t.uids) >= MaxTODEntries {
		return fmt.Errorf("%w: table of devices full", ErrMem)
	}
	t.uids = append(t.uids, uid)
	return nil
}

// Remove deletes uid and reports whether it was present.
func (t *TOD) Remove(uid artnet.UID) bool {
	for i, u := range t.uids {
		if u == uid {
			t.uids = append(t.uids[:i], t.uids[i+1:]...)
			return true
		}
	}
	return false
}

func (t *TOD) Contains(uid artnet.UID) bool {
	for _, u := range t.uids {
		if u == uid {
			return true
		}
	}
	return false
}

func (t *TOD) Flush() { t.uids = nil }

func (t *TOD) Len() int { return len(t.uids) }

// UIDs returns a copy of the table.
func (t *TOD) UIDs() []artnet.UID {
	out := make([]artnet.UID, len(t.uids))
	copy(out, t.uids)
	return out
}

// blocks splits the table into ArtTodData sized chunks. An empty table still
// yields one empty block.
func (t *TOD) blocks() [][]artnet.UID {
	if len(t.uids) == 0 {
		return [][]artnet.UID{nil}
	}
	var out [][]artnet.UID
	for i := 0; i < len(t.uids); i += artnet.MaxUIDCount {
		end := i + artnet.MaxUIDCount
		if end > len(t.uids) {
			end = len(t.uids)
		}
		out = append(out, t.uids[i:end])
	}
	return out
}

// AddRDMDevice adds uid to an output port's table and announces it.
func (n *Node) AddRDMDevice(id int, uid artnet.UID) error {
	return n.AddRDMDevices(id, []artnet.UID{uid})
}

// AddRDMDevices adds several UIDs with a single announcement.
func (n *Node) AddRDMDevices(id int, uids []artnet.UID) error {
	if err := checkPort(id); err != nil {
		return err
	}
	for _, uid := range uids {
		if err := n.out[id].tod.Add(uid); err != nil {
			return err
		}
	}
	if n.mode == ModeOn {
		return n.SendTodData(id)
	}
	return nil
}

// RemoveRDMDevice drops uid from an output port's table and announces the
// new table.
func (n *Node) RemoveRDMDevice(id int, uid artnet.UID) error {
	if err := checkPort(id); err != nil {
		return err
	}
	if !n.out[id].tod.Remove(uid) {
		return fmt.Errorf("%w: uid %s not on port %d", ErrArg, uid, id)
	}
	if n.mode == ModeOn {
		return n.SendTodData(id)
	}
	return nil
}

// TOD returns a copy of the table of devices of a port. Output tables hold
// local devices; input tables mirror what peers reported.
func (n *Node) TOD(dir Direction, id int) ([]artnet.UID, error) {
	p, err := n.portFor(dir, id)
	if err != nil {
		return nil, err
	}
	return p.tod.UIDs(), nil
}

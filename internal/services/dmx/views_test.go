package dmx

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bbernstein/lacylights-artnet/pkg/node"
)

func TestNewPeerInfo(t *testing.T) {
	e := node.NodeEntry{
		IP:        net.ParseIP("10.0.0.2"),
		Style:     node.StyleServer,
		ShortName: "desk",
		SubSwitch: 0x13,
		NumPorts:  2,
		SwOut:     [node.MaxPorts]uint8{1, 2},
		MAC:       [6]byte{0, 0x11, 0x22, 0x33, 0x44, 0x55},
	}

	info := NewPeerInfo(e)
	assert.Equal(t, "10.0.0.2", info.IP)
	assert.Equal(t, "server", info.Style)
	assert.Equal(t, 3, info.Subnet)
	assert.Equal(t, 2, info.NumPorts)
	assert.Equal(t, []int{1, 2, 0, 0}, info.SwOut)
	assert.Equal(t, "00:11:22:33:44:55", info.MAC)
}

func TestChannels(t *testing.T) {
	assert.Equal(t, []int{0, 128, 255}, Channels([]byte{0, 128, 255}))
	assert.Empty(t, Channels(nil))
}

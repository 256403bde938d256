package dmx

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-artnet/internal/services/pubsub"
	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
	"github.com/bbernstein/lacylights-artnet/pkg/node"
	"github.com/bbernstein/lacylights-artnet/pkg/transport"
)

const nodeIP = "10.0.0.1"

type countingObserver struct {
	mu       sync.Mutex
	received map[artnet.OpCode]int
	sent     map[artnet.OpCode]int
	peers    int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{received: map[artnet.OpCode]int{}, sent: map[artnet.OpCode]int{}}
}

func (o *countingObserver) PacketReceived(op artnet.OpCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received[op]++
}

func (o *countingObserver) PacketSent(op artnet.OpCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[op]++
}

func (o *countingObserver) PeerCount(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peers = n
}

func (o *countingObserver) MergeSourceCount(int, int) {}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestService(t *testing.T, hub *transport.Hub) *Service {
	t.Helper()
	n, err := node.New(node.StyleNode, node.WithTransport(hub.Join(net.ParseIP(nodeIP))))
	require.NoError(t, err)
	require.NoError(t, n.SetIP(net.ParseIP(nodeIP)))
	require.NoError(t, n.SetPortAddr(node.PortInput, 0, 1))
	require.NoError(t, n.SetPortAddr(node.PortOutput, 0, 2))
	cfg := Config{RefreshRateHz: 40, IdleRateHz: 1, HighRateDuration: 2 * time.Second, TickInterval: 50 * time.Millisecond}
	return NewService(n, cfg, pubsub.New(), quietLogger())
}

func newProbe(t *testing.T, hub *transport.Hub, ip string) *transport.Local {
	t.Helper()
	l := hub.Join(net.ParseIP(ip))
	require.NoError(t, l.Start())
	return l
}

func send(t *testing.T, from *transport.Local, p artnet.Packet) {
	t.Helper()
	data, err := artnet.Encode(p)
	require.NoError(t, err)
	require.NoError(t, from.Send(net.ParseIP(nodeIP), data))
}

func dmxPackets(t *testing.T, l *transport.Local) []*artnet.Dmx {
	t.Helper()
	var out []*artnet.Dmx
	for {
		d, err := l.Recv(false)
		if err != nil {
			return out
		}
		p, err := artnet.Decode(d.Data)
		require.NoError(t, err)
		if dmx, ok := p.(*artnet.Dmx); ok {
			out = append(out, dmx)
		}
	}
}

func waitEvent(t *testing.T, sub *pubsub.Subscriber) pubsub.Event {
	t.Helper()
	select {
	case ev := <-sub.Channel:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", sub.Topic)
	}
	return pubsub.Event{}
}

func TestNewServiceDefaults(t *testing.T) {
	n, err := node.New(node.StyleNode)
	require.NoError(t, err)

	s := NewService(n, Config{}, nil, nil)
	assert.Equal(t, 44, s.refreshRateHz)
	assert.Equal(t, 1, s.GetCurrentRate())
	assert.Equal(t, time.Second, s.tickInterval)
	assert.NotNil(t, s.PubSub())
	assert.False(t, s.IsActive())
}

func TestSetChannelValue(t *testing.T) {
	s := newTestService(t, transport.NewHub())

	require.NoError(t, s.SetChannelValue(0, 1, 128))
	require.NoError(t, s.SetChannelValue(0, 512, 7))
	frame, err := s.InputFrame(0)
	require.NoError(t, err)
	assert.Equal(t, byte(128), frame[0])
	assert.Equal(t, byte(7), frame[511])
	assert.True(t, s.IsActive())
	assert.Equal(t, 40, s.GetCurrentRate())

	assert.ErrorIs(t, s.SetChannelValue(0, 0, 1), node.ErrArg)
	assert.ErrorIs(t, s.SetChannelValue(0, 513, 1), node.ErrArg)
	assert.ErrorIs(t, s.SetChannelValue(4, 1, 1), node.ErrArg)
	assert.ErrorIs(t, s.SetAllChannels(0, make([]byte, 513)), node.ErrArg)
	_, err = s.InputFrame(-1)
	assert.ErrorIs(t, err, node.ErrArg)
}

func TestAdaptiveRateTransmission(t *testing.T) {
	hub := transport.NewHub()
	s := newTestService(t, hub)
	require.NoError(t, s.Do(func(n *node.Node) error { return n.Start() }))
	rx := newProbe(t, hub, "10.0.0.9")

	require.NoError(t, s.SetAllChannels(0, []byte{1, 2, 3}))
	now := time.Now()
	s.processTransmission(now)

	packets := dmxPackets(t, rx)
	require.Len(t, packets, 1)
	assert.Equal(t, uint16(1), packets[0].Universe)
	assert.Equal(t, []byte{1, 2, 3}, packets[0].Data[:3])

	// Clean frame within the high rate window: still resent as keep-alive.
	s.processTransmission(now.Add(time.Second))
	assert.Len(t, dmxPackets(t, rx), 1)
	assert.True(t, s.IsActive())

	s.processTransmission(now.Add(3 * time.Second))
	assert.Len(t, dmxPackets(t, rx), 1)
	assert.False(t, s.IsActive())
	assert.Equal(t, 1, s.GetCurrentRate())
}

func TestBlackout(t *testing.T) {
	hub := transport.NewHub()
	s := newTestService(t, hub)
	require.NoError(t, s.Do(func(n *node.Node) error { return n.Start() }))
	rx := newProbe(t, hub, "10.0.0.9")

	require.NoError(t, s.SetAllChannels(0, []byte{255, 255}))
	s.Blackout()
	s.processTransmission(time.Now())

	packets := dmxPackets(t, rx)
	require.Len(t, packets, 1)
	assert.Equal(t, []byte{0, 0}, packets[0].Data[:2])
}

func TestRunningServicePublishesEvents(t *testing.T) {
	hub := transport.NewHub()
	s := newTestService(t, hub)
	obs := newCountingObserver()
	s.SetObserver(obs)

	peers := s.PubSub().Subscribe(pubsub.TopicPeer, "", 4)
	outputs := s.PubSub().Subscribe(pubsub.TopicDMXOutput, "0", 4)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	peer := newProbe(t, hub, "10.0.0.2")

	send(t, peer, &artnet.PollReply{ShortName: "dimmer rack", SwOut: [4]uint8{2}, PortTypes: [4]uint8{artnet.PortEnableOutput}})
	ev := waitEvent(t, peers)
	pe, ok := ev.Data.(PeerEvent)
	require.True(t, ok)
	assert.Equal(t, "dimmer rack", pe.Entry.ShortName)
	assert.Equal(t, "10.0.0.2", ev.Filter)

	send(t, peer, &artnet.Dmx{Sequence: 1, Universe: 2, Data: []byte{10, 20}})
	ev = waitEvent(t, outputs)
	oe, ok := ev.Data.(OutputEvent)
	require.True(t, ok)
	assert.Equal(t, 0, oe.Port)
	assert.Equal(t, []byte{10, 20}, oe.Data[:2])

	frame, err := s.OutputFrame(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20}, frame[:2])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.received[artnet.OpPollReply])
	assert.Equal(t, 1, obs.received[artnet.OpDmx])
	assert.Equal(t, 1, obs.sent[artnet.OpPollReply])
	assert.Equal(t, 1, obs.peers)
}

func TestProgramEventPublished(t *testing.T) {
	hub := transport.NewHub()
	s := newTestService(t, hub)
	programmed := s.PubSub().Subscribe(pubsub.TopicProgrammed, "", 4)
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop(context.Background()) }()
	console := newProbe(t, hub, "10.0.0.50")

	send(t, console, &artnet.Address{
		ShortName: "stage left",
		SwIn:      [4]uint8{0x7f, 0x7f, 0x7f, 0x7f},
		SwOut:     [4]uint8{0x7f, 0x7f, 0x7f, 0x7f},
		SubSwitch: 0x84,
	})

	ev := waitEvent(t, programmed)
	pe, ok := ev.Data.(ProgramEvent)
	require.True(t, ok)
	assert.Equal(t, "stage left", pe.ShortName)
	assert.Equal(t, uint8(4), pe.Subnet)
}

func TestSendFirmwareUnknownPeer(t *testing.T) {
	hub := transport.NewHub()
	s := newTestService(t, hub)
	require.NoError(t, s.Do(func(n *node.Node) error { return n.Start() }))

	err := s.SendFirmware(net.ParseIP("10.0.0.77"), false, []uint16{1, 2})
	assert.ErrorIs(t, err, node.ErrArg)
}

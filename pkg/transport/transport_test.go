package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ipA = net.IPv4(10, 0, 0, 1)
	ipB = net.IPv4(10, 0, 0, 2)
	ipC = net.IPv4(10, 0, 0, 3)
)

func startedHub(t *testing.T) (*Local, *Local, *Local) {
	t.Helper()
	hub := NewHub()
	a, b, c := hub.Join(ipA), hub.Join(ipB), hub.Join(ipC)
	for _, l := range []*Local{a, b, c} {
		require.NoError(t, l.Start())
	}
	return a, b, c
}

func TestLocalUnicast(t *testing.T) {
	a, b, c := startedHub(t)

	require.NoError(t, a.Send(ipB, []byte("hello")))

	d, err := b.Recv(false)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), d.Data)
	assert.True(t, d.From.Equal(ipA))

	_, err = c.Recv(false)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLocalBroadcastSkipsSender(t *testing.T) {
	a, b, c := startedHub(t)

	require.NoError(t, a.Broadcast([]byte{1}))

	for _, l := range []*Local{b, c} {
		d, err := l.Recv(false)
		require.NoError(t, err)
		assert.Equal(t, []byte{1}, d.Data)
	}
	_, err := a.Recv(false)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLocalReadySignalled(t *testing.T) {
	a, b, _ := startedHub(t)

	require.NoError(t, a.Send(ipB, []byte{2}))

	select {
	case <-b.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready not signalled")
	}
}

func TestLocalNotStarted(t *testing.T) {
	hub := NewHub()
	l := hub.Join(ipA)

	err := l.Send(ipB, []byte{0})
	assert.ErrorIs(t, err, ErrNet)
}

func TestLocalCloseUnblocksRecv(t *testing.T) {
	a, _, _ := startedHub(t)

	done := make(chan error, 1)
	go func() {
		_, err := a.Recv(true)
		done <- err
	}()

	require.NoError(t, a.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestLocalRestart(t *testing.T) {
	a, b, _ := startedHub(t)

	require.NoError(t, b.Close())
	require.NoError(t, b.Start())
	require.NoError(t, a.Send(ipB, []byte{3}))

	d, err := b.Recv(false)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, d.Data)
}

func TestInboxDropsWhenFull(t *testing.T) {
	in := newInbox()
	for i := 0; i < queueSize; i++ {
		require.True(t, in.push(Datagram{}))
	}
	assert.False(t, in.push(Datagram{}))
}

func TestUDPLoopback(t *testing.T) {
	loopback := net.IPv4(127, 0, 0, 1)
	u := NewUDP(0, loopback, loopback)
	if err := u.Start(); err != nil {
		t.Skipf("cannot bind loopback socket: %v", err)
	}
	defer u.Close()

	require.NotNil(t, u.LocalAddr())
	require.NoError(t, u.Send(loopback, []byte("Art-Net\x00")))

	d, err := u.Recv(true)
	require.NoError(t, err)
	assert.Equal(t, []byte("Art-Net\x00"), d.Data)
	assert.True(t, d.From.Equal(loopback))
}

func TestUDPSendBeforeStart(t *testing.T) {
	u := NewUDP(0, nil, nil)
	err := u.Broadcast([]byte{0})
	assert.ErrorIs(t, err, ErrNet)
}

func TestUDPReceivesBroadcast(t *testing.T) {
	bcast := net.IPv4(127, 255, 255, 255)
	u := NewUDP(0, nil, bcast)
	if err := u.Start(); err != nil {
		t.Skipf("cannot bind socket: %v", err)
	}
	defer u.Close()

	if err := u.Broadcast([]byte("bcast")); err != nil {
		t.Skipf("cannot broadcast on loopback: %v", err)
	}
	require.NoError(t, u.Send(net.IPv4(127, 0, 0, 1), []byte("ucast")))

	var got []string
	require.Eventually(t, func() bool {
		for {
			d, err := u.Recv(false)
			if err != nil {
				return len(got) == 2
			}
			got = append(got, string(d.Data))
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"bcast", "ucast"}, got)
}

func TestUDPReadFailureReported(t *testing.T) {
	loopback := net.IPv4(127, 0, 0, 1)
	u := NewUDP(0, loopback, loopback)
	if err := u.Start(); err != nil {
		t.Skipf("cannot bind loopback socket: %v", err)
	}
	ready := u.Ready()

	// Closing the socket underneath the transport stops the pump with an error.
	require.NoError(t, u.raw.Close())
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("Ready not signalled after read failure")
	}

	_, err := u.Recv(true)
	assert.ErrorIs(t, err, ErrNet)
	_, err = u.Recv(false)
	assert.ErrorIs(t, err, ErrNet)
	_ = u.Close()
}

func TestInboxFailDrainsQueue(t *testing.T) {
	in := newInbox()
	require.True(t, in.push(Datagram{Data: []byte{1}}))
	in.fail(errors.New("read: connection reset"))

	d, err := in.pop(false)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, d.Data)

	_, err = in.pop(true)
	assert.ErrorIs(t, err, ErrNet)
	assert.Contains(t, err.Error(), "connection reset")
}

package transport

import (
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// maxDatagram covers the largest Art-Net packet with room to spare.
const maxDatagram = 1500

// UDP is a Transport over an IPv4 datagram socket. A pump goroutine reads the
// socket into a bounded queue so that Recv can be polled without blocking.
type UDP struct {
	port      int
	bind      net.IP
	broadcast net.IP

	mu      sync.Mutex
	raw     net.PacketConn
	conn    *ipv4.PacketConn
	in      *inbox
	started bool
	done    sync.WaitGroup
}

// NewUDP returns a transport for port. bind selects the local address to
// listen on (nil for all interfaces) and broadcast is the destination used by
// Broadcast.
func NewUDP(port int, bind, broadcast net.IP) *UDP {
	if broadcast == nil {
		broadcast = net.IPv4bcast
	}
	return &UDP{
		port:      port,
		bind:      bind,
		broadcast: broadcast,
		in:        newInbox(),
	}
}

// SetBroadcast changes the address used by Broadcast.
func (u *UDP) SetBroadcast(ip net.IP) {
	u.mu.Lock()
	u.broadcast = ip
	u.mu.Unlock()
}

// LocalAddr returns the bound socket address, or nil before Start.
func (u *UDP) LocalAddr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.raw == nil {
		return nil
	}
	return u.raw.LocalAddr()
}

func (u *UDP) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return nil
	}

	addr := fmt.Sprintf(":%d", u.port)
	if u.bind != nil && !u.bind.IsUnspecified() {
		addr = fmt.Sprintf("%s:%d", u.bind, u.port)
	}
	raw, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrNet, addr, err)
	}

	// Port 0 picks an ephemeral port; peers are then addressed on it too.
	if ua, ok := raw.LocalAddr().(*net.UDPAddr); ok && u.port == 0 {
		u.port = ua.Port
	}
	u.raw = raw
	u.conn = ipv4.NewPacketConn(raw)
	u.started = true
	if u.in.isClosed() {
		u.in = newInbox()
	}

	u.done.Add(1)
	go u.readPackets(u.conn, u.in)
	return nil
}

// readPackets pumps datagrams into in until the socket is closed. Any other
// read error fails the inbox so Recv reports it.
func (u *UDP) readPackets(conn *ipv4.PacketConn, in *inbox) {
	defer u.done.Done()
	buf := make([]byte, maxDatagram)

	for {
		n, _, src, err := conn.ReadFrom(buf)
		if err != nil {
			if !in.isClosed() {
				in.fail(err)
			}
			return
		}

		var from net.IP
		if ua, ok := src.(*net.UDPAddr); ok {
			from = ua.IP.To4()
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		// Queue full: drop the datagram.
		in.push(Datagram{Data: data, From: from})
	}
}

func (u *UDP) Send(ip net.IP, data []byte) error {
	u.mu.Lock()
	conn := u.conn
	u.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not started", ErrNet)
	}

	dst := &net.UDPAddr{IP: ip, Port: u.port}
	if _, err := conn.WriteTo(data, nil, dst); err != nil {
		return fmt.Errorf("%w: send to %s: %v", ErrNet, dst, err)
	}
	return nil
}

func (u *UDP) Broadcast(data []byte) error {
	u.mu.Lock()
	bcast := u.broadcast
	u.mu.Unlock()
	return u.Send(bcast, data)
}

func (u *UDP) Recv(block bool) (Datagram, error) {
	u.mu.Lock()
	in := u.in
	u.mu.Unlock()
	return in.pop(block)
}

// Ready returns the readiness channel of the current socket. A restarted
// transport hands out a new channel.
func (u *UDP) Ready() <-chan struct{} {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.in.ready
}

func (u *UDP) Close() error {
	u.mu.Lock()
	raw := u.raw
	u.raw = nil
	u.conn = nil
	u.started = false
	in := u.in
	u.mu.Unlock()

	in.close()
	if raw == nil {
		return nil
	}
	err := raw.Close()
	u.done.Wait()
	if err != nil {
		return fmt.Errorf("%w: close: %v", ErrNet, err)
	}
	return nil
}

package transport

import (
	"fmt"
	"net"
	"sync"
)

// Hub connects Local transports in-process. Unicast goes to the member
// registered with the destination address, broadcast to every other member.
type Hub struct {
	mu      sync.RWMutex
	members []*Local
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Join returns a Local transport that sends from ip.
func (h *Hub) Join(ip net.IP) *Local {
	return &Local{hub: h, ip: ip.To4(), in: newInbox()}
}

func (h *Hub) add(l *Local) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.members {
		if m == l {
			return
		}
	}
	h.members = append(h.members, l)
}

func (h *Hub) remove(l *Local) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, m := range h.members {
		if m == l {
			h.members = append(h.members[:i], h.members[i+1:]...)
			return
		}
	}
}

func (h *Hub) deliver(from *Local, to net.IP, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, m := range h.members {
		if m == from {
			continue
		}
		if to != nil && !m.ip.Equal(to) {
			continue
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		m.inbox().push(Datagram{Data: buf, From: from.ip})
	}
}

// Local is a hub member. It satisfies Transport.
type Local struct {
	hub *Hub
	ip  net.IP

	mu      sync.Mutex
	in      *inbox
	started bool
}

// IP returns the address the transport sends from.
func (l *Local) IP() net.IP {
	return l.ip
}

// Inject queues a datagram as if it arrived from from. Useful for feeding
// hand-built packets to a node.
func (l *Local) Inject(from net.IP, data []byte) {
	l.inbox().push(Datagram{Data: data, From: from.To4()})
}

func (l *Local) Start() error {
	l.mu.Lock()
	if l.in.isClosed() {
		l.in = newInbox()
	}
	l.started = true
	l.mu.Unlock()
	l.hub.add(l)
	return nil
}

func (l *Local) Send(ip net.IP, data []byte) error {
	if !l.isStarted() {
		return fmt.Errorf("%w: not started", ErrNet)
	}
	l.hub.deliver(l, ip.To4(), data)
	return nil
}

func (l *Local) Broadcast(data []byte) error {
	if !l.isStarted() {
		return fmt.Errorf("%w: not started", ErrNet)
	}
	l.hub.deliver(l, nil, data)
	return nil
}

func (l *Local) Recv(block bool) (Datagram, error) {
	return l.inbox().pop(block)
}

func (l *Local) Ready() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.in.ready
}

func (l *Local) Close() error {
	l.hub.remove(l)
	l.mu.Lock()
	l.started = false
	in := l.in
	l.mu.Unlock()
	in.close()
	return nil
}

func (l *Local) inbox() *inbox {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.in
}

func (l *Local) isStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

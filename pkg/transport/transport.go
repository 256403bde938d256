// Package transport moves raw Art-Net datagrams between a node and the
// network. UDP binds a real socket; Hub and Local connect nodes in-process.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

var (
	// ErrNoData is returned by a non-blocking Recv when nothing is queued.
	ErrNoData = errors.New("transport: no data available")
	// ErrNet wraps socket failures.
	ErrNet = errors.New("transport: network error")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
)

// queueSize bounds the number of datagrams held between reads.
const queueSize = 256

// Datagram is a received payload and the source address it came from.
type Datagram struct {
	Data []byte
	From net.IP
}

// Transport is the network adapter a node sends and receives through.
type Transport interface {
	// Start binds the transport. It must be called before Send or Recv.
	Start() error
	// Send unicasts data to ip.
	Send(ip net.IP, data []byte) error
	// Broadcast sends data to the configured broadcast address.
	Broadcast(data []byte) error
	// Recv returns the next queued datagram. With block false it returns
	// ErrNoData at once when the queue is empty.
	Recv(block bool) (Datagram, error)
	// Ready is signalled whenever a datagram is queued, for use in select
	// loops.
	Ready() <-chan struct{}
	Close() error
}

// inbox is the bounded receive queue shared by UDP and Local.
type inbox struct {
	queue  chan Datagram
	ready  chan struct{}
	closed chan struct{}

	mu  sync.Mutex
	err error // socket failure that closed the inbox
}

func newInbox() *inbox {
	return &inbox{
		queue:  make(chan Datagram, queueSize),
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// push queues d, dropping it when the queue is full.
func (b *inbox) push(d Datagram) bool {
	select {
	case b.queue <- d:
	default:
		return false
	}
	b.signal()
	return true
}

func (b *inbox) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *inbox) pop(block bool) (Datagram, error) {
	if !block {
		select {
		case d := <-b.queue:
			return d, nil
		case <-b.closed:
			return b.closedPop()
		default:
			return Datagram{}, ErrNoData
		}
	}
	select {
	case d := <-b.queue:
		return d, nil
	case <-b.closed:
		return b.closedPop()
	}
}

// closedPop drains what a failed socket queued before reporting the
// failure. A plain Close reports ErrClosed at once.
func (b *inbox) closedPop() (Datagram, error) {
	b.mu.Lock()
	err := b.err
	b.mu.Unlock()
	if err == nil {
		return Datagram{}, ErrClosed
	}
	select {
	case d := <-b.queue:
		return d, nil
	default:
		return Datagram{}, fmt.Errorf("%w: %v", ErrNet, err)
	}
}

// fail closes the inbox with a socket error and wakes any reader.
func (b *inbox) fail(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.close()
	b.signal()
}

func (b *inbox) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

func (b *inbox) close() {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
}

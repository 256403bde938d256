// Package node implements an Art-Net node: discovery, remote addressing,
// the input/output port model, two-source DMX merging, RDM tables of
// devices, the peer registry and firmware transfer.
//
// A Node is single-threaded. It starts no goroutines of its own; the host
// drives it by calling Read when the transport is ready and Tick at least
// once a second. Hosts that touch a Node from several goroutines must
// serialize every call.
package node

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
	"github.com/bbernstein/lacylights-artnet/pkg/transport"
)

const (
	// MaxPorts is the number of input and of output ports on a node.
	MaxPorts = artnet.MaxPorts
	// MergeTimeout is how long a merge source stays live without traffic.
	MergeTimeout = 10 * time.Second
	// FirmwareTimeout is how long a firmware transfer may stall.
	FirmwareTimeout = 20 * time.Second
	// MaxNodeEntries bounds the peer registry.
	MaxNodeEntries = 1024

	maxReplyTokens  = 4
	firmwareVersion = 1
)

// Style is the kind of device a node advertises.
type Style uint8

const (
	StyleNode   = Style(artnet.StyleNode)
	StyleServer = Style(artnet.StyleServer)
	StyleMedia  = Style(artnet.StyleMedia)
	StyleRoute  = Style(artnet.StyleRoute)
	StyleBackup = Style(artnet.StyleBackup)
	StyleConfig = Style(artnet.StyleConfig)
)

func (s Style) String() string {
	switch s {
	case StyleNode:
		return "node"
	case StyleServer:
		return "server"
	case StyleMedia:
		return "media"
	case StyleRoute:
		return "route"
	case StyleBackup:
		return "backup"
	case StyleConfig:
		return "config"
	}
	return fmt.Sprintf("style(%d)", uint8(s))
}

// ParseStyle maps a style name to its Style.
func ParseStyle(name string) (Style, error) {
	for s := StyleNode; s <= StyleConfig; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown style %q", ErrArg, name)
}

// Mode is the operating mode of a node.
type Mode int

const (
	ModeOff Mode = iota
	ModeStandby
	ModeOn
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeStandby:
		return "standby"
	case ModeOn:
		return "on"
	}
	return "unknown"
}

// Node is one Art-Net participant.
type Node struct {
	style Style
	mode  Mode

	log     logrus.FieldLogger
	verbose bool
	now     func() time.Time

	tr      transport.Transport
	udpPort int

	ip        net.IP
	defaultIP net.IP
	mask      net.IP
	bcast     net.IP
	// replyTo is nil while replies are broadcast.
	replyTo net.IP
	mac     [artnet.MACLength]byte

	shortName  string
	longName   string
	reportText string
	reportCode uint16
	oem        uint16
	esta       uint16
	led        uint8

	subnet        uint8
	defaultSubnet uint8
	subnetNetCtl  bool

	arCount       int
	replyOnChange bool
	tokens        int
	dirty         bool

	ipProg     bool
	bcastLimit int

	portTypes [MaxPorts]uint8
	in        [MaxPorts]inputPort
	out       [MaxPorts]outputPort

	peers    registry
	incoming inboundTransfer

	hooks    [hookCount]RawHook
	handlers handlers
}

// Option configures a Node at construction.
type Option func(*Node)

// WithTransport replaces the default UDP transport.
func WithTransport(t transport.Transport) Option {
	return func(n *Node) { n.tr = t }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(n *Node) { n.log = l.WithField("module", "artnet") }
}

// WithClock sets the time source used for merge and firmware timeouts.
func WithClock(now func() time.Time) Option {
	return func(n *Node) { n.now = now }
}

// WithUDPPort sets the port of the default UDP transport.
func WithUDPPort(port int) Option {
	return func(n *Node) { n.udpPort = port }
}

// New returns a node in standby.
func New(style Style, opts ...Option) (*Node, error) {
	if style > StyleConfig {
		return nil, fmt.Errorf("%w: style %d", ErrArg, style)
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	n := &Node{
		style:   style,
		mode:    ModeStandby,
		log:     discard.WithField("module", "artnet"),
		now:     time.Now,
		udpPort: artnet.DefaultPort,
		bcast:   net.IPv4bcast.To4(),
		mask:    net.IPv4(255, 0, 0, 0).To4(),
		oem:     artnet.OEMCode,
		esta:    artnet.ESTACode,
		led:     artnet.CmdLEDNormal,
		tokens:  maxReplyTokens,
	}
	for i := range n.out {
		n.out[i].mode = MergeHTP
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Style returns the advertised style.
func (n *Node) Style() Style { return n.style }

// Mode returns the operating mode.
func (n *Node) Mode() Mode { return n.mode }

// SetVerbose raises logging of dropped packets from debug to info.
func (n *Node) SetVerbose(v bool) { n.verbose = v }

// Ready is signalled when the transport has queued datagrams. Fetch it after
// Start; a restarted transport may hand out a new channel.
func (n *Node) Ready() <-chan struct{} {
	if n.tr == nil {
		return nil
	}
	return n.tr.Ready()
}

// Start binds the transport and announces the node. It is only allowed from
// standby. Servers also broadcast an ArtPoll.
func (n *Node) Start() error {
	if n.mode != ModeStandby {
		return fmt.Errorf("%w: start in mode %s", ErrState, n.mode)
	}
	if n.tr == nil {
		n.tr = transport.NewUDP(n.udpPort, nil, n.bcast)
	}
	if err := n.tr.Start(); err != nil {
		return err
	}
	n.mode = ModeOn
	n.log.WithFields(logrus.Fields{
		"style": n.style,
		"ip":    n.ip,
	}).Info("node started")

	if err := n.sendPollReply(false); err != nil {
		return err
	}
	if n.style == StyleServer {
		return n.SendPoll(nil, artnet.TTMReplyOnChange)
	}
	return nil
}

// Stop closes the transport and returns the node to standby.
func (n *Node) Stop() error {
	if n.mode != ModeOn {
		return fmt.Errorf("%w: stop in mode %s", ErrState, n.mode)
	}
	n.mode = ModeStandby
	n.log.Info("node stopped")
	return n.tr.Close()
}

// Close stops the node if needed and releases the registry and firmware
// state. A closed node cannot be restarted.
func (n *Node) Close() error {
	var err error
	if n.mode == ModeOn {
		err = n.Stop()
	}
	n.mode = ModeOff
	n.peers.reset()
	n.incoming.reset()
	return err
}

// SetIP sets the node's own address. Datagrams from it are ignored.
func (n *Node) SetIP(ip net.IP) error {
	v4 := ip.To4()
	if v4 == nil {
		return fmt.Errorf("%w: ip %v", ErrArg, ip)
	}
	n.ip = v4
	n.defaultIP = v4
	n.changed()
	return nil
}

// IP returns the node's own address.
func (n *Node) IP() net.IP { return n.ip }

// SetBroadcast sets the broadcast address.
func (n *Node) SetBroadcast(ip net.IP) error {
	v4 := ip.To4()
	if v4 == nil {
		return fmt.Errorf("%w: broadcast %v", ErrArg, ip)
	}
	n.bcast = v4
	if b, ok := n.tr.(interface{ SetBroadcast(net.IP) }); ok {
		b.SetBroadcast(v4)
	}
	return nil
}

func (n *Node) SetShortName(name string) error {
	if len(name) > artnet.ShortNameLength-1 {
		return fmt.Errorf("%w: short name longer than %d", ErrArg, artnet.ShortNameLength-1)
	}
	n.shortName = name
	n.changed()
	return nil
}

func (n *Node) SetLongName(name string) error {
	if len(name) > artnet.LongNameLength-1 {
		return fmt.Errorf("%w: long name longer than %d", ErrArg, artnet.LongNameLength-1)
	}
	n.longName = name
	n.changed()
	return nil
}

// SetReport sets the report code and text carried in ArtPollReply.
func (n *Node) SetReport(code uint16, text string) {
	n.reportCode = code
	n.reportText = text
	n.changed()
}

// SetHWAddr sets the MAC address advertised in ArtPollReply.
func (n *Node) SetHWAddr(mac [artnet.MACLength]byte) {
	n.mac = mac
	n.changed()
}

func (n *Node) SetOEM(oem uint16) { n.oem = oem }
func (n *Node) SetESTA(esta uint16) { n.esta = esta }

// SetIPProgEnabled allows peers to reprogram the node's IP with ArtIpProg.
func (n *Node) SetIPProgEnabled(enabled bool) { n.ipProg = enabled }

// SetBcastLimit makes SendDMX unicast to subscribed peers while there are at
// most limit of them. Zero always broadcasts.
func (n *Node) SetBcastLimit(limit int) error {
	if limit < 0 {
		return fmt.Errorf("%w: broadcast limit %d", ErrArg, limit)
	}
	n.bcastLimit = limit
	return nil
}

// changed marks the node state dirty so that a reply goes out when peers
// asked to hear about changes.
func (n *Node) changed() {
	n.dirty = true
	if n.mode == ModeOn {
		n.flushReply()
	}
}

func (n *Node) dropped(fields logrus.Fields, reason string) {
	entry := n.log.WithFields(fields)
	if n.verbose {
		entry.Info(reason)
		return
	}
	entry.Debug(reason)
}

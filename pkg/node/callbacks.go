package node

import (
	"net"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

// Hook names a raw packet hook.
type Hook int

const (
	// HookRecv sees every decoded inbound packet before any other handling.
	HookRecv Hook = iota
	// HookSend sees every outbound packet. Returning true suppresses the send.
	HookSend
	HookPoll
	HookReply
	HookDmx
	HookAddress
	HookInput
	HookTodRequest
	HookTodData
	HookTodControl
	HookRdm
	HookIPProg
	HookFirmware
	HookFirmwareReply

	hookCount
)

var hookNames = [hookCount]string{
	"recv", "send", "poll", "reply", "dmx", "address", "input",
	"tod-request", "tod-data", "tod-control", "rdm", "ipprog",
	"firmware", "firmware-reply",
}

func (h Hook) String() string {
	if h < 0 || h >= hookCount {
		return "unknown"
	}
	return hookNames[h]
}

// RawHook observes a packet. Returning true marks it handled and skips the
// default processing.
type RawHook func(n *Node, peer net.IP, p artnet.Packet) bool

// Typed hooks. A returned error is logged; it never stops the engine.
type (
	DMXHandler              func(n *Node, port int) error
	FirmwareReceivedHandler func(n *Node, ubea bool, words []uint16) error
	ProgramHandler          func(n *Node) error
	RDMHandler              func(n *Node, address uint8, data []byte) error
	RDMInitHandler          func(n *Node, port int) error
	RDMTodHandler           func(n *Node, port int) error
)

// FirmwareCallback is told once how an outbound transfer ended.
type FirmwareCallback func(n *Node, r FirmwareResult)

type handlers struct {
	dmx      DMXHandler
	firmware FirmwareReceivedHandler
	program  ProgramHandler
	rdm      RDMHandler
	rdmInit  RDMInitHandler
	rdmTod   RDMTodHandler
}

// SetHook installs fn for h. A nil fn removes the hook.
func (n *Node) SetHook(h Hook, fn RawHook) error {
	if h < 0 || h >= hookCount {
		return ErrArg
	}
	n.hooks[h] = fn
	return nil
}

func (n *Node) OnDMX(fn DMXHandler) { n.handlers.dmx = fn }
func (n *Node) OnFirmwareReceived(fn FirmwareReceivedHandler) { n.handlers.firmware = fn }
func (n *Node) OnProgram(fn ProgramHandler) { n.handlers.program = fn }
func (n *Node) OnRDM(fn RDMHandler) { n.handlers.rdm = fn }
func (n *Node) OnRDMInit(fn RDMInitHandler) { n.handlers.rdmInit = fn }
func (n *Node) OnRDMTod(fn RDMTodHandler) { n.handlers.rdmTod = fn }

// fire runs the raw hook h and reports whether it handled the packet.
func (n *Node) fire(h Hook, peer net.IP, p artnet.Packet) bool {
	fn := n.hooks[h]
	if fn == nil {
		return false
	}
	return fn(n, peer, p)
}

func (n *Node) report(hook string, err error) {
	if err != nil {
		n.log.WithField("hook", hook).WithError(err).Warn("callback failed")
	}
}

func (n *Node) notifyDMX(port int) {
	if n.handlers.dmx != nil {
		n.report("dmx", n.handlers.dmx(n, port))
	}
}

func (n *Node) notifyProgram() {
	if n.handlers.program != nil {
		n.report("program", n.handlers.program(n))
	}
}

func (n *Node) notifyFirmware(ubea bool, words []uint16) {
	if n.handlers.firmware != nil {
		n.report("firmware", n.handlers.firmware(n, ubea, words))
	}
}

func (n *Node) notifyRDM(address uint8, data []byte) {
	if n.handlers.rdm != nil {
		n.report("rdm", n.handlers.rdm(n, address, data))
	}
}

func (n *Node) notifyRDMInit(port int) {
	if n.handlers.rdmInit != nil {
		n.report("rdm-init", n.handlers.rdmInit(n, port))
	}
}

func (n *Node) notifyRDMTod(port int) {
	if n.handlers.rdmTod != nil {
		n.report("rdm-tod", n.handlers.rdmTod(n, port))
	}
}

package node

import (
	"errors"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
	"github.com/bbernstein/lacylights-artnet/pkg/transport"
)

var (
	// ErrArg reports an invalid argument from the host.
	ErrArg = errors.New("artnet: invalid argument")
	// ErrState reports an operation not allowed in the current mode.
	ErrState = errors.New("artnet: invalid state")
	// ErrMem reports an exhausted table or buffer.
	ErrMem = errors.New("artnet: out of resources")
	// ErrAction reports a protocol-level refusal, such as a second firmware
	// transfer to the same peer.
	ErrAction = errors.New("artnet: action failed")
)

// Errors surfaced from the codec and the transport.
var (
	ErrMalformed = artnet.ErrMalformed
	ErrNet       = transport.ErrNet
	ErrNoData    = transport.ErrNoData
)

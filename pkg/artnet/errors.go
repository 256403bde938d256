package artnet

import "errors"

var (
	ErrMalformed    = errors.New("artnet: malformed packet")
	ErrWrongMagic   = errors.New("artnet: invalid packet identifier")
	ErrWrongVersion = errors.New("artnet: unsupported protocol version")
)

// ErrFieldRange is returned by Encode when a field cannot be represented on
// the wire, for example more than 512 DMX channels.
var ErrFieldRange = errors.New("artnet: field out of range")

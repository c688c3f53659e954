package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed link.
	ErrClosed = errors.New("transport: closed")

	// ErrNoConn is returned when a link is created without a connection.
	ErrNoConn = errors.New("transport: no connection configured")

	// ErrPacketTooLarge is returned when a packet exceeds the link MTU.
	ErrPacketTooLarge = errors.New("transport: packet too large")

	// ErrEmptyPacket is returned when sending zero bytes.
	ErrEmptyPacket = errors.New("transport: empty packet")
)

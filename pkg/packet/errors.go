package packet

import "errors"

// Packet layer errors.
var (
	// ErrInsufficientBuffer is returned by encoders when the target buffer is
	// too small. Callers retry with a buffer of at least Size() bytes.
	ErrInsufficientBuffer = errors.New("packet: insufficient buffer")

	// ErrMalformed is returned by decoders for truncated input, length
	// mismatches and headers that do not fit the expected opcode.
	ErrMalformed = errors.New("packet: malformed")

	// ErrUnknownVariant is returned when encoding a value that only exists
	// as a decode-side Unknown sentinel, or that the header cannot express.
	ErrUnknownVariant = errors.New("packet: unknown variant")

	// ErrUnknownResult is returned (wrapped in ErrMalformed) when a result
	// header carries an undefined result code.
	ErrUnknownResult = errors.New("packet: unknown result code")

	// ErrPayloadTooLong is returned when a payload exceeds the 16-bit length field.
	ErrPayloadTooLong = errors.New("packet: payload exceeds length field")

	// ErrUnsupportedProtocol is returned (wrapped in ErrMalformed) when an
	// extended header carries a protocol version other than the codec's.
	ErrUnsupportedProtocol = errors.New("packet: unsupported protocol version")
)

// Wire format constants.
const (
	// ProtocolVersion is the extended header protocol version this package speaks.
	ProtocolVersion uint8 = 5

	// NarrowHeaderSize is Type (1) + Opcode (1) + Length (2).
	NarrowHeaderSize = 4

	// ExtendedHeaderSize is Protocol (1) + Type (2) + Length (2).
	ExtendedHeaderSize = 5

	// ExtendedResultHeaderSize is Protocol (1) + Type (2) + Result (2) + Length (2).
	ExtendedResultHeaderSize = 7

	// MaxPayloadSize is the largest payload the 16-bit length field can declare.
	MaxPayloadSize = 0xFFFF

	// maxNarrowType is the largest type code the 1-byte narrow field holds.
	maxNarrowType = 0xFF
)

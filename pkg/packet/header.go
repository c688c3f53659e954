package packet

import (
	"encoding/binary"
	"fmt"
)

// Header is the decoded form of any of the three header variants.
// Fields a variant does not carry on the wire are zero after decoding, except
// Opcode, which the extended variants take from the decode context.
type Header struct {
	// Protocol is the extended header protocol version. Zero for narrow headers.
	Protocol uint8

	// Type is the command the packet carries.
	Type CommandType

	// Opcode marks the packet as read, write or result.
	Opcode Opcode

	// Length is the declared payload length. Decoders set it from the wire;
	// encoders always write len(Payload).
	Length uint16

	// Result is the status of a result packet. Only the extended result
	// header carries it.
	Result ResultCode
}

// Packet is a header plus its inline payload bytes.
type Packet struct {
	Header
	Payload []byte
}

// NewPacket builds a packet for the given command and payload. A nil payload
// produces an empty packet. Protocol is set to ProtocolVersion, which only
// the extended headers carry; use Dialect.NewRequest for narrow links.
func NewPacket(t CommandType, op Opcode, payload Payload) (*Packet, error) {
	var data []byte
	if payload != nil {
		var err error
		data, err = Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	if len(data) > MaxPayloadSize {
		return nil, ErrPayloadTooLong
	}
	return &Packet{
		Header: Header{
			Protocol: ProtocolVersion,
			Type:     t,
			Opcode:   op,
			Length:   uint16(len(data)),
		},
		Payload: data,
	}, nil
}

// narrowCodec implements the legacy header: type(1) | opcode(1) | length(2).
type narrowCodec struct{}

func (narrowCodec) Variant() HeaderVariant { return VariantNarrow }

func (narrowCodec) HeaderSize() int { return NarrowHeaderSize }

func (c narrowCodec) Size(p *Packet) int { return NarrowHeaderSize + len(p.Payload) }

func (c narrowCodec) Encode(p *Packet, buf []byte) (int, error) {
	if !p.Type.IsValid() || p.Type > maxNarrowType {
		return 0, fmt.Errorf("%w: type %d in narrow header", ErrUnknownVariant, uint16(p.Type))
	}
	if !p.Opcode.IsValid() {
		return 0, fmt.Errorf("%w: opcode %d", ErrUnknownVariant, uint8(p.Opcode))
	}
	if len(p.Payload) > MaxPayloadSize {
		return 0, ErrPayloadTooLong
	}
	size := c.Size(p)
	if len(buf) < size {
		return 0, ErrInsufficientBuffer
	}

	offset := 0

	// Type (1 byte)
	buf[offset] = uint8(p.Type)
	offset++

	// Opcode (1 byte)
	buf[offset] = uint8(p.Opcode)
	offset++

	// Length (2 bytes)
	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(p.Payload)))
	offset += 2

	offset += copy(buf[offset:], p.Payload)
	return offset, nil
}

// Decode parses a narrow packet. The opcode travels on the wire, so the
// context opcode is not consulted.
func (narrowCodec) Decode(data []byte, _ Opcode) (*Packet, error) {
	if len(data) < NarrowHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, narrow header needs %d", ErrMalformed, len(data), NarrowHeaderSize)
	}

	p := &Packet{}
	offset := 0

	p.Type = commandTypeFromWire(uint16(data[offset]))
	offset++

	p.Opcode = opcodeFromWire(data[offset])
	offset++

	p.Length = binary.LittleEndian.Uint16(data[offset:])
	offset += 2

	if err := takePayload(p, data[offset:]); err != nil {
		return nil, err
	}
	return p, nil
}

// extendedCodec implements protocol(1) | type(2) | length(2).
type extendedCodec struct {
	protocol uint8
}

func (extendedCodec) Variant() HeaderVariant { return VariantExtended }

func (extendedCodec) HeaderSize() int { return ExtendedHeaderSize }

func (c extendedCodec) Size(p *Packet) int { return ExtendedHeaderSize + len(p.Payload) }

func (c extendedCodec) Encode(p *Packet, buf []byte) (int, error) {
	if !p.Type.IsValid() {
		return 0, fmt.Errorf("%w: type %d", ErrUnknownVariant, uint16(p.Type))
	}
	if len(p.Payload) > MaxPayloadSize {
		return 0, ErrPayloadTooLong
	}
	size := c.Size(p)
	if len(buf) < size {
		return 0, ErrInsufficientBuffer
	}

	offset := 0

	// Protocol (1 byte)
	buf[offset] = c.protocol
	offset++

	// Type (2 bytes)
	binary.LittleEndian.PutUint16(buf[offset:], uint16(p.Type))
	offset += 2

	// Length (2 bytes)
	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(p.Payload)))
	offset += 2

	offset += copy(buf[offset:], p.Payload)
	return offset, nil
}

func (c extendedCodec) Decode(data []byte, op Opcode) (*Packet, error) {
	if len(data) < ExtendedHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, extended header needs %d", ErrMalformed, len(data), ExtendedHeaderSize)
	}

	p := &Packet{}
	offset := 0

	p.Protocol = data[offset]
	offset++
	if p.Protocol != c.protocol {
		return nil, fmt.Errorf("%w: %w: %d", ErrMalformed, ErrUnsupportedProtocol, p.Protocol)
	}

	p.Type = commandTypeFromWire(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	p.Opcode = op

	p.Length = binary.LittleEndian.Uint16(data[offset:])
	offset += 2

	if err := takePayload(p, data[offset:]); err != nil {
		return nil, err
	}
	return p, nil
}

// extendedResultCodec implements protocol(1) | type(2) | result(2) | length(2).
// It only appears on responses whose opcode is OpcodeResult.
type extendedResultCodec struct {
	protocol uint8
}

func (extendedResultCodec) Variant() HeaderVariant { return VariantExtendedResult }

func (extendedResultCodec) HeaderSize() int { return ExtendedResultHeaderSize }

func (c extendedResultCodec) Size(p *Packet) int { return ExtendedResultHeaderSize + len(p.Payload) }

func (c extendedResultCodec) Encode(p *Packet, buf []byte) (int, error) {
	if !p.Type.IsValid() {
		return 0, fmt.Errorf("%w: type %d", ErrUnknownVariant, uint16(p.Type))
	}
	if !p.Result.IsValid() {
		return 0, fmt.Errorf("%w: %w: %d", ErrUnknownVariant, ErrUnknownResult, uint16(p.Result))
	}
	if len(p.Payload) > MaxPayloadSize {
		return 0, ErrPayloadTooLong
	}
	size := c.Size(p)
	if len(buf) < size {
		return 0, ErrInsufficientBuffer
	}

	offset := 0

	// Protocol (1 byte)
	buf[offset] = c.protocol
	offset++

	// Type (2 bytes)
	binary.LittleEndian.PutUint16(buf[offset:], uint16(p.Type))
	offset += 2

	// Result (2 bytes)
	binary.LittleEndian.PutUint16(buf[offset:], uint16(p.Result))
	offset += 2

	// Length (2 bytes)
	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(p.Payload)))
	offset += 2

	offset += copy(buf[offset:], p.Payload)
	return offset, nil
}

func (c extendedResultCodec) Decode(data []byte, op Opcode) (*Packet, error) {
	if op != OpcodeResult {
		return nil, fmt.Errorf("%w: result header with opcode %s", ErrMalformed, op)
	}
	if len(data) < ExtendedResultHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, result header needs %d", ErrMalformed, len(data), ExtendedResultHeaderSize)
	}

	p := &Packet{}
	offset := 0

	p.Protocol = data[offset]
	offset++
	if p.Protocol != c.protocol {
		return nil, fmt.Errorf("%w: %w: %d", ErrMalformed, ErrUnsupportedProtocol, p.Protocol)
	}

	p.Type = commandTypeFromWire(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	p.Opcode = op

	p.Result = ResultCode(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if !p.Result.IsValid() {
		return nil, fmt.Errorf("%w: %w: %d", ErrMalformed, ErrUnknownResult, uint16(p.Result))
	}

	p.Length = binary.LittleEndian.Uint16(data[offset:])
	offset += 2

	if err := takePayload(p, data[offset:]); err != nil {
		return nil, err
	}
	return p, nil
}

// takePayload checks the declared length against the remaining bytes and
// copies the payload out so the packet does not alias the input buffer.
func takePayload(p *Packet, rest []byte) error {
	if int(p.Length) != len(rest) {
		return fmt.Errorf("%w: declared length %d, %d bytes remain", ErrMalformed, p.Length, len(rest))
	}
	if len(rest) > 0 {
		p.Payload = make([]byte, len(rest))
		copy(p.Payload, rest)
	}
	return nil
}

package packet

import "fmt"

// WireCodec encodes and decodes packets for one header variant.
// Implementations are stateless and safe for concurrent use.
type WireCodec interface {
	// Variant identifies the header layout.
	Variant() HeaderVariant

	// HeaderSize returns the fixed header size in bytes.
	HeaderSize() int

	// Size returns the encoded size of p.
	Size(p *Packet) int

	// Encode writes p into buf and returns the number of bytes written.
	// Returns ErrInsufficientBuffer if buf is shorter than Size(p).
	Encode(p *Packet, buf []byte) (int, error)

	// Decode parses data, which must hold exactly one packet. op is the
	// opcode implied by context, used by variants that do not carry it.
	Decode(data []byte, op Opcode) (*Packet, error)
}

// Capabilities answers whether the active connection supports a feature.
// It is implemented by the link layer after service discovery.
type Capabilities interface {
	Supports(c Capability) bool
}

// CapabilitySet is a bitmask Capabilities implementation.
type CapabilitySet uint32

// NewCapabilitySet returns a set containing caps.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= 1 << c
	}
	return s
}

// Supports returns true if c is in the set.
func (s CapabilitySet) Supports(c Capability) bool {
	return s&(1<<c) != 0
}

// codecs is the dispatch table from header variant to codec.
var codecs = map[HeaderVariant]WireCodec{
	VariantNarrow:         narrowCodec{},
	VariantExtended:       extendedCodec{protocol: ProtocolVersion},
	VariantExtendedResult: extendedResultCodec{protocol: ProtocolVersion},
}

// CodecFor returns the codec for a header variant.
func CodecFor(v HeaderVariant) (WireCodec, error) {
	c, ok := codecs[v]
	if !ok {
		return nil, fmt.Errorf("%w: header variant %d", ErrUnknownVariant, uint8(v))
	}
	return c, nil
}

// Dialect is the pair of codecs used on one link: Request frames outgoing
// commands, Response parses what the Crownstone sends back.
type Dialect struct {
	Request  WireCodec
	Response WireCodec
}

// NegotiateDialect picks the codecs for a link. Links that support the
// extended header use it for requests and the extended result header for
// responses; everything else falls back to the narrow header both ways.
// A nil Capabilities is treated as a legacy link.
func NegotiateDialect(caps Capabilities) Dialect {
	if caps != nil && caps.Supports(CapabilityExtendedHeader) {
		return Dialect{
			Request:  codecs[VariantExtended],
			Response: codecs[VariantExtendedResult],
		}
	}
	narrow := codecs[VariantNarrow]
	return Dialect{Request: narrow, Response: narrow}
}

// NewRequest builds a request packet for the dialect's request codec. The
// narrow header carries no protocol version, so its packets leave Protocol
// zero and decode back to an identical packet.
func (d Dialect) NewRequest(t CommandType, op Opcode, payload Payload) (*Packet, error) {
	p, err := NewPacket(t, op, payload)
	if err != nil {
		return nil, err
	}
	if d.Request != nil && d.Request.Variant() == VariantNarrow {
		p.Protocol = 0
	}
	return p, nil
}

// Encode allocates a buffer of the exact size and encodes p into it.
func Encode(c WireCodec, p *Packet) ([]byte, error) {
	buf := make([]byte, c.Size(p))
	n, err := c.Encode(p, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

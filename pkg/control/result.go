package control

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/crownstone/pkg/packet"
)

// narrowResultSize is the result code prefix of a narrow result payload.
// The narrow header has no result field, so results travel in the payload.
const narrowResultSize = 2

// Result is a decoded response.
type Result struct {
	Type    packet.CommandType
	Code    packet.ResultCode
	Payload []byte
}

// encodeResult frames a response in the dialect's response codec.
func encodeResult(d packet.Dialect, t packet.CommandType, code packet.ResultCode, payload []byte) ([]byte, error) {
	p := &packet.Packet{
		Header: packet.Header{
			Protocol: packet.ProtocolVersion,
			Type:     t,
			Opcode:   packet.OpcodeResult,
			Result:   code,
		},
		Payload: payload,
	}
	if d.Response.Variant() == packet.VariantNarrow {
		if !code.IsValid() {
			return nil, fmt.Errorf("%w: %w: %d", packet.ErrUnknownVariant, packet.ErrUnknownResult, uint16(code))
		}
		buf := make([]byte, narrowResultSize+len(payload))
		binary.LittleEndian.PutUint16(buf, uint16(code))
		copy(buf[narrowResultSize:], payload)
		p.Payload = buf
	}
	p.Length = uint16(len(p.Payload))
	return packet.Encode(d.Response, p)
}

// decodeResult parses a response in the dialect's response codec.
func decodeResult(d packet.Dialect, data []byte) (*Result, error) {
	p, err := d.Response.Decode(data, packet.OpcodeResult)
	if err != nil {
		return nil, err
	}
	if d.Response.Variant() != packet.VariantNarrow {
		return &Result{Type: p.Type, Code: p.Result, Payload: p.Payload}, nil
	}

	if p.Opcode != packet.OpcodeResult {
		return nil, fmt.Errorf("%w: opcode %s", ErrUnexpectedResponse, p.Opcode)
	}
	if len(p.Payload) < narrowResultSize {
		return nil, fmt.Errorf("%w: narrow result of %d bytes", packet.ErrMalformed, len(p.Payload))
	}
	code := packet.ResultCode(binary.LittleEndian.Uint16(p.Payload))
	if !code.IsValid() {
		return nil, fmt.Errorf("%w: %w: %d", packet.ErrMalformed, packet.ErrUnknownResult, uint16(code))
	}
	r := &Result{Type: p.Type, Code: code}
	if len(p.Payload) > narrowResultSize {
		r.Payload = p.Payload[narrowResultSize:]
	}
	return r, nil
}

// decodeRequest parses a request in the dialect's request codec. Extended
// headers carry no opcode; requests default to write.
func decodeRequest(d packet.Dialect, data []byte) (*packet.Packet, error) {
	return d.Request.Decode(data, packet.OpcodeWrite)
}

package broadcast

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/backkem/crownstone/pkg/packet"
)

// Body layout constants.
const (
	// BodySize is the size of the sealed body: one AES block.
	BodySize = 16

	// bodyHeaderSize is validationTimestamp(4) + type(1).
	bodyHeaderSize = 5
)

// Advertisement is the plaintext body of a broadcast:
//
//	validationTimestamp:4 LE | type:1 | payload
type Advertisement struct {
	// ValidationTimestamp is the sender time in unix seconds. Receivers
	// reject advertisements too far from their own clock.
	ValidationTimestamp uint32

	Type    AdvertisementType
	Payload packet.Payload

	// Commands lists the queued commands packed into this advertisement.
	// It is informational and not part of the encoding.
	Commands []CommandKey
}

// NoOpAdvertisement returns an advertisement that carries only a timestamp.
// It keeps receivers' view of the sender fresh when nothing is queued.
func NoOpAdvertisement(t time.Time) *Advertisement {
	return &Advertisement{
		ValidationTimestamp: uint32(t.Unix()),
		Type:                AdvertisementNoOp,
	}
}

// Size returns the encoded size without padding.
func (a *Advertisement) Size() int {
	if a.Payload == nil {
		return bodyHeaderSize
	}
	return bodyHeaderSize + a.Payload.Size()
}

// EncodeTo writes the body into buf without padding.
func (a *Advertisement) EncodeTo(buf []byte) (int, error) {
	size := a.Size()
	if len(buf) < size {
		return 0, packet.ErrInsufficientBuffer
	}
	binary.LittleEndian.PutUint32(buf[0:4], a.ValidationTimestamp)
	buf[4] = uint8(a.Type)
	if a.Payload == nil {
		return bodyHeaderSize, nil
	}
	n, err := a.Payload.EncodeTo(buf[bodyHeaderSize:])
	if err != nil {
		return 0, err
	}
	return bodyHeaderSize + n, nil
}

// encodeBody writes the body zero-padded to one block. The encoded size must
// not exceed the type's MaxSize.
func (a *Advertisement) encodeBody() ([BodySize]byte, error) {
	var body [BodySize]byte
	if !a.Type.IsValid() {
		return body, fmt.Errorf("%w: type %d", ErrMalformedBody, uint8(a.Type))
	}
	if size, limit := a.Size(), a.Type.MaxSize(); size > limit {
		return body, fmt.Errorf("%w: %s body is %d > %d bytes", ErrPayloadTooLarge, a.Type, size, limit)
	}
	if _, err := a.EncodeTo(body[:]); err != nil {
		return body, err
	}
	return body, nil
}

// DecodeAdvertisement parses a plaintext body. Bytes after the payload must
// be zero padding.
func DecodeAdvertisement(data []byte) (*Advertisement, error) {
	if len(data) < bodyHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedBody, len(data))
	}
	a := &Advertisement{
		ValidationTimestamp: binary.LittleEndian.Uint32(data[0:4]),
		Type:                AdvertisementType(data[4]),
	}
	rest := data[bodyHeaderSize:]

	var used int
	switch a.Type {
	case AdvertisementNoOp:
	case AdvertisementMultiSwitch:
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: missing switch count", ErrMalformedBody)
		}
		used = 1 + int(rest[0])*packet.MultiSwitchEntrySize
		if used > len(rest) {
			return nil, fmt.Errorf("%w: %d switch entries in %d bytes", ErrMalformedBody, rest[0], len(rest))
		}
		list, err := packet.DecodeMultiSwitchList(rest[:used])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
		}
		a.Payload = list
		for _, e := range list.Entries() {
			a.Commands = append(a.Commands, CommandKey{Type: CommandSwitch, ID: e.ID})
		}
	case AdvertisementSetTime, AdvertisementBehaviourSettings:
		used = 4
		if len(rest) < used {
			return nil, fmt.Errorf("%w: %s payload is %d bytes", ErrMalformedBody, a.Type, len(rest))
		}
		v := binary.LittleEndian.Uint32(rest[:used])
		if a.Type == AdvertisementSetTime {
			a.Payload = packet.SetTime(v)
		} else {
			a.Payload = packet.Uint32Payload(v)
		}
	default:
		return nil, fmt.Errorf("%w: type %d", ErrMalformedBody, uint8(a.Type))
	}

	for _, b := range rest[used:] {
		if b != 0 {
			return nil, fmt.Errorf("%w: non-zero padding", ErrMalformedBody)
		}
	}
	return a, nil
}

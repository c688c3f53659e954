package broadcast

import (
	"fmt"
	"time"

	"github.com/backkem/crownstone/pkg/rc5"
	"github.com/backkem/crownstone/pkg/timestamp"
)

// HeaderProtocol is the header layout version written into block 0.
const HeaderProtocol = 1

// ServiceUUIDCount is the number of 16-bit service UUIDs in a header.
const ServiceUUIDCount = 4

// Field limits.
const (
	maxProtocol   = 0x03
	maxAccess     = 0x07
	maxLocationID = 0x3F
	maxProfileID  = 0x07
)

// Header is the unencrypted part of a broadcast, spread over four 16-bit
// service UUIDs. Each UUID carries its position in bits 15..14:
//
//	block 0: protocol:2 | sphereUID:8 | accessLevel:3 | reserved:1
//	block 1: locationID:6 | profileID:3 | tapToToggle:1 | sub[31:28]
//	block 2: sub[27:14]
//	block 3: sub[13:0]
//
// sub is the RC5 encryption of {validation timestamp low 16 bits,
// deviceToken<<8 | counter} under the localization key.
type Header struct {
	Protocol    uint8
	SphereUID   uint8
	AccessLevel AccessLevel
	LocationID  uint8
	ProfileID   uint8
	TapToToggle bool

	// DeviceToken identifies the sending device within the sphere.
	DeviceToken uint8

	// Counter increments with every frame from the same sender.
	Counter uint8

	// ValidationTimestamp is the sender time in unix seconds. Only the low
	// 16 bits are transmitted; parsing reconstructs the rest.
	ValidationTimestamp uint32
}

func (h Header) validate() error {
	switch {
	case h.Protocol > maxProtocol:
		return fmt.Errorf("%w: protocol %d", ErrInvalidField, h.Protocol)
	case uint8(h.AccessLevel) > maxAccess:
		return fmt.Errorf("%w: access level %d", ErrInvalidField, h.AccessLevel)
	case h.LocationID > maxLocationID:
		return fmt.Errorf("%w: location %d", ErrInvalidField, h.LocationID)
	case h.ProfileID > maxProfileID:
		return fmt.Errorf("%w: profile %d", ErrInvalidField, h.ProfileID)
	}
	return nil
}

// ServiceUUIDs packs the header. Fields are combined with bitwise OR of
// their shifted values.
func (h Header) ServiceUUIDs(c *rc5.Cipher) ([ServiceUUIDCount]uint16, error) {
	var out [ServiceUUIDCount]uint16
	if err := h.validate(); err != nil {
		return out, err
	}

	plain := uint32(h.ValidationTimestamp&0xFFFF) |
		uint32(h.DeviceToken)<<24 | uint32(h.Counter)<<16
	sub := c.EncryptUint32(plain)

	var t2t uint16
	if h.TapToToggle {
		t2t = 1
	}
	out[0] = uint16(h.Protocol)<<12 | uint16(h.SphereUID)<<4 | uint16(h.AccessLevel)<<1
	out[1] = uint16(h.LocationID)<<8 | uint16(h.ProfileID)<<5 | t2t<<4 | uint16(sub>>28)
	out[2] = uint16(sub>>14) & 0x3FFF
	out[3] = uint16(sub) & 0x3FFF
	for i := range out {
		out[i] |= uint16(i) << 14
	}
	return out, nil
}

// ParseHeader unpacks four service UUIDs and reconstructs the validation
// timestamp against now.
func ParseHeader(uuids [ServiceUUIDCount]uint16, c *rc5.Cipher, now time.Time) (Header, error) {
	for i, u := range uuids {
		if int(u>>14) != i {
			return Header{}, fmt.Errorf("%w: block %d tagged %d", ErrBadSequence, i, u>>14)
		}
	}

	h := Header{
		Protocol:    uint8(uuids[0]>>12) & maxProtocol,
		SphereUID:   uint8(uuids[0] >> 4),
		AccessLevel: AccessLevel(uuids[0]>>1) & maxAccess,
		LocationID:  uint8(uuids[1]>>8) & maxLocationID,
		ProfileID:   uint8(uuids[1]>>5) & maxProfileID,
		TapToToggle: uuids[1]&(1<<4) != 0,
	}
	if h.Protocol != HeaderProtocol {
		return Header{}, fmt.Errorf("%w: %d", ErrUnknownProtocol, h.Protocol)
	}

	sub := uint32(uuids[1]&0x0F)<<28 | uint32(uuids[2]&0x3FFF)<<14 | uint32(uuids[3]&0x3FFF)
	plain := c.DecryptUint32(sub)
	h.DeviceToken = uint8(plain >> 24)
	h.Counter = uint8(plain >> 16)
	h.ValidationTimestamp = uint32(timestamp.Reconstruct16(now, uint16(plain)))
	return h, nil
}

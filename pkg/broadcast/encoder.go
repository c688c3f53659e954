package broadcast

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/crownstone/pkg/rc5"
)

// BroadcastKeySize is the AES-128 key size of the sphere broadcast key.
const BroadcastKeySize = 16

// Frame is one sealed advertisement as handed to the radio.
type Frame struct {
	ServiceUUIDs [ServiceUUIDCount]uint16
	Data         [BodySize]byte
}

// EncoderConfig configures an Encoder.
type EncoderConfig struct {
	// BroadcastKey seals advertisement bodies. Must be 16 bytes.
	BroadcastKey []byte

	// LocalizationKey obscures the header sub-fields with RC5.
	LocalizationKey []byte

	SphereUID   uint8
	AccessLevel AccessLevel
	DeviceToken uint8
	LocationID  uint8
	ProfileID   uint8
	TapToToggle bool

	// Clock is used by Open to reconstruct header timestamps.
	// Default: time.Now
	Clock func() time.Time
}

// Encoder seals advertisements for one sender in one sphere. It is safe
// for concurrent use.
type Encoder struct {
	block cipher.Block
	rc5   *rc5.Cipher
	base  Header
	clock func() time.Time

	mu      sync.Mutex
	counter uint8
}

// NewEncoder creates an Encoder.
func NewEncoder(config EncoderConfig) (*Encoder, error) {
	if len(config.BroadcastKey) != BroadcastKeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(config.BroadcastKey)
	if err != nil {
		return nil, err
	}
	c, err := rc5.New(config.LocalizationKey)
	if err != nil {
		return nil, err
	}

	e := &Encoder{
		block: block,
		rc5:   c,
		base: Header{
			Protocol:    HeaderProtocol,
			SphereUID:   config.SphereUID,
			AccessLevel: config.AccessLevel,
			DeviceToken: config.DeviceToken,
			LocationID:  config.LocationID,
			ProfileID:   config.ProfileID,
			TapToToggle: config.TapToToggle,
		},
		clock: config.Clock,
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if err := e.base.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode packs the header and seals the body of adv. Each call advances the
// frame counter.
func (e *Encoder) Encode(adv *Advertisement) (*Frame, error) {
	body, err := adv.encodeBody()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	h := e.base
	h.Counter = e.counter
	e.counter++
	e.mu.Unlock()
	h.ValidationTimestamp = adv.ValidationTimestamp

	f := &Frame{}
	if f.ServiceUUIDs, err = h.ServiceUUIDs(e.rc5); err != nil {
		return nil, err
	}
	e.block.Encrypt(f.Data[:], body[:])
	return f, nil
}

// Open parses the header and decrypts the body of a frame. The body's
// validation timestamp must agree with the header's transmitted low bits.
func (e *Encoder) Open(f *Frame) (Header, *Advertisement, error) {
	h, err := ParseHeader(f.ServiceUUIDs, e.rc5, e.clock())
	if err != nil {
		return Header{}, nil, err
	}

	var body [BodySize]byte
	e.block.Decrypt(body[:], f.Data[:])
	adv, err := DecodeAdvertisement(body[:])
	if err != nil {
		return Header{}, nil, err
	}
	if uint16(adv.ValidationTimestamp) != uint16(h.ValidationTimestamp) {
		return Header{}, nil, fmt.Errorf("%w: body timestamp %d does not match header", ErrMalformedBody, adv.ValidationTimestamp)
	}
	return h, adv, nil
}

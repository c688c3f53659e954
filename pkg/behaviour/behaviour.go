// Package behaviour models the rule set ("behaviours") stored on a
// Crownstone and keeps a local copy in sync with it.
//
// Each behaviour occupies an indexed slot on the Crownstone. The Crownstone
// reports a Fletcher-32 checksum per slot, so the Synchronizer only has to
// fetch the slots whose local copy is missing or differs.
package behaviour

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/crownstone/pkg/packet"
)

// Type selects the behaviour kind, which also fixes its serialized length.
type Type uint8

const (
	// TypeSwitch switches to Intensity while the presence condition holds.
	TypeSwitch Type = 0

	// TypeTwilight caps the intensity during its time window.
	TypeTwilight Type = 1

	// TypeSmartTimer switches on for a window and off after presence ends.
	TypeSmartTimer Type = 2
)

// String returns a human-readable name for the behaviour type.
func (t Type) String() string {
	switch t {
	case TypeSwitch:
		return "Switch"
	case TypeTwilight:
		return "Twilight"
	case TypeSmartTimer:
		return "SmartTimer"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the type is a defined value.
func (t Type) IsValid() bool {
	return t <= TypeSmartTimer
}

// hasPresence reports whether the serialized form carries a presence block.
func (t Type) hasPresence() bool {
	return t == TypeSwitch || t == TypeSmartTimer
}

// Days is a weekday bitmask, bit 0 is Sunday.
type Days uint8

const (
	Sunday Days = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday

	EveryDay = Sunday | Monday | Tuesday | Wednesday | Thursday | Friday | Saturday
)

// TimeKind anchors a TimeOfDay.
type TimeKind uint8

const (
	TimeClock   TimeKind = 0 // seconds since midnight
	TimeSunrise TimeKind = 1 // offset from sunrise
	TimeSunset  TimeKind = 2 // offset from sunset
)

// String returns a human-readable name for the time kind.
func (k TimeKind) String() string {
	switch k {
	case TimeClock:
		return "Clock"
	case TimeSunrise:
		return "Sunrise"
	case TimeSunset:
		return "Sunset"
	default:
		return "Unknown"
	}
}

// TimeOfDay is kind(1) | offset(4, signed seconds).
type TimeOfDay struct {
	Kind   TimeKind
	Offset int32
}

// PresenceType is the condition a switch or smart timer behaviour waits for.
type PresenceType uint8

const (
	PresenceIgnore            PresenceType = 0
	PresenceSomebodyInRoom    PresenceType = 1
	PresenceNobodyInRoom      PresenceType = 2
	PresenceSomebodyInSphere  PresenceType = 3
	PresenceNobodyInSphere    PresenceType = 4
	presenceTypeUpperBoundary PresenceType = PresenceNobodyInSphere
)

// String returns a human-readable name for the presence type.
func (p PresenceType) String() string {
	switch p {
	case PresenceIgnore:
		return "Ignore"
	case PresenceSomebodyInRoom:
		return "SomebodyInRoom"
	case PresenceNobodyInRoom:
		return "NobodyInRoom"
	case PresenceSomebodyInSphere:
		return "SomebodyInSphere"
	case PresenceNobodyInSphere:
		return "NobodyInSphere"
	default:
		return "Unknown"
	}
}

// Presence is type(1) | locationMask(8) | delay(4).
type Presence struct {
	Type PresenceType

	// Locations is a bitmask of location ids the condition applies to.
	Locations uint64

	// DelaySeconds is how long the condition must hold after presence ends.
	DelaySeconds uint32
}

// Serialized sizes.
const (
	timeOfDaySize = 5
	presenceSize  = 13

	// baseSize is type + intensity + profile + days + from + until.
	baseSize = 4 + 2*timeOfDaySize
)

// Behaviour is one rule. It implements packet.Payload.
type Behaviour struct {
	Type         Type
	Intensity    uint8
	ProfileIndex uint8
	ActiveDays   Days
	From         TimeOfDay
	Until        TimeOfDay

	// Presence is only serialized for TypeSwitch and TypeSmartTimer.
	Presence Presence
}

// Size returns the serialized size.
func (b Behaviour) Size() int {
	if b.Type.hasPresence() {
		return baseSize + presenceSize
	}
	return baseSize
}

// EncodeTo serializes the behaviour into buf.
func (b Behaviour) EncodeTo(buf []byte) (int, error) {
	if !b.Type.IsValid() {
		return 0, fmt.Errorf("%w: type %d", ErrInvalidBehaviour, b.Type)
	}
	if len(buf) < b.Size() {
		return 0, packet.ErrInsufficientBuffer
	}

	offset := 0
	buf[offset] = uint8(b.Type)
	buf[offset+1] = b.Intensity
	buf[offset+2] = b.ProfileIndex
	buf[offset+3] = uint8(b.ActiveDays)
	offset += 4

	offset += putTimeOfDay(buf[offset:], b.From)
	offset += putTimeOfDay(buf[offset:], b.Until)

	if b.Type.hasPresence() {
		buf[offset] = uint8(b.Presence.Type)
		binary.LittleEndian.PutUint64(buf[offset+1:], b.Presence.Locations)
		binary.LittleEndian.PutUint32(buf[offset+9:], b.Presence.DelaySeconds)
		offset += presenceSize
	}
	return offset, nil
}

// Validate checks field ranges.
func (b Behaviour) Validate() error {
	switch {
	case !b.Type.IsValid():
		return fmt.Errorf("%w: type %d", ErrInvalidBehaviour, b.Type)
	case b.Intensity > 100:
		return fmt.Errorf("%w: intensity %d", ErrInvalidBehaviour, b.Intensity)
	case b.ActiveDays&^EveryDay != 0 || b.ActiveDays == 0:
		return fmt.Errorf("%w: active days %#x", ErrInvalidBehaviour, uint8(b.ActiveDays))
	case b.From.Kind > TimeSunset || b.Until.Kind > TimeSunset:
		return fmt.Errorf("%w: time kind", ErrInvalidBehaviour)
	case b.Type.hasPresence() && b.Presence.Type > presenceTypeUpperBoundary:
		return fmt.Errorf("%w: presence type %d", ErrInvalidBehaviour, b.Presence.Type)
	}
	return nil
}

// Decode parses a serialized behaviour. The data must hold exactly one.
func Decode(data []byte) (Behaviour, error) {
	if len(data) < 1 {
		return Behaviour{}, fmt.Errorf("%w: empty behaviour", packet.ErrMalformed)
	}
	b := Behaviour{Type: Type(data[0])}
	if !b.Type.IsValid() {
		return Behaviour{}, fmt.Errorf("%w: %w: type %d", packet.ErrMalformed, ErrInvalidBehaviour, data[0])
	}
	if len(data) != b.Size() {
		return Behaviour{}, fmt.Errorf("%w: %s behaviour is %d bytes, want %d", packet.ErrMalformed, b.Type, len(data), b.Size())
	}

	b.Intensity = data[1]
	b.ProfileIndex = data[2]
	b.ActiveDays = Days(data[3])
	offset := 4
	b.From = getTimeOfDay(data[offset:])
	offset += timeOfDaySize
	b.Until = getTimeOfDay(data[offset:])
	offset += timeOfDaySize

	if b.Type.hasPresence() {
		b.Presence = Presence{
			Type:         PresenceType(data[offset]),
			Locations:    binary.LittleEndian.Uint64(data[offset+1:]),
			DelaySeconds: binary.LittleEndian.Uint32(data[offset+9:]),
		}
	}
	return b, nil
}

func putTimeOfDay(buf []byte, t TimeOfDay) int {
	buf[0] = uint8(t.Kind)
	binary.LittleEndian.PutUint32(buf[1:], uint32(t.Offset))
	return timeOfDaySize
}

func getTimeOfDay(data []byte) TimeOfDay {
	return TimeOfDay{
		Kind:   TimeKind(data[0]),
		Offset: int32(binary.LittleEndian.Uint32(data[1:])),
	}
}

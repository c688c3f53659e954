package packet

import (
	"encoding/binary"
	"fmt"
)

// Payload is a value that serializes into the inline payload of a packet.
type Payload interface {
	// Size returns the encoded size in bytes.
	Size() int

	// EncodeTo writes the payload into buf and returns the bytes written.
	// Returns ErrInsufficientBuffer if buf is shorter than Size().
	EncodeTo(buf []byte) (int, error)
}

// Marshal encodes a payload into a new slice.
func Marshal(p Payload) ([]byte, error) {
	buf := make([]byte, p.Size())
	n, err := p.EncodeTo(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// RawPayload is an already-serialized payload.
type RawPayload []byte

func (r RawPayload) Size() int { return len(r) }

func (r RawPayload) EncodeTo(buf []byte) (int, error) {
	if len(buf) < len(r) {
		return 0, ErrInsufficientBuffer
	}
	return copy(buf, r), nil
}

// SwitchValue is a switch state: 0 is off, 1-100 is a dim level with 100 fully
// on, and SwitchSmartOn hands control back to the Crownstone's behaviours.
type SwitchValue uint8

const (
	SwitchOff     SwitchValue = 0
	SwitchOn      SwitchValue = 100
	SwitchSmartOn SwitchValue = 255
)

// IsValid returns true if v is a dim level or SwitchSmartOn.
func (v SwitchValue) IsValid() bool {
	return v <= SwitchOn || v == SwitchSmartOn
}

func (v SwitchValue) Size() int { return 1 }

func (v SwitchValue) EncodeTo(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, ErrInsufficientBuffer
	}
	buf[0] = uint8(v)
	return 1, nil
}

// DecodeSwitchValue parses a single-byte switch payload.
func DecodeSwitchValue(data []byte) (SwitchValue, error) {
	if len(data) != 1 {
		return 0, fmt.Errorf("%w: switch payload is %d bytes", ErrMalformed, len(data))
	}
	return SwitchValue(data[0]), nil
}

// SetTime carries a posix timestamp in seconds (local time of the sphere).
type SetTime uint32

func (t SetTime) Size() int { return 4 }

func (t SetTime) EncodeTo(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, ErrInsufficientBuffer
	}
	binary.LittleEndian.PutUint32(buf, uint32(t))
	return 4, nil
}

// DecodeSetTime parses a 4-byte time payload.
func DecodeSetTime(data []byte) (SetTime, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("%w: time payload is %d bytes", ErrMalformed, len(data))
	}
	return SetTime(binary.LittleEndian.Uint32(data)), nil
}

// Uint32Payload carries a single little-endian 32-bit word, used for flag
// sets such as behaviour settings.
type Uint32Payload uint32

func (u Uint32Payload) Size() int { return 4 }

func (u Uint32Payload) EncodeTo(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, ErrInsufficientBuffer
	}
	binary.LittleEndian.PutUint32(buf, uint32(u))
	return 4, nil
}

// IndexedPayload prefixes a nested payload with a one-byte index.
type IndexedPayload struct {
	Index uint8
	Data  Payload
}

func (p IndexedPayload) Size() int {
	if p.Data == nil {
		return 1
	}
	return 1 + p.Data.Size()
}

func (p IndexedPayload) EncodeTo(buf []byte) (int, error) {
	if len(buf) < p.Size() {
		return 0, ErrInsufficientBuffer
	}
	buf[0] = p.Index
	if p.Data == nil {
		return 1, nil
	}
	n, err := p.Data.EncodeTo(buf[1:])
	if err != nil {
		return 0, err
	}
	return 1 + n, nil
}

// MultiSwitchEntrySize is id(1) + switchValue(1).
const MultiSwitchEntrySize = 2

// MultiSwitchEntry addresses one Crownstone in a multi-switch list.
type MultiSwitchEntry struct {
	ID    uint8
	Value SwitchValue
}

// MultiSwitchList is count(1) followed by entries, bounded by a byte budget.
// Add refuses entries once the list would exceed its budget.
type MultiSwitchList struct {
	entries  []MultiSwitchEntry
	capacity int
}

// NewMultiSwitchList returns an empty list whose encoding never exceeds
// maxBytes. The capacity is also limited by the 1-byte count field.
func NewMultiSwitchList(maxBytes int) *MultiSwitchList {
	capacity := (maxBytes - 1) / MultiSwitchEntrySize
	if capacity < 0 {
		capacity = 0
	}
	if capacity > 0xFF {
		capacity = 0xFF
	}
	return &MultiSwitchList{capacity: capacity}
}

// Add appends an entry and reports whether it fit.
func (l *MultiSwitchList) Add(e MultiSwitchEntry) bool {
	if l.Full() {
		return false
	}
	l.entries = append(l.entries, e)
	return true
}

// Full returns true when no further entry fits.
func (l *MultiSwitchList) Full() bool {
	return len(l.entries) >= l.capacity
}

// Len returns the number of entries.
func (l *MultiSwitchList) Len() int { return len(l.entries) }

// Entries returns a copy of the entries in insertion order.
func (l *MultiSwitchList) Entries() []MultiSwitchEntry {
	out := make([]MultiSwitchEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *MultiSwitchList) Size() int {
	return 1 + len(l.entries)*MultiSwitchEntrySize
}

func (l *MultiSwitchList) EncodeTo(buf []byte) (int, error) {
	if len(buf) < l.Size() {
		return 0, ErrInsufficientBuffer
	}
	offset := 0
	buf[offset] = uint8(len(l.entries))
	offset++
	for _, e := range l.entries {
		buf[offset] = e.ID
		buf[offset+1] = uint8(e.Value)
		offset += MultiSwitchEntrySize
	}
	return offset, nil
}

// DecodeMultiSwitchList parses count(1) + entries. The result has exactly
// the decoded capacity.
func DecodeMultiSwitchList(data []byte) (*MultiSwitchList, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty multi-switch list", ErrMalformed)
	}
	count := int(data[0])
	if len(data) != 1+count*MultiSwitchEntrySize {
		return nil, fmt.Errorf("%w: multi-switch count %d with %d bytes", ErrMalformed, count, len(data))
	}
	l := &MultiSwitchList{
		entries:  make([]MultiSwitchEntry, count),
		capacity: count,
	}
	for i := range l.entries {
		off := 1 + i*MultiSwitchEntrySize
		l.entries[i] = MultiSwitchEntry{ID: data[off], Value: SwitchValue(data[off+1])}
	}
	return l, nil
}

// BehaviourIndexEntrySize is index(1) + checksum(4).
const BehaviourIndexEntrySize = 5

// BehaviourIndexEntry pairs a behaviour slot with the checksum the
// Crownstone computed over the stored behaviour.
type BehaviourIndexEntry struct {
	Index    uint8
	Checksum uint32
}

func (e BehaviourIndexEntry) Size() int { return BehaviourIndexEntrySize }

func (e BehaviourIndexEntry) EncodeTo(buf []byte) (int, error) {
	if len(buf) < BehaviourIndexEntrySize {
		return 0, ErrInsufficientBuffer
	}
	buf[0] = e.Index
	binary.LittleEndian.PutUint32(buf[1:], e.Checksum)
	return BehaviourIndexEntrySize, nil
}

// DecodeBehaviourIndexEntry parses exactly one index(1) + checksum(4).
func DecodeBehaviourIndexEntry(data []byte) (BehaviourIndexEntry, error) {
	if len(data) != BehaviourIndexEntrySize {
		return BehaviourIndexEntry{}, fmt.Errorf("%w: index entry is %d bytes", ErrMalformed, len(data))
	}
	return BehaviourIndexEntry{
		Index:    data[0],
		Checksum: binary.LittleEndian.Uint32(data[1:]),
	}, nil
}

// BehaviourIndexList is the payload of a behaviour indices result.
type BehaviourIndexList []BehaviourIndexEntry

func (l BehaviourIndexList) Size() int { return len(l) * BehaviourIndexEntrySize }

func (l BehaviourIndexList) EncodeTo(buf []byte) (int, error) {
	if len(buf) < l.Size() {
		return 0, ErrInsufficientBuffer
	}
	offset := 0
	for _, e := range l {
		n, err := e.EncodeTo(buf[offset:])
		if err != nil {
			return 0, err
		}
		offset += n
	}
	return offset, nil
}

// DecodeBehaviourIndexList parses a sequence of index entries.
func DecodeBehaviourIndexList(data []byte) (BehaviourIndexList, error) {
	if len(data)%BehaviourIndexEntrySize != 0 {
		return nil, fmt.Errorf("%w: index list of %d bytes", ErrMalformed, len(data))
	}
	out := make(BehaviourIndexList, 0, len(data)/BehaviourIndexEntrySize)
	for off := 0; off < len(data); off += BehaviourIndexEntrySize {
		e, err := DecodeBehaviourIndexEntry(data[off : off+BehaviourIndexEntrySize])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

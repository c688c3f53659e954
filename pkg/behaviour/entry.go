package behaviour

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/backkem/crownstone/pkg/fletcher"
	"github.com/backkem/crownstone/pkg/packet"
)

// Unassigned marks a local entry the Crownstone has not acknowledged yet.
// Such entries have no slot and are never dropped by synchronization.
const Unassigned uint8 = 0xFF

// Entry is a behaviour together with its slot and checksum.
type Entry struct {
	Index     uint8
	Behaviour Behaviour
	Checksum  uint32
}

// NewEntry builds an entry and computes its checksum.
func NewEntry(index uint8, b Behaviour) (Entry, error) {
	sum, err := Checksum(b)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Index: index, Behaviour: b, Checksum: sum}, nil
}

// IsAssigned returns true if the entry occupies a slot on the Crownstone.
func (e Entry) IsAssigned() bool {
	return e.Index != Unassigned
}

// Checksum returns the Fletcher-32 checksum of a serialized behaviour.
func Checksum(b Behaviour) (uint32, error) {
	data, err := packet.Marshal(b)
	if err != nil {
		return 0, err
	}
	return fletcher.Checksum(data), nil
}

// AggregateChecksum folds one running Fletcher-32 state over the assigned
// entries in index order. For each entry the index is fed as a little-endian
// word, followed by the serialized behaviour zero-padded to a whole word.
// Unassigned entries are skipped. The result is independent of the order of
// entries.
func AggregateChecksum(entries []Entry) (uint32, error) {
	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsAssigned() {
			sorted = append(sorted, e)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Index < sorted[j].Index
	})

	h := fletcher.New()
	var word [2]byte
	for _, e := range sorted {
		data, err := packet.Marshal(e.Behaviour)
		if err != nil {
			return 0, err
		}
		binary.LittleEndian.PutUint16(word[:], uint16(e.Index))
		h.Write(word[:])
		h.Write(data)
		if len(data)%2 == 1 {
			h.Write([]byte{0})
		}
	}
	return h.Sum32(), nil
}

// sortEntries orders assigned entries by index, followed by unassigned
// entries in insertion order.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.IsAssigned() != b.IsAssigned() {
			return a.IsAssigned()
		}
		if !a.IsAssigned() {
			return false
		}
		return a.Index < b.Index
	})
}

// Store is the local copy of a Crownstone's rule set. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	assigned map[uint8]Entry
	pending  []Entry
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		assigned: make(map[uint8]Entry),
	}
}

// AddPending queues a behaviour that has not been saved on the Crownstone.
func (s *Store) AddPending(b Behaviour) error {
	if err := b.Validate(); err != nil {
		return err
	}
	e, err := NewEntry(Unassigned, b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, e)
	return nil
}

// Set stores an assigned entry, replacing whatever occupied its slot. The
// entry's checksum is recomputed from its behaviour.
func (s *Store) Set(e Entry) error {
	if !e.IsAssigned() {
		return ErrUnassignedIndex
	}
	e, err := NewEntry(e.Index, e.Behaviour)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assigned[e.Index] = e
	return nil
}

// Assign moves the first pending entry with the given checksum into slot
// index. It is called once the Crownstone acknowledges a save.
func (s *Store) Assign(checksum uint32, index uint8) error {
	if index == Unassigned {
		return ErrUnassignedIndex
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.pending {
		if e.Checksum != checksum {
			continue
		}
		e.Index = index
		s.assigned[index] = e
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		return nil
	}
	return ErrNotFound
}

// Get returns the entry in slot index.
func (s *Store) Get(index uint8) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.assigned[index]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Remove deletes the entry in slot index.
func (s *Store) Remove(index uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assigned[index]; !ok {
		return ErrNotFound
	}
	delete(s.assigned, index)
	return nil
}

// Entries returns assigned entries by index followed by pending entries.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.assigned)+len(s.pending))
	for _, e := range s.assigned {
		out = append(out, e)
	}
	out = append(out, s.pending...)
	sortEntries(out)
	return out
}

// Replace swaps the whole rule set, splitting it into assigned and pending.
func (s *Store) Replace(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assigned = make(map[uint8]Entry, len(entries))
	s.pending = nil
	for _, e := range entries {
		if e.IsAssigned() {
			s.assigned[e.Index] = e
		} else {
			s.pending = append(s.pending, e)
		}
	}
}

// AggregateChecksum returns the aggregate checksum of the assigned entries.
func (s *Store) AggregateChecksum() (uint32, error) {
	return AggregateChecksum(s.Entries())
}

package behaviour

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/backkem/crownstone/pkg/fletcher"
	"github.com/backkem/crownstone/pkg/packet"
)

func mustEntry(t *testing.T, index uint8, b Behaviour) Entry {
	t.Helper()
	e, err := NewEntry(index, b)
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	return e
}

func sampleEntries(t *testing.T) []Entry {
	return []Entry{
		mustEntry(t, 0, switchBehaviour(100)),
		mustEntry(t, 3, twilightBehaviour(30)),
		mustEntry(t, 7, switchBehaviour(60)),
		mustEntry(t, 12, twilightBehaviour(20)),
	}
}

func TestEntryChecksum(t *testing.T) {
	b := switchBehaviour(80)
	data, _ := packet.Marshal(b)
	e := mustEntry(t, 2, b)
	if e.Checksum != fletcher.Checksum(data) {
		t.Errorf("Checksum = 0x%08X, want fletcher of serialized bytes", e.Checksum)
	}
	if !e.IsAssigned() {
		t.Error("IsAssigned() = false for slot 2")
	}
	if mustEntry(t, Unassigned, b).IsAssigned() {
		t.Error("IsAssigned() = true for Unassigned")
	}
}

func TestAggregateChecksumOrderIndependent(t *testing.T) {
	entries := sampleEntries(t)
	want, err := AggregateChecksum(entries)
	if err != nil {
		t.Fatalf("AggregateChecksum() error = %v", err)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]Entry(nil), entries...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := AggregateChecksum(shuffled)
		if err != nil {
			t.Fatalf("AggregateChecksum() error = %v", err)
		}
		if got != want {
			t.Fatalf("shuffle %d: AggregateChecksum() = 0x%08X, want 0x%08X", i, got, want)
		}
	}
}

func TestAggregateChecksumSensitivity(t *testing.T) {
	base := sampleEntries(t)
	want, _ := AggregateChecksum(base)

	tests := []struct {
		name   string
		mutate func([]Entry) []Entry
	}{
		{
			name: "Intensity byte",
			mutate: func(es []Entry) []Entry {
				es[1] = mustEntry(t, 3, twilightBehaviour(31))
				return es
			},
		},
		{
			name: "Presence delay byte",
			mutate: func(es []Entry) []Entry {
				b := switchBehaviour(60)
				b.Presence.DelaySeconds++
				es[2] = mustEntry(t, 7, b)
				return es
			},
		},
		{
			name: "Index moved",
			mutate: func(es []Entry) []Entry {
				es[3] = mustEntry(t, 13, twilightBehaviour(20))
				return es
			},
		},
		{
			name: "Entry removed",
			mutate: func(es []Entry) []Entry {
				return es[:3]
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mutated := tc.mutate(append([]Entry(nil), base...))
			got, err := AggregateChecksum(mutated)
			if err != nil {
				t.Fatalf("AggregateChecksum() error = %v", err)
			}
			if got == want {
				t.Errorf("AggregateChecksum() unchanged at 0x%08X", got)
			}
		})
	}
}

func TestAggregateChecksumSkipsUnassigned(t *testing.T) {
	entries := sampleEntries(t)
	want, _ := AggregateChecksum(entries)
	withPending := append(entries, mustEntry(t, Unassigned, switchBehaviour(1)))
	got, _ := AggregateChecksum(withPending)
	if got != want {
		t.Errorf("unassigned entry changed aggregate: 0x%08X != 0x%08X", got, want)
	}
}

func TestAggregateChecksumPadsOddEntries(t *testing.T) {
	sw := switchBehaviour(100)
	tw := twilightBehaviour(30)
	swData, _ := packet.Marshal(sw)
	twData, _ := packet.Marshal(tw)
	if len(swData)%2 != 1 {
		t.Fatalf("switch behaviour is %d bytes, want an odd length", len(swData))
	}

	var padded, unpadded []byte
	padded = append(padded, 0, 0)
	padded = append(padded, swData...)
	padded = append(padded, 0)
	padded = append(padded, 1, 0)
	padded = append(padded, twData...)
	if len(twData)%2 == 1 {
		padded = append(padded, 0)
	}
	unpadded = append(unpadded, 0, 0)
	unpadded = append(unpadded, swData...)
	unpadded = append(unpadded, 1, 0)
	unpadded = append(unpadded, twData...)

	got, err := AggregateChecksum([]Entry{mustEntry(t, 1, tw), mustEntry(t, 0, sw)})
	if err != nil {
		t.Fatalf("AggregateChecksum() error = %v", err)
	}
	if want := fletcher.Checksum(padded); got != want {
		t.Errorf("AggregateChecksum() = 0x%08X, want 0x%08X", got, want)
	}
	if got == fletcher.Checksum(unpadded) {
		t.Errorf("AggregateChecksum() = 0x%08X, matches the unaligned fold", got)
	}
}

func TestStore(t *testing.T) {
	s := NewStore()
	for _, e := range sampleEntries(t) {
		if err := s.Set(e); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	if err := s.Set(Entry{Index: Unassigned}); !errors.Is(err, ErrUnassignedIndex) {
		t.Errorf("Set(Unassigned) error = %v", err)
	}

	pending := switchBehaviour(5)
	if err := s.AddPending(pending); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}
	if err := s.AddPending(Behaviour{Type: TypeSwitch, ActiveDays: 0}); !errors.Is(err, ErrInvalidBehaviour) {
		t.Errorf("AddPending(invalid) error = %v", err)
	}

	entries := s.Entries()
	if len(entries) != 5 {
		t.Fatalf("Entries() = %d entries, want 5", len(entries))
	}
	for i, wantIndex := range []uint8{0, 3, 7, 12, Unassigned} {
		if entries[i].Index != wantIndex {
			t.Errorf("Entries()[%d].Index = %d, want %d", i, entries[i].Index, wantIndex)
		}
	}

	sum, _ := Checksum(pending)
	if err := s.Assign(sum, 20); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if e, err := s.Get(20); err != nil || e.Behaviour != pending {
		t.Errorf("Get(20) = %+v, %v", e, err)
	}
	if err := s.Assign(sum, 21); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Assign() error = %v, want ErrNotFound", err)
	}

	if err := s.Remove(3); err != nil {
		t.Errorf("Remove(3) error = %v", err)
	}
	if _, err := s.Get(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(3) after remove error = %v", err)
	}
	if err := s.Remove(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove(3) error = %v", err)
	}
}

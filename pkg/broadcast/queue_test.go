package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/crownstone/pkg/packet"
)

var testEpoch = time.Unix(1700000000, 0)

func fixedClock() time.Time { return testEpoch }

func newTestQueue() *Queue {
	return NewQueue(QueueConfig{Clock: fixedClock})
}

func switchItem(id uint8, v packet.SwitchValue, retries int) Item {
	return Item{Type: CommandSwitch, ID: id, Payload: v, Retries: retries}
}

func mustAdd(t *testing.T, q *Queue, item Item) *Completion {
	t.Helper()
	c, err := q.Add(item)
	if err != nil {
		t.Fatalf("Add(%s) error = %v", item.Key(), err)
	}
	return c
}

func ids(keys []CommandKey) []uint8 {
	out := make([]uint8, len(keys))
	for i, k := range keys {
		out[i] = k.ID
	}
	return out
}

func sameIDs(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNextAdvertisementEmpty(t *testing.T) {
	if adv := newTestQueue().NextAdvertisement(); adv != nil {
		t.Errorf("NextAdvertisement() = %+v, want nil", adv)
	}
}

func TestQueueAddNewestFirst(t *testing.T) {
	q := newTestQueue()
	for id := uint8(1); id <= 3; id++ {
		mustAdd(t, q, switchItem(id, packet.SwitchOn, 0))
	}
	pending := q.Pending()
	got := make([]uint8, len(pending))
	for i, it := range pending {
		got[i] = it.ID
		if it.Retries != DefaultRetries {
			t.Errorf("item %d retries = %d, want default %d", it.ID, it.Retries, DefaultRetries)
		}
	}
	if !sameIDs(got, []uint8{3, 2, 1}) {
		t.Errorf("Pending() ids = %v, want [3 2 1]", got)
	}
}

func TestQueueAddSupersedes(t *testing.T) {
	q := newTestQueue()
	old := mustAdd(t, q, switchItem(4, packet.SwitchOff, 2))
	mustAdd(t, q, switchItem(5, packet.SwitchOff, 2))
	fresh := mustAdd(t, q, switchItem(4, packet.SwitchOn, 2))

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	if err := old.Wait(context.Background()); !errors.Is(err, ErrSuperseded) {
		t.Errorf("old completion = %v, want ErrSuperseded", err)
	}
	if fresh.Resolved() {
		t.Error("new completion resolved early")
	}

	// Same ID with a different type is a different command.
	mustAdd(t, q, Item{Type: CommandSetTime, ID: 4, Payload: packet.SetTime(1)})
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	adv := q.NextAdvertisement()
	if adv.Type != AdvertisementSetTime {
		t.Fatalf("first advertisement = %s, want SetTime", adv.Type)
	}
	adv = q.NextAdvertisement()
	list := adv.Payload.(*packet.MultiSwitchList)
	if e := list.Entries()[0]; e.ID != 4 || e.Value != packet.SwitchOn {
		t.Errorf("head entry = %+v, want id 4 on", e)
	}
}

func TestQueueAddValidation(t *testing.T) {
	tests := []struct {
		name    string
		item    Item
		wantErr error
	}{
		{"Unknown type", Item{Type: 9, Payload: packet.SetTime(0)}, ErrInvalidCommand},
		{"Nil payload", Item{Type: CommandSwitch}, ErrInvalidPayload},
		{"Switch value out of range", switchItem(1, 150, 1), ErrInvalidPayload},
		{"Time payload on switch", Item{Type: CommandSwitch, Payload: packet.SetTime(0)}, ErrInvalidPayload},
		{"Switch payload on time", Item{Type: CommandSetTime, Payload: packet.SwitchOn}, ErrInvalidPayload},
		{"Raw payload", Item{Type: CommandSetTime, Payload: packet.RawPayload{1, 2}}, ErrInvalidPayload},
		{"Settings on time", Item{Type: CommandSetTime, Payload: packet.Uint32Payload(1)}, ErrInvalidPayload},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := newTestQueue()
			if _, err := q.Add(tc.item); !errors.Is(err, tc.wantErr) {
				t.Errorf("Add() error = %v, want %v", err, tc.wantErr)
			}
			if q.Len() != 0 {
				t.Errorf("Len() = %d after rejected Add", q.Len())
			}
		})
	}

	q := newTestQueue()
	if _, err := q.Add(switchItem(1, packet.SwitchSmartOn, 1)); err != nil {
		t.Errorf("Add(smart on) error = %v", err)
	}
}

// TestMultiSwitchRetries drives seven switch commands with a budget of three
// through the packer until the queue drains.
func TestMultiSwitchRetries(t *testing.T) {
	q := newTestQueue()
	completions := make(map[uint8]*Completion)
	for id := uint8(1); id <= 7; id++ {
		completions[id] = mustAdd(t, q, switchItem(id, packet.SwitchValue(id*10), 3))
	}

	wantRounds := [][]uint8{
		{7, 6, 5, 4, 3},
		{2, 1, 7, 6, 5},
		{4, 3, 2, 1, 7},
		{6, 5, 4, 3, 2},
		{1},
	}

	drawn := make(map[uint8]int)
	for round := 0; ; round++ {
		adv := q.NextAdvertisement()
		if adv == nil {
			if round != len(wantRounds) {
				t.Fatalf("queue drained after %d rounds, want %d", round, len(wantRounds))
			}
			break
		}
		if round >= len(wantRounds) {
			t.Fatalf("unexpected round %d: %v", round, ids(adv.Commands))
		}
		if adv.Type != AdvertisementMultiSwitch {
			t.Errorf("round %d type = %s", round, adv.Type)
		}
		if adv.ValidationTimestamp != uint32(testEpoch.Unix()) {
			t.Errorf("round %d timestamp = %d", round, adv.ValidationTimestamp)
		}
		if adv.Size() > adv.Type.MaxSize() {
			t.Errorf("round %d size %d exceeds %d", round, adv.Size(), adv.Type.MaxSize())
		}
		if got := ids(adv.Commands); !sameIDs(got, wantRounds[round]) {
			t.Errorf("round %d ids = %v, want %v", round, got, wantRounds[round])
		}

		list := adv.Payload.(*packet.MultiSwitchList)
		for i, e := range list.Entries() {
			if e.ID != adv.Commands[i].ID || e.Value != packet.SwitchValue(e.ID*10) {
				t.Errorf("round %d entry %d = %+v", round, i, e)
			}
		}
		for _, k := range adv.Commands {
			drawn[k.ID]++
		}
	}

	for id := uint8(1); id <= 7; id++ {
		if drawn[id] != 3 {
			t.Errorf("id %d drawn %d times, want 3", id, drawn[id])
		}
		if err := completions[id].Err(); !errors.Is(err, ErrRetryExhausted) {
			t.Errorf("id %d completion = %v, want ErrRetryExhausted", id, err)
		}
	}
}

func TestReAddDuringDrain(t *testing.T) {
	q := newTestQueue()
	for id := uint8(1); id <= 7; id++ {
		mustAdd(t, q, switchItem(id, packet.SwitchOff, 3))
	}
	q.NextAdvertisement()

	// 3 was drawn once and sits near the tail; the new command replaces it
	// at the head with a fresh budget.
	mustAdd(t, q, switchItem(3, packet.SwitchOn, 2))
	if q.Len() != 7 {
		t.Fatalf("Len() = %d, want 7", q.Len())
	}

	adv := q.NextAdvertisement()
	if got := ids(adv.Commands); got[0] != 3 {
		t.Fatalf("ids = %v, want 3 first", got)
	}
	count := 0
	for _, e := range adv.Payload.(*packet.MultiSwitchList).Entries() {
		if e.ID == 3 {
			count++
			if e.Value != packet.SwitchOn {
				t.Errorf("id 3 value = %d, want on", e.Value)
			}
		}
	}
	if count != 1 {
		t.Errorf("id 3 appears %d times", count)
	}
}

func TestSingleItemTypes(t *testing.T) {
	q := newTestQueue()
	mustAdd(t, q, switchItem(1, packet.SwitchOn, 1))
	mustAdd(t, q, Item{Type: CommandBehaviourSettings, ID: 0, Payload: packet.Uint32Payload(1), Retries: 1})
	timeDone := mustAdd(t, q, Item{Type: CommandSetTime, ID: 0, Payload: packet.SetTime(1234), Retries: 1})
	mustAdd(t, q, switchItem(2, packet.SwitchOff, 1))

	want := []struct {
		typ AdvertisementType
		ids []uint8
	}{
		{AdvertisementMultiSwitch, []uint8{2, 1}},
		{AdvertisementSetTime, []uint8{0}},
		{AdvertisementBehaviourSettings, []uint8{0}},
	}
	for i, w := range want {
		adv := q.NextAdvertisement()
		if adv == nil {
			t.Fatalf("advertisement %d missing", i)
		}
		if adv.Type != w.typ || !sameIDs(ids(adv.Commands), w.ids) {
			t.Errorf("advertisement %d = %s %v, want %s %v", i, adv.Type, ids(adv.Commands), w.typ, w.ids)
		}
		if adv.Size() > adv.Type.MaxSize() {
			t.Errorf("advertisement %d size %d exceeds %d", i, adv.Size(), adv.Type.MaxSize())
		}
	}
	if adv := q.NextAdvertisement(); adv != nil {
		t.Errorf("extra advertisement %s", adv.Type)
	}
	if !errors.Is(timeDone.Err(), ErrRetryExhausted) {
		t.Errorf("time completion = %v", timeDone.Err())
	}
}

func TestConfirm(t *testing.T) {
	q := newTestQueue()
	c := mustAdd(t, q, switchItem(8, packet.SwitchOn, 5))
	if !q.Confirm(CommandSwitch, 8) {
		t.Fatal("Confirm() = false")
	}
	if err := c.Wait(context.Background()); err != nil {
		t.Errorf("completion = %v, want nil", err)
	}
	if q.Confirm(CommandSwitch, 8) {
		t.Error("second Confirm() = true")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d", q.Len())
	}
}

func TestCompletionWaitContext(t *testing.T) {
	q := newTestQueue()
	c := mustAdd(t, q, switchItem(1, packet.SwitchOn, 5))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := c.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}
	if c.Err() != nil {
		t.Errorf("Err() = %v while pending", c.Err())
	}
}

func TestQueueConcurrentAccess(t *testing.T) {
	q := newTestQueue()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if _, err := q.Add(switchItem(uint8(i%16), packet.SwitchValue(w), 2)); err != nil {
					t.Errorf("Add() error = %v", err)
					return
				}
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 400; i++ {
			if adv := q.NextAdvertisement(); adv != nil && adv.Size() > adv.Type.MaxSize() {
				t.Errorf("oversized advertisement: %d", adv.Size())
				return
			}
		}
	}()
	wg.Wait()

	seen := make(map[CommandKey]bool)
	for _, it := range q.Pending() {
		if seen[it.Key()] {
			t.Errorf("duplicate %s in queue", it.Key())
		}
		seen[it.Key()] = true
	}
}

package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/crownstone/pkg/behaviour"
	"github.com/backkem/crownstone/pkg/packet"
	"github.com/backkem/crownstone/pkg/transport"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

var (
	narrowCaps   = packet.CapabilitySet(0)
	extendedCaps = packet.NewCapabilitySet(packet.CapabilityExtendedHeader, packet.CapabilityBehaviourSync)
)

func sampleBehaviour(intensity uint8) behaviour.Behaviour {
	return behaviour.Behaviour{
		Type:       behaviour.TypeSwitch,
		Intensity:  intensity,
		ActiveDays: behaviour.EveryDay,
		From:       behaviour.TimeOfDay{Kind: behaviour.TimeClock, Offset: 7 * 3600},
		Until:      behaviour.TimeOfDay{Kind: behaviour.TimeSunset, Offset: 0},
		Presence: behaviour.Presence{
			Type:      behaviour.PresenceSomebodyInSphere,
			Locations: 1 << 2,
		},
	}
}

func mustEntry(t *testing.T, index uint8, b behaviour.Behaviour) behaviour.Entry {
	t.Helper()
	e, err := behaviour.NewEntry(index, b)
	if err != nil {
		t.Fatalf("NewEntry() error = %v", err)
	}
	return e
}

func newTestPair(t *testing.T, caps packet.CapabilitySet, config EmulatorConfig) *TestPair {
	t.Helper()
	pair, err := NewTestPair(TestPairConfig{
		Capabilities:   caps,
		Behaviours:     config.Behaviours,
		WaitForSuccess: config.WaitForSuccess,
		Timeout:        time.Second,
		LoggerFactory:  logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("NewTestPair() error = %v", err)
	}
	return pair
}

func TestClientCommands(t *testing.T) {
	for _, tc := range []struct {
		name    string
		caps    packet.CapabilitySet
		variant packet.HeaderVariant
	}{
		{"narrow", narrowCaps, packet.VariantNarrow},
		{"extended", extendedCaps, packet.VariantExtendedResult},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer test.CheckRoutines(t)()
			pair := newTestPair(t, tc.caps, EmulatorConfig{})
			defer pair.Close()

			c := pair.Client()
			ctx := context.Background()
			if got := c.Dialect().Response.Variant(); got != tc.variant {
				t.Fatalf("response dialect = %s, want %s", got, tc.variant)
			}

			if err := c.Switch(ctx, packet.SwitchOn); err != nil {
				t.Fatalf("Switch() error = %v", err)
			}
			if got := pair.Emulator().SwitchState(); got != packet.SwitchOn {
				t.Errorf("SwitchState() = %d, want %d", got, packet.SwitchOn)
			}
			if err := c.Switch(ctx, packet.SwitchOn); err != nil {
				t.Errorf("repeated Switch() error = %v, want SuccessNoChange accepted", err)
			}

			now := time.Unix(1700000000, 0)
			if err := c.SetTime(ctx, now); err != nil {
				t.Fatalf("SetTime() error = %v", err)
			}
			if got := pair.Emulator().Time(); !got.Equal(now) {
				t.Errorf("Time() = %v, want %v", got, now)
			}

			index, master, err := c.SaveBehaviour(ctx, sampleBehaviour(80))
			if err != nil {
				t.Fatalf("SaveBehaviour() error = %v", err)
			}
			if index != 0 {
				t.Errorf("SaveBehaviour() index = %d, want 0", index)
			}
			want, _ := behaviour.AggregateChecksum(pair.Emulator().Behaviours())
			if master != want {
				t.Errorf("SaveBehaviour() master = %#08x, want %#08x", master, want)
			}

			entry, err := c.GetBehaviour(ctx, 0)
			if err != nil {
				t.Fatalf("GetBehaviour() error = %v", err)
			}
			if entry.Index != 0 || entry.Behaviour != sampleBehaviour(80) {
				t.Errorf("GetBehaviour() = %+v", entry)
			}

			if _, err := c.ReplaceBehaviour(ctx, 0, sampleBehaviour(20)); err != nil {
				t.Fatalf("ReplaceBehaviour() error = %v", err)
			}
			indices, err := c.GetBehaviourIndices(ctx)
			if err != nil {
				t.Fatalf("GetBehaviourIndices() error = %v", err)
			}
			replaced := mustEntry(t, 0, sampleBehaviour(20))
			if len(indices) != 1 || indices[0].Index != 0 || indices[0].Checksum != replaced.Checksum {
				t.Errorf("GetBehaviourIndices() = %+v", indices)
			}

			master, err = c.RemoveBehaviour(ctx, 0)
			if err != nil {
				t.Fatalf("RemoveBehaviour() error = %v", err)
			}
			empty, _ := behaviour.AggregateChecksum(nil)
			if master != empty {
				t.Errorf("RemoveBehaviour() master = %#08x, want %#08x", master, empty)
			}
			if _, err := c.GetBehaviour(ctx, 0); !IsResult(err, packet.ResultNotFound) {
				t.Errorf("GetBehaviour() removed slot error = %v, want NotFound", err)
			}
		})
	}
}

func TestClientWaitForSuccess(t *testing.T) {
	defer test.CheckRoutines(t)()
	pair := newTestPair(t, extendedCaps, EmulatorConfig{WaitForSuccess: true})
	defer pair.Close()

	store := behaviour.NewStore()
	ctx := context.Background()
	for i, intensity := range []uint8{10, 20, 30} {
		index, err := pair.Client().Upload(ctx, store, sampleBehaviour(intensity))
		if err != nil {
			t.Fatalf("Upload(%d) error = %v", intensity, err)
		}
		if int(index) != i {
			t.Errorf("Upload(%d) index = %d, want %d", intensity, index, i)
		}
	}
	if err := pair.Client().Delete(ctx, store, 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := len(store.Entries()); got != 2 {
		t.Errorf("store holds %d entries, want 2", got)
	}
	if got := len(pair.Emulator().Behaviours()); got != 2 {
		t.Errorf("emulator holds %d entries, want 2", got)
	}
}

func TestClientResultError(t *testing.T) {
	pair := newTestPair(t, extendedCaps, EmulatorConfig{})
	defer pair.Close()
	ctx := context.Background()

	pair.Emulator().FailNext(packet.CommandSwitch, packet.ResultNoAccess)
	err := pair.Client().Switch(ctx, packet.SwitchOn)
	var re *ResultError
	if !errors.As(err, &re) {
		t.Fatalf("Switch() error = %v, want *ResultError", err)
	}
	if re.Type != packet.CommandSwitch || re.Code != packet.ResultNoAccess {
		t.Errorf("ResultError = %+v", re)
	}
	if pair.Emulator().SwitchState() != packet.SwitchOff {
		t.Error("failed request changed the switch state")
	}

	if err := pair.Client().Switch(ctx, packet.SwitchOn); err != nil {
		t.Errorf("Switch() after failure error = %v", err)
	}
	if err := pair.Client().Switch(ctx, 150); !errors.Is(err, ErrInvalidSwitch) {
		t.Errorf("Switch(150) error = %v, want ErrInvalidSwitch", err)
	}
}

func TestClientTimeout(t *testing.T) {
	pair := newTestPair(t, narrowCaps, EmulatorConfig{})
	defer pair.Close()

	pair.Emulator().DropNext(packet.CommandSetTime)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pair.Client().SetTime(ctx, time.Now()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("SetTime() error = %v, want ErrTimeout", err)
	}

	if err := pair.Client().SetTime(context.Background(), time.Unix(42, 0)); err != nil {
		t.Fatalf("SetTime() after timeout error = %v", err)
	}
	if got := pair.Emulator().Time().Unix(); got != 42 {
		t.Errorf("Time() = %d, want 42", got)
	}
}

// TestClientDiscardsStaleResults drives the Crownstone end by hand.
func TestClientDiscardsStaleResults(t *testing.T) {
	defer test.CheckRoutines(t)()
	for _, caps := range []packet.CapabilitySet{narrowCaps, extendedCaps} {
		a, b, pipe := transport.NewPipeLinks(caps, nil)
		client, _ := NewClient(ClientConfig{Conn: a})
		dialect := packet.NegotiateDialect(b)

		done := make(chan error, 1)
		go func() {
			done <- client.Switch(context.Background(), packet.SwitchOff)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		req, err := b.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		p, err := decodeRequest(dialect, req)
		if err != nil || p.Type != packet.CommandSwitch {
			t.Fatalf("request = %+v, %v", p, err)
		}
		for _, r := range []struct {
			t    packet.CommandType
			code packet.ResultCode
		}{
			{packet.CommandSetTime, packet.ResultSuccess},
			{packet.CommandSwitch, packet.ResultWaitForSuccess},
			{packet.CommandSwitch, packet.ResultSuccess},
		} {
			out, err := encodeResult(dialect, r.t, r.code, nil)
			if err != nil {
				t.Fatalf("encodeResult() error = %v", err)
			}
			if err := b.Send(ctx, out); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
		}
		if err := <-done; err != nil {
			t.Errorf("%s: Switch() error = %v", dialect.Response.Variant(), err)
		}
		cancel()
		pipe.Close()
	}
}

func TestClientDiscardsMalformedResults(t *testing.T) {
	tests := []struct {
		name    string
		valid   bool
		wantErr error
	}{
		{"followed by result", true, nil},
		{"alone", false, ErrTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, b, pipe := transport.NewPipeLinks(extendedCaps, nil)
			defer pipe.Close()
			client, _ := NewClient(ClientConfig{Conn: a, Timeout: 100 * time.Millisecond})
			dialect := packet.NegotiateDialect(b)

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if _, err := b.Receive(ctx); err != nil {
					return
				}
				b.Send(ctx, []byte{0x05, 0x14, 0x00})
				if tc.valid {
					out, _ := encodeResult(dialect, packet.CommandSwitch, packet.ResultSuccess, nil)
					b.Send(ctx, out)
				}
			}()
			err := client.Switch(context.Background(), packet.SwitchOn)
			if tc.wantErr == nil && err != nil {
				t.Errorf("Switch() error = %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Errorf("Switch() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewClientRequiresConn(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrNoConn) {
		t.Errorf("NewClient() error = %v, want ErrNoConn", err)
	}
}

func TestSynchronizeOverControlLink(t *testing.T) {
	defer test.CheckRoutines(t)()

	remote := []behaviour.Entry{
		mustEntry(t, 0, sampleBehaviour(10)),
		mustEntry(t, 3, sampleBehaviour(30)),
		mustEntry(t, 7, sampleBehaviour(70)),
	}
	pair := newTestPair(t, extendedCaps, EmulatorConfig{Behaviours: remote})
	defer pair.Close()

	store := behaviour.NewStore()
	store.Set(remote[0])
	store.Set(mustEntry(t, 3, sampleBehaviour(33)))
	if err := store.AddPending(sampleBehaviour(99)); err != nil {
		t.Fatalf("AddPending() error = %v", err)
	}

	syncer, err := behaviour.NewSynchronizer(behaviour.SyncConfig{
		Remote:        pair.Client(),
		Store:         store,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("NewSynchronizer() error = %v", err)
	}
	entries, err := syncer.Synchronize(context.Background())
	if err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}

	wantIndices := []uint8{0, 3, 7, behaviour.Unassigned}
	if len(entries) != len(wantIndices) {
		t.Fatalf("Synchronize() returned %d entries, want %d", len(entries), len(wantIndices))
	}
	for i, e := range entries {
		if e.Index != wantIndices[i] {
			t.Errorf("entry %d index = %d, want %d", i, e.Index, wantIndices[i])
		}
	}
	if entries[1].Checksum != remote[1].Checksum {
		t.Error("stale slot 3 was not refetched")
	}
	// One index query plus fetches for slots 3 and 7.
	if got := pair.Emulator().Handled(); got != 3 {
		t.Errorf("emulator handled %d requests, want 3", got)
	}

	local, _ := store.AggregateChecksum()
	want, _ := behaviour.AggregateChecksum(pair.Emulator().Behaviours())
	if local != want {
		t.Errorf("aggregate checksum %#08x after sync, want %#08x", local, want)
	}
}

func TestSynchronizeFetchFailure(t *testing.T) {
	remote := []behaviour.Entry{
		mustEntry(t, 1, sampleBehaviour(10)),
		mustEntry(t, 2, sampleBehaviour(20)),
	}
	pair := newTestPair(t, narrowCaps, EmulatorConfig{Behaviours: remote})
	defer pair.Close()

	pair.Emulator().FailNext(packet.CommandGetBehaviour, packet.ResultBusy)
	syncer, _ := behaviour.NewSynchronizer(behaviour.SyncConfig{Remote: pair.Client()})
	_, err := syncer.Synchronize(context.Background())

	var se *behaviour.SyncError
	if !errors.As(err, &se) {
		t.Fatalf("Synchronize() error = %v, want *SyncError", err)
	}
	if se.Index != 1 || len(se.Partial) != 0 {
		t.Errorf("SyncError = %+v", se)
	}
	if !errors.Is(err, behaviour.ErrTransportFailure) || !IsResult(err, packet.ResultBusy) {
		t.Errorf("error chain = %v", err)
	}
}

func TestUploadChecksumMismatch(t *testing.T) {
	pair := newTestPair(t, extendedCaps, EmulatorConfig{
		Behaviours: []behaviour.Entry{mustEntry(t, 0, sampleBehaviour(50))},
	})
	defer pair.Close()
	ctx := context.Background()

	store := behaviour.NewStore()
	index, err := pair.Client().Upload(ctx, store, sampleBehaviour(60))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Upload() error = %v, want ErrChecksumMismatch", err)
	}
	if index != 1 {
		t.Errorf("Upload() index = %d, want 1", index)
	}

	syncer, _ := behaviour.NewSynchronizer(behaviour.SyncConfig{Remote: pair.Client(), Store: store})
	if _, err := syncer.Synchronize(ctx); err != nil {
		t.Fatalf("Synchronize() error = %v", err)
	}
	if _, err := pair.Client().Upload(ctx, store, sampleBehaviour(70)); err != nil {
		t.Errorf("Upload() after sync error = %v", err)
	}
}

func TestUploadFailureKeepsPending(t *testing.T) {
	pair := newTestPair(t, extendedCaps, EmulatorConfig{})
	defer pair.Close()

	pair.Emulator().FailNext(packet.CommandSaveBehaviour, packet.ResultBusy)
	store := behaviour.NewStore()
	if _, err := pair.Client().Upload(context.Background(), store, sampleBehaviour(60)); !IsResult(err, packet.ResultBusy) {
		t.Fatalf("Upload() error = %v, want Busy", err)
	}
	entries := store.Entries()
	if len(entries) != 1 || entries[0].IsAssigned() {
		t.Errorf("store = %+v, want one pending entry", entries)
	}
}

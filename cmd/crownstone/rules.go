package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/backkem/crownstone/pkg/behaviour"
	"github.com/backkem/crownstone/pkg/control"
	"github.com/backkem/crownstone/pkg/packet"
	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// runSync synchronizes the configured local rules with an emulated
// Crownstone holding the configured remote rules.
func runSync(ctx context.Context, cfg *Config, lf logging.LoggerFactory) error {
	remote := make([]behaviour.Entry, 0, len(cfg.Sync.Remote))
	for i, r := range cfg.Sync.Remote {
		e, err := r.entry()
		if err != nil {
			return fmt.Errorf("sync.remote[%d]: %w", i, err)
		}
		remote = append(remote, e)
	}
	store := behaviour.NewStore()
	for i, r := range cfg.Sync.Local {
		e, err := r.entry()
		if err != nil {
			return fmt.Errorf("sync.local[%d]: %w", i, err)
		}
		if e.IsAssigned() {
			err = store.Set(e)
		} else {
			err = store.AddPending(e.Behaviour)
		}
		if err != nil {
			return fmt.Errorf("sync.local[%d]: %w", i, err)
		}
	}

	var caps packet.CapabilitySet
	if cfg.Sync.Extended {
		caps = packet.NewCapabilitySet(packet.CapabilityExtendedHeader, packet.CapabilityBehaviourSync)
	}
	pair, err := control.NewTestPair(control.TestPairConfig{
		Capabilities:  caps,
		Behaviours:    remote,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	defer pair.Close()

	syncer, err := behaviour.NewSynchronizer(behaviour.SyncConfig{
		Remote:        pair.Client(),
		Store:         store,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}

	entries, err := syncer.Synchronize(ctx)
	var se *behaviour.SyncError
	if errors.As(err, &se) {
		pterm.Warning.Printfln("synchronization aborted, %d entries accumulated", len(se.Partial))
		renderRules(se.Partial)
		return err
	}
	if err != nil {
		return err
	}
	if err := renderRules(entries); err != nil {
		return err
	}

	local, err := store.AggregateChecksum()
	if err != nil {
		return err
	}
	node, err := behaviour.AggregateChecksum(pair.Emulator().Behaviours())
	if err != nil {
		return err
	}
	if local != node {
		return fmt.Errorf("%w: local %08X, crownstone %08X", control.ErrChecksumMismatch, local, node)
	}
	pterm.Success.Printfln("in sync after %d requests, aggregate checksum %08X", pair.Emulator().Handled(), local)
	return nil
}

func renderRules(entries []behaviour.Entry) error {
	data := pterm.TableData{{"Index", "Type", "Intensity", "Days", "From", "Until", "Presence", "Checksum"}}
	for _, e := range entries {
		index := "pending"
		if e.IsAssigned() {
			index = fmt.Sprint(e.Index)
		}
		b := e.Behaviour
		data = append(data, []string{
			index,
			b.Type.String(),
			fmt.Sprintf("%d%%", b.Intensity),
			formatDays(b.ActiveDays),
			formatTimeOfDay(b.From),
			formatTimeOfDay(b.Until),
			b.Presence.Type.String(),
			fmt.Sprintf("%08X", e.Checksum),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatDays(d behaviour.Days) string {
	if d == behaviour.EveryDay {
		return "every day"
	}
	var out []string
	for i, name := range []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"} {
		if d&(1<<i) != 0 {
			out = append(out, name)
		}
	}
	return strings.Join(out, ",")
}

func formatTimeOfDay(t behaviour.TimeOfDay) string {
	offset := time.Duration(t.Offset) * time.Second
	switch t.Kind {
	case behaviour.TimeClock:
		return fmt.Sprintf("%02d:%02d", t.Offset/3600, t.Offset%3600/60)
	case behaviour.TimeSunrise, behaviour.TimeSunset:
		name := strings.ToLower(t.Kind.String())
		if offset == 0 {
			return name
		}
		if offset > 0 {
			return name + "+" + offset.String()
		}
		return name + offset.String()
	}
	return t.Kind.String()
}

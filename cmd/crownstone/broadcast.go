package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/backkem/crownstone/pkg/broadcast"
	"github.com/pion/logging"
	"github.com/pterm/pterm"
)

// frameRecorder is the Advertiser of the CLI: it opens every frame again
// and keeps a table row for it.
type frameRecorder struct {
	encoder *broadcast.Encoder

	mu   sync.Mutex
	rows [][]string
}

func (r *frameRecorder) Advertise(ctx context.Context, f *broadcast.Frame) error {
	h, adv, err := r.encoder.Open(f)
	if err != nil {
		return err
	}

	commands := make([]string, 0, len(adv.Commands))
	for _, k := range adv.Commands {
		commands = append(commands, k.String())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, []string{
		fmt.Sprint(len(r.rows) + 1),
		adv.Type.String(),
		strings.Join(commands, " "),
		fmt.Sprint(h.Counter),
		time.Unix(int64(h.ValidationTimestamp), 0).Format(time.TimeOnly),
		fmt.Sprintf("%04X %04X %04X %04X", f.ServiceUUIDs[0], f.ServiceUUIDs[1], f.ServiceUUIDs[2], f.ServiceUUIDs[3]),
		hex.EncodeToString(f.Data[:]),
	})
	return nil
}

func (r *frameRecorder) table() pterm.TableData {
	r.mu.Lock()
	defer r.mu.Unlock()
	data := pterm.TableData{{"#", "Type", "Commands", "Counter", "Validation", "Service UUIDs", "Body"}}
	return append(data, r.rows...)
}

// runBroadcast queues every configured command, advertises until each one
// has used up its retry budget and prints the frames.
func runBroadcast(ctx context.Context, cfg *Config, lf logging.LoggerFactory) error {
	ec, err := cfg.EncoderConfig()
	if err != nil {
		return err
	}
	encoder, err := broadcast.NewEncoder(ec)
	if err != nil {
		return err
	}
	queue := broadcast.NewQueue(broadcast.QueueConfig{
		DefaultRetries: cfg.Broadcast.Retries,
		LoggerFactory:  lf,
	})

	now := time.Now()
	completions := make([]*broadcast.Completion, 0, len(cfg.Commands))
	for i, cmd := range cfg.Commands {
		item, err := cmd.item(now)
		if err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
		c, err := queue.Add(item)
		if err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
		completions = append(completions, c)
	}
	if len(completions) == 0 {
		pterm.Warning.Println("no commands configured")
		return nil
	}

	recorder := &frameRecorder{encoder: encoder}
	b, err := broadcast.NewBroadcaster(broadcast.BroadcasterConfig{
		Queue:         queue,
		Encoder:       encoder,
		Advertiser:    recorder,
		Interval:      cfg.Interval(),
		Idle:          cfg.Broadcast.Idle,
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	pterm.Info.Printfln("advertising %d commands every %s", len(completions), cfg.Interval())
	if err := b.Start(); err != nil {
		return err
	}

	var superseded, exhausted int
	for _, c := range completions {
		err := c.Wait(ctx)
		switch {
		case errors.Is(err, broadcast.ErrRetryExhausted):
			exhausted++
		case errors.Is(err, broadcast.ErrSuperseded):
			superseded++
		case err != nil:
			b.Stop()
			return err
		}
	}
	if err := b.Stop(); err != nil {
		return err
	}

	if err := pterm.DefaultTable.WithHasHeader().WithData(recorder.table()).Render(); err != nil {
		return err
	}
	pterm.Success.Printfln("%d commands sent, %d superseded", exhausted, superseded)
	return nil
}

package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/backkem/crownstone/pkg/packet"
)

// Item is a command waiting to be broadcast.
type Item struct {
	// Type selects the advertisement the command travels in.
	Type CommandType

	// ID is the target Crownstone. Together with Type it identifies the
	// item in the queue.
	ID uint8

	// Payload is the command value: packet.SwitchValue for CommandSwitch,
	// packet.SetTime for CommandSetTime and packet.Uint32Payload for
	// CommandBehaviourSettings.
	Payload packet.Payload

	// Retries is the number of advertisements the item appears in before
	// it is dropped. Zero or negative means the queue default.
	Retries int
}

// Key returns the queue identity of the item.
func (i Item) Key() CommandKey {
	return CommandKey{Type: i.Type, ID: i.ID}
}

// CommandKey identifies a command in the queue and in an advertisement.
type CommandKey struct {
	Type CommandType
	ID   uint8
}

// String returns "Type/ID".
func (k CommandKey) String() string {
	return fmt.Sprintf("%s/%d", k.Type, k.ID)
}

// validate checks the payload kind and size for the item type.
func (i Item) validate() error {
	if !i.Type.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidCommand, uint8(i.Type))
	}
	if i.Payload == nil {
		return fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	switch p := i.Payload.(type) {
	case packet.SwitchValue:
		if i.Type != CommandSwitch || !p.IsValid() {
			return fmt.Errorf("%w: switch value %d for %s", ErrInvalidPayload, uint8(p), i.Type)
		}
	case packet.SetTime:
		if i.Type != CommandSetTime {
			return fmt.Errorf("%w: time payload for %s", ErrInvalidPayload, i.Type)
		}
	case packet.Uint32Payload:
		if i.Type != CommandBehaviourSettings {
			return fmt.Errorf("%w: settings payload for %s", ErrInvalidPayload, i.Type)
		}
	default:
		return fmt.Errorf("%w: %T for %s", ErrInvalidPayload, i.Payload, i.Type)
	}

	size := i.Payload.Size()
	if i.Type.batched() {
		size = 1 + packet.MultiSwitchEntrySize
	}
	if budget := i.Type.advertisementType().PayloadBudget(); size > budget {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, size, budget)
	}
	return nil
}

// Completion reports the outcome of a queued command. It resolves exactly
// once: with nil when the command is confirmed, ErrSuperseded when a newer
// command with the same key replaces it, or ErrRetryExhausted when its retry
// budget runs out.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the completion resolves.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the outcome, or nil while still pending.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Resolved returns true once the outcome is known.
func (c *Completion) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the completion resolves or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queuedItem is an Item plus its bookkeeping.
type queuedItem struct {
	Item
	completion *Completion
}

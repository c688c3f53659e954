// Package control implements the request/response side of a Crownstone
// control link: a Client that frames commands in the negotiated header
// dialect and waits for their results, and an Emulator that answers them
// the way Crownstone firmware does.
package control

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/crownstone/pkg/behaviour"
	"github.com/backkem/crownstone/pkg/packet"
	"github.com/pion/logging"
)

// DefaultRequestTimeout bounds a request whose context carries no deadline.
const DefaultRequestTimeout = 5 * time.Second

// ErrTimeout is returned when no final result arrives in time.
var ErrTimeout = errors.New("control: request timeout")

// Conn is an established link to one Crownstone. It moves whole packets and
// reports what the remote end supports. *transport.Link implements it.
type Conn interface {
	packet.Capabilities
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Conn carries requests and results.
	// Required.
	Conn Conn

	// Timeout for requests. Defaults to DefaultRequestTimeout if zero.
	Timeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Client sends commands over a Conn. Requests are serialized: one command
// is in flight at a time.
type Client struct {
	conn    Conn
	dialect packet.Dialect
	timeout time.Duration
	log     logging.LeveledLogger

	mu sync.Mutex
}

// NewClient creates a Client and negotiates the header dialect from the
// connection's capabilities.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Conn == nil {
		return nil, ErrNoConn
	}
	c := &Client{
		conn:    config.Conn,
		dialect: packet.NegotiateDialect(config.Conn),
		timeout: config.Timeout,
	}
	if c.timeout == 0 {
		c.timeout = DefaultRequestTimeout
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("control")
		c.log.Debugf("negotiated %s requests, %s responses",
			c.dialect.Request.Variant(), c.dialect.Response.Variant())
	}
	return c, nil
}

// Dialect returns the negotiated codecs.
func (c *Client) Dialect() packet.Dialect {
	return c.dialect
}

// Request sends one command and waits for its final result. Intermediate
// WaitForSuccess results are skipped, as are malformed packets and results
// for other command types left over from earlier requests. A non-success final result is
// returned together with a *ResultError.
func (c *Client) Request(ctx context.Context, t packet.CommandType, op packet.Opcode, payload packet.Payload) (*Result, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	p, err := c.dialect.NewRequest(t, op, payload)
	if err != nil {
		return nil, err
	}
	data, err := packet.Encode(c.dialect.Request, p)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.Send(ctx, data); err != nil {
		return nil, c.wrapConnErr(err)
	}
	if c.log != nil {
		c.log.Tracef("-> %s %s (%d bytes)", t, op, len(data))
	}

	for {
		raw, err := c.conn.Receive(ctx)
		if err != nil {
			return nil, c.wrapConnErr(err)
		}
		r, err := decodeResult(c.dialect, raw)
		if err != nil {
			if c.log != nil {
				c.log.Warnf("discarding %d byte packet while waiting for %s: %v", len(raw), t, err)
			}
			continue
		}
		if r.Type != t {
			if c.log != nil {
				c.log.Debugf("discarding %s result while waiting for %s", r.Type, t)
			}
			continue
		}
		if r.Code == packet.ResultWaitForSuccess {
			if c.log != nil {
				c.log.Tracef("<- %s in progress", t)
			}
			continue
		}
		if c.log != nil {
			c.log.Tracef("<- %s %s", t, r.Code)
		}
		if !r.Code.IsSuccess() {
			return r, &ResultError{Type: t, Code: r.Code}
		}
		return r, nil
	}
}

func (c *Client) wrapConnErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// Switch sets the switch state.
func (c *Client) Switch(ctx context.Context, v packet.SwitchValue) error {
	if !v.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidSwitch, v)
	}
	_, err := c.Request(ctx, packet.CommandSwitch, packet.OpcodeWrite, v)
	return err
}

// SetTime sets the Crownstone clock.
func (c *Client) SetTime(ctx context.Context, t time.Time) error {
	_, err := c.Request(ctx, packet.CommandSetTime, packet.OpcodeWrite, packet.SetTime(uint32(t.Unix())))
	return err
}

// SaveBehaviour stores b in a free slot. It returns the slot and the
// aggregate checksum of the Crownstone's rule set after the save.
func (c *Client) SaveBehaviour(ctx context.Context, b behaviour.Behaviour) (uint8, uint32, error) {
	r, err := c.Request(ctx, packet.CommandSaveBehaviour, packet.OpcodeWrite, b)
	if err != nil {
		return 0, 0, err
	}
	return decodeIndexChecksum(r.Payload)
}

// ReplaceBehaviour overwrites the behaviour in slot index and returns the
// new aggregate checksum.
func (c *Client) ReplaceBehaviour(ctx context.Context, index uint8, b behaviour.Behaviour) (uint32, error) {
	r, err := c.Request(ctx, packet.CommandReplaceBehaviour, packet.OpcodeWrite, packet.IndexedPayload{Index: index, Data: b})
	if err != nil {
		return 0, err
	}
	return checkIndex(r.Payload, index)
}

// RemoveBehaviour clears slot index and returns the new aggregate checksum.
func (c *Client) RemoveBehaviour(ctx context.Context, index uint8) (uint32, error) {
	r, err := c.Request(ctx, packet.CommandRemoveBehaviour, packet.OpcodeWrite, packet.IndexedPayload{Index: index})
	if err != nil {
		return 0, err
	}
	return checkIndex(r.Payload, index)
}

// GetBehaviour reads the behaviour in slot index.
func (c *Client) GetBehaviour(ctx context.Context, index uint8) (behaviour.Entry, error) {
	r, err := c.Request(ctx, packet.CommandGetBehaviour, packet.OpcodeRead, packet.IndexedPayload{Index: index})
	if err != nil {
		return behaviour.Entry{}, err
	}
	if len(r.Payload) < 1 {
		return behaviour.Entry{}, fmt.Errorf("%w: empty behaviour result", packet.ErrMalformed)
	}
	b, err := behaviour.Decode(r.Payload[1:])
	if err != nil {
		return behaviour.Entry{}, err
	}
	return behaviour.NewEntry(r.Payload[0], b)
}

// GetBehaviourIndices lists the occupied slots and their checksums.
func (c *Client) GetBehaviourIndices(ctx context.Context) (packet.BehaviourIndexList, error) {
	r, err := c.Request(ctx, packet.CommandGetBehaviourIndices, packet.OpcodeRead, nil)
	if err != nil {
		return nil, err
	}
	return packet.DecodeBehaviourIndexList(r.Payload)
}

// FetchIndices implements behaviour.Remote.
func (c *Client) FetchIndices(ctx context.Context) ([]packet.BehaviourIndexEntry, error) {
	return c.GetBehaviourIndices(ctx)
}

// FetchEntry implements behaviour.Remote.
func (c *Client) FetchEntry(ctx context.Context, index uint8) (behaviour.Entry, error) {
	return c.GetBehaviour(ctx, index)
}

// Upload saves b on the Crownstone and records it in store. The behaviour
// is queued as pending first so a failed save leaves it for the next
// synchronization. If the Crownstone's aggregate checksum disagrees with the
// store afterwards, ErrChecksumMismatch is returned and the caller should
// synchronize.
func (c *Client) Upload(ctx context.Context, store *behaviour.Store, b behaviour.Behaviour) (uint8, error) {
	if err := store.AddPending(b); err != nil {
		return 0, err
	}
	sum, err := behaviour.Checksum(b)
	if err != nil {
		return 0, err
	}
	index, master, err := c.SaveBehaviour(ctx, b)
	if err != nil {
		return 0, err
	}
	if err := store.Assign(sum, index); err != nil {
		return index, err
	}
	return index, c.verify(store, master)
}

// Delete removes slot index on the Crownstone and from store.
func (c *Client) Delete(ctx context.Context, store *behaviour.Store, index uint8) error {
	master, err := c.RemoveBehaviour(ctx, index)
	if err != nil {
		return err
	}
	if err := store.Remove(index); err != nil && !errors.Is(err, behaviour.ErrNotFound) {
		return err
	}
	return c.verify(store, master)
}

func (c *Client) verify(store *behaviour.Store, master uint32) error {
	local, err := store.AggregateChecksum()
	if err != nil {
		return err
	}
	if local != master {
		if c.log != nil {
			c.log.Warnf("aggregate checksum %#08x, crownstone reports %#08x", local, master)
		}
		return fmt.Errorf("%w: local %#08x, remote %#08x", ErrChecksumMismatch, local, master)
	}
	return nil
}

// indexChecksumSize is index(1) + aggregate checksum(4).
const indexChecksumSize = 5

func decodeIndexChecksum(data []byte) (uint8, uint32, error) {
	if len(data) != indexChecksumSize {
		return 0, 0, fmt.Errorf("%w: index result is %d bytes", packet.ErrMalformed, len(data))
	}
	return data[0], binary.LittleEndian.Uint32(data[1:]), nil
}

func checkIndex(data []byte, index uint8) (uint32, error) {
	got, master, err := decodeIndexChecksum(data)
	if err != nil {
		return 0, err
	}
	if got != index {
		return 0, fmt.Errorf("%w: result for slot %d, want %d", ErrUnexpectedResponse, got, index)
	}
	return master, nil
}

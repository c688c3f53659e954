package control

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/backkem/crownstone/pkg/behaviour"
	"github.com/backkem/crownstone/pkg/packet"
	"github.com/pion/logging"
)

// MaxBehaviours is the number of behaviour slots an emulated Crownstone has.
const MaxBehaviours = 50

// EmulatorConfig configures an Emulator.
type EmulatorConfig struct {
	// Conn is the Crownstone end of the link.
	// Required.
	Conn Conn

	// Behaviours is the initial rule set. Entries must be assigned.
	Behaviours []behaviour.Entry

	// WaitForSuccess makes the emulator answer behaviour writes with an
	// intermediate WaitForSuccess result before the final one.
	WaitForSuccess bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Emulator answers control requests the way Crownstone firmware does. It
// keeps a switch state, a clock and a behaviour table, and can be told to
// fail or drop the next request of a given type.
type Emulator struct {
	conn           Conn
	dialect        packet.Dialect
	waitForSuccess bool
	log            logging.LeveledLogger

	mu          sync.Mutex
	rules       map[uint8]behaviour.Entry
	switchState packet.SwitchValue
	clock       uint32
	fail        map[packet.CommandType]packet.ResultCode
	drop        map[packet.CommandType]int
	handled     int
}

// NewEmulator creates an Emulator.
func NewEmulator(config EmulatorConfig) (*Emulator, error) {
	if config.Conn == nil {
		return nil, ErrNoConn
	}
	e := &Emulator{
		conn:           config.Conn,
		dialect:        packet.NegotiateDialect(config.Conn),
		waitForSuccess: config.WaitForSuccess,
		rules:          make(map[uint8]behaviour.Entry),
		fail:           make(map[packet.CommandType]packet.ResultCode),
		drop:           make(map[packet.CommandType]int),
	}
	for _, entry := range config.Behaviours {
		if !entry.IsAssigned() || entry.Index >= MaxBehaviours {
			return nil, behaviour.ErrUnassignedIndex
		}
		e.rules[entry.Index] = entry
	}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("control-emulator")
	}
	return e, nil
}

// Serve answers requests until ctx is done or the connection fails.
func (e *Emulator) Serve(ctx context.Context) error {
	for {
		data, err := e.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := e.handle(ctx, data); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// FailNext makes the next request of type t fail with code, leaving state
// untouched.
func (e *Emulator) FailNext(t packet.CommandType, code packet.ResultCode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[t] = code
}

// DropNext makes the emulator ignore the next request of type t.
func (e *Emulator) DropNext(t packet.CommandType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drop[t]++
}

// SwitchState returns the last switch value written.
func (e *Emulator) SwitchState() packet.SwitchValue {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.switchState
}

// Time returns the last time written.
func (e *Emulator) Time() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Unix(int64(e.clock), 0)
}

// Behaviours returns the stored rules by index.
func (e *Emulator) Behaviours() []behaviour.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entriesLocked()
}

// Handled returns the number of requests answered.
func (e *Emulator) Handled() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handled
}

func (e *Emulator) entriesLocked() []behaviour.Entry {
	out := make([]behaviour.Entry, 0, len(e.rules))
	for _, entry := range e.rules {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func (e *Emulator) handle(ctx context.Context, data []byte) error {
	p, err := decodeRequest(e.dialect, data)
	if err != nil {
		if e.log != nil {
			e.log.Warnf("dropping malformed request: %v", err)
		}
		return nil
	}
	if !p.Type.IsValid() {
		if e.log != nil {
			e.log.Warnf("dropping request of unknown type")
		}
		return nil
	}

	e.mu.Lock()
	if e.drop[p.Type] > 0 {
		e.drop[p.Type]--
		e.mu.Unlock()
		if e.log != nil {
			e.log.Debugf("dropping %s request", p.Type)
		}
		return nil
	}
	code, failing := e.fail[p.Type]
	delete(e.fail, p.Type)
	var payload []byte
	if !failing {
		code, payload = e.executeLocked(p)
	}
	e.handled++
	e.mu.Unlock()

	if e.log != nil {
		e.log.Tracef("%s -> %s", p.Type, code)
	}

	if e.waitForSuccess && isBehaviourWrite(p.Type) {
		if err := e.reply(ctx, p.Type, packet.ResultWaitForSuccess, nil); err != nil {
			return err
		}
	}
	return e.reply(ctx, p.Type, code, payload)
}

func (e *Emulator) reply(ctx context.Context, t packet.CommandType, code packet.ResultCode, payload []byte) error {
	out, err := encodeResult(e.dialect, t, code, payload)
	if err != nil {
		return err
	}
	return e.conn.Send(ctx, out)
}

func isBehaviourWrite(t packet.CommandType) bool {
	switch t {
	case packet.CommandSaveBehaviour, packet.CommandReplaceBehaviour, packet.CommandRemoveBehaviour:
		return true
	}
	return false
}

func (e *Emulator) executeLocked(p *packet.Packet) (packet.ResultCode, []byte) {
	switch p.Type {
	case packet.CommandSwitch:
		v, err := packet.DecodeSwitchValue(p.Payload)
		if err != nil {
			return packet.ResultWrongPayloadLength, nil
		}
		if !v.IsValid() {
			return packet.ResultWrongParameter, nil
		}
		if v == e.switchState {
			return packet.ResultSuccessNoChange, nil
		}
		e.switchState = v

	case packet.CommandSetTime:
		t, err := packet.DecodeSetTime(p.Payload)
		if err != nil {
			return packet.ResultWrongPayloadLength, nil
		}
		e.clock = uint32(t)

	case packet.CommandSaveBehaviour:
		b, code := decodeBehaviour(p.Payload)
		if code != packet.ResultSuccess {
			return code, nil
		}
		index, ok := e.freeSlotLocked()
		if !ok {
			return packet.ResultNoSpace, nil
		}
		return e.storeLocked(index, b)

	case packet.CommandReplaceBehaviour:
		if len(p.Payload) < 1 {
			return packet.ResultWrongPayloadLength, nil
		}
		index := p.Payload[0]
		if index >= MaxBehaviours {
			return packet.ResultWrongParameter, nil
		}
		b, code := decodeBehaviour(p.Payload[1:])
		if code != packet.ResultSuccess {
			return code, nil
		}
		return e.storeLocked(index, b)

	case packet.CommandRemoveBehaviour:
		if len(p.Payload) != 1 {
			return packet.ResultWrongPayloadLength, nil
		}
		index := p.Payload[0]
		code := packet.ResultSuccess
		if _, ok := e.rules[index]; !ok {
			code = packet.ResultSuccessNoChange
		}
		delete(e.rules, index)
		return code, e.indexChecksumLocked(index)

	case packet.CommandGetBehaviour:
		if len(p.Payload) != 1 {
			return packet.ResultWrongPayloadLength, nil
		}
		entry, ok := e.rules[p.Payload[0]]
		if !ok {
			return packet.ResultNotFound, nil
		}
		data, err := packet.Marshal(packet.IndexedPayload{Index: entry.Index, Data: entry.Behaviour})
		if err != nil {
			return packet.ResultUnspecified, nil
		}
		return packet.ResultSuccess, data

	case packet.CommandGetBehaviourIndices:
		entries := e.entriesLocked()
		list := make(packet.BehaviourIndexList, 0, len(entries))
		for _, entry := range entries {
			list = append(list, packet.BehaviourIndexEntry{Index: entry.Index, Checksum: entry.Checksum})
		}
		data, err := packet.Marshal(list)
		if err != nil {
			return packet.ResultUnspecified, nil
		}
		return packet.ResultSuccess, data

	default:
		return packet.ResultUnknownType, nil
	}
	return packet.ResultSuccess, nil
}

func decodeBehaviour(data []byte) (behaviour.Behaviour, packet.ResultCode) {
	b, err := behaviour.Decode(data)
	if err != nil {
		return b, packet.ResultWrongPayloadLength
	}
	if err := b.Validate(); err != nil {
		return b, packet.ResultWrongParameter
	}
	return b, packet.ResultSuccess
}

func (e *Emulator) freeSlotLocked() (uint8, bool) {
	for i := uint8(0); i < MaxBehaviours; i++ {
		if _, ok := e.rules[i]; !ok {
			return i, true
		}
	}
	return 0, false
}

func (e *Emulator) storeLocked(index uint8, b behaviour.Behaviour) (packet.ResultCode, []byte) {
	entry, err := behaviour.NewEntry(index, b)
	if err != nil {
		return packet.ResultUnspecified, nil
	}
	e.rules[index] = entry
	return packet.ResultSuccess, e.indexChecksumLocked(index)
}

// indexChecksumLocked builds the index(1) + aggregate checksum(4) answer
// to a behaviour write.
func (e *Emulator) indexChecksumLocked(index uint8) []byte {
	master, _ := behaviour.AggregateChecksum(e.entriesLocked())
	buf := make([]byte, indexChecksumSize)
	buf[0] = index
	binary.LittleEndian.PutUint32(buf[1:], master)
	return buf
}

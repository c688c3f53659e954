package control

import (
	"context"
	"sync"
	"time"

	"github.com/backkem/crownstone/pkg/behaviour"
	"github.com/backkem/crownstone/pkg/packet"
	"github.com/backkem/crownstone/pkg/transport"
	"github.com/pion/logging"
)

// TestPairConfig configures a TestPair.
type TestPairConfig struct {
	// Capabilities is what both link ends report. The zero set selects the
	// narrow dialect.
	Capabilities packet.CapabilitySet

	// Behaviours is the emulated Crownstone's initial rule set.
	Behaviours []behaviour.Entry

	// WaitForSuccess is passed to the emulator.
	WaitForSuccess bool

	// Condition is applied to packets in both directions.
	Condition transport.Condition

	// Timeout for client requests. Defaults to DefaultRequestTimeout if zero.
	Timeout time.Duration

	// LoggerFactory is shared by every component of the pair.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// TestPair is a Client talking to a serving Emulator over an in-memory pipe.
//
//	Client ──▶ Link ◀──── Pipe ────▶ Link ◀── Emulator.Serve
type TestPair struct {
	client   *Client
	emulator *Emulator
	pipe     *transport.Pipe

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTestPair creates the pair and starts serving.
func NewTestPair(config TestPairConfig) (*TestPair, error) {
	a, b, pipe := transport.NewPipeLinks(config.Capabilities, config.LoggerFactory)
	a.SetCondition(config.Condition)
	b.SetCondition(config.Condition)

	client, err := NewClient(ClientConfig{
		Conn:          a,
		Timeout:       config.Timeout,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		pipe.Close()
		return nil, err
	}
	emulator, err := NewEmulator(EmulatorConfig{
		Conn:           b,
		Behaviours:     config.Behaviours,
		WaitForSuccess: config.WaitForSuccess,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		pipe.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &TestPair{client: client, emulator: emulator, pipe: pipe, cancel: cancel}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		emulator.Serve(ctx)
	}()
	return p, nil
}

// Client returns the controlling end.
func (p *TestPair) Client() *Client {
	return p.client
}

// Emulator returns the emulated Crownstone.
func (p *TestPair) Emulator() *Emulator {
	return p.emulator
}

// Close stops the emulator and releases the pipe.
func (p *TestPair) Close() {
	p.cancel()
	p.wg.Wait()
	p.pipe.Close()
}

package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/backkem/crownstone/pkg/packet"
	"github.com/pion/logging"
)

// DefaultMTU is the largest packet a Link accepts unless configured.
const DefaultMTU = 512

// LinkConfig configures a Link.
type LinkConfig struct {
	// Conn carries the packets. It must preserve message boundaries.
	// Required.
	Conn net.Conn

	// Capabilities is what service discovery found on the remote end.
	Capabilities packet.CapabilitySet

	// MTU bounds the size of a single packet.
	// Default: DefaultMTU
	MTU int

	// Condition is applied to every packet sent. The zero value is a
	// perfect link.
	Condition Condition

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Link is an established control connection to one Crownstone. Send and
// Receive each move one whole packet and honor ctx cancellation and
// deadline. A Link does not multiplex; callers serialize requests.
type Link struct {
	conn net.Conn
	caps packet.CapabilitySet
	mtu  int
	air  *radio
	log  logging.LeveledLogger

	mu     sync.RWMutex
	closed bool
}

// NewLink wraps an established connection.
func NewLink(config LinkConfig) (*Link, error) {
	if config.Conn == nil {
		return nil, ErrNoConn
	}
	l := &Link{
		conn: config.Conn,
		caps: config.Capabilities,
		mtu:  config.MTU,
		air:  newRadio(config.Condition),
	}
	if l.mtu <= 0 {
		l.mtu = DefaultMTU
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("transport-link")
	}
	return l, nil
}

// Supports reports whether the remote end exposes capability c.
func (l *Link) Supports(c packet.Capability) bool {
	return l.caps.Supports(c)
}

// Capabilities returns the remote capability set.
func (l *Link) Capabilities() packet.Capabilities {
	return l.caps
}

// SetCondition replaces the simulated radio condition for later sends.
func (l *Link) SetCondition(c Condition) {
	l.air.set(c)
}

// MTU returns the largest packet the link accepts.
func (l *Link) MTU() int {
	return l.mtu
}

// Send writes one packet. A packet lost by the link condition is reported
// as sent.
func (l *Link) Send(ctx context.Context, data []byte) error {
	if err := l.checkOpen(); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmptyPacket
	}
	if len(data) > l.mtu {
		return ErrPacketTooLarge
	}

	f := l.air.next()
	if f.lost {
		if l.log != nil {
			l.log.Tracef("lost %d bytes", len(data))
		}
		return nil
	}
	if f.delay > 0 {
		t := time.NewTimer(f.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	err := withContext(ctx, l.conn.SetWriteDeadline, func() error {
		for i := 0; i < f.copies; i++ {
			if _, err := l.conn.Write(data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if l.log != nil {
			l.log.Warnf("send failed: %v", err)
		}
		return err
	}
	if l.log != nil {
		l.log.Tracef("sent %d bytes", len(data))
	}
	return nil
}

// Receive reads one packet.
func (l *Link) Receive(ctx context.Context) ([]byte, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}

	buf := make([]byte, l.mtu)
	var n int
	err := withContext(ctx, l.conn.SetReadDeadline, func() error {
		var err error
		n, err = l.conn.Read(buf)
		return err
	})
	if err != nil {
		if l.isClosed() {
			return nil, ErrClosed
		}
		return nil, err
	}
	if l.log != nil {
		l.log.Tracef("received %d bytes", n)
	}
	return buf[:n], nil
}

// Close closes the underlying connection. Blocked calls return ErrClosed.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mu.Unlock()

	if l.log != nil {
		l.log.Debug("closing link")
	}
	return l.conn.Close()
}

func (l *Link) checkOpen() error {
	if l.isClosed() {
		return ErrClosed
	}
	return nil
}

func (l *Link) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

// withContext runs op with the connection deadline taken from ctx. If ctx
// is cancelled while op blocks, the deadline is moved to now to unblock it
// and ctx.Err() is returned.
func withContext(ctx context.Context, setDeadline func(time.Time) error, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := setDeadline(deadline); err != nil {
		return err
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		setDeadline(time.Now())
		close(fired)
	})
	err := op()
	if !stop() {
		// The deadline must be in place before the next call resets it.
		<-fired
	}

	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// NewPipeLinks returns two Links joined by a Pipe. Both ends report caps.
// Closing the Pipe closes both links' connections.
func NewPipeLinks(caps packet.CapabilitySet, lf logging.LoggerFactory) (*Link, *Link, *Pipe) {
	p := NewPipe()
	c0, c1 := p.Ends()
	l0, _ := NewLink(LinkConfig{Conn: c0, Capabilities: caps, LoggerFactory: lf})
	l1, _ := NewLink(LinkConfig{Conn: c1, Capabilities: caps, LoggerFactory: lf})
	return l0, l1, p
}

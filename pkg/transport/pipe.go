// Package transport carries whole control packets between a client and a
// Crownstone. Link frames packets over any message-preserving net.Conn and
// can simulate a lossy radio; Pipe is an in-memory pair of such
// connections for tests and demos.
package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// pipeTick is how often queued packets are moved across the bridge.
const pipeTick = time.Millisecond

// Pipe joins two in-memory connections. Every Write on one end arrives as
// exactly one Read on the other, in order.
type Pipe struct {
	bridge *test.Bridge

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewPipe returns a running pipe. Close it to release the delivery goroutine.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge: test.NewBridge(),
		done:   make(chan struct{}),
	}
	p.wg.Add(1)
	go p.deliver()
	return p
}

func (p *Pipe) deliver() {
	defer p.wg.Done()
	t := time.NewTicker(pipeTick)
	defer t.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-t.C:
			for p.bridge.Tick() > 0 {
			}
		}
	}
}

// Ends returns both connections of the pipe.
func (p *Pipe) Ends() (net.Conn, net.Conn) {
	return p.bridge.GetConn0(), p.bridge.GetConn1()
}

// Close stops delivery and closes both ends. Blocked readers return an
// error. Closing twice is a no-op.
func (p *Pipe) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()

		c0, c1 := p.Ends()
		err = c0.Close()
		if err1 := c1.Close(); err == nil {
			err = err1
		}
		// Readers blocked in the bridge are woken by the next tick.
		p.bridge.Tick()
	})
	return err
}

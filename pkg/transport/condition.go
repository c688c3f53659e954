package transport

import (
	"math/rand"
	"sync"
	"time"
)

// Condition models an unreliable radio link. It is applied per packet by
// Link.Send, so a packet is lost, delayed or repeated as a whole.
type Condition struct {
	// Loss is the probability that a packet never arrives (0.0 - 1.0).
	Loss float64

	// Repeat is the probability that a packet arrives twice (0.0 - 1.0).
	Repeat float64

	// Latency delays every packet before it is written.
	Latency time.Duration

	// Jitter adds up to this much extra latency, uniformly distributed.
	Jitter time.Duration
}

// fate is what a Condition decided for one packet.
type fate struct {
	lost   bool
	copies int
	delay  time.Duration
}

// radio draws packet fates. rand.Rand is not safe for concurrent use.
type radio struct {
	mu   sync.Mutex
	cond Condition
	rng  *rand.Rand
}

func newRadio(cond Condition) *radio {
	return &radio{
		cond: cond,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *radio) set(cond Condition) {
	r.mu.Lock()
	r.cond = cond
	r.mu.Unlock()
}

func (r *radio) next() fate {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.cond
	f := fate{copies: 1, delay: c.Latency}
	if c.Loss > 0 && r.rng.Float64() < c.Loss {
		f.lost = true
		return f
	}
	if c.Repeat > 0 && r.rng.Float64() < c.Repeat {
		f.copies = 2
	}
	if c.Jitter > 0 {
		f.delay += time.Duration(r.rng.Int63n(int64(c.Jitter)))
	}
	return f
}

package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
)

// DefaultInterval is the time between two advertisements.
const DefaultInterval = 250 * time.Millisecond

// Advertiser puts a frame on the air. Radio scheduling is its concern; it
// is called at most once per interval and never concurrently.
type Advertiser interface {
	Advertise(ctx context.Context, f *Frame) error
}

// AdvertiserFunc adapts a function to Advertiser.
type AdvertiserFunc func(ctx context.Context, f *Frame) error

// Advertise calls fn(ctx, f).
func (fn AdvertiserFunc) Advertise(ctx context.Context, f *Frame) error {
	return fn(ctx, f)
}

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	// Queue supplies advertisements. Required.
	Queue *Queue

	// Encoder seals advertisements. Required.
	Encoder *Encoder

	// Advertiser transmits frames. Required.
	Advertiser Advertiser

	// Interval between advertisements.
	// Default: DefaultInterval
	Interval time.Duration

	// Idle enables NoOp advertisements while the queue is empty.
	Idle bool

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Broadcaster drains a Queue on a fixed interval.
type Broadcaster struct {
	queue      *Queue
	encoder    *Encoder
	advertiser Advertiser
	interval   time.Duration
	idle       bool
	log        logging.LeveledLogger

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBroadcaster creates a Broadcaster. Call Start to begin advertising.
func NewBroadcaster(config BroadcasterConfig) (*Broadcaster, error) {
	switch {
	case config.Queue == nil:
		return nil, ErrNoQueue
	case config.Encoder == nil:
		return nil, ErrNoEncoder
	case config.Advertiser == nil:
		return nil, ErrNoAdvertiser
	}

	b := &Broadcaster{
		queue:      config.Queue,
		encoder:    config.Encoder,
		advertiser: config.Advertiser,
		interval:   config.Interval,
		idle:       config.Idle,
	}
	if b.interval <= 0 {
		b.interval = DefaultInterval
	}
	if config.LoggerFactory != nil {
		b.log = config.LoggerFactory.NewLogger("broadcast")
	}
	return b, nil
}

// Step produces, seals and transmits one advertisement. It returns nil
// without error when there was nothing to send.
func (b *Broadcaster) Step(ctx context.Context) (*Advertisement, error) {
	adv := b.queue.NextAdvertisement()
	if adv == nil {
		if !b.idle {
			return nil, nil
		}
		adv = NoOpAdvertisement(b.queue.now())
	}

	f, err := b.encoder.Encode(adv)
	if err != nil {
		return nil, err
	}
	if err := b.advertiser.Advertise(ctx, f); err != nil {
		return nil, err
	}
	return adv, nil
}

// Start begins advertising in a background goroutine.
func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return ErrStopped
	}
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	if b.log != nil {
		b.log.Infof("starting broadcaster, interval %v", b.interval)
	}

	b.wg.Add(1)
	go b.loop(ctx)
	return nil
}

// Stop ends advertising and waits for the loop to exit. Queued commands stay
// in the queue.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return ErrStopped
	}
	b.stopped = true
	cancel := b.cancel
	b.mu.Unlock()

	if b.log != nil {
		b.log.Info("stopping broadcaster")
	}
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	return nil
}

func (b *Broadcaster) loop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		adv, err := b.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if b.log != nil {
				b.log.Warnf("advertise failed: %v", err)
			}
			continue
		}
		if adv != nil && b.log != nil {
			b.log.Tracef("advertised %s %v", adv.Type, adv.Commands)
		}
	}
}

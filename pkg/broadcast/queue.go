package broadcast

import (
	"sync"
	"time"

	"github.com/backkem/crownstone/pkg/packet"
	"github.com/pion/logging"
)

// DefaultRetries is the retry budget for items that do not set one.
const DefaultRetries = 3

// QueueConfig configures a Queue.
type QueueConfig struct {
	// DefaultRetries is used for items whose Retries is not positive.
	// Default: DefaultRetries
	DefaultRetries int

	// Clock provides the validation timestamp of advertisements.
	// Default: time.Now
	Clock func() time.Time

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Queue holds pending broadcast commands, newest first.
//
// Add and NextAdvertisement are the only mutating operations that matter for
// packing; both, together with Confirm, run under one mutex so callers
// never observe a half-updated queue.
type Queue struct {
	mu    sync.Mutex
	items []*queuedItem

	retries int
	clock   func() time.Time
	log     logging.LeveledLogger
}

// NewQueue creates an empty queue.
func NewQueue(config QueueConfig) *Queue {
	q := &Queue{
		retries: config.DefaultRetries,
		clock:   config.Clock,
	}
	if q.retries <= 0 {
		q.retries = DefaultRetries
	}
	if q.clock == nil {
		q.clock = time.Now
	}
	if config.LoggerFactory != nil {
		q.log = config.LoggerFactory.NewLogger("broadcast")
	}
	return q
}

// Add queues a command at the head. An item with the same type and ID is
// removed first and its completion resolves with ErrSuperseded.
func (q *Queue) Add(item Item) (*Completion, error) {
	if err := item.validate(); err != nil {
		return nil, err
	}
	if item.Retries <= 0 {
		item.Retries = q.retries
	}
	qi := &queuedItem{Item: item, completion: newCompletion()}

	q.mu.Lock()
	old := q.removeLocked(item.Key())
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = qi
	q.mu.Unlock()

	if old != nil {
		old.completion.resolve(ErrSuperseded)
		if q.log != nil {
			q.log.Debugf("%s superseded", item.Key())
		}
	}
	return qi.completion, nil
}

// Confirm resolves a queued command successfully and removes it. It returns
// false if no such command is queued.
func (q *Queue) Confirm(t CommandType, id uint8) bool {
	q.mu.Lock()
	qi := q.removeLocked(CommandKey{Type: t, ID: id})
	q.mu.Unlock()

	if qi == nil {
		return false
	}
	qi.completion.resolve(nil)
	return true
}

// NextAdvertisement builds the next advertisement, or returns nil when the
// queue is empty.
//
// The head item fixes the advertisement type. Switch commands are packed
// into one multi-switch list: following switch items are drawn in queue
// order until the list is full. Other types carry a single item. Every drawn
// item moves to the tail with one retry less; items that reach zero are
// dropped and their completion resolves with ErrRetryExhausted.
func (q *Queue) NextAdvertisement() *Advertisement {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}

	head := q.items[0]
	adv := &Advertisement{
		ValidationTimestamp: uint32(q.clock().Unix()),
		Type:                head.Type.advertisementType(),
	}
	drawn := []*queuedItem{head}
	rest := make([]*queuedItem, 0, len(q.items))

	if head.Type.batched() {
		list := packet.NewMultiSwitchList(adv.Type.PayloadBudget())
		list.Add(switchEntry(head))
		for _, qi := range q.items[1:] {
			if qi.Type == head.Type && !list.Full() {
				list.Add(switchEntry(qi))
				drawn = append(drawn, qi)
				continue
			}
			rest = append(rest, qi)
		}
		adv.Payload = list
	} else {
		rest = append(rest, q.items[1:]...)
		adv.Payload = head.Payload
	}

	var exhausted []*queuedItem
	for _, qi := range drawn {
		adv.Commands = append(adv.Commands, qi.Key())
		qi.Retries--
		if qi.Retries <= 0 {
			exhausted = append(exhausted, qi)
			continue
		}
		rest = append(rest, qi)
	}
	q.items = rest
	q.mu.Unlock()

	for _, qi := range exhausted {
		qi.completion.resolve(ErrRetryExhausted)
	}
	if q.log != nil {
		q.log.Debugf("advertisement %s with %d commands, %d exhausted", adv.Type, len(drawn), len(exhausted))
	}
	return adv
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a snapshot of the queued commands in draw order, with
// their remaining retry budget.
func (q *Queue) Pending() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, qi := range q.items {
		out[i] = qi.Item
	}
	return out
}

// now returns the queue clock.
func (q *Queue) now() time.Time {
	return q.clock()
}

func (q *Queue) removeLocked(key CommandKey) *queuedItem {
	for i, qi := range q.items {
		if qi.Key() == key {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return qi
		}
	}
	return nil
}

func switchEntry(qi *queuedItem) packet.MultiSwitchEntry {
	return packet.MultiSwitchEntry{ID: qi.ID, Value: qi.Payload.(packet.SwitchValue)}
}

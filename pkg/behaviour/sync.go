package behaviour

import (
	"context"
	"fmt"

	"github.com/backkem/crownstone/pkg/packet"
	"github.com/pion/logging"
)

// Remote is the Crownstone side of a synchronization. Implementations talk
// over a single connection and are called with at most one request in flight.
type Remote interface {
	// FetchIndices returns the slot and checksum of every stored behaviour.
	FetchIndices(ctx context.Context) ([]packet.BehaviourIndexEntry, error)

	// FetchEntry returns the behaviour stored in one slot.
	FetchEntry(ctx context.Context, index uint8) (Entry, error)
}

// SyncConfig configures a Synchronizer.
type SyncConfig struct {
	// Remote answers index and entry requests. Required.
	Remote Remote

	// Store is the local rule set. On success it is replaced by the
	// synchronized set. If nil, a new empty store is used.
	Store *Store

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Synchronizer reconciles a local Store with a Crownstone's rule set.
//
// A run fetches the remote's {index, checksum} list, keeps every local entry
// whose checksum matches, keeps every local entry that has no slot yet, and
// fetches the remaining slots one at a time. There is no cancellation between
// steps; ctx only bounds the individual remote calls.
type Synchronizer struct {
	remote Remote
	store  *Store
	log    logging.LeveledLogger
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(config SyncConfig) (*Synchronizer, error) {
	if config.Remote == nil {
		return nil, ErrNoRemote
	}
	s := &Synchronizer{
		remote: config.Remote,
		store:  config.Store,
	}
	if s.store == nil {
		s.store = NewStore()
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("behaviour-sync")
	}
	return s, nil
}

// Store returns the local rule set.
func (s *Synchronizer) Store() *Store {
	return s.store
}

// SyncResult is delivered by SynchronizeAsync.
type SyncResult struct {
	Entries []Entry
	Err     error
}

// Synchronize runs one reconciliation and returns the combined rule set:
// assigned entries by index, then unassigned entries. On failure the error
// is a *SyncError carrying the partial accumulation and the store is left
// untouched.
func (s *Synchronizer) Synchronize(ctx context.Context) ([]Entry, error) {
	run := newSyncRun(s.store.Entries())
	for !run.finished() {
		run.step(ctx, s.remote, s.log)
	}
	if run.err != nil {
		if s.log != nil {
			s.log.Warnf("sync failed: %v", run.err)
		}
		return nil, run.err
	}

	s.store.Replace(run.result)
	if s.log != nil {
		s.log.Infof("sync complete: %d entries, %d fetched", len(run.result), run.fetched)
	}
	return run.result, nil
}

// SynchronizeAsync runs Synchronize in a goroutine and delivers the result
// on the returned channel, which is closed afterwards.
func (s *Synchronizer) SynchronizeAsync(ctx context.Context) <-chan SyncResult {
	ch := make(chan SyncResult, 1)
	go func() {
		defer close(ch)
		entries, err := s.Synchronize(ctx)
		ch <- SyncResult{Entries: entries, Err: err}
	}()
	return ch
}

type syncState int

const (
	stateFetchIndices syncState = iota
	stateCompare
	stateFetchEntries
	stateDone
	stateFailed
)

// syncRun is the explicit state of one synchronization.
type syncRun struct {
	state syncState

	local   map[uint8]Entry
	pending []Entry

	remote  []packet.BehaviourIndexEntry
	toFetch []uint8
	result  []Entry
	fetched int

	err error
}

func newSyncRun(local []Entry) *syncRun {
	r := &syncRun{
		state: stateFetchIndices,
		local: make(map[uint8]Entry, len(local)),
	}
	for _, e := range local {
		if e.IsAssigned() {
			r.local[e.Index] = e
		} else {
			r.pending = append(r.pending, e)
		}
	}
	return r
}

func (r *syncRun) finished() bool {
	return r.state == stateDone || r.state == stateFailed
}

func (r *syncRun) step(ctx context.Context, remote Remote, log logging.LeveledLogger) {
	switch r.state {
	case stateFetchIndices:
		indices, err := remote.FetchIndices(ctx)
		if err != nil {
			r.fail(opFetchIndices, Unassigned, err)
			return
		}
		r.remote = indices
		r.state = stateCompare

	case stateCompare:
		seen := make(map[uint8]bool, len(r.remote))
		for _, ie := range r.remote {
			if seen[ie.Index] {
				continue
			}
			seen[ie.Index] = true
			if e, ok := r.local[ie.Index]; ok && upToDate(e, ie.Checksum) {
				r.result = append(r.result, e)
				continue
			}
			r.toFetch = append(r.toFetch, ie.Index)
		}
		r.result = append(r.result, r.pending...)
		if log != nil {
			log.Debugf("sync: %d remote slots, %d up to date, %d to fetch, %d pending",
				len(seen), len(seen)-len(r.toFetch), len(r.toFetch), len(r.pending))
		}
		r.state = stateFetchEntries

	case stateFetchEntries:
		if len(r.toFetch) == 0 {
			sortEntries(r.result)
			r.state = stateDone
			return
		}
		index := r.toFetch[0]
		e, err := remote.FetchEntry(ctx, index)
		if err != nil {
			r.fail(opFetchEntry, index, err)
			return
		}
		if e.Index != index {
			r.fail(opFetchEntry, index, fmt.Errorf("%w: got %d", ErrIndexMismatch, e.Index))
			return
		}
		r.toFetch = r.toFetch[1:]
		r.result = append(r.result, e)
		r.fetched++
	}
}

// upToDate reports whether the local behaviour itself hashes to the remote
// checksum. The cached Entry.Checksum is not trusted.
func upToDate(e Entry, remote uint32) bool {
	sum, err := Checksum(e.Behaviour)
	return err == nil && sum == remote
}

func (r *syncRun) fail(op string, index uint8, err error) {
	partial := make([]Entry, len(r.result))
	copy(partial, r.result)
	r.err = &SyncError{Op: op, Index: index, Partial: partial, Err: err}
	r.state = stateFailed
}

package behaviour

import (
	"errors"
	"fmt"
)

// Behaviour errors.
var (
	// ErrInvalidBehaviour indicates a behaviour with out-of-range fields.
	ErrInvalidBehaviour = errors.New("behaviour: invalid behaviour")

	// ErrTransportFailure wraps any failure of the remote during synchronization.
	ErrTransportFailure = errors.New("behaviour: transport failure")

	// ErrIndexMismatch indicates the remote answered for a different slot.
	ErrIndexMismatch = errors.New("behaviour: fetched index does not match request")

	// ErrNoRemote is returned by NewSynchronizer without a Remote.
	ErrNoRemote = errors.New("behaviour: remote required")

	// ErrNotFound is returned by Store lookups for empty slots.
	ErrNotFound = errors.New("behaviour: not found")

	// ErrUnassignedIndex is returned when an assigned slot is required.
	ErrUnassignedIndex = errors.New("behaviour: index unassigned")
)

// SyncError reports a synchronization aborted by the remote. Partial holds
// every entry accumulated before the failure.
type SyncError struct {
	// Op is the step that failed: "fetch indices" or "fetch entry".
	Op string

	// Index is the slot being fetched, or Unassigned for "fetch indices".
	Index uint8

	// Partial is the accumulated rule set at the time of the failure.
	Partial []Entry

	// Err is the underlying failure.
	Err error
}

func (e *SyncError) Error() string {
	if e.Op == opFetchEntry {
		return fmt.Sprintf("behaviour: sync %s %d: %v", e.Op, e.Index, e.Err)
	}
	return fmt.Sprintf("behaviour: sync %s: %v", e.Op, e.Err)
}

// Unwrap exposes both ErrTransportFailure and the cause to errors.Is.
func (e *SyncError) Unwrap() []error {
	return []error{ErrTransportFailure, e.Err}
}

const (
	opFetchIndices = "fetch indices"
	opFetchEntry   = "fetch entry"
)

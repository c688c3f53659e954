package broadcast

import "errors"

// Queue errors. ErrRetryExhausted and ErrSuperseded are only delivered
// through a Completion, never returned by the queue itself.
var (
	ErrRetryExhausted  = errors.New("broadcast: retry budget exhausted")
	ErrSuperseded      = errors.New("broadcast: superseded by a newer command")
	ErrInvalidCommand  = errors.New("broadcast: invalid command type")
	ErrInvalidPayload  = errors.New("broadcast: payload does not match command type")
	ErrPayloadTooLarge = errors.New("broadcast: payload exceeds advertisement budget")
)

// Encoder errors.
var (
	ErrInvalidKey      = errors.New("broadcast: broadcast key must be 16 bytes")
	ErrInvalidField    = errors.New("broadcast: header field out of range")
	ErrBadSequence     = errors.New("broadcast: service uuid sequence mismatch")
	ErrMalformedBody   = errors.New("broadcast: malformed advertisement body")
	ErrUnknownProtocol = errors.New("broadcast: unknown header protocol")
)

// Broadcaster errors.
var (
	ErrNoQueue        = errors.New("broadcast: queue is required")
	ErrNoEncoder      = errors.New("broadcast: encoder is required")
	ErrNoAdvertiser   = errors.New("broadcast: advertiser is required")
	ErrAlreadyStarted = errors.New("broadcast: already started")
	ErrStopped        = errors.New("broadcast: broadcaster stopped")
)

package control

import (
	"errors"
	"fmt"

	"github.com/backkem/crownstone/pkg/packet"
)

// Client errors.
var (
	ErrNoConn             = errors.New("control: connection is required")
	ErrUnexpectedResponse = errors.New("control: unexpected response")
	ErrChecksumMismatch   = errors.New("control: behaviour checksum mismatch")
	ErrInvalidSwitch      = errors.New("control: invalid switch value")
)

// ResultError is returned when the Crownstone answers with a non-success
// result code.
type ResultError struct {
	Type packet.CommandType
	Code packet.ResultCode
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("control: %s failed: %s (%d)", e.Type, e.Code, uint16(e.Code))
}

// IsResult returns true if err is a ResultError carrying code.
func IsResult(err error, code packet.ResultCode) bool {
	var re *ResultError
	return errors.As(err, &re) && re.Code == code
}

package peer

import (
	"errors"
	"fmt"
)

var (
	ErrSignaling     = errors.New("signaling server error")
	ErrTimeout       = errors.New("timeout")
	ErrDisconnected  = errors.New("disconnected from signaling server")
	ErrClosed        = errors.New("client closed")
	ErrRoomFailed    = errors.New("room request rejected")
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrChannelClosed = errors.New("data channel not open")
	ErrUnexpectedSDP = errors.New("unexpected session description")
)

// Error annotates a client failure with the operation that failed.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

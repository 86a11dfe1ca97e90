package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocol is returned for messages which are malformed or
	// missing required fields
	ErrProtocol = errors.New("protocol error")

	// ErrClosed is returned once the peer has disconnected
	ErrClosed = errors.New("transport closed")

	// ErrTimeout is returned when no response arrives in time
	ErrTimeout = errors.New("response timeout")
)

// Error records a failed transport operation
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsProtocol returns whether err was caused by a malformed message
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol)
}

// IsFailure returns whether err means the transport can no longer be
// relied upon, either because the peer disconnected or because it did
// not respond in time
func IsFailure(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrTimeout)
}

// protocolError wraps a decoding failure as an ErrProtocol
func protocolError(format string, args ...any) error {
	return &Error{
		Op:  "decode",
		Err: fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...)),
	}
}

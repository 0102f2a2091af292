package call

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState = errors.New("invalid call state")

	// ErrStaleCall is returned when a command's call ended or was replaced
	// while the command was waiting on media or negotiation.
	ErrStaleCall = errors.New("call ended while operation was in flight")

	// End reasons.
	ErrHangUp                 = errors.New("hung up")
	ErrRemoteHangUp           = errors.New("remote party hung up")
	ErrRejected               = errors.New("call rejected")
	ErrDismissed              = errors.New("call dismissed")
	ErrSuperseded             = errors.New("replaced by a new call")
	ErrConnectionFailed       = errors.New("connection failed")
	ErrConnectionDisconnected = errors.New("connection disconnected")
	ErrConnectionClosed       = errors.New("connection closed")
)

// Error carries the command or step that failed.
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

package tunnelipc

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed Send.
type ErrorKind int

const (
	EncodingFailed ErrorKind = iota + 1
	TransmissionFailed
	DecodingFailed
	UnexpectedEmptyResponse
)

func (k ErrorKind) String() string {
	switch k {
	case EncodingFailed:
		return "encoding failed"
	case TransmissionFailed:
		return "transmission failed"
	case DecodingFailed:
		return "decoding failed"
	case UnexpectedEmptyResponse:
		return "unexpected empty response"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is returned by every failed Client call.
type Error struct {
	Kind    ErrorKind
	Request RequestKind
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("tunnelipc %s: %s", e.Request, e.Kind)
	}
	return fmt.Sprintf("tunnelipc %s: %s: %v", e.Request, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsCancelled reports whether err came from a cancelled or expired context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

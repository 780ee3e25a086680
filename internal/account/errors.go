package account

import (
	"context"
	"errors"
	"fmt"
)

// JSON-RPC error codes returned by the account service.
const (
	CodeAccountDoesNotExist = -200
	CodeTooManyKeys         = -703
)

// NetworkError indicates the request never produced a response. Retryable.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("account: network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerError is a structured error returned by the account service.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("account: server error %d: %s", e.Code, e.Message)
}

// HTTPStatusError indicates the service responded with an unexpected HTTP
// status instead of a JSON-RPC envelope.
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("account: unexpected status %d from %s", e.StatusCode, e.URL)
}

// EncodingError indicates the request could not be encoded.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("account: encode request: %v", e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// DecodingError indicates the response could not be decoded.
type DecodingError struct {
	Err error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("account: decode response: %v", e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// IsCancelled reports whether err stems from caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsRetryable reports whether err is a transport failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil || IsCancelled(err) {
		return false
	}
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsServerCode reports whether err is a ServerError with the given code.
func IsServerCode(err error, code int) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr) && serverErr.Code == code
}

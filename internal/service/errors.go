package service

import (
	"errors"

	"github.com/Resinat/vpncore/internal/account"
	"github.com/Resinat/vpncore/internal/tunnelipc"
)

// ServiceError wraps an error with a code for API response mapping.
type ServiceError struct {
	Code    string // INVALID_ARGUMENT, NOT_FOUND, CONFLICT, UNAVAILABLE, UPSTREAM_ERROR, INTERNAL
	Message string
	Err     error
}

func (e *ServiceError) Error() string { return e.Message }
func (e *ServiceError) Unwrap() error { return e.Err }

func invalidArg(msg string) *ServiceError {
	return &ServiceError{Code: "INVALID_ARGUMENT", Message: msg}
}

func notFound(msg string) *ServiceError {
	return &ServiceError{Code: "NOT_FOUND", Message: msg}
}

func conflict(msg string) *ServiceError {
	return &ServiceError{Code: "CONFLICT", Message: msg}
}

func unavailable(msg string, err error) *ServiceError {
	return &ServiceError{Code: "UNAVAILABLE", Message: msg, Err: err}
}

func upstream(msg string, err error) *ServiceError {
	return &ServiceError{Code: "UPSTREAM_ERROR", Message: msg, Err: err}
}

func internal(msg string, err error) *ServiceError {
	return &ServiceError{Code: "INTERNAL", Message: msg, Err: err}
}

// accountServiceError classifies an account service failure.
func accountServiceError(what string, err error) *ServiceError {
	var serverErr *account.ServerError
	switch {
	case errors.As(err, &serverErr):
		if serverErr.Code == account.CodeAccountDoesNotExist {
			return notFound(what + ": account does not exist")
		}
		return upstream(what+": "+serverErr.Error(), err)
	case account.IsRetryable(err):
		return unavailable(what+": account service unreachable", err)
	default:
		return internal(what, err)
	}
}

// tunnelError classifies a tunnel IPC failure.
func tunnelError(what string, err error) *ServiceError {
	if tunnelipc.IsKind(err, tunnelipc.TransmissionFailed) {
		return unavailable(what+": tunnel runtime unavailable", err)
	}
	return internal(what, err)
}

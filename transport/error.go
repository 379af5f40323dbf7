package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ringdb/ring-go-driver/addr"
)

// ErrorCode classifies a connector or connection failure.
type ErrorCode int32

const (
	CodeOK = ErrorCode(iota)
	CodeAuth
	CodeKeyspace
	CodeTimeout
	CodeNetwork
	CodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeAuth:
		return "auth"
	case CodeKeyspace:
		return "keyspace"
	case CodeTimeout:
		return "timeout"
	case CodeNetwork:
		return "network"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure bound to an address.
type Error struct {
	Code ErrorCode
	Addr addr.Addr
	Err  error
}

func NewError(code ErrorCode, a addr.Addr, err error) *Error {
	return &Error{Code: code, Addr: a, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport [%s] %s: %v", e.Code, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsCritical reports whether reconnecting cannot recover this failure.
func (e *Error) IsCritical() bool {
	return e.Code == CodeAuth || e.Code == CodeKeyspace
}

func (e *Error) IsKeyspaceError() bool {
	return e.Code == CodeKeyspace
}

// CodeOf extracts the ErrorCode from err, mapping context cancellation
// and deadline errors onto CodeTimeout.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTimeout
	}

	return CodeInternal
}

// IsCritical reports whether err carries a critical transport code.
func IsCritical(err error) bool {
	c := CodeOf(err)

	return c == CodeAuth || c == CodeKeyspace
}

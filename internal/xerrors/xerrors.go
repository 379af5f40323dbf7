package xerrors

import (
	"errors"
	"fmt"
	"path"
	"runtime"

	"go.uber.org/multierr"
	"golang.org/x/xerrors"
)

// Errorf is a proxy to golang.org/x/xerrors.Errorf.
// This need to single import point for error wrapping.
func Errorf(format string, args ...interface{}) error {
	return xerrors.Errorf(format, args...)
}

// Join combines non-nil errors into a single error value.
func Join(errs ...error) error {
	return multierr.Combine(errs...)
}

// Is is a proxy to errors.Is with multiple targets.
func Is(err error, targets ...error) bool {
	if len(targets) == 0 {
		panic("empty targets")
	}
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// As is a proxy to errors.As.
func As(err error, targets ...interface{}) bool {
	if err == nil {
		return false
	}
	for _, t := range targets {
		if errors.As(err, t) {
			return true
		}
	}

	return false
}

type stackError struct {
	stackRecord string
	err         error
}

func (e *stackError) Error() string {
	return e.err.Error() + " at `" + e.stackRecord + "`"
}

func (e *stackError) Unwrap() error {
	return e.err
}

// WithStackTrace is a wrapper over original err with file:line identification.
func WithStackTrace(err error) error {
	if err == nil {
		return nil
	}

	return &stackError{
		stackRecord: record(1),
		err:         err,
	}
}

func record(depth int) string {
	_, file, line, _ := runtime.Caller(depth + 1)

	return fmt.Sprintf("%s:%d", path.Base(file), line)
}

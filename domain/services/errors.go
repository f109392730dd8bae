package services

import (
	"errors"
	"fmt"
)

// ErrUnprocessable marks input that will never succeed (corrupt or unsupported image data).
var ErrUnprocessable = errors.New("unprocessable image")

// ErrRemoteRootRequired refuses a reconcile that would wipe the backend root itself.
var ErrRemoteRootRequired = errors.New("reconcile needs a named remote root folder")

// TransientError wraps a failure that may succeed when retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Unprocessable wraps err so that errors.Is(err, ErrUnprocessable) holds.
func Unprocessable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnprocessable, fmt.Sprintf(format, args...))
}

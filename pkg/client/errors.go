package client

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is reported to callbacks of calls made after Close.
	ErrClientClosed = errors.New("push client is closed")
	// ErrInvalidArgument is reported when a call fails basic shape validation.
	ErrInvalidArgument = errors.New("invalid argument")
)

// NativeLayerError wraps an error surfaced by the bridge for a given operation.
type NativeLayerError struct {
	Op  string
	Err error
}

func (e *NativeLayerError) Error() string {
	return fmt.Sprintf("native layer %s failed: %v", e.Op, e.Err)
}

func (e *NativeLayerError) Unwrap() error { return e.Err }

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

package camera

import (
	"errors"
	"fmt"
)

// Configuration mistakes are surfaced synchronously and never swallowed.
var (
	// ErrUnknownType means the config named a type tag with no registered
	// variant constructor.
	ErrUnknownType = errors.New("unknown camera type")

	// ErrNotFound means the registry holds no camera under that name.
	ErrNotFound = errors.New("camera not found")

	// ErrNotSupported means the caller invoked a capability the variant
	// does not implement, such as absolute PTZ moves on a continuous-only
	// device.
	ErrNotSupported = errors.New("operation not supported by this camera")

	// ErrInvalidPosition means a PTZ vector was outside the normalized
	// pan/tilt [-1,1] or zoom [0,1] ranges.
	ErrInvalidPosition = errors.New("ptz position out of range")
)

// ConnectError wraps a vendor connect failure with its transport detail.
// The camera records it in LastError and transitions to the error state.
type ConnectError struct {
	Camera string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("camera %s: connect failed: %v", e.Camera, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

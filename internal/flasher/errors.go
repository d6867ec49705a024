package flasher

import (
	"errors"
	"fmt"
)

var (
	// ErrNoReference is returned by VerifyReference before a reference image
	// was loaded.
	ErrNoReference = errors.New("no reference image loaded")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")
)

// DeviceNotFoundError indicates that no adapter could be opened or that the
// chip behind it did not answer with the expected signature.
type DeviceNotFoundError struct {
	Reason string
	Got    byte
	Want   byte
	Err    error
}

func (e *DeviceNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device not found: %s: %v", e.Reason, e.Err)
	}
	if e.Got != e.Want {
		return fmt.Sprintf("device not found: %s (signature 0x%02X, want 0x%02X)", e.Reason, e.Got, e.Want)
	}
	return fmt.Sprintf("device not found: %s", e.Reason)
}

func (e *DeviceNotFoundError) Unwrap() error {
	return e.Err
}

package nor

import (
	"fmt"
	"time"
)

// TransferResult records how many bytes a transfer returned against the
// number it should have returned.
type TransferResult struct {
	Transferred int
	Expected    int
}

// OK reports whether the transfer returned the expected byte count.
func (r TransferResult) OK() bool {
	return r.Transferred == r.Expected
}

// TransportError indicates a failed or short transfer on the bridge.
type TransportError struct {
	Op     string
	Result TransferResult
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: transferred %d bytes (expected %d)",
		e.Op, e.Result.Transferred, e.Result.Expected)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SizeExceededError indicates a request that does not fit on the chip.
type SizeExceededError struct {
	Addr     uint32
	Size     int
	Capacity int
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("size exceeded: %d bytes at 0x%06X does not fit in %d bytes",
		e.Size, e.Addr, e.Capacity)
}

// BusyTimeoutError is returned when the busy bit does not clear within the
// configured deadline.
type BusyTimeoutError struct {
	Waited time.Duration
	Polls  int
}

func (e *BusyTimeoutError) Error() string {
	return fmt.Sprintf("device still busy after %v (%d polls)", e.Waited, e.Polls)
}

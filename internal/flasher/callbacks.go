package flasher

import "time"

// Operation phases reported through Progress.
const (
	PhaseErasing     = "erasing"
	PhaseProgramming = "programming"
	PhaseReading     = "reading"
	PhaseVerifying   = "verifying"
)

// Progress describes how far a long operation has got.
type Progress struct {
	Phase   string
	Current int
	Total   int
	Elapsed time.Duration
}

// ProgressCallback is called after every step of an operation. It runs on
// the calling goroutine and should return quickly.
type ProgressCallback func(Progress)

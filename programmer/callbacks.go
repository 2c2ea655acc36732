package programmer

import "time"

// Progress phases.
const (
	PhaseConnecting = "connecting"
	PhaseFirmware   = "firmware"
	PhaseErasing    = "erasing"
	PhaseVoice      = "voice"
	PhaseConfig     = "config"
	PhaseComplete   = "complete"
)

// Progress contains information about the programming progress.
// Passed to ProgressCallback during programming operations.
type Progress struct {
	// Phase is one of the Phase constants
	Phase string

	// Current is the number of units done in this phase: flash blocks while
	// writing firmware, files while writing voice data
	Current int

	// Total is the number of units in this phase
	Total int

	// Percentage is the completion of the current phase (0.0 to 100.0)
	Percentage float64

	// BytesWritten is the total number of data bytes sent in this run
	BytesWritten int

	// ElapsedTime is the time elapsed since the run started
	ElapsedTime time.Duration
}

// ProgressCallback is called periodically during programming to report progress.
// Implementations should return quickly to avoid blocking the programming operation.
type ProgressCallback func(Progress)

// StateCallback is called with the previous and the new state.
type StateCallback func(from, to State)

package programmer

import (
	"errors"
	"fmt"
)

var (
	// ErrRunning is returned when a run is started while another is in progress.
	ErrRunning = errors.New("programming run already in progress")

	// ErrEmptyVoice is returned for voice files that produced no data.
	ErrEmptyVoice = errors.New("voice file is empty")

	// ErrBankOverflow is returned when voice data would run past the bank end.
	ErrBankOverflow = errors.New("voice data exceeds bank")

	// ErrBankCountRange is returned for bank counts that do not fit the config byte.
	ErrBankCountRange = errors.New("bank count out of range 0..255")
)

// StageError records the state a run was in when it failed.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// VoiceError identifies the voice entry that failed.
type VoiceError struct {
	Index int
	Path  string
	Err   error
}

func (e *VoiceError) Error() string {
	return fmt.Sprintf("voice %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *VoiceError) Unwrap() error { return e.Err }

// CleanupError collects failures of the best-effort cleanup that follows a
// failed run. It is always joined after the error that caused the cleanup.
type CleanupError struct {
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup failed: %v", e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

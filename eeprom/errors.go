package eeprom

import (
	"errors"
	"fmt"
)

// ErrInvalidMapEntry is returned for map entries that do not fit the bank layout.
var ErrInvalidMapEntry = errors.New("invalid voice map entry")

// EraseError is returned when erasing a bank block fails. Blocks before it
// have been erased; no block after it was attempted.
type EraseError struct {
	// Block is the 0-based block index within the bank
	Block int

	// Address is the absolute address of the block
	Address uint32

	// Err is the underlying exchange error
	Err error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("erase block %d at 0x%06X: %v", e.Block, e.Address, e.Err)
}

func (e *EraseError) Unwrap() error { return e.Err }

// ConfigError is returned when the bank count update fails. Stage names the
// step that failed; nothing has been modified on the device when Stage is
// "read".
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("update config (%s): %v", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

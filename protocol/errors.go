package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned when a payload does not fit in one frame.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrAddressRange is returned for addresses that do not fit in 24 bits.
	ErrAddressRange = errors.New("address out of range")

	// ErrMalformedResponse is returned when a response frame is garbled.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrTimeout is returned when no response arrived within the exchange timeout.
	ErrTimeout = errors.New("response timeout")

	// ErrBusy is returned when an exchange is started while another one is
	// still waiting for its response. Seeing it means the caller issued
	// overlapping exchanges; it is never a device fault.
	ErrBusy = errors.New("exchange already in flight")
)

// NackError is a well-formed response whose code is not Ack.
type NackError struct {
	// Code is the response code sent by the device
	Code byte
}

func (e *NackError) Error() string {
	return fmt.Sprintf("device rejected command (code 0x%02X)", e.Code)
}

// TransportError wraps a failure of the underlying send primitive.
type TransportError struct {
	// Op is the transport operation that failed
	Op string

	// Err is the underlying error
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CommandError annotates an exchange failure with the command that caused it.
type CommandError struct {
	// Command is the command code that was sent
	Command byte

	// Address is the address carried by the command
	Address uint32

	// Err is the classified cause: ErrTimeout, ErrBusy, *NackError,
	// *TransportError or an encoding error
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s at 0x%06X: %v", CommandName(e.Command), e.Address, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsNack returns true if err is, or wraps, a NackError.
func IsNack(err error) bool {
	var nack *NackError
	return errors.As(err, &nack)
}

package transport

import "errors"

var (
	// ErrNotOpen is returned by Send before Open or after Close.
	ErrNotOpen = errors.New("transport not open")

	// ErrAlreadyOpen is returned by Open on an open transport.
	ErrAlreadyOpen = errors.New("transport already open")

	// ErrShortWrite is returned when the device accepted fewer bytes than sent.
	ErrShortWrite = errors.New("short write")
)

package protocol

import (
	"fmt"
)

// Frame is one fixed-size unit exchanged with the device.
//
// Layout:
//
//	[CMD][ADDR_H][ADDR_M][ADDR_L][LEN][PAYLOAD(LEN)][ZERO PADDING]
type Frame [FrameSize]byte

// SplitAddress splits a 24-bit address into its high, mid and low bytes.
func SplitAddress(addr uint32) (high, mid, low byte) {
	return byte(addr >> 16), byte(addr >> 8), byte(addr)
}

// JoinAddress is the inverse of SplitAddress.
func JoinAddress(high, mid, low byte) uint32 {
	return uint32(high)<<16 | uint32(mid)<<8 | uint32(low)
}

// EncodeCommand builds a command frame.
//
// A nil or empty payload produces LEN=0. Payloads longer than MaxPayload are
// rejected rather than truncated.
func EncodeCommand(cmd byte, addr uint32, payload []byte) (Frame, error) {
	var f Frame

	if len(payload) > MaxPayload {
		return f, fmt.Errorf("%w: %d bytes, maximum is %d", ErrPayloadTooLarge, len(payload), MaxPayload)
	}
	if addr > MaxAddress {
		return f, fmt.Errorf("%w: 0x%X", ErrAddressRange, addr)
	}

	f[offsetCommand] = cmd
	f[offsetAddrH], f[offsetAddrM], f[offsetAddrL] = SplitAddress(addr)
	f[offsetLength] = byte(len(payload))
	copy(f[HeaderSize:], payload)

	return f, nil
}

// Command returns the command or response code in byte 0.
func (f Frame) Command() byte {
	return f[offsetCommand]
}

// Address returns the 24-bit address carried in the header.
func (f Frame) Address() uint32 {
	return JoinAddress(f[offsetAddrH], f[offsetAddrM], f[offsetAddrL])
}

// Length returns the declared payload length.
func (f Frame) Length() int {
	return int(f[offsetLength])
}

// Payload returns the declared payload, or ErrMalformedResponse when the
// length byte points past the end of the frame.
func (f Frame) Payload() ([]byte, error) {
	n := f.Length()
	if n > MaxPayload {
		return nil, fmt.Errorf("%w: length byte %d exceeds %d", ErrMalformedResponse, n, MaxPayload)
	}
	out := make([]byte, n)
	copy(out, f[HeaderSize:HeaderSize+n])
	return out, nil
}

func (f Frame) String() string {
	n := f.Length()
	if n > MaxPayload {
		n = MaxPayload
	}
	return fmt.Sprintf("cmd=0x%02X addr=0x%06X len=%d data=% X",
		f.Command(), f.Address(), f.Length(), f[HeaderSize:HeaderSize+n])
}

// DecodeResponse splits a response frame into its code and the remaining bytes.
func DecodeResponse(f Frame) (code byte, rest []byte) {
	rest = make([]byte, FrameSize-1)
	copy(rest, f[1:])
	return f[offsetCommand], rest
}

// Response is the classified result of one exchange.
type Response struct {
	// Code is the first byte of the response frame
	Code byte

	// Frame is the raw response frame
	Frame Frame
}

// ParseResponse wraps a received frame.
func ParseResponse(f Frame) Response {
	return Response{Code: f.Command(), Frame: f}
}

// Acked reports whether the device acknowledged the command.
func (r Response) Acked() bool {
	return r.Code == Ack
}

// Payload returns the data portion of the response.
func (r Response) Payload() ([]byte, error) {
	return r.Frame.Payload()
}

// Package devicesim provides an in-process device that speaks the
// programming protocol. It backs the tests, the examples and the CLI's
// --simulate flag.
//
// The device keeps a program memory image, a 4 MiB EEPROM, the operating
// mode and the EEPROM protection latch. EEPROM writes behave like NOR flash:
// they can only clear bits, so writing over data that was not erased first
// corrupts it.
package devicesim

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-voiceprog/internal/syncutil"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/rs/zerolog"
)

// Default sizes.
const (
	DefaultEEPROMSize = 0x400000
	eraseBlockSize    = 0x10000
	pageSize          = 32
)

// NACK codes returned by the simulated device.
const (
	NackNotProgMode byte = 0xE1
	NackProtected   byte = 0xE2
	NackAddress     byte = 0xE3
	NackUnknown     byte = 0xEF
)

// ErrClosed is returned by Send when the device has not been opened.
var ErrClosed = errors.New("device not open")

// Fault makes the device misbehave on a matching command.
type Fault struct {
	// Command selects the command code the fault applies to
	Command byte

	// Nth is the 1-based occurrence of Command that triggers the fault;
	// 0 triggers on every occurrence
	Nth int

	// Code is the response code sent instead of ACK
	Code byte

	// Silent drops the response entirely, so the host times out
	Silent bool

	// SendErr fails the Send call itself
	SendErr error
}

// Device is a simulated programmer target. It implements protocol.Transport.
type Device struct {
	mu syncutil.Mutex

	flash     []byte
	eeprom    []byte
	mode      protocol.Mode
	protected bool
	open      bool
	opens     int
	closeErr  error

	commands []protocol.Frame
	counts   map[byte]int
	faults   []Fault

	subs   map[int]func(protocol.Frame)
	nextID int

	latency time.Duration
	log     zerolog.Logger
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the device's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Device) {
		d.log = logger
	}
}

// WithLatency delays every response.
func WithLatency(latency time.Duration) Option {
	return func(d *Device) {
		d.latency = latency
	}
}

// WithEEPROMSize overrides the EEPROM size.
func WithEEPROMSize(size int) Option {
	return func(d *Device) {
		if size > 0 {
			d.eeprom = bytes.Repeat([]byte{protocol.ErasedByte}, size)
		}
	}
}

// New creates an erased, protected device in run mode.
func New(opts ...Option) *Device {
	d := &Device{
		flash:     bytes.Repeat([]byte{protocol.ErasedByte}, protocol.ImageSize),
		eeprom:    bytes.Repeat([]byte{protocol.ErasedByte}, DefaultEEPROMSize),
		mode:      protocol.ModeRun,
		protected: true,
		counts:    make(map[byte]int),
		subs:      make(map[int]func(protocol.Frame)),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open implements protocol.Transport.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = true
	d.opens++
	return nil
}

// Close implements protocol.Transport.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = false
	return d.closeErr
}

// Subscribe implements protocol.Transport.
func (d *Device) Subscribe(onFrame func(protocol.Frame)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.subs[id] = onFrame
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// Send implements protocol.Transport. The response, if any, is delivered to
// the current subscribers before Send returns.
func (d *Device) Send(f protocol.Frame) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return ErrClosed
	}

	cmd := f.Command()
	d.commands = append(d.commands, f)
	d.counts[cmd]++

	var resp protocol.Frame
	fault, faulted := d.matchFault(cmd)
	switch {
	case faulted && fault.SendErr != nil:
		d.mu.Unlock()
		return fault.SendErr
	case faulted && fault.Silent:
		d.mu.Unlock()
		d.log.Debug().Str("command", protocol.CommandName(cmd)).Msg("dropping response")
		return nil
	case faulted:
		resp = reply(fault.Code, f.Address(), nil)
	default:
		resp = d.handle(f)
	}

	listeners := make([]func(protocol.Frame), 0, len(d.subs))
	for _, fn := range d.subs {
		listeners = append(listeners, fn)
	}
	latency := d.latency
	d.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	for _, fn := range listeners {
		fn(resp)
	}
	return nil
}

// InjectFault registers a fault. Faults are checked in registration order.
func (d *Device) InjectFault(f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = append(d.faults, f)
}

// SetCloseError makes Close return err.
func (d *Device) SetCloseError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = err
}

func (d *Device) matchFault(cmd byte) (Fault, bool) {
	for _, f := range d.faults {
		if f.Command == cmd && (f.Nth == 0 || f.Nth == d.counts[cmd]) {
			return f, true
		}
	}
	return Fault{}, false
}

func (d *Device) handle(f protocol.Frame) protocol.Frame {
	addr := f.Address()
	payload, err := f.Payload()
	if err != nil {
		return reply(NackUnknown, addr, nil)
	}

	switch f.Command() {
	case protocol.CmdSetMode:
		if len(payload) != 1 {
			return reply(NackUnknown, addr, nil)
		}
		d.mode = protocol.Mode(payload[0])
		if d.mode == protocol.ModeRun {
			d.protected = true
		}
		d.log.Debug().Stringer("mode", d.mode).Msg("mode changed")

	case protocol.CmdProgramMemBlock:
		if d.mode != protocol.ModeProg {
			return reply(NackNotProgMode, addr, nil)
		}
		if int(addr)+len(payload) > len(d.flash) {
			return reply(NackAddress, addr, nil)
		}
		copy(d.flash[addr:], payload)

	case protocol.CmdEEPROMClearProtection:
		d.protected = false

	case protocol.CmdEraseEEPROMBlock:
		if d.protected {
			return reply(NackProtected, addr, nil)
		}
		base := int(addr) &^ (eraseBlockSize - 1)
		if base+eraseBlockSize > len(d.eeprom) {
			return reply(NackAddress, addr, nil)
		}
		for i := base; i < base+eraseBlockSize; i++ {
			d.eeprom[i] = protocol.ErasedByte
		}

	case protocol.CmdWriteEEPROMPage:
		if d.protected {
			return reply(NackProtected, addr, nil)
		}
		if int(addr)+len(payload) > len(d.eeprom) {
			return reply(NackAddress, addr, nil)
		}
		for i, b := range payload {
			d.eeprom[int(addr)+i] &= b
		}

	case protocol.CmdReadEEPROMPage:
		if int(addr)+pageSize > len(d.eeprom) {
			return reply(NackAddress, addr, nil)
		}
		return reply(protocol.Ack, addr, d.eeprom[addr:addr+pageSize])

	default:
		return reply(NackUnknown, addr, nil)
	}

	return reply(protocol.Ack, addr, nil)
}

func reply(code byte, addr uint32, payload []byte) protocol.Frame {
	f, err := protocol.EncodeCommand(code, addr, payload)
	if err != nil {
		panic(fmt.Sprintf("devicesim: building response: %v", err))
	}
	return f
}

// Mode returns the current operating mode.
func (d *Device) Mode() protocol.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Protected reports whether the EEPROM protection latch is set.
func (d *Device) Protected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.protected
}

// IsOpen reports whether the device is open.
func (d *Device) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// Opens returns how many times Open was called.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Flash returns a copy of program memory.
func (d *Device) Flash() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.flash...)
}

// EEPROM returns a copy of n bytes of EEPROM starting at addr.
func (d *Device) EEPROM(addr uint32, n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.eeprom[addr:int(addr)+n]...)
}

// LoadEEPROM overwrites EEPROM contents directly, bypassing protection.
func (d *Device) LoadEEPROM(addr uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.eeprom[addr:], data)
}

// Commands returns every frame received so far.
func (d *Device) Commands() []protocol.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]protocol.Frame(nil), d.commands...)
}

// CommandCodes returns the command byte of every frame received so far.
func (d *Device) CommandCodes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.commands))
	for i, f := range d.commands {
		out[i] = f.Command()
	}
	return out
}

// Count returns how many times cmd was received.
func (d *Device) Count(cmd byte) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[cmd]
}

// Subscribers returns the number of attached listeners.
func (d *Device) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

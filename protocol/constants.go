package protocol

import "time"

// Frame structure constants.
const (
	// FrameSize is the fixed length of every command and response frame
	FrameSize = 37

	// HeaderSize is the number of header bytes before the payload:
	// CMD(1) + ADDR_H(1) + ADDR_M(1) + ADDR_L(1) + LEN(1)
	HeaderSize = 5

	// MaxPayload is the largest payload a single frame can carry
	MaxPayload = FrameSize - HeaderSize

	// MaxAddress is the largest address expressible in the 24-bit header field
	MaxAddress = 0xFFFFFF
)

// Header byte offsets.
const (
	offsetCommand = 0
	offsetAddrH   = 1
	offsetAddrM   = 2
	offsetAddrL   = 3
	offsetLength  = 4
)

// Command codes.
const (
	// CmdProgramMemBlock writes one 32-byte block of program memory
	CmdProgramMemBlock = 0x01

	// CmdReadEEPROMPage reads one 32-byte EEPROM page
	CmdReadEEPROMPage = 0x02

	// CmdEEPROMClearProtection clears the EEPROM block protection bits
	CmdEEPROMClearProtection = 0x03

	// CmdEraseEEPROMBlock erases one 64 KiB EEPROM block
	CmdEraseEEPROMBlock = 0x04

	// CmdWriteEEPROMPage writes up to 32 bytes into EEPROM
	CmdWriteEEPROMPage = 0x05

	// CmdSetMode switches the device between run and programming mode
	CmdSetMode = 0x06

	// Ack is the response code for a successfully executed command
	Ack = 0x0D
)

// Mode is the device operating mode selected with CmdSetMode.
type Mode byte

const (
	// ModeRun starts the application firmware
	ModeRun Mode = 0x00

	// ModeProg keeps the device in its programming loader
	ModeProg Mode = 0x01
)

func (m Mode) String() string {
	switch m {
	case ModeRun:
		return "run"
	case ModeProg:
		return "prog"
	default:
		return "unknown"
	}
}

// Memory layout.
const (
	// BlockSize is the program memory write granularity
	BlockSize = 32

	// ProgramStart is the first program memory address owned by the
	// application. Must stay 1024-byte aligned.
	ProgramStart = 0x1400

	// ImageSize is the addressable program memory window
	ImageSize = 0x10000

	// ErasedByte is the value of erased flash and EEPROM cells
	ErasedByte = 0xFF
)

// DefaultTimeout bounds a single request/response exchange.
const DefaultTimeout = 2000 * time.Millisecond

// CommandName returns a short human-readable name for a command code.
func CommandName(cmd byte) string {
	switch cmd {
	case CmdProgramMemBlock:
		return "program block"
	case CmdReadEEPROMPage:
		return "read eeprom page"
	case CmdEEPROMClearProtection:
		return "clear eeprom protection"
	case CmdEraseEEPROMBlock:
		return "erase eeprom block"
	case CmdWriteEEPROMPage:
		return "write eeprom page"
	case CmdSetMode:
		return "set mode"
	default:
		return "unknown command"
	}
}

// Package eeprom manages the external voice EEPROM: bank erase, the voice
// map, streamed voice data and the config sector holding the bank count.
package eeprom

import (
	"bytes"
	"context"
	"fmt"

	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/rs/zerolog"
)

// Executor runs a single command exchange. *protocol.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd byte, addr uint32, payload []byte) (protocol.Response, error)
}

// ProgressFunc is called after every written chunk of a voice file.
type ProgressFunc func(done, total int)

// Manager issues EEPROM commands through an Executor.
type Manager struct {
	exec     Executor
	log      zerolog.Logger
	progress ProgressFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithProgress registers a per-chunk progress callback for WriteFile.
func WithProgress(fn ProgressFunc) Option {
	return func(m *Manager) {
		m.progress = fn
	}
}

// NewManager creates a Manager.
func NewManager(exec Executor, opts ...Option) *Manager {
	if exec == nil {
		panic("executor cannot be nil")
	}

	m := &Manager{exec: exec, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EraseBank clears block protection once and erases the 16 blocks of the
// bank starting at bankOffset. It stops at the first failure.
func (m *Manager) EraseBank(ctx context.Context, bankOffset uint32) error {
	m.log.Info().Str("offset", fmt.Sprintf("0x%06X", bankOffset)).Msg("erasing voice bank")

	if _, err := m.exec.Execute(ctx, protocol.CmdEEPROMClearProtection, bankOffset, nil); err != nil {
		return fmt.Errorf("clear protection: %w", err)
	}

	for i := 0; i < BlocksPerBank; i++ {
		addr := bankOffset + uint32(i)*BlockSize
		if _, err := m.exec.Execute(ctx, protocol.CmdEraseEEPROMBlock, addr, nil); err != nil {
			return &EraseError{Block: i, Address: addr, Err: err}
		}
		m.log.Debug().Int("block", i).Msg("block erased")
	}
	return nil
}

// ReadPage reads the 32-byte page at addr.
func (m *Manager) ReadPage(ctx context.Context, addr uint32) ([ConfigRegionSize]byte, error) {
	var page [ConfigRegionSize]byte

	resp, err := m.exec.Execute(ctx, protocol.CmdReadEEPROMPage, addr, nil)
	if err != nil {
		return page, err
	}
	if _, err := resp.Payload(); err != nil {
		return page, fmt.Errorf("read page at 0x%06X: %w", addr, err)
	}
	copy(page[:], resp.Frame[protocol.HeaderSize:])
	return page, nil
}

// UpdateVoiceBankCount stores count in the last byte of the first config
// region. The config sector is read, erased and rewritten in that order; a
// failure while reading leaves the device untouched.
func (m *Manager) UpdateVoiceBankCount(ctx context.Context, count byte) error {
	region0, err := m.ReadPage(ctx, ConfigRegion0)
	if err != nil {
		return &ConfigError{Stage: "read", Err: err}
	}
	region1, err := m.ReadPage(ctx, ConfigRegion1)
	if err != nil {
		return &ConfigError{Stage: "read", Err: err}
	}

	m.log.Debug().
		Uint8("old", region0[bankCountOffset]).
		Uint8("new", count).
		Msg("updating voice bank count")
	region0[bankCountOffset] = count

	if _, err := m.exec.Execute(ctx, protocol.CmdEEPROMClearProtection, ConfigRegion0, nil); err != nil {
		return &ConfigError{Stage: "clear protection", Err: err}
	}
	if _, err := m.exec.Execute(ctx, protocol.CmdEraseEEPROMBlock, ConfigRegion0, nil); err != nil {
		return &ConfigError{Stage: "erase", Err: err}
	}
	if _, err := m.exec.Execute(ctx, protocol.CmdWriteEEPROMPage, ConfigRegion0, region0[:]); err != nil {
		return &ConfigError{Stage: "write", Err: err}
	}
	if _, err := m.exec.Execute(ctx, protocol.CmdWriteEEPROMPage, ConfigRegion1, region1[:]); err != nil {
		return &ConfigError{Stage: "write", Err: err}
	}
	return nil
}

// EncodeMapEntry packs start and end as two little-endian 24-bit values.
func EncodeMapEntry(start, end uint32) [MapEntrySize]byte {
	return [MapEntrySize]byte{
		byte(start), byte(start >> 8), byte(start >> 16),
		byte(end), byte(end >> 8), byte(end >> 16),
	}
}

// WriteVoiceMapEntry records the [start, end] span of voice index in the map
// at the head of the bank starting at bankOffset.
func (m *Manager) WriteVoiceMapEntry(ctx context.Context, index int, start, end, bankOffset uint32) error {
	if index < 0 || index >= MaxVoiceEntries {
		return fmt.Errorf("%w: index %d out of range 0..%d", ErrInvalidMapEntry, index, MaxVoiceEntries-1)
	}
	if start > end {
		return fmt.Errorf("%w: start 0x%06X after end 0x%06X", ErrInvalidMapEntry, start, end)
	}
	if start < bankOffset+MapOffset || end > bankOffset+BankSize-1 {
		return fmt.Errorf("%w: span 0x%06X-0x%06X outside bank at 0x%06X", ErrInvalidMapEntry, start, end, bankOffset)
	}

	entry := EncodeMapEntry(start, end)
	addr := bankOffset + uint32(index*MapEntrySize)
	if _, err := m.exec.Execute(ctx, protocol.CmdWriteEEPROMPage, addr, entry[:]); err != nil {
		return fmt.Errorf("write map entry %d: %w", index, err)
	}
	return nil
}

// WriteFile streams data into EEPROM starting at start, one page write per
// 32-byte chunk. The last chunk is padded with erased bytes. It returns the
// number of data bytes written, or 0 and the error of the first failed chunk.
// Empty data writes nothing and returns 0 with no error.
func (m *Manager) WriteFile(ctx context.Context, data []byte, start uint32) (int, error) {
	if len(data) == 0 {
		m.log.Warn().Str("address", fmt.Sprintf("0x%06X", start)).Msg("empty voice file, nothing written")
		return 0, nil
	}

	total := (len(data) + ChunkSize - 1) / ChunkSize
	addr := start
	for i := 0; i < total; i++ {
		chunk := data[i*ChunkSize : min((i+1)*ChunkSize, len(data))]
		if len(chunk) < ChunkSize {
			padded := bytes.Repeat([]byte{protocol.ErasedByte}, ChunkSize)
			copy(padded, chunk)
			chunk = padded
		}

		if _, err := m.exec.Execute(ctx, protocol.CmdWriteEEPROMPage, addr, chunk); err != nil {
			m.log.Error().Err(err).Str("address", fmt.Sprintf("0x%06X", addr)).Msg("voice chunk write failed")
			return 0, fmt.Errorf("write voice chunk at 0x%06X: %w", addr, err)
		}
		addr += ChunkSize

		if m.progress != nil {
			m.progress(i+1, total)
		}
	}
	return len(data), nil
}

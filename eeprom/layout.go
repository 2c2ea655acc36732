package eeprom

import "fmt"

// EEPROM layout.
const (
	// BankSize is the size of one voice bank
	BankSize = 0x100000

	// BlockSize is the erase granularity
	BlockSize = 0x10000

	// BlocksPerBank is the number of erase blocks in a bank
	BlocksPerBank = BankSize / BlockSize

	// MapOffset is where audio data starts inside a bank; the voice map
	// occupies the bytes before it
	MapOffset = 0x400

	// MapEntrySize is the size of one voice map entry: 24-bit start and end
	// addresses, little-endian
	MapEntrySize = 6

	// MaxVoiceEntries is the number of map entries that fit before MapOffset
	MaxVoiceEntries = MapOffset / MapEntrySize

	// ChunkSize is the largest payload of a single page write
	ChunkSize = 32

	// ConfigRegion0 holds the voice bank count in its last byte
	ConfigRegion0 = 0x000000

	// ConfigRegion1 is rewritten unchanged after the config sector erase
	ConfigRegion1 = 0x000020

	// ConfigRegionSize is the size of one config region (one page)
	ConfigRegionSize = 32

	// bankCountOffset is the position of the bank count inside ConfigRegion0
	bankCountOffset = ConfigRegionSize - 1
)

// Bank selects one of the three voice banks.
type Bank int

const (
	Bank1 Bank = 1
	Bank2 Bank = 2
	Bank3 Bank = 3
)

// ParseBank validates a bank number.
func ParseBank(n int) (Bank, error) {
	b := Bank(n)
	if !b.Valid() {
		return 0, fmt.Errorf("invalid voice bank %d: must be 1..3", n)
	}
	return b, nil
}

// Valid reports whether b is one of the three voice banks.
func (b Bank) Valid() bool {
	return b >= Bank1 && b <= Bank3
}

// Offset returns the first EEPROM address of the bank.
func (b Bank) Offset() uint32 {
	return uint32(b) * BankSize
}

// AudioStart returns the first address available for voice data.
func (b Bank) AudioStart() uint32 {
	return b.Offset() + MapOffset
}

// End returns the last address of the bank.
func (b Bank) End() uint32 {
	return b.Offset() + BankSize - 1
}

func (b Bank) String() string {
	return fmt.Sprintf("bank %d (0x%06X)", int(b), b.Offset())
}

// NextAddress returns the chunk-aligned address following n bytes written at start.
func NextAddress(start uint32, n int) uint32 {
	chunks := (n + ChunkSize - 1) / ChunkSize
	return start + uint32(chunks*ChunkSize)
}

package ihex

import "fmt"

// Record types.
const (
	// TypeData carries data bytes for the current 16-bit window
	TypeData = 0x00

	// TypeEOF ends the file
	TypeEOF = 0x01

	// TypeExtendedLinear sets the upper 16 address bits for following data records
	TypeExtendedLinear = 0x04
)

// Record is one decoded Intel-HEX line.
type Record struct {
	// DataSize is the number of data bytes declared by the record
	DataSize byte

	// MidAdd is the high byte of the record's 16-bit address window
	MidAdd byte

	// LowAdd is the low byte of the record's 16-bit address window
	LowAdd byte

	// RecType is the record type (data, EOF, extended linear address, ...)
	RecType byte

	// Data holds DataSize bytes
	Data []byte

	// Checksum is the checksum byte as found in the file
	Checksum byte
}

// Address returns the 16-bit window offset of the record.
func (r Record) Address() uint16 {
	return uint16(r.MidAdd)<<8 | uint16(r.LowAdd)
}

// ComputeChecksum returns the two's complement of the sum of all fields
// preceding the checksum.
func (r Record) ComputeChecksum() byte {
	sum := r.DataSize + r.MidAdd + r.LowAdd + r.RecType
	for _, b := range r.Data {
		sum += b
	}
	return ^sum + 1
}

// ChecksumValid reports whether the stored checksum matches the record contents.
func (r Record) ChecksumValid() bool {
	return r.Checksum == r.ComputeChecksum()
}

func (r Record) String() string {
	return fmt.Sprintf("type=0x%02X addr=0x%04X size=%d", r.RecType, r.Address(), r.DataSize)
}

// DataRecord creates a data record for the given window offset with a valid checksum.
func DataRecord(addr uint16, data []byte) Record {
	r := Record{
		DataSize: byte(len(data)),
		MidAdd:   byte(addr >> 8),
		LowAdd:   byte(addr),
		RecType:  TypeData,
		Data:     append([]byte(nil), data...),
	}
	r.Checksum = r.ComputeChecksum()
	return r
}

// ExtendedLinearRecord creates a type 0x04 record selecting the upper 16 address bits.
func ExtendedLinearRecord(upper uint16) Record {
	r := Record{
		DataSize: 2,
		RecType:  TypeExtendedLinear,
		Data:     []byte{byte(upper >> 8), byte(upper)},
	}
	r.Checksum = r.ComputeChecksum()
	return r
}

// EOFRecord creates the end-of-file record.
func EOFRecord() Record {
	r := Record{RecType: TypeEOF}
	r.Checksum = r.ComputeChecksum()
	return r
}

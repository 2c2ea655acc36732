package ihex

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marcinbor85/gohex"
	"github.com/moffa90/go-voiceprog/protocol"
)

// Image is a flat copy of program memory, erased bytes set to 0xFF.
type Image struct {
	Data []byte
}

// NewImage allocates an erased image of the given size.
func NewImage(size int) *Image {
	return &Image{Data: bytes.Repeat([]byte{protocol.ErasedByte}, size)}
}

// Size returns the image size in bytes.
func (img *Image) Size() int {
	return len(img.Data)
}

// WriteRange is the inclusive address span that has to be programmed.
type WriteRange struct {
	Start uint32
	End   uint32
	Empty bool
}

// Len returns the number of bytes covered by the range.
func (r WriteRange) Len() int {
	if r.Empty {
		return 0
	}
	return int(r.End-r.Start) + 1
}

func (r WriteRange) String() string {
	if r.Empty {
		return "empty"
	}
	return fmt.Sprintf("0x%06X-0x%06X", r.Start, r.End)
}

// RangeError records data that fell outside the image and was dropped.
type RangeError struct {
	// Address is the first dropped address; it can exceed 32 bits when an
	// extended linear base plus record offset runs past 4 GiB
	Address uint64

	// Count is the number of bytes dropped from the same record
	Count int

	// Size is the image size the data did not fit in
	Size int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%d bytes at 0x%06X outside image of %d bytes", e.Count, e.Address, e.Size)
}

// BuildStats summarises one Build call.
type BuildStats struct {
	// DataRecords is the number of data records folded into the image
	// (contiguous segments in strict mode)
	DataRecords int

	// Written is the number of bytes stored in the image
	Written int

	// Dropped lists data that fell outside the image
	Dropped []*RangeError

	// EOF is true when folding stopped at an end-of-file record
	EOF bool

	// MaxAddress is the highest address written, valid when Written > 0
	MaxAddress uint32
}

// folder accumulates data into an image while tracking the highest address.
type folder struct {
	img   *Image
	stats BuildStats
	cfg   parseConfig
}

func (f *folder) put(addr uint64, data []byte) {
	var dropped *RangeError
	for i, b := range data {
		a := addr + uint64(i)
		if a >= uint64(len(f.img.Data)) {
			if dropped == nil {
				dropped = &RangeError{Address: a, Size: len(f.img.Data)}
			}
			dropped.Count++
			continue
		}
		f.img.Data[a] = b
		if f.stats.Written == 0 || uint32(a) > f.stats.MaxAddress {
			f.stats.MaxAddress = uint32(a)
		}
		f.stats.Written++
	}
	if dropped != nil {
		f.cfg.log.Warn().Err(dropped).Msg("dropping out of range data")
		f.stats.Dropped = append(f.stats.Dropped, dropped)
	}
}

func (f *folder) writeRange() WriteRange {
	if f.stats.Written == 0 || f.stats.MaxAddress < protocol.ProgramStart {
		return WriteRange{Empty: true}
	}
	return WriteRange{Start: protocol.ProgramStart, End: f.stats.MaxAddress}
}

func newFolder(opts []Option) *folder {
	cfg := newParseConfig(opts)
	return &folder{img: NewImage(cfg.imageSize), cfg: cfg}
}

// Build folds records, in order, into an erased image.
//
// Extended linear address records shift the upper address bits of the data
// records that follow them. Folding stops at the first EOF record. Other
// record types are ignored. The returned range starts at
// protocol.ProgramStart and ends at the highest written address; it is empty
// when nothing was written at or above ProgramStart.
func Build(records []Record, opts ...Option) (*Image, WriteRange) {
	img, rng, _ := BuildWithStats(records, opts...)
	return img, rng
}

// BuildWithStats is Build that also reports what happened while folding.
func BuildWithStats(records []Record, opts ...Option) (*Image, WriteRange, BuildStats) {
	f := newFolder(opts)

	var extendedLinear uint32
	for _, rec := range records {
		if rec.RecType == TypeEOF {
			f.stats.EOF = true
			break
		}

		switch rec.RecType {
		case TypeExtendedLinear:
			if len(rec.Data) != 2 {
				f.cfg.log.Warn().Stringer("record", rec).Msg("ignoring malformed extended linear address")
				continue
			}
			extendedLinear = uint32(rec.Data[0])<<8 | uint32(rec.Data[1])
		case TypeData:
			f.stats.DataRecords++
			base := uint64(extendedLinear)<<16 + uint64(rec.Address())
			f.put(base, rec.Data[:min(int(rec.DataSize), len(rec.Data))])
		}
	}

	return f.img, f.writeRange(), f.stats
}

// BuildStrict parses and folds a hex file with full validation: any
// malformed line, checksum mismatch or missing EOF record fails the build.
func BuildStrict(r io.Reader, opts ...Option) (*Image, WriteRange, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, WriteRange{}, fmt.Errorf("strict hex parse: %w", err)
	}

	f := newFolder(opts)
	for _, seg := range mem.GetDataSegments() {
		f.stats.DataRecords++
		f.put(uint64(seg.Address), seg.Data)
	}

	return f.img, f.writeRange(), nil
}

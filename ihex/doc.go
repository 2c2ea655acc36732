// Package ihex parses Intel-HEX firmware files and folds them into a flat
// program-memory image.
//
// # Record Format
//
// Every record line starts with ':' followed by hex characters:
//
//	:[Size(2)][Address(4)][Type(2)][Data(Size*2)][Checksum(2)]
//
// Example record:
//
//	:0400100001020304E2
//	  04 = 4 data bytes
//	  0010 = address 0x0010 in the current 64 KiB window
//	  00 = data record
//	  01020304 = data
//	  E2 = checksum
//
// Supported record types are data (0x00), end of file (0x01) and extended
// linear address (0x04). Other types parse but are ignored when building.
//
// # Usage
//
//	records, err := ihex.ParseFile("firmware.hex", ihex.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//
//	img, rng := ihex.Build(records)
//	if rng.Empty {
//	    return errors.New("nothing to program")
//	}
//	fmt.Printf("programming %s (%d bytes)\n", rng, rng.Len())
//
// # Error Handling
//
// Parsing is lenient by default: malformed lines are logged, reported through
// WithSkipHandler and skipped, and checksums are not verified. WithStrict
// turns both into a *ParseError carrying the line number. BuildStrict goes
// further and validates the whole file, EOF record included.
//
// Data that falls outside the image is dropped and reported in
// BuildStats.Dropped.
package ihex

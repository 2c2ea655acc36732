package ihex

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/rs/zerolog"
)

// Constants for Intel-HEX line parsing.
const (
	// StartCode prefixes every record line
	StartCode = ':'

	// MinRecordChars is the minimum number of hex characters after the start code:
	// size(2) + address(4) + type(2) + checksum(2)
	MinRecordChars = 10

	// RecordOverhead is the number of non-data bytes in a record
	RecordOverhead = 5

	// DefaultRecordCapacity is the initial capacity of the record slice
	DefaultRecordCapacity = 1024
)

// ParseError describes a line that could not be decoded.
type ParseError struct {
	// Line is the 1-based line number, 0 when parsing a single line
	Line int

	// Reason describes what was wrong with the line
	Reason string

	// Err is the underlying decode error, if any
	Err error
}

func (e *ParseError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

type parseConfig struct {
	log       zerolog.Logger
	onSkip    func(*ParseError)
	imageSize int
	strict    bool
}

// Option configures parsing and image building.
type Option func(*parseConfig)

// WithLogger sets the logger used for skipped-line and range diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *parseConfig) {
		c.log = logger
	}
}

// WithStrict enables checksum validation. In strict mode the first bad line
// fails the whole parse instead of being skipped.
func WithStrict(strict bool) Option {
	return func(c *parseConfig) {
		c.strict = strict
	}
}

// WithImageSize overrides the image size used by Build. Parts with more than
// 64 KiB of program memory need a larger image to keep extended linear data.
func WithImageSize(size int) Option {
	return func(c *parseConfig) {
		if size > 0 {
			c.imageSize = size
		}
	}
}

// WithSkipHandler registers a callback invoked for every skipped line.
func WithSkipHandler(fn func(*ParseError)) Option {
	return func(c *parseConfig) {
		c.onSkip = fn
	}
}

func newParseConfig(opts []Option) parseConfig {
	cfg := parseConfig{log: zerolog.Nop(), imageSize: protocol.ImageSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ParseLine decodes a single record line.
//
// The checksum byte is extracted but not verified; use Record.ChecksumValid
// or WithStrict when verification is wanted.
func ParseLine(line string) (Record, error) {
	line = strings.TrimSpace(line)

	if line == "" || line[0] != StartCode {
		return Record{}, &ParseError{Reason: "record must start with ':'"}
	}
	body := line[1:]

	if len(body) < MinRecordChars {
		return Record{}, &ParseError{
			Reason: fmt.Sprintf("record too short: got %d characters, minimum is %d", len(body), MinRecordChars),
		}
	}

	data, err := hex.DecodeString(body)
	if err != nil {
		return Record{}, &ParseError{Reason: "invalid hex data", Err: err}
	}

	size := data[0]
	expectedLen := RecordOverhead + int(size)
	if len(data) != expectedLen {
		return Record{}, &ParseError{
			Reason: fmt.Sprintf("length mismatch: got %d bytes, expected %d (header=4 + data=%d + checksum=1)",
				len(data), expectedLen, size),
		}
	}

	rec := Record{
		DataSize: size,
		MidAdd:   data[1],
		LowAdd:   data[2],
		RecType:  data[3],
		Data:     make([]byte, size),
		Checksum: data[len(data)-1],
	}
	copy(rec.Data, data[4:4+int(size)])

	return rec, nil
}

// Parse reads Intel-HEX text and returns the decoded records in file order.
//
// Blank lines are ignored. Lines that fail to decode are logged and skipped
// unless strict mode is enabled. Only I/O errors and strict-mode violations
// are returned.
func Parse(r io.Reader, opts ...Option) ([]Record, error) {
	cfg := newParseConfig(opts)
	scanner := bufio.NewScanner(r)
	records := make([]Record, 0, DefaultRecordCapacity)

	lineNum := 0
	skipped := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := ParseLine(line)
		if err == nil && cfg.strict && !rec.ChecksumValid() {
			err = &ParseError{
				Reason: fmt.Sprintf("checksum mismatch: got 0x%02X, expected 0x%02X",
					rec.Checksum, rec.ComputeChecksum()),
			}
		}

		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				pe = &ParseError{Reason: "invalid record", Err: err}
			}
			pe.Line = lineNum
			if cfg.strict {
				return nil, pe
			}
			skipped++
			cfg.log.Warn().Int("line", lineNum).Err(pe).Msg("skipping hex record")
			if cfg.onSkip != nil {
				cfg.onSkip(pe)
			}
			continue
		}

		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hex data: %w", err)
	}

	if len(records) == 0 {
		cfg.log.Warn().Int("lines", lineNum).Msg("no hex records found")
	} else if skipped > 0 {
		cfg.log.Warn().Int("skipped", skipped).Int("records", len(records)).Msg("hex file contained invalid lines")
	}

	return records, nil
}

// ParseFile parses an Intel-HEX file from disk.
func ParseFile(path string, opts ...Option) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f, opts...)
}

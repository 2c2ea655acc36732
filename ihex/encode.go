package ihex

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// FormatRecord renders a record as an Intel-HEX line without line terminator.
// The stored checksum is written as-is.
func FormatRecord(r Record) string {
	buf := make([]byte, 0, RecordOverhead+len(r.Data))
	buf = append(buf, r.DataSize, r.MidAdd, r.LowAdd, r.RecType)
	buf = append(buf, r.Data...)
	buf = append(buf, r.Checksum)

	return string(StartCode) + strings.ToUpper(hex.EncodeToString(buf))
}

// Write renders records one per line.
func Write(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := bw.WriteString(FormatRecord(r) + "\n"); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

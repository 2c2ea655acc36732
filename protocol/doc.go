// Package protocol implements the command protocol of the voice device loader.
//
// # Frame Layout
//
// Every command and every response is a fixed 37-byte frame:
//
//	[CMD][ADDR_H][ADDR_M][ADDR_L][LEN][PAYLOAD(LEN)][ZERO PADDING]
//
// Where:
//   - CMD is the command code (responses carry the status code here)
//   - ADDR is a 24-bit device address, most significant byte first
//   - LEN is the payload length, at most 32 bytes
//
// # Command Codes
//
//	0x01 PROGRAM_MEM_BLOCK      0x04 ERASE_EEPROM_BLOCK (64 KiB)
//	0x02 READ_EEPROM_PAGE       0x05 WRITE_EEPROM_PAGE
//	0x03 EEPROM_CLEAR_PROTECTION 0x06 SET_MODE
//
// A response whose first byte is Ack (0x0D) is a success; anything else is
// a NACK.
//
// # Exchanges
//
// Client.Execute runs one request/response exchange:
//
//	client := protocol.NewClient(transport, protocol.WithTimeout(2*time.Second))
//	resp, err := client.Execute(ctx, protocol.CmdReadEEPROMPage, 0x000000, nil)
//	if err != nil {
//	    return err
//	}
//	data, err := resp.Payload()
//
// Only one exchange can be outstanding. A call made while another is still
// waiting fails immediately with ErrBusy. On timeout the response listener
// is detached so a late frame is never attributed to the next exchange.
//
// # Error Handling
//
// Execute wraps every failure in a *CommandError. Use errors.Is and
// errors.As to classify it:
//
//	switch {
//	case errors.Is(err, protocol.ErrTimeout):
//	case protocol.IsNack(err):
//	case errors.Is(err, protocol.ErrBusy):
//	}
package protocol

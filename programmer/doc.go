// Package programmer runs complete programming jobs: firmware into program
// memory and voice packs into the external EEPROM.
//
// # Overview
//
// A run walks the device through a fixed sequence of states:
//
//	Idle → Connecting → ProgMode → WritingFirmware
//	     → ErasingVoice → WritingVoice → UpdatingConfig
//	     → RunMode → Disconnecting → Idle
//
// The firmware and voice stages are optional. Any failure aborts the
// remaining stages; the device is switched back to run mode if programming
// mode was entered and then closed.
//
// # Basic Usage
//
//	dev := transport.NewHID(transport.OpenHIDFirst(0x04d8, 0xf2bf))
//	prog := programmer.New(dev)
//
//	err := prog.Run(ctx, programmer.Job{
//	    Firmware: "firmware.hex",
//	    Voice: &programmer.VoiceJob{
//	        Bank:    eeprom.Bank1,
//	        Entries: pack.Entries(),
//	    },
//	})
//
// # Progress Tracking
//
//	prog := programmer.New(dev,
//	    programmer.WithProgressCallback(func(p programmer.Progress) {
//	        fmt.Printf("[%s] %.1f%% %d/%d\n", p.Phase, p.Percentage, p.Current, p.Total)
//	    }),
//	    programmer.WithStateCallback(func(from, to programmer.State) {
//	        fmt.Println(from, "->", to)
//	    }),
//	)
//
// # Error Handling
//
// Errors carry the failing stage as a *StageError. Below it sit the
// package-specific causes (*flash.BlockError, *eeprom.EraseError,
// *VoiceError, *ihex.ParseError) and, at the bottom, the exchange failure
// (*protocol.NackError, protocol.ErrTimeout, *protocol.TransportError).
// When cleanup fails too, its errors are joined after the original as a
// *CleanupError:
//
//	var nack *protocol.NackError
//	if errors.As(err, &nack) {
//	    log.Printf("device rejected command: 0x%02X", nack.Code)
//	}
//	var cleanup *programmer.CleanupError
//	if errors.As(err, &cleanup) {
//	    log.Printf("device may still be in programming mode: %v", cleanup)
//	}
package programmer

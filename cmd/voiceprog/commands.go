package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/moffa90/go-voiceprog/catalog"
	"github.com/moffa90/go-voiceprog/eeprom"
	"github.com/moffa90/go-voiceprog/flash"
	"github.com/moffa90/go-voiceprog/ihex"
	"github.com/moffa90/go-voiceprog/programmer"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/moffa90/go-voiceprog/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newFirmwareCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "firmware <file.hex>",
		Short: "Program an Intel-HEX firmware image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := a.programmer(cmd)
			if err != nil {
				return err
			}
			return prog.ProgramFirmware(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&a.strict, "strict", false, "reject hex files with bad lines or checksums")
	return cmd
}

// voiceFlags are shared by the voice and flash commands.
type voiceFlags struct {
	catalog   string
	bank      int
	bankCount int
}

func (f *voiceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.catalog, "catalog", "", "voice catalog XML (default from config)")
	cmd.Flags().IntVar(&f.bank, "bank", 0, "voice bank 1..3 (default from catalog)")
	cmd.Flags().IntVar(&f.bankCount, "bank-count", 0, "bank count stored in the config sector (default: bank number)")
}

func (f *voiceFlags) job(cat *catalog.Catalog, pack string) (*programmer.VoiceJob, error) {
	vp, err := cat.VoicePack(pack)
	if err != nil {
		return nil, err
	}

	n := vp.Bank
	if f.bank != 0 {
		n = f.bank
	}
	bank, err := eeprom.ParseBank(n)
	if err != nil {
		return nil, err
	}

	entries := vp.Entries()
	if len(entries) == 0 {
		return nil, fmt.Errorf("voice pack %q has no valid voices", pack)
	}
	return &programmer.VoiceJob{Bank: bank, Entries: entries, BankCount: f.bankCount}, nil
}

func newVoiceCmd(a *app) *cobra.Command {
	var vf voiceFlags
	cmd := &cobra.Command{
		Use:   "voice <pack>",
		Short: "Write a voice pack from the catalog into a voice bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog(vf.catalog)
			if err != nil {
				return err
			}
			job, err := vf.job(cat, args[0])
			if err != nil {
				return err
			}
			prog, err := a.programmer(cmd)
			if err != nil {
				return err
			}
			return prog.Run(cmd.Context(), programmer.Job{Voice: job})
		},
	}
	vf.register(cmd)
	return cmd
}

func newFlashCmd(a *app) *cobra.Command {
	var vf voiceFlags
	cmd := &cobra.Command{
		Use:   "flash <firmware> <pack>",
		Short: "Program catalog firmware and a voice pack in one session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog(vf.catalog)
			if err != nil {
				return err
			}
			fw, err := cat.FirmwareByName(args[0])
			if err != nil {
				return err
			}
			job, err := vf.job(cat, args[1])
			if err != nil {
				return err
			}
			prog, err := a.programmer(cmd)
			if err != nil {
				return err
			}
			return prog.Run(cmd.Context(), programmer.Job{Firmware: fw.File, Voice: job})
		},
	}
	vf.register(cmd)
	cmd.Flags().BoolVar(&a.strict, "strict", false, "reject hex files with bad lines or checksums")
	return cmd
}

func newModeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "mode <run|prog>",
		Short:     "Switch the device between run and programming mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"run", "prog"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode protocol.Mode
			switch strings.ToLower(args[0]) {
			case "run":
				mode = protocol.ModeRun
			case "prog":
				mode = protocol.ModeProg
			default:
				return fmt.Errorf("unknown mode %q", args[0])
			}

			prog, err := a.programmer(cmd)
			if err != nil {
				return err
			}
			if err := prog.SetMode(cmd.Context(), mode); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "device in %s mode\n", mode)
			return nil
		},
	}
}

func newInspectCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file.hex>",
		Short: "Show what a hex file would program, without a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := afero.ReadFile(a.fs, args[0])
			if err != nil {
				return fmt.Errorf("failed to read hex file: %w", err)
			}

			opts := []ihex.Option{
				ihex.WithLogger(log.Logger),
				ihex.WithImageSize(a.cfg.ImageSize()),
			}
			out := cmd.OutOrStdout()

			if a.strict || a.cfg.StrictHex() {
				_, rng, err := ihex.BuildStrict(bytes.NewReader(data), opts...)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, "checksums:     ok")
				printRange(cmd, rng)
				return nil
			}

			skipped := 0
			records, err := ihex.Parse(bytes.NewReader(data), append(opts,
				ihex.WithSkipHandler(func(*ihex.ParseError) { skipped++ }))...)
			if err != nil {
				return err
			}

			badSums := 0
			for _, rec := range records {
				if !rec.ChecksumValid() {
					badSums++
				}
			}

			_, rng, stats := ihex.BuildWithStats(records, opts...)
			_, _ = fmt.Fprintf(out, "records:       %d (%d skipped lines)\n", len(records), skipped)
			_, _ = fmt.Fprintf(out, "data records:  %d\n", stats.DataRecords)
			_, _ = fmt.Fprintf(out, "bad checksums: %d\n", badSums)
			_, _ = fmt.Fprintf(out, "bytes:         %d\n", stats.Written)
			_, _ = fmt.Fprintf(out, "eof record:    %t\n", stats.EOF)
			for _, d := range stats.Dropped {
				_, _ = fmt.Fprintf(out, "dropped:       %v\n", d)
			}
			printRange(cmd, rng)
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.strict, "strict", false, "validate checksums and structure")
	return cmd
}

func printRange(cmd *cobra.Command, rng ihex.WriteRange) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "write range:   %s (%d blocks)\n", rng, flash.BlockCount(rng))
}

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List attached HID devices and serial ports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			dev := a.cfg.Device()

			var errs []error
			hids, err := transport.Enumerate(dev.VendorID, dev.ProductID)
			if err != nil {
				errs = append(errs, err)
			}
			_, _ = fmt.Fprintf(out, "HID devices (%04x:%04x):\n", dev.VendorID, dev.ProductID)
			for _, d := range hids {
				_, _ = fmt.Fprintf(out, "  %s\n", d)
			}

			ports, err := transport.ListSerialPorts()
			if err != nil {
				errs = append(errs, err)
			}
			_, _ = fmt.Fprintln(out, "serial ports:")
			for _, p := range ports {
				_, _ = fmt.Fprintf(out, "  %s\n", p)
			}
			return errors.Join(errs...)
		},
	}
}

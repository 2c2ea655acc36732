package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moffa90/go-voiceprog/assets"
	"github.com/moffa90/go-voiceprog/catalog"
	"github.com/moffa90/go-voiceprog/config"
	"github.com/moffa90/go-voiceprog/internal/devicesim"
	"github.com/moffa90/go-voiceprog/programmer"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/moffa90/go-voiceprog/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var errNoSerialPath = errors.New("serial transport needs a device path")

// app holds state shared by all subcommands.
type app struct {
	fs  afero.Fs
	cfg *config.Instance

	// sim is the device used with --simulate, created on first use
	sim *devicesim.Device

	configPath string
	transport  string
	path       string
	debug      bool
	simulate   bool
	strict     bool
	quiet      bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "voiceprog",
		Short:         "Program firmware and voice packs into voice modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: user config dir)")
	flags.StringVar(&a.transport, "transport", "", "device transport: hid or serial")
	flags.StringVar(&a.path, "path", "", "device path (HID path or serial port)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&a.simulate, "simulate", false, "program an in-process simulated device")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "do not print progress")

	root.AddCommand(
		newFirmwareCmd(a),
		newVoiceCmd(a),
		newFlashCmd(a),
		newModeCmd(a),
		newInspectCmd(a),
		newDevicesCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.Open(a.fs, a.configPath, config.BaseDefaults)
	} else {
		var dir string
		dir, err = os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("failed to find config dir: %w", err)
		}
		a.cfg, err = config.NewConfig(a.fs, filepath.Join(dir, "voiceprog"), config.BaseDefaults)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	initLogging(a.cfg, cmd.ErrOrStderr(), a.debug)
	log.Debug().Str("config", a.cfg.Path()).Msg("config loaded")
	return nil
}

// device builds the transport selected by flags and config.
func (a *app) device() (protocol.Transport, error) {
	if a.simulate {
		if a.sim == nil {
			a.sim = devicesim.New(devicesim.WithLogger(log.Logger))
		}
		log.Info().Msg("using simulated device")
		return a.sim, nil
	}

	dev := a.cfg.Device()
	kind := dev.Transport
	if a.transport != "" {
		kind = a.transport
	}
	path := dev.Path
	if a.path != "" {
		path = a.path
	}

	switch kind {
	case config.TransportHID:
		opener := transport.OpenHIDFirst(dev.VendorID, dev.ProductID)
		if path != "" {
			opener = transport.OpenHIDPath(path)
		}
		return transport.NewHID(opener,
			transport.WithHIDLogger(log.Logger),
			transport.WithReportID(dev.ReportID),
		), nil
	case config.TransportSerial:
		if path == "" {
			return nil, errNoSerialPath
		}
		return transport.NewSerial(path,
			transport.WithBaudRate(dev.BaudRate),
			transport.WithSerialLogger(log.Logger),
		), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

func (a *app) source() assets.Source {
	return assets.NewFSSource(a.fs, a.cfg.AssetDir())
}

func (a *app) programmer(cmd *cobra.Command) (*programmer.Programmer, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}

	opts := []programmer.Option{
		programmer.WithLogger(log.Logger),
		programmer.WithSource(a.source()),
		programmer.WithTimeout(a.cfg.Timeout()),
		programmer.WithCommandInterval(a.cfg.CommandInterval()),
		programmer.WithImageSize(a.cfg.ImageSize()),
		programmer.WithStrictHex(a.strict || a.cfg.StrictHex()),
		programmer.WithStateCallback(func(from, to programmer.State) {
			log.Debug().Stringer("from", from).Stringer("to", to).Msg("state changed")
		}),
	}
	if !a.quiet {
		opts = append(opts, programmer.WithProgressCallback(newProgressPrinter(cmd.OutOrStdout())))
	}
	return programmer.New(dev, opts...), nil
}

func (a *app) catalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		path = a.cfg.VoiceCatalog()
	}
	if path == "" {
		return nil, errors.New("no voice catalog given and none configured")
	}
	if dir := a.cfg.AssetDir(); dir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return catalog.Load(a.fs, path, catalog.WithLogger(log.Logger))
}

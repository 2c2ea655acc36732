package programmer

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/moffa90/go-voiceprog/assets"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/rs/zerolog"
)

// Config holds the programmer configuration.
type Config struct {
	// ProgressCallback is called during programming to report progress (optional)
	ProgressCallback ProgressCallback

	// StateCallback is called on every state transition (optional)
	StateCallback StateCallback

	// Logger receives run diagnostics; defaults to a no-op logger
	Logger zerolog.Logger

	// Clock drives timeouts and elapsed time reporting
	Clock clockwork.Clock

	// Source supplies firmware and voice files; defaults to the OS filesystem
	Source assets.Source

	// Decoder is applied to firmware files before hex parsing (optional)
	Decoder assets.Decoder

	// Timeout bounds every command exchange
	Timeout time.Duration

	// CommandInterval is the minimum delay between consecutive commands
	CommandInterval time.Duration

	// ImageSize is the program memory image size used for hex folding
	ImageSize int

	// StrictHex rejects hex files with bad lines or checksums
	StrictHex bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Logger:    zerolog.Nop(),
		Clock:     clockwork.NewRealClock(),
		Timeout:   protocol.DefaultTimeout,
		ImageSize: protocol.ImageSize,
	}
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithProgressCallback sets a callback function to track programming progress.
//
// Example:
//
//	prog := programmer.New(device,
//	    programmer.WithProgressCallback(func(p programmer.Progress) {
//	        fmt.Printf("%s %.1f%%\n", p.Phase, p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithStateCallback sets a callback invoked on every state change.
func WithStateCallback(callback StateCallback) Option {
	return func(c *Config) {
		c.StateCallback = callback
	}
}

// WithLogger sets the logger for programmer operations.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeout sets the per-command response timeout.
//
// Example:
//
//	prog := programmer.New(device, programmer.WithTimeout(5*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithCommandInterval sets a minimum delay between consecutive commands.
func WithCommandInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.CommandInterval = interval
	}
}

// WithClock replaces the clock, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

// WithSource sets where firmware and voice files are read from.
func WithSource(src assets.Source) Option {
	return func(c *Config) {
		c.Source = src
	}
}

// WithDecoder sets a transform applied to firmware files before parsing.
func WithDecoder(decoder assets.Decoder) Option {
	return func(c *Config) {
		c.Decoder = decoder
	}
}

// WithStrictHex enables strict hex validation.
func WithStrictHex(strict bool) Option {
	return func(c *Config) {
		c.StrictHex = strict
	}
}

// WithImageSize sets the program memory image size. Default is 64 KiB.
func WithImageSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.ImageSize = size
		}
	}
}

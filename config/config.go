// Package config loads and saves the voiceprog TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moffa90/go-voiceprog/internal/syncutil"
	"github.com/moffa90/go-voiceprog/protocol"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "VOICEPROG_CFG"
	CfgFile       = "voiceprog.toml"

	TransportHID    = "hid"
	TransportSerial = "serial"
)

// ErrSchemaMismatch is returned when the file's schema version is not SchemaVersion.
var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	Device       Device   `toml:"device"`
	Logging      Logging  `toml:"logging"`
	Voice        Voice    `toml:"voice,omitempty"`
	Protocol     Protocol `toml:"protocol"`
	Firmware     Firmware `toml:"firmware"`
	ConfigSchema int      `toml:"config_schema"`
	DebugLogging bool     `toml:"debug_logging"`
}

type Device struct {
	Transport string `toml:"transport" validate:"oneof=hid serial"`
	Path      string `toml:"path,omitempty"`
	BaudRate  int    `toml:"baud_rate,omitempty" validate:"gte=0"`
	VendorID  uint16 `toml:"vendor_id"`
	ProductID uint16 `toml:"product_id"`
	ReportID  bool   `toml:"report_id"`
}

type Protocol struct {
	TimeoutMs         int `toml:"timeout_ms" validate:"gt=0"`
	CommandIntervalMs int `toml:"command_interval_ms" validate:"gte=0"`
}

type Firmware struct {
	ImageSize int  `toml:"image_size" validate:"gte=4096"`
	Strict    bool `toml:"strict"`
}

type Voice struct {
	Catalog  string `toml:"catalog,omitempty"`
	AssetDir string `toml:"asset_dir,omitempty"`
}

type Logging struct {
	File       string `toml:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `toml:"max_backups" validate:"gte=0"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Device: Device{
		Transport: TransportHID,
		VendorID:  0x04D8,
		ProductID: 0xF2BF,
		BaudRate:  115200,
		ReportID:  true,
	},
	Protocol: Protocol{
		TimeoutMs: int(protocol.DefaultTimeout / time.Millisecond),
	},
	Firmware: Firmware{
		ImageSize: protocol.ImageSize,
	},
	Logging: Logging{
		MaxSizeMB:  1,
		MaxBackups: 2,
	},
}

type Instance struct {
	fs       afero.Fs
	validate *validator.Validate
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// NewConfig loads the config file from configDir, writing defaults first if
// it does not exist. The VOICEPROG_CFG environment variable overrides the
// file location.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}
	return Open(fs, cfgPath, defaults)
}

// Open loads the config file at cfgPath, writing defaults first if it does
// not exist.
//
//nolint:gocritic // config struct copied for immutability
func Open(fs afero.Fs, cfgPath string, defaults Values) (*Instance, error) {
	cfg := &Instance{
		fs:       fs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := fs.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Str("path", cfgPath).Msg("saving new default config to disk")
		if err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file location.
func (c *Instance) Path() string {
	return c.cfgPath
}

// Load rereads the config file. Fields missing from the file keep their
// default values.
func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	newVals := c.defaults
	if err := toml.Unmarshal(data, &newVals); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf("schema version mismatch: got %d, expecting %d", newVals.ConfigSchema, SchemaVersion)
		return ErrSchemaMismatch
	}

	if err := c.validate.Struct(newVals); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.vals = newVals
	return nil
}

// Save writes the current values to disk.
func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vals.ConfigSchema = SchemaVersion
	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Values returns a copy of the loaded values.
func (c *Instance) Values() Values {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals
}

func (c *Instance) Device() Device {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device
}

func (c *Instance) Timeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Protocol.TimeoutMs) * time.Millisecond
}

func (c *Instance) CommandInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Protocol.CommandIntervalMs) * time.Millisecond
}

func (c *Instance) StrictHex() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Firmware.Strict
}

func (c *Instance) ImageSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Firmware.ImageSize
}

func (c *Instance) VoiceCatalog() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Voice.Catalog
}

func (c *Instance) AssetDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Voice.AssetDir
}

func (c *Instance) Logging() Logging {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Logging
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

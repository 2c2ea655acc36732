// Package catalog reads the XML catalog that lists firmware images and
// voice packs available for programming.
//
//	<catalog>
//	  <firmware name="Main" file="fw/main.hex"/>
//	  <voicepack name="English" bank="1" base="voices/en">
//	    <voice index="0" file="hello.bin"/>
//	  </voicepack>
//	</catalog>
package catalog

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/moffa90/go-voiceprog/eeprom"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ErrNotFound is returned by lookups for names the catalog does not contain.
var ErrNotFound = errors.New("not found in catalog")

// Firmware is one programmable firmware image.
type Firmware struct {
	Name string `xml:"name,attr" validate:"required"`
	File string `xml:"file,attr" validate:"required"`
}

// Voice is one voice file of a pack.
type Voice struct {
	File  string `xml:"file,attr" validate:"required"`
	Index int    `xml:"index,attr" validate:"voiceindex"`
}

// VoicePack is a set of voice files destined for one bank.
type VoicePack struct {
	Name   string  `xml:"name,attr" validate:"required"`
	Base   string  `xml:"base,attr"`
	Voices []Voice `xml:"voice"`
	Bank   int     `xml:"bank,attr" validate:"gte=1,lte=3"`

	log      zerolog.Logger
	validate *validator.Validate
}

// Entry is a voice ready to be written: its map index and file path.
type Entry struct {
	Path  string
	Index int
}

// Catalog is a parsed catalog document.
type Catalog struct {
	XMLName    xml.Name    `xml:"catalog"`
	Firmware   []Firmware  `xml:"firmware"`
	VoicePacks []VoicePack `xml:"voicepack"`
}

type options struct {
	log zerolog.Logger
}

// Option configures parsing.
type Option func(*options)

// WithLogger sets the logger used to report skipped entries.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.log = logger
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("voiceindex", func(fl validator.FieldLevel) bool {
		i := fl.Field().Int()
		return i >= 0 && i < eeprom.MaxVoiceEntries
	})
	return v
}

// Parse decodes a catalog. Firmware entries and voice packs that fail
// validation are dropped with a warning.
func Parse(r io.Reader, opts ...Option) (*Catalog, error) {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	var c Catalog
	if err := xml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog XML: %w", err)
	}

	v := newValidator()

	firmware := c.Firmware[:0]
	for _, fw := range c.Firmware {
		if err := v.Struct(fw); err != nil {
			o.log.Warn().Err(err).Str("name", fw.Name).Msg("skipping invalid firmware entry")
			continue
		}
		firmware = append(firmware, fw)
	}
	c.Firmware = firmware

	packs := c.VoicePacks[:0]
	for _, vp := range c.VoicePacks {
		if err := v.Struct(vp); err != nil {
			o.log.Warn().Err(err).Str("name", vp.Name).Msg("skipping invalid voice pack")
			continue
		}
		vp.log = o.log
		vp.validate = v
		packs = append(packs, vp)
	}
	c.VoicePacks = packs

	return &c, nil
}

// Load reads and parses a catalog file.
func Load(fs afero.Fs, path string, opts ...Option) (*Catalog, error) {
	f, err := fs.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return Parse(f, opts...)
}

// FirmwareByName returns the firmware entry with the given name.
func (c *Catalog) FirmwareByName(name string) (Firmware, error) {
	for _, fw := range c.Firmware {
		if fw.Name == name {
			return fw, nil
		}
	}
	return Firmware{}, fmt.Errorf("firmware %q: %w", name, ErrNotFound)
}

// VoicePack returns the voice pack with the given name.
func (c *Catalog) VoicePack(name string) (*VoicePack, error) {
	for i := range c.VoicePacks {
		if c.VoicePacks[i].Name == name {
			return &c.VoicePacks[i], nil
		}
	}
	return nil, fmt.Errorf("voice pack %q: %w", name, ErrNotFound)
}

// Entries returns the pack's voices ordered by index, paths joined to the
// pack base. Invalid voices are skipped with a warning; for duplicate
// indices the first in catalog order wins.
func (p *VoicePack) Entries() []Entry {
	v := p.validate
	if v == nil {
		v = newValidator()
	}

	seen := make(map[int]bool, len(p.Voices))
	entries := make([]Entry, 0, len(p.Voices))
	for _, voice := range p.Voices {
		if err := v.Struct(voice); err != nil {
			p.log.Warn().Err(err).Int("index", voice.Index).Str("file", voice.File).Msg("skipping invalid voice entry")
			continue
		}
		if seen[voice.Index] {
			p.log.Warn().Int("index", voice.Index).Str("file", voice.File).Msg("skipping duplicate voice index")
			continue
		}
		seen[voice.Index] = true

		path := voice.File
		if p.Base != "" {
			path = filepath.Join(p.Base, voice.File)
		}
		entries = append(entries, Entry{Index: voice.Index, Path: path})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Index < entries[j].Index
	})
	return entries
}

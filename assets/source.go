// Package assets fetches firmware and voice files for programming.
//
// A Source returns the bytes of a named file. Sources can be wrapped with a
// Decoder, for example to decrypt firmware before it reaches the hex parser.
package assets

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// Source returns file contents by name.
type Source interface {
	ReadFile(name string) ([]byte, error)
}

// Decoder transforms raw file bytes before use.
type Decoder func([]byte) ([]byte, error)

// FSSource reads files from an afero filesystem, relative to a base directory.
type FSSource struct {
	fs   afero.Fs
	base string
}

// NewFSSource creates a Source rooted at base. Absolute names bypass base.
func NewFSSource(fs afero.Fs, base string) *FSSource {
	return &FSSource{fs: fs, base: base}
}

// NewOSSource creates a Source over the operating system filesystem.
func NewOSSource(base string) *FSSource {
	return NewFSSource(afero.NewOsFs(), base)
}

// ReadFile implements Source.
func (s *FSSource) ReadFile(name string) ([]byte, error) {
	path := s.resolve(name)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Fs returns the underlying filesystem.
func (s *FSSource) Fs() afero.Fs {
	return s.fs
}

func (s *FSSource) resolve(name string) string {
	if s.base == "" || filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(s.base, name)
}

type decodingSource struct {
	src    Source
	decode Decoder
}

// WithDecoder returns a Source that passes every file through decode.
// A nil decoder returns src unchanged.
func WithDecoder(src Source, decode Decoder) Source {
	if decode == nil {
		return src
	}
	return &decodingSource{src: src, decode: decode}
}

func (d *decodingSource) ReadFile(name string) ([]byte, error) {
	raw, err := d.src.ReadFile(name)
	if err != nil {
		return nil, err
	}
	out, err := d.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return out, nil
}

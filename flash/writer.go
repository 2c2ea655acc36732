// Package flash programs a built firmware image into device program memory.
//
// The image is sent in protocol.BlockSize chunks with CmdProgramMemBlock,
// one exchange per block, starting at the first address of the write range.
// The trailing partial block is padded with erased bytes.
package flash

import (
	"bytes"
	"context"
	"fmt"

	"github.com/moffa90/go-voiceprog/ihex"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/rs/zerolog"
)

// Executor runs a single command exchange. *protocol.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, cmd byte, addr uint32, payload []byte) (protocol.Response, error)
}

// ProgressFunc is called after every programmed block.
type ProgressFunc func(done, total int)

// BlockError is returned when programming a block fails. Blocks before it
// have been written; no block after it was attempted.
type BlockError struct {
	// Address is the absolute address of the failed block
	Address uint32

	// Err is the underlying exchange error
	Err error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("program block at 0x%06X: %v", e.Address, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }

// Writer programs images block by block.
type Writer struct {
	exec     Executor
	log      zerolog.Logger
	progress ProgressFunc
}

// Option configures a Writer.
type Option func(*Writer)

// WithLogger sets the writer's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Writer) {
		w.log = logger
	}
}

// WithProgress registers a per-block progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(w *Writer) {
		w.progress = fn
	}
}

// NewWriter creates a Writer that issues commands through exec.
func NewWriter(exec Executor, opts ...Option) *Writer {
	if exec == nil {
		panic("executor cannot be nil")
	}

	w := &Writer{exec: exec, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// BlockCount returns the number of program commands needed for rng.
func BlockCount(rng ihex.WriteRange) int {
	n := rng.Len()
	return (n + protocol.BlockSize - 1) / protocol.BlockSize
}

// WriteImage programs img over rng. An empty range succeeds without
// touching the device. Writing stops at the first failed block.
func (w *Writer) WriteImage(ctx context.Context, img *ihex.Image, rng ihex.WriteRange) error {
	if rng.Empty {
		w.log.Debug().Msg("write range empty, nothing to program")
		return nil
	}
	if int(rng.End) >= img.Size() || rng.Start > rng.End {
		return fmt.Errorf("write range %s outside image of %d bytes", rng, img.Size())
	}

	total := BlockCount(rng)
	full := rng.Len() / protocol.BlockSize
	remainder := rng.Len() % protocol.BlockSize

	w.log.Info().
		Stringer("range", rng).
		Int("blocks", total).
		Msg("programming flash")

	addr := rng.Start
	for i := 0; i < full; i++ {
		block := img.Data[addr : addr+protocol.BlockSize]
		if err := w.writeBlock(ctx, addr, block); err != nil {
			return err
		}
		w.report(i+1, total)
		addr += protocol.BlockSize
	}

	if remainder > 0 {
		block := bytes.Repeat([]byte{protocol.ErasedByte}, protocol.BlockSize)
		copy(block, img.Data[addr:addr+uint32(remainder)])
		if err := w.writeBlock(ctx, addr, block); err != nil {
			return err
		}
		w.report(total, total)
	}

	w.log.Info().Int("blocks", total).Msg("flash programmed")
	return nil
}

func (w *Writer) writeBlock(ctx context.Context, addr uint32, block []byte) error {
	if _, err := w.exec.Execute(ctx, protocol.CmdProgramMemBlock, addr, block); err != nil {
		w.log.Error().Err(err).Str("address", fmt.Sprintf("0x%06X", addr)).Msg("block write failed")
		return &BlockError{Address: addr, Err: err}
	}
	return nil
}

func (w *Writer) report(done, total int) {
	if w.progress != nil {
		w.progress(done, total)
	}
}

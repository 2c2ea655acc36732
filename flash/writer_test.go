package flash

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/moffa90/go-voiceprog/ihex"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	cmd     byte
	addr    uint32
	payload []byte
}

type recorder struct {
	calls  []call
	failAt int // 1-based call index that fails, 0 never
	err    error
}

func (r *recorder) Execute(_ context.Context, cmd byte, addr uint32, payload []byte) (protocol.Response, error) {
	r.calls = append(r.calls, call{cmd: cmd, addr: addr, payload: append([]byte(nil), payload...)})
	if r.failAt == len(r.calls) {
		return protocol.Response{}, &protocol.CommandError{Command: cmd, Address: addr, Err: r.err}
	}
	return protocol.Response{Code: protocol.Ack}, nil
}

func imageWith(addr uint32, data []byte) (*ihex.Image, ihex.WriteRange) {
	return ihex.Build([]ihex.Record{ihex.DataRecord(uint16(addr), data)})
}

func TestWriteImageEmptyRange(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	img, rng := ihex.Build(nil)

	require.NoError(t, NewWriter(rec).WriteImage(context.Background(), img, rng))
	assert.Empty(t, rec.calls)
}

func TestWriteImageExactBlock(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0x11}, 32)
	img, rng := imageWith(0x1400, data)
	rec := &recorder{}

	require.NoError(t, NewWriter(rec).WriteImage(context.Background(), img, rng))

	require.Len(t, rec.calls, 1)
	assert.Equal(t, byte(protocol.CmdProgramMemBlock), rec.calls[0].cmd)
	assert.Equal(t, uint32(0x1400), rec.calls[0].addr)
	assert.Equal(t, data, rec.calls[0].payload)
}

func TestWriteImagePadsRemainder(t *testing.T) {
	t.Parallel()

	data := make([]byte, 33)
	for i := range data {
		data[i] = byte(i)
	}
	img, rng := imageWith(0x1400, data)
	rec := &recorder{}

	var progress [][2]int
	w := NewWriter(rec, WithProgress(func(done, total int) {
		progress = append(progress, [2]int{done, total})
	}))
	require.NoError(t, w.WriteImage(context.Background(), img, rng))

	require.Len(t, rec.calls, 2)
	assert.Equal(t, uint32(0x1400), rec.calls[0].addr)
	assert.Equal(t, data[:32], rec.calls[0].payload)

	assert.Equal(t, uint32(0x1420), rec.calls[1].addr)
	want := bytes.Repeat([]byte{0xFF}, 32)
	want[0] = data[32]
	assert.Equal(t, want, rec.calls[1].payload)

	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, progress)
}

func TestWriteImageRangeIncludesGaps(t *testing.T) {
	t.Parallel()

	img, rng := ihex.Build([]ihex.Record{
		ihex.DataRecord(0x1400, []byte{0x01}),
		ihex.DataRecord(0x1450, []byte{0x02}),
	})
	rec := &recorder{}

	require.NoError(t, NewWriter(rec).WriteImage(context.Background(), img, rng))

	// 0x1400..0x1450 is 81 bytes: two full blocks and a padded one.
	require.Len(t, rec.calls, 3)
	assert.Equal(t, []uint32{0x1400, 0x1420, 0x1440}, []uint32{rec.calls[0].addr, rec.calls[1].addr, rec.calls[2].addr})
	assert.Equal(t, byte(0x02), rec.calls[2].payload[0x10])
	assert.Equal(t, byte(0xFF), rec.calls[2].payload[0x11])
	assert.Equal(t, 3, BlockCount(rng))
}

func TestWriteImageAbortsOnNack(t *testing.T) {
	t.Parallel()

	img, rng := imageWith(0x1400, bytes.Repeat([]byte{0x22}, 128))
	rec := &recorder{failAt: 2, err: &protocol.NackError{Code: 0x01}}

	err := NewWriter(rec).WriteImage(context.Background(), img, rng)
	require.Error(t, err)
	assert.Len(t, rec.calls, 2)

	var be *BlockError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, uint32(0x1420), be.Address)
	assert.True(t, protocol.IsNack(err))
}

func TestWriteImageTimeout(t *testing.T) {
	t.Parallel()

	img, rng := imageWith(0x1400, bytes.Repeat([]byte{0x33}, 40))
	rec := &recorder{failAt: 1, err: protocol.ErrTimeout}

	err := NewWriter(rec).WriteImage(context.Background(), img, rng)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrTimeout))
	assert.Len(t, rec.calls, 1)
}

func TestWriteImageRejectsRangeOutsideImage(t *testing.T) {
	t.Parallel()

	img := ihex.NewImage(0x1000)
	err := NewWriter(&recorder{}).WriteImage(context.Background(), img, ihex.WriteRange{Start: 0x1400, End: 0x1500})
	require.Error(t, err)
}

func TestNewWriterPanicsOnNil(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewWriter(nil) })
}

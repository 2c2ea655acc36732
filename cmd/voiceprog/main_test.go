package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/moffa90/go-voiceprog/ihex"
	"github.com/moffa90/go-voiceprog/internal/devicesim"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `<catalog>
  <firmware name="Main" file="/fw/main.hex"/>
  <voicepack name="English" bank="1" base="/voices">
    <voice index="0" file="a.bin"/>
    <voice index="1" file="b.bin"/>
  </voicepack>
</catalog>`

func runCLI(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd(a)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", "/etc/voiceprog.toml"}, args...))

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeHex(t *testing.T, fs afero.Fs, path string, records ...ihex.Record) {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, ihex.Write(&buf, append(records, ihex.EOFRecord())))
	require.NoError(t, afero.WriteFile(fs, path, buf.Bytes(), 0o644))
}

func firmwareData() []byte {
	data := make([]byte, 33)
	for i := range data {
		data[i] = byte(i + 1)
	}
	return data
}

func TestInspect(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeHex(t, fs, "/fw/main.hex", ihex.DataRecord(0x1400, firmwareData()))

	out, err := runCLI(t, &app{fs: fs}, "inspect", "/fw/main.hex")
	require.NoError(t, err)

	assert.Contains(t, out, "data records:  1")
	assert.Contains(t, out, "bytes:         33")
	assert.Contains(t, out, "bad checksums: 0")
	assert.Contains(t, out, "write range:   0x001400-0x001420 (2 blocks)")
}

func TestInspectStrict(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeHex(t, fs, "/fw/main.hex", ihex.DataRecord(0x1400, firmwareData()))

	out, err := runCLI(t, &app{fs: fs}, "inspect", "--strict", "/fw/main.hex")
	require.NoError(t, err)
	assert.Contains(t, out, "checksums:     ok")
	assert.Contains(t, out, "0x001400-0x001420")

	require.NoError(t, afero.WriteFile(fs, "/fw/bad.hex", []byte(":0400100001020304FF\n:00000001FF\n"), 0o644))
	_, err = runCLI(t, &app{fs: fs}, "inspect", "--strict", "/fw/bad.hex")
	require.Error(t, err)
}

func TestFirmwareSimulated(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeHex(t, fs, "/fw/main.hex", ihex.DataRecord(0x1400, firmwareData()))

	a := &app{fs: fs, sim: devicesim.New()}
	out, err := runCLI(t, a, "--simulate", "firmware", "/fw/main.hex")
	require.NoError(t, err)

	assert.Equal(t, firmwareData(), a.sim.Flash()[0x1400:0x1421])
	assert.Equal(t, protocol.ModeRun, a.sim.Mode())
	assert.False(t, a.sim.IsOpen())
	assert.Equal(t, 2, a.sim.Count(protocol.CmdProgramMemBlock))
	assert.Contains(t, out, "done: 33 bytes")
}

func TestVoiceSimulated(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cat.xml", []byte(testCatalog), 0o644))
	voiceA := bytes.Repeat([]byte{0x11}, 40)
	voiceB := bytes.Repeat([]byte{0x22}, 10)
	require.NoError(t, afero.WriteFile(fs, "/voices/a.bin", voiceA, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/voices/b.bin", voiceB, 0o644))

	a := &app{fs: fs, sim: devicesim.New()}
	_, err := runCLI(t, a, "--simulate", "-q", "voice", "--catalog", "/cat.xml", "English")
	require.NoError(t, err)

	assert.Equal(t, []byte{0x00, 0x04, 0x10, 0x27, 0x04, 0x10}, a.sim.EEPROM(0x100000, 6))
	assert.Equal(t, []byte{0x40, 0x04, 0x10, 0x49, 0x04, 0x10}, a.sim.EEPROM(0x100006, 6))
	assert.Equal(t, voiceA, a.sim.EEPROM(0x100400, 40))
	assert.Equal(t, voiceB, a.sim.EEPROM(0x100440, 10))
	assert.Equal(t, []byte{1}, a.sim.EEPROM(31, 1))
	assert.Equal(t, protocol.ModeRun, a.sim.Mode())
}

func TestFlashSimulated(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cat.xml", []byte(testCatalog), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/voices/a.bin", []byte{1, 2, 3}, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/voices/b.bin", []byte{4, 5, 6}, 0o644))
	writeHex(t, fs, "/fw/main.hex", ihex.DataRecord(0x1400, firmwareData()))

	a := &app{fs: fs, sim: devicesim.New()}
	_, err := runCLI(t, a, "--simulate", "-q", "flash", "--catalog", "/cat.xml", "--bank", "2", "--bank-count", "3", "Main", "English")
	require.NoError(t, err)

	assert.Equal(t, firmwareData(), a.sim.Flash()[0x1400:0x1421])
	assert.Equal(t, []byte{1, 2, 3}, a.sim.EEPROM(0x200400, 3))
	assert.Equal(t, []byte{3}, a.sim.EEPROM(31, 1))
}

func TestVoiceErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/cat.xml", []byte(testCatalog), 0o644))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no catalog",
			args:    []string{"--simulate", "voice", "English"},
			wantErr: "no voice catalog",
		},
		{
			name:    "unknown pack",
			args:    []string{"--simulate", "voice", "--catalog", "/cat.xml", "Klingon"},
			wantErr: "not found",
		},
		{
			name:    "bad bank",
			args:    []string{"--simulate", "voice", "--catalog", "/cat.xml", "--bank", "4", "English"},
			wantErr: "invalid voice bank",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{fs: fs, sim: devicesim.New()}
			_, err := runCLI(t, a, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, a.sim.Commands())
		})
	}
}

func TestMode(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := &app{fs: fs, sim: devicesim.New()}

	out, err := runCLI(t, a, "--simulate", "mode", "prog")
	require.NoError(t, err)
	assert.Equal(t, protocol.ModeProg, a.sim.Mode())
	assert.Contains(t, out, "device in")

	_, err = runCLI(t, a, "--simulate", "mode", "sleep")
	require.Error(t, err)
}

func TestSerialNeedsPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := runCLI(t, &app{fs: fs}, "--transport", "serial", "mode", "run")
	require.ErrorIs(t, err, errNoSerialPath)
}

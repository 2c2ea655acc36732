package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/sstallion/go-hid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeHID echoes every output report back as an ACK with the same address.
type fakeHID struct {
	mu       sync.Mutex
	written  [][]byte
	reads    chan []byte
	closed   bool
	writeErr error
	echo     bool

	// interrupts is the number of reads that fail with EINTR first
	interrupts int
}

func newFakeHID(echo bool) *fakeHID {
	return &fakeHID{reads: make(chan []byte, 16), echo: echo}
}

func (f *fakeHID) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), p...))
	if f.echo {
		resp := append([]byte(nil), p[1:]...)
		resp[0] = protocol.Ack
		f.reads <- resp
	}
	return len(p), nil
}

func (f *fakeHID) ReadWithTimeout(p []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	if f.interrupts > 0 {
		f.interrupts--
		f.mu.Unlock()
		return 0, errors.New(hidInterrupted)
	}
	f.mu.Unlock()

	select {
	case r := <-f.reads:
		return copy(p, r), nil
	case <-time.After(timeout):
		return 0, hid.ErrTimeout
	}
}

func (f *fakeHID) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHID) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeHID) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[len(f.written)-1]
}

func hidOpener(dev *fakeHID) HIDOpener {
	return func() (HIDDevice, error) { return dev, nil }
}

func TestDispatcher(t *testing.T) {
	t.Parallel()

	var d dispatcher
	var got []byte
	cancelA := d.Subscribe(func(f protocol.Frame) { got = append(got, 'a') })
	cancelB := d.Subscribe(func(f protocol.Frame) { got = append(got, 'b') })

	assert.Equal(t, 2, d.dispatch(protocol.Frame{}))
	assert.Len(t, got, 2)

	cancelA()
	cancelA()
	assert.Equal(t, 1, d.count())
	cancelB()
	assert.Equal(t, 0, d.dispatch(protocol.Frame{}))
}

func TestIsInterrupted(t *testing.T) {
	t.Parallel()

	assert.False(t, isInterrupted(nil))
	assert.True(t, isInterrupted(errors.New("Interrupted system call")))
	assert.True(t, isInterrupted(fmt.Errorf("read: %w", syscall.EINTR)))
	assert.False(t, isInterrupted(hid.ErrTimeout))
	assert.False(t, isInterrupted(errors.New("device disconnected")))
}

func TestHIDReadSurvivesInterrupts(t *testing.T) {
	t.Parallel()

	dev := newFakeHID(true)
	dev.interrupts = 3
	tr := NewHID(hidOpener(dev), WithPollInterval(5*time.Millisecond))
	require.NoError(t, tr.Open())

	c := protocol.NewClient(tr, protocol.WithTimeout(time.Second))
	require.NoError(t, c.SetMode(context.Background(), protocol.ModeProg))
	require.NoError(t, tr.Close())
}

func TestHIDExchange(t *testing.T) {
	t.Parallel()

	dev := newFakeHID(true)
	tr := NewHID(hidOpener(dev), WithPollInterval(5*time.Millisecond))
	require.NoError(t, tr.Open())

	c := protocol.NewClient(tr, protocol.WithTimeout(time.Second))
	require.NoError(t, c.SetMode(context.Background(), protocol.ModeProg))

	report := dev.lastWrite()
	require.Len(t, report, protocol.FrameSize+1)
	assert.Equal(t, byte(0x00), report[0])
	assert.Equal(t, byte(protocol.CmdSetMode), report[1])
	assert.Equal(t, byte(1), report[5])
	assert.Equal(t, byte(protocol.ModeProg), report[6])

	require.NoError(t, tr.Close())
	assert.True(t, dev.isClosed())
	assert.Zero(t, tr.count())
}

func TestHIDWithoutReportID(t *testing.T) {
	t.Parallel()

	dev := newFakeHID(false)
	tr := NewHID(hidOpener(dev), WithReportID(false), WithPollInterval(5*time.Millisecond))
	require.NoError(t, tr.Open())
	defer func() { require.NoError(t, tr.Close()) }()

	f, err := protocol.EncodeCommand(protocol.CmdReadEEPROMPage, 0x20, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Send(f))
	assert.Equal(t, f[:], dev.lastWrite())
}

func TestHIDShortReportIsPadded(t *testing.T) {
	t.Parallel()

	dev := newFakeHID(false)
	tr := NewHID(hidOpener(dev), WithPollInterval(5*time.Millisecond))
	require.NoError(t, tr.Open())
	defer func() { require.NoError(t, tr.Close()) }()

	frames := make(chan protocol.Frame, 1)
	cancel := tr.Subscribe(func(f protocol.Frame) { frames <- f })
	defer cancel()

	dev.reads <- []byte{protocol.Ack, 0x10}
	select {
	case f := <-frames:
		assert.Equal(t, byte(protocol.Ack), f[0])
		assert.Equal(t, byte(0x10), f[1])
		assert.Equal(t, byte(0x00), f[36])
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestHIDStateErrors(t *testing.T) {
	t.Parallel()

	dev := newFakeHID(false)
	tr := NewHID(hidOpener(dev), WithPollInterval(5*time.Millisecond))

	assert.ErrorIs(t, tr.Send(protocol.Frame{}), ErrNotOpen)
	require.NoError(t, tr.Close())

	require.NoError(t, tr.Open())
	assert.ErrorIs(t, tr.Open(), ErrAlreadyOpen)

	dev.mu.Lock()
	dev.writeErr = errors.New("pipe error")
	dev.mu.Unlock()
	assert.EqualError(t, tr.Send(protocol.Frame{}), "pipe error")

	require.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(protocol.Frame{}), ErrNotOpen)
}

func TestHIDOpenFailure(t *testing.T) {
	t.Parallel()

	openErr := errors.New("no such device")
	tr := NewHID(func() (HIDDevice, error) { return nil, openErr })
	assert.ErrorIs(t, tr.Open(), openErr)
	assert.NoError(t, tr.Close())
}

// fakePort delivers queued chunks one Read at a time.
type fakePort struct {
	mu      sync.Mutex
	chunks  chan []byte
	written [][]byte
	timeout time.Duration
	closed  bool
	mode    *serial.Mode
}

func newFakePort() *fakePort {
	return &fakePort{chunks: make(chan []byte, 16)}
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()
	select {
	case c := <-p.chunks:
		return copy(b, c), nil
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func TestSerialReassemblesFrames(t *testing.T) {
	t.Parallel()

	port := newFakePort()
	tr := NewSerial("/dev/ttyTEST",
		WithBaudRate(57600),
		WithSerialPollInterval(20*time.Millisecond),
		WithPortFactory(func(path string, mode *serial.Mode) (SerialPort, error) {
			assert.Equal(t, "/dev/ttyTEST", path)
			port.mode = mode
			return port, nil
		}),
	)
	require.NoError(t, tr.Open())
	assert.Equal(t, 57600, port.mode.BaudRate)

	frames := make(chan protocol.Frame, 4)
	cancel := tr.Subscribe(func(f protocol.Frame) { frames <- f })

	first, err := protocol.EncodeCommand(protocol.Ack, 0x000100, []byte{1, 2, 3})
	require.NoError(t, err)
	second, err := protocol.EncodeCommand(0x02, 0x000200, nil)
	require.NoError(t, err)

	stream := append(append([]byte(nil), first[:]...), second[:]...)
	port.chunks <- stream[:10]
	port.chunks <- stream[10:50]
	port.chunks <- stream[50:]

	for _, want := range []protocol.Frame{first, second} {
		select {
		case got := <-frames:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("frame not delivered")
		}
	}

	cancel()
	require.NoError(t, tr.Close())
	assert.True(t, port.closed)
}

func TestSerialExchange(t *testing.T) {
	t.Parallel()

	port := newFakePort()
	tr := NewSerial("/dev/ttyTEST",
		WithSerialPollInterval(10*time.Millisecond),
		WithPortFactory(func(string, *serial.Mode) (SerialPort, error) { return port, nil }),
	)
	require.NoError(t, tr.Open())
	defer func() { require.NoError(t, tr.Close()) }()

	c := protocol.NewClient(tr, protocol.WithTimeout(time.Second))

	ack, err := protocol.EncodeCommand(protocol.Ack, 0, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- c.SetMode(context.Background(), protocol.ModeRun)
	}()

	// Respond once the command has been written.
	require.Eventually(t, func() bool {
		port.mu.Lock()
		defer port.mu.Unlock()
		return len(port.written) == 1
	}, time.Second, time.Millisecond)
	port.chunks <- ack[:]

	require.NoError(t, <-done)
}

package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTransport records sent frames and optionally answers them synchronously.
type fakeTransport struct {
	mu      sync.Mutex
	subs    map[int]func(Frame)
	nextID  int
	sent    []Frame
	sendErr error
	respond func(Frame) (Frame, bool)
	sentCh  chan Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[int]func(Frame))}
}

func (*fakeTransport) Open() error  { return nil }
func (*fakeTransport) Close() error { return nil }

func (f *fakeTransport) Subscribe(fn func(Frame)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

func (f *fakeTransport) Send(frame Frame) error {
	f.mu.Lock()
	if f.sendErr != nil {
		f.mu.Unlock()
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	respond := f.respond
	f.mu.Unlock()

	if f.sentCh != nil {
		f.sentCh <- frame
	}
	if respond != nil {
		if reply, ok := respond(frame); ok {
			f.deliver(reply)
		}
	}
	return nil
}

func (f *fakeTransport) deliver(frame Frame) {
	f.mu.Lock()
	subs := make([]func(Frame), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(frame)
	}
}

func (f *fakeTransport) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeTransport) setRespond(fn func(Frame) (Frame, bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

func replyWith(code byte) func(Frame) (Frame, bool) {
	return func(req Frame) (Frame, bool) {
		var resp Frame
		resp[0] = code
		resp[1], resp[2], resp[3] = req[1], req[2], req[3]
		return resp, true
	}
}

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(newFakeTransport())
	assert.Equal(t, DefaultTimeout, c.Timeout())
	assert.Nil(t, c.pacer)

	c = NewClient(newFakeTransport(), WithTimeout(500*time.Millisecond), WithCommandInterval(time.Millisecond))
	assert.Equal(t, 500*time.Millisecond, c.Timeout())
	assert.NotNil(t, c.pacer)

	assert.Panics(t, func() { NewClient(nil) })
}

func TestExecuteAck(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.respond = replyWith(Ack)
	c := NewClient(tr)

	resp, err := c.Execute(context.Background(), CmdWriteEEPROMPage, 0x10000C, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, resp.Acked())
	assert.Equal(t, uint32(0x10000C), resp.Frame.Address())

	require.Len(t, tr.sent, 1)
	assert.Equal(t, byte(CmdWriteEEPROMPage), tr.sent[0][0])
	assert.Equal(t, byte(3), tr.sent[0][4])
	assert.Zero(t, tr.subscribers())
}

func TestExecuteNack(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.respond = replyWith(0x15)
	c := NewClient(tr)

	resp, err := c.Execute(context.Background(), CmdProgramMemBlock, ProgramStart, make([]byte, BlockSize))
	require.Error(t, err)
	assert.True(t, IsNack(err))
	assert.Equal(t, byte(0x15), resp.Code)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, byte(CmdProgramMemBlock), cmdErr.Command)
	assert.Equal(t, uint32(ProgramStart), cmdErr.Address)
}

func TestExecuteTransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("write failed")
	tr := newFakeTransport()
	tr.sendErr = cause
	c := NewClient(tr)

	_, err := c.Execute(context.Background(), CmdSetMode, 0, []byte{1})
	require.ErrorIs(t, err, cause)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, tr.subscribers())
	assert.False(t, c.inFlight.Load())
}

func TestExecutePayloadTooLarge(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := NewClient(tr)

	_, err := c.Execute(context.Background(), CmdWriteEEPROMPage, 0, make([]byte, MaxPayload+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, tr.sent)
	assert.False(t, c.inFlight.Load())
}

func TestExecuteTimeoutReleasesGuard(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	tr := newFakeTransport()
	c := NewClient(tr, WithClock(clock), WithTimeout(2*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, CmdEraseEEPROMBlock, 0x100000, nil)
		errCh <- err
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Second)

	err := <-errCh
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, c.inFlight.Load())
	assert.Zero(t, tr.subscribers(), "listener must be detached on timeout")

	// A late reply to the timed-out exchange reaches nobody.
	stale := Frame{0x15}
	tr.deliver(stale)

	tr.setRespond(replyWith(Ack))
	resp, err := c.Execute(ctx, CmdEraseEEPROMBlock, 0x110000, nil)
	require.NoError(t, err)
	assert.True(t, resp.Acked())
}

func TestExecuteReentrantIsBusy(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	tr := newFakeTransport()
	tr.sentCh = make(chan Frame, 4)
	c := NewClient(tr, WithClock(clock))

	type result struct {
		resp Response
		err  error
	}
	first := make(chan result, 1)
	go func() {
		resp, err := c.Execute(context.Background(), CmdReadEEPROMPage, 0x000000, nil)
		first <- result{resp, err}
	}()

	<-tr.sentCh

	_, err := c.Execute(context.Background(), CmdReadEEPROMPage, 0x000020, nil)
	require.ErrorIs(t, err, ErrBusy)
	assert.Len(t, tr.sent, 1, "busy call must not send")

	reply, err := EncodeCommand(Ack, 0x000000, []byte{0xAA, 0xBB})
	require.NoError(t, err)
	tr.deliver(reply)

	r := <-first
	require.NoError(t, r.err)
	payload, err := r.resp.Payload()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, payload)
}

func TestExecuteContextCancelled(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	tr := newFakeTransport()
	tr.sentCh = make(chan Frame, 1)
	c := NewClient(tr, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, CmdSetMode, 0, []byte{byte(ModeRun)})
		errCh <- err
	}()

	<-tr.sentCh
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, c.inFlight.Load())
}

func TestExecuteKeepsFirstFrameOnly(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.respond = func(req Frame) (Frame, bool) {
		// Device chatter: two frames for one request.
		tr.deliver(Frame{Ack})
		return Frame{0x15}, true
	}
	c := NewClient(tr)

	resp, err := c.Execute(context.Background(), CmdSetMode, 0, []byte{byte(ModeProg)})
	require.NoError(t, err)
	assert.True(t, resp.Acked())
}

func TestSetMode(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.respond = replyWith(Ack)
	c := NewClient(tr)

	require.NoError(t, c.SetMode(context.Background(), ModeProg))
	require.Len(t, tr.sent, 1)
	assert.Equal(t, byte(CmdSetMode), tr.sent[0][0])
	assert.Equal(t, byte(1), tr.sent[0][4])
	assert.Equal(t, byte(ModeProg), tr.sent[0][5])
}

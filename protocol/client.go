package protocol

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Transport is the frame channel the Client talks through.
//
// Subscribe registers a listener for received frames and returns a function
// that detaches it. Frames received while no listener is attached are
// dropped by the transport.
type Transport interface {
	Open() error
	Close() error
	Send(f Frame) error
	Subscribe(onFrame func(Frame)) (cancel func())
}

// Client executes request/response exchanges over a Transport.
//
// At most one exchange is outstanding at any time. Client performs no retries.
type Client struct {
	transport Transport
	clock     clockwork.Clock
	pacer     *rate.Limiter
	log       zerolog.Logger
	timeout   time.Duration
	inFlight  atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-exchange response timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithClock replaces the clock used for timeouts.
func WithClock(clock clockwork.Clock) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger used for frame tracing.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = logger
	}
}

// WithCommandInterval enforces a minimum delay between consecutive commands.
// Some loaders need a short pause after a write before they accept the next frame.
func WithCommandInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.pacer = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// NewClient creates a Client bound to the given transport.
func NewClient(t Transport, opts ...ClientOption) *Client {
	if t == nil {
		panic("transport cannot be nil")
	}

	c := &Client{
		transport: t,
		clock:     clockwork.NewRealClock(),
		timeout:   DefaultTimeout,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeout returns the configured exchange timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Execute sends one command and waits for exactly one response.
//
// The returned error is always a *CommandError wrapping one of ErrBusy,
// ErrTimeout, *NackError, *TransportError, an encoding error or a context
// error. A NACK still returns the response so callers can inspect it.
func (c *Client) Execute(ctx context.Context, cmd byte, addr uint32, payload []byte) (Response, error) {
	fail := func(err error) (Response, error) {
		return Response{}, &CommandError{Command: cmd, Address: addr, Err: err}
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		return fail(ErrBusy)
	}
	defer c.inFlight.Store(false)

	frame, err := EncodeCommand(cmd, addr, payload)
	if err != nil {
		return fail(err)
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	// One-shot slot: only the first frame after subscribing is kept.
	slot := make(chan Frame, 1)
	cancel := c.transport.Subscribe(func(f Frame) {
		select {
		case slot <- f:
		default:
		}
	})
	defer cancel()

	timer := c.clock.NewTimer(c.timeout)
	defer timer.Stop()

	c.log.Trace().Stringer("frame", frame).Msg("send")
	if err := c.transport.Send(frame); err != nil {
		return fail(&TransportError{Op: "send", Err: err})
	}

	select {
	case f := <-slot:
		resp := ParseResponse(f)
		c.log.Trace().Stringer("frame", f).Msg("recv")
		if !resp.Acked() {
			return resp, &CommandError{Command: cmd, Address: addr, Err: &NackError{Code: resp.Code}}
		}
		return resp, nil
	case <-timer.Chan():
		c.log.Debug().
			Str("command", CommandName(cmd)).
			Str("address", fmt.Sprintf("0x%06X", addr)).
			Dur("timeout", c.timeout).
			Msg("no response from device")
		return fail(ErrTimeout)
	case <-ctx.Done():
		return fail(ctx.Err())
	}
}

// SetMode switches the device operating mode.
func (c *Client) SetMode(ctx context.Context, mode Mode) error {
	_, err := c.Execute(ctx, CmdSetMode, 0, []byte{byte(mode)})
	return err
}

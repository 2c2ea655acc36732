package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/moffa90/go-voiceprog/internal/syncutil"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// DefaultBaudRate is used when no baud rate is configured.
const DefaultBaudRate = 115200

// SerialPort is the subset of serial.Port used by the adapter.
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialPortFactory opens a serial port.
type SerialPortFactory func(path string, mode *serial.Mode) (SerialPort, error)

// DefaultSerialPortFactory opens real serial ports.
func DefaultSerialPortFactory(path string, mode *serial.Mode) (SerialPort, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// ListSerialPorts returns the serial ports present on the system.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Serial carries frames over a byte stream, such as a USB CDC bridge.
// Received bytes are reassembled into fixed-size frames. It implements
// protocol.Transport.
type Serial struct {
	dispatcher

	path         string
	baud         int
	factory      SerialPortFactory
	log          zerolog.Logger
	pollInterval time.Duration

	mu   syncutil.Mutex
	port SerialPort
	stop chan struct{}
	wg   sync.WaitGroup
}

// SerialOption configures a Serial transport.
type SerialOption func(*Serial)

// WithBaudRate sets the line speed.
func WithBaudRate(baud int) SerialOption {
	return func(s *Serial) {
		if baud > 0 {
			s.baud = baud
		}
	}
}

// WithPortFactory replaces the function that opens the port.
func WithPortFactory(factory SerialPortFactory) SerialOption {
	return func(s *Serial) {
		if factory != nil {
			s.factory = factory
		}
	}
}

// WithSerialLogger sets the transport's logger.
func WithSerialLogger(logger zerolog.Logger) SerialOption {
	return func(s *Serial) {
		s.log = logger
	}
}

// WithSerialPollInterval sets the port read timeout.
func WithSerialPollInterval(d time.Duration) SerialOption {
	return func(s *Serial) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// NewSerial creates a serial transport for the port at path.
func NewSerial(path string, opts ...SerialOption) *Serial {
	s := &Serial{
		path:         path,
		baud:         DefaultBaudRate,
		factory:      DefaultSerialPortFactory,
		log:          zerolog.Nop(),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the port and starts the reader goroutine.
func (s *Serial) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return ErrAlreadyOpen
	}

	port, err := s.factory(s.path, &serial.Mode{
		BaudRate: s.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(s.pollInterval); err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	s.port = port
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.readLoop(port, s.stop)

	s.log.Debug().Str("path", s.path).Int("baud", s.baud).Msg("serial transport open")
	return nil
}

// Close stops the reader and closes the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	port := s.port
	if port == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.stop)
	s.port = nil
	s.mu.Unlock()

	s.wg.Wait()
	if err := port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Send writes one frame.
func (s *Serial) Send(f protocol.Frame) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotOpen
	}

	n, err := port.Write(f[:])
	if err != nil {
		return err
	}
	if n < protocol.FrameSize {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, protocol.FrameSize)
	}
	return nil
}

func (s *Serial) readLoop(port SerialPort, stop <-chan struct{}) {
	defer s.wg.Done()

	var pending []byte
	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			var portErr *serial.PortError
			select {
			case <-stop:
			default:
				if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
					s.log.Debug().Msg("serial port closed under reader")
				} else {
					s.log.Error().Err(err).Msg("serial read failed, reader stopped")
				}
			}
			return
		}

		if n == 0 {
			// Read timeout: a partial frame never completes.
			if len(pending) > 0 {
				s.log.Debug().Int("bytes", len(pending)).Msg("discarding partial frame")
				pending = pending[:0]
			}
			continue
		}

		pending = append(pending, buf[:n]...)
		for len(pending) >= protocol.FrameSize {
			var f protocol.Frame
			copy(f[:], pending[:protocol.FrameSize])
			pending = pending[protocol.FrameSize:]
			if delivered := s.dispatch(f); delivered == 0 {
				s.log.Debug().Stringer("frame", f).Msg("dropping unsolicited frame")
			}
		}
	}
}

package transport

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/moffa90/go-voiceprog/internal/syncutil"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/rs/zerolog"
	"github.com/sstallion/go-hid"
)

// Default HID settings.
const (
	// DefaultPollInterval bounds each blocking read so Close is noticed promptly
	DefaultPollInterval = 50 * time.Millisecond

	// hidReportSize is the largest input report read in one call
	hidReportSize = 64

	// hidInterrupted is strerror(EINTR) as hidapi's hidraw backend reports
	// it through hid_error; go-hid surfaces it as a plain string error.
	hidInterrupted = "Interrupted system call"
)

// isInterrupted reports whether a read was cut short by a signal and can be
// retried.
func isInterrupted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.EINTR) || err.Error() == hidInterrupted
}

// HIDDevice is the subset of *hid.Device used by the adapter.
type HIDDevice interface {
	Write(p []byte) (int, error)
	ReadWithTimeout(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// HIDOpener opens the underlying device. It is called on every Open.
type HIDOpener func() (HIDDevice, error)

// OpenHIDPath returns an opener for the device at a platform-specific path,
// such as /dev/hidraw3.
func OpenHIDPath(path string) HIDOpener {
	return func() (HIDDevice, error) {
		dev, err := hid.OpenPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open HID device %s: %w", path, err)
		}
		return dev, nil
	}
}

// OpenHIDFirst returns an opener for the first device matching vid and pid.
func OpenHIDFirst(vid, pid uint16) HIDOpener {
	return func() (HIDDevice, error) {
		dev, err := hid.OpenFirst(vid, pid)
		if err != nil {
			return nil, fmt.Errorf("failed to open HID device %04x:%04x: %w", vid, pid, err)
		}
		return dev, nil
	}
}

// HID carries frames over HID reports. It implements protocol.Transport.
type HID struct {
	dispatcher

	opener       HIDOpener
	log          zerolog.Logger
	pollInterval time.Duration
	reportID     bool

	mu   syncutil.Mutex
	dev  HIDDevice
	stop chan struct{}
	wg   sync.WaitGroup
}

// HIDOption configures a HID transport.
type HIDOption func(*HID)

// WithHIDLogger sets the transport's logger.
func WithHIDLogger(logger zerolog.Logger) HIDOption {
	return func(h *HID) {
		h.log = logger
	}
}

// WithPollInterval sets the read timeout used by the reader goroutine.
func WithPollInterval(d time.Duration) HIDOption {
	return func(h *HID) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

// WithReportID controls the report ID 0 prefix on output reports. Devices
// that declare no report IDs need it, which is the default.
func WithReportID(enabled bool) HIDOption {
	return func(h *HID) {
		h.reportID = enabled
	}
}

// NewHID creates a HID transport. The device is not opened until Open.
func NewHID(opener HIDOpener, opts ...HIDOption) *HID {
	if opener == nil {
		panic("opener cannot be nil")
	}

	h := &HID{
		opener:       opener,
		log:          zerolog.Nop(),
		pollInterval: DefaultPollInterval,
		reportID:     true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open opens the device and starts the reader goroutine.
func (h *HID) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dev != nil {
		return ErrAlreadyOpen
	}

	dev, err := h.opener()
	if err != nil {
		return err
	}
	h.dev = dev
	h.stop = make(chan struct{})

	h.wg.Add(1)
	go h.readLoop(dev, h.stop)

	h.log.Debug().Msg("HID transport open")
	return nil
}

// Close stops the reader and closes the device. Closing a closed transport
// is a no-op.
func (h *HID) Close() error {
	h.mu.Lock()
	dev := h.dev
	if dev == nil {
		h.mu.Unlock()
		return nil
	}
	close(h.stop)
	h.dev = nil
	h.mu.Unlock()

	h.wg.Wait()
	if err := dev.Close(); err != nil {
		return fmt.Errorf("failed to close HID device: %w", err)
	}
	h.log.Debug().Msg("HID transport closed")
	return nil
}

// Send writes one frame as an output report.
func (h *HID) Send(f protocol.Frame) error {
	h.mu.Lock()
	dev := h.dev
	h.mu.Unlock()
	if dev == nil {
		return ErrNotOpen
	}

	report := f[:]
	if h.reportID {
		report = make([]byte, 0, protocol.FrameSize+1)
		report = append(report, 0x00)
		report = append(report, f[:]...)
	}

	n, err := dev.Write(report)
	if err != nil {
		return err
	}
	if n < len(report) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(report))
	}
	return nil
}

func (h *HID) readLoop(dev HIDDevice, stop <-chan struct{}) {
	defer h.wg.Done()

	buf := make([]byte, hidReportSize)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := dev.ReadWithTimeout(buf, h.pollInterval)
		switch {
		case errors.Is(err, hid.ErrTimeout):
			continue
		case isInterrupted(err):
			continue
		case err != nil:
			select {
			case <-stop:
			default:
				h.log.Error().Err(err).Msg("HID read failed, reader stopped")
			}
			return
		case n == 0:
			continue
		}

		// Short reports are zero padded; the protocol layer decides what
		// a partial response means.
		var f protocol.Frame
		copy(f[:], buf[:n])
		if delivered := h.dispatch(f); delivered == 0 {
			h.log.Debug().Stringer("frame", f).Msg("dropping unsolicited frame")
		}
	}
}

// DeviceInfo describes an attached HID device.
type DeviceInfo struct {
	Path         string
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Manufacturer string
	Product      string
	Interface    int
}

func (d DeviceInfo) String() string {
	return fmt.Sprintf("%04x:%04x %s %s (%s)", d.VendorID, d.ProductID, d.Manufacturer, d.Product, d.Path)
}

// Enumerate lists HID devices matching vid and pid. Zero matches any.
func Enumerate(vid, pid uint16) ([]DeviceInfo, error) {
	var out []DeviceInfo
	err := hid.Enumerate(vid, pid, func(info *hid.DeviceInfo) error {
		out = append(out, DeviceInfo{
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Serial:       info.SerialNbr,
			Manufacturer: info.MfrStr,
			Product:      info.ProductStr,
			Interface:    info.InterfaceNbr,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate HID devices: %w", err)
	}
	return out, nil
}

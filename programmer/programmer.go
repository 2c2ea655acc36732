package programmer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/moffa90/go-voiceprog/assets"
	"github.com/moffa90/go-voiceprog/catalog"
	"github.com/moffa90/go-voiceprog/eeprom"
	"github.com/moffa90/go-voiceprog/flash"
	"github.com/moffa90/go-voiceprog/ihex"
	"github.com/moffa90/go-voiceprog/internal/syncutil"
	"github.com/moffa90/go-voiceprog/protocol"
	"github.com/rs/zerolog"
)

// Job describes one programming run. Either part may be left empty.
type Job struct {
	// Firmware is the hex file to program, resolved through the Source
	Firmware string

	// Voice is the voice pack to write, nil to skip
	Voice *VoiceJob
}

// VoiceJob describes a voice pack write.
type VoiceJob struct {
	Bank    eeprom.Bank
	Entries []catalog.Entry

	// BankCount is stored in the config sector; 0 stores the bank number
	BankCount int
}

// Programmer runs programming jobs against one device.
//
// Only one run may be in progress at a time; State and the accessors are
// safe to call from other goroutines.
type Programmer struct {
	device protocol.Transport
	client *protocol.Client
	source assets.Source
	config Config

	mu    syncutil.Mutex
	state State

	// per-run bookkeeping, owned by the running goroutine
	log     zerolog.Logger
	start   time.Time
	written int
}

// New creates a new Programmer for the given device.
//
// Example:
//
//	dev := transport.NewHID(transport.OpenHIDFirst(0x04d8, 0xf2bf))
//	prog := programmer.New(dev,
//	    programmer.WithProgressCallback(progressFunc),
//	    programmer.WithTimeout(3*time.Second),
//	)
func New(device protocol.Transport, opts ...Option) *Programmer {
	if device == nil {
		panic("device cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	source := cfg.Source
	if source == nil {
		source = assets.NewOSSource("")
	}

	return &Programmer{
		device: device,
		client: protocol.NewClient(device,
			protocol.WithTimeout(cfg.Timeout),
			protocol.WithClock(cfg.Clock),
			protocol.WithLogger(cfg.Logger),
			protocol.WithCommandInterval(cfg.CommandInterval),
		),
		source: source,
		config: cfg,
		log:    cfg.Logger,
	}
}

// State returns the current state.
func (p *Programmer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ProgramFirmware programs a single hex file and returns the device to run mode.
func (p *Programmer) ProgramFirmware(ctx context.Context, path string) error {
	return p.Run(ctx, Job{Firmware: path})
}

// ProgramVoicePack writes a voice pack into bank and returns the device to run mode.
func (p *Programmer) ProgramVoicePack(ctx context.Context, bank eeprom.Bank, entries []catalog.Entry) error {
	return p.Run(ctx, Job{Voice: &VoiceJob{Bank: bank, Entries: entries}})
}

// SetMode opens the device, switches it to mode and closes it again.
func (p *Programmer) SetMode(ctx context.Context, mode protocol.Mode) error {
	if err := p.begin(); err != nil {
		return err
	}
	p.startRun(map[string]any{"mode": mode.String()})

	if err := p.device.Open(); err != nil {
		p.setState(StateIdle)
		return &StageError{Stage: StateConnecting, Err: &protocol.TransportError{Op: "open", Err: err}}
	}

	next := StateRunMode
	if mode == protocol.ModeProg {
		next = StateProgMode
	}
	p.setState(next)
	err := p.client.SetMode(ctx, mode)
	if err != nil {
		err = &StageError{Stage: next, Err: err}
	}

	p.setState(StateDisconnecting)
	if cerr := p.device.Close(); cerr != nil {
		cerr = &protocol.TransportError{Op: "close", Err: cerr}
		if err == nil {
			err = &StageError{Stage: StateDisconnecting, Err: cerr}
		} else {
			err = errors.Join(err, &CleanupError{Err: cerr})
		}
	}
	p.setState(StateIdle)
	return err
}

// Run executes job: open the device, enter programming mode, write the
// firmware and the voice pack, return to run mode and close.
//
// The first failure aborts the remaining stages. The device is then
// returned to run mode if programming mode had been entered, and closed;
// failures during that cleanup are joined after the original error as a
// *CleanupError.
func (p *Programmer) Run(ctx context.Context, job Job) (err error) {
	if err := p.begin(); err != nil {
		return err
	}
	p.startRun(map[string]any{"firmware": job.Firmware, "voice": job.Voice != nil})

	if err := p.device.Open(); err != nil {
		p.setState(StateIdle)
		return &StageError{Stage: StateConnecting, Err: &protocol.TransportError{Op: "open", Err: err}}
	}

	// Set before the exchange: a lost ACK leaves the device mode unknown.
	restoreRun := true
	defer func() {
		if err != nil {
			err = p.cleanup(ctx, err, restoreRun)
		}
		p.setState(StateIdle)
	}()

	p.setState(StateProgMode)
	if err := p.client.SetMode(ctx, protocol.ModeProg); err != nil {
		return &StageError{Stage: StateProgMode, Err: err}
	}

	if job.Firmware != "" {
		p.setState(StateWritingFirmware)
		if err := p.writeFirmware(ctx, job.Firmware); err != nil {
			return &StageError{Stage: StateWritingFirmware, Err: err}
		}
	}

	if job.Voice != nil {
		if err := p.writeVoicePack(ctx, job.Voice); err != nil {
			return err
		}
	}

	p.setState(StateRunMode)
	if err := p.client.SetMode(ctx, protocol.ModeRun); err != nil {
		return &StageError{Stage: StateRunMode, Err: err}
	}
	restoreRun = false

	p.setState(StateDisconnecting)
	if err := p.device.Close(); err != nil {
		// Nothing left to clean up once close has been attempted.
		p.setState(StateIdle)
		return &StageError{Stage: StateDisconnecting, Err: &protocol.TransportError{Op: "close", Err: err}}
	}

	p.reportProgress(Progress{Phase: PhaseComplete, Current: 1, Total: 1, Percentage: 100})
	p.log.Info().
		Int("bytes", p.written).
		Dur("elapsed", p.config.Clock.Since(p.start)).
		Msg("programming complete")
	return nil
}

// cleanup returns the device to run mode when needed and closes it.
func (p *Programmer) cleanup(ctx context.Context, primary error, restoreRun bool) error {
	p.log.Error().Err(primary).Msg("programming failed")

	var errs []error
	if restoreRun {
		// The caller's context may be what failed the run.
		if err := p.client.SetMode(context.WithoutCancel(ctx), protocol.ModeRun); err != nil {
			errs = append(errs, fmt.Errorf("restore run mode: %w", err))
		}
	}

	if p.State() != StateIdle {
		p.setState(StateDisconnecting)
		if err := p.device.Close(); err != nil {
			errs = append(errs, &protocol.TransportError{Op: "close", Err: err})
		}
	}

	if len(errs) == 0 {
		return primary
	}
	cerr := &CleanupError{Err: errors.Join(errs...)}
	p.log.Warn().Err(cerr).Msg("cleanup incomplete")
	return errors.Join(primary, cerr)
}

func (p *Programmer) writeFirmware(ctx context.Context, path string) error {
	data, err := assets.WithDecoder(p.source, p.config.Decoder).ReadFile(path)
	if err != nil {
		return err
	}

	opts := []ihex.Option{
		ihex.WithLogger(p.log),
		ihex.WithImageSize(p.config.ImageSize),
		ihex.WithStrict(p.config.StrictHex),
	}

	var (
		img *ihex.Image
		rng ihex.WriteRange
	)
	if p.config.StrictHex {
		img, rng, err = ihex.BuildStrict(bytes.NewReader(data), opts...)
		if err != nil {
			return err
		}
	} else {
		records, err := ihex.Parse(bytes.NewReader(data), opts...)
		if err != nil {
			return err
		}
		img, rng = ihex.Build(records, opts...)
	}

	p.log.Info().Str("file", path).Stringer("range", rng).Msg("firmware image built")

	base := p.written
	writer := flash.NewWriter(p.client,
		flash.WithLogger(p.log),
		flash.WithProgress(func(done, total int) {
			p.written = base + min(done*protocol.BlockSize, rng.Len())
			p.reportPhase(PhaseFirmware, done, total)
		}),
	)
	return writer.WriteImage(ctx, img, rng)
}

func (p *Programmer) writeVoicePack(ctx context.Context, job *VoiceJob) error {
	if !job.Bank.Valid() {
		return &StageError{Stage: StateErasingVoice, Err: fmt.Errorf("invalid voice bank %d", int(job.Bank))}
	}

	count := job.BankCount
	if count == 0 {
		count = int(job.Bank)
	}
	if count < 0 || count > math.MaxUint8 {
		return &StageError{Stage: StateErasingVoice, Err: fmt.Errorf("%w: %d", ErrBankCountRange, count)}
	}

	mgr := eeprom.NewManager(p.client, eeprom.WithLogger(p.log))
	bank := job.Bank

	p.setState(StateErasingVoice)
	p.reportPhase(PhaseErasing, 0, 1)
	if err := mgr.EraseBank(ctx, bank.Offset()); err != nil {
		return &StageError{Stage: StateErasingVoice, Err: err}
	}
	p.reportPhase(PhaseErasing, 1, 1)

	p.setState(StateWritingVoice)
	addr := bank.AudioStart()
	for i, entry := range job.Entries {
		if err := p.writeVoice(ctx, mgr, bank, entry, &addr); err != nil {
			return &StageError{Stage: StateWritingVoice, Err: err}
		}
		p.reportPhase(PhaseVoice, i+1, len(job.Entries))
	}

	p.setState(StateUpdatingConfig)
	if err := mgr.UpdateVoiceBankCount(ctx, byte(count)); err != nil {
		return &StageError{Stage: StateUpdatingConfig, Err: err}
	}
	p.reportPhase(PhaseConfig, 1, 1)
	return nil
}

// writeVoice writes one voice file at *addr, records its map entry and
// advances *addr to the next free chunk.
func (p *Programmer) writeVoice(ctx context.Context, mgr *eeprom.Manager, bank eeprom.Bank, entry catalog.Entry, addr *uint32) error {
	fail := func(err error) error {
		return &VoiceError{Index: entry.Index, Path: entry.Path, Err: err}
	}

	data, err := p.source.ReadFile(entry.Path)
	if err != nil {
		return fail(err)
	}
	if len(data) > 0 && uint64(*addr)+uint64(len(data))-1 > uint64(bank.End()) {
		return fail(fmt.Errorf("%w: %d bytes at 0x%06X, bank ends at 0x%06X", ErrBankOverflow, len(data), *addr, bank.End()))
	}

	start := *addr
	n, err := mgr.WriteFile(ctx, data, start)
	if err != nil {
		return fail(err)
	}
	if n == 0 {
		return fail(ErrEmptyVoice)
	}

	end := start + uint32(n) - 1
	if err := mgr.WriteVoiceMapEntry(ctx, entry.Index, start, end, bank.Offset()); err != nil {
		return fail(err)
	}

	p.written += n
	*addr = eeprom.NextAddress(start, n)
	p.log.Debug().
		Int("index", entry.Index).
		Str("start", fmt.Sprintf("0x%06X", start)).
		Str("end", fmt.Sprintf("0x%06X", end)).
		Msg("voice written")
	return nil
}

// begin moves an idle programmer into StateConnecting.
func (p *Programmer) begin() error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrRunning
	}
	p.state = StateConnecting
	p.mu.Unlock()

	p.notifyState(StateIdle, StateConnecting)
	return nil
}

func (p *Programmer) startRun(fields map[string]any) {
	p.log = p.config.Logger.With().Str("run", uuid.NewString()).Logger()
	p.start = p.config.Clock.Now()
	p.written = 0
	p.log.Info().Fields(fields).Msg("run started")
	p.reportPhase(PhaseConnecting, 0, 1)
}

func (p *Programmer) setState(s State) {
	p.mu.Lock()
	prev := p.state
	p.state = s
	p.mu.Unlock()

	if prev != s {
		p.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("state change")
		p.notifyState(prev, s)
	}
}

func (p *Programmer) notifyState(from, to State) {
	if p.config.StateCallback != nil {
		p.config.StateCallback(from, to)
	}
}

func (p *Programmer) reportPhase(phase string, current, total int) {
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	p.reportProgress(Progress{Phase: phase, Current: current, Total: total, Percentage: pct})
}

// reportProgress calls the progress callback if configured.
func (p *Programmer) reportProgress(progress Progress) {
	if p.config.ProgressCallback == nil {
		return
	}
	progress.BytesWritten = p.written
	progress.ElapsedTime = p.config.Clock.Since(p.start)
	p.config.ProgressCallback(progress)
}

package flasher

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/norflash/internal/bridge"
	"github.com/bigbag/norflash/internal/nor"
	"github.com/bigbag/norflash/internal/planner"
)

// Opener acquires the bridge adapter for a session.
type Opener func() (bridge.Bridge, error)

// Session owns one bridge and the flash chip behind it from power on to
// power off. Operations are strictly sequential; a Session must not be
// used from more than one goroutine.
type Session struct {
	bridge  bridge.Bridge
	framer  *nor.Framer
	poller  *nor.Poller
	planner *planner.Planner
	config  Config
	log     logrus.FieldLogger

	id        []byte
	reference []byte
	powered   bool
	closed    bool
}

// ProgramReport summarises a program operation.
type ProgramReport struct {
	Erases int
	Pages  int
	Bytes  int
}

// VerifyResult is the outcome of a read-back comparison. A mismatch is a
// result, not an error.
type VerifyResult struct {
	Match bool
	// Length is the number of bytes compared.
	Length int
	// Mismatches counts differing bytes.
	Mismatches int
	// FirstMismatch is the offset of the first differing byte, -1 if none.
	FirstMismatch int
}

// Open acquires the bridge, configures the transport, powers the target,
// waits for it to settle and checks the identify signature.
func Open(open Opener, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	b, err := open()
	if err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			return nil, &DeviceNotFoundError{Reason: "no adapter", Err: err}
		}
		return nil, fmt.Errorf("failed to open bridge: %w", err)
	}

	s := &Session{
		bridge:  b,
		config:  cfg,
		log:     cfg.Logger,
		planner: planner.New(cfg.Geometry, cfg.ErasePolicy),
	}
	s.framer = nor.NewFramer(b, cfg.Commands, cfg.Geometry, cfg.Logger)
	s.poller = nor.NewPoller(s.framer, cfg.PollInterval,
		nor.WithTimeout(cfg.BusyTimeout),
		nor.WithSleep(cfg.sleep),
	)

	if err := s.start(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) start() error {
	if err := s.bridge.Configure(s.config.Transport); err != nil {
		return fmt.Errorf("failed to configure transport: %w", err)
	}
	s.log.WithField("spi", s.config.Transport.String()).Debug("transport configured")

	if err := s.bridge.SetTargetPower(true); err != nil {
		return fmt.Errorf("failed to power target: %w", err)
	}
	s.powered = true
	s.config.sleep(s.config.SettleDelay)

	if err := s.poller.AwaitReady(); err != nil {
		return fmt.Errorf("wait for device: %w", err)
	}
	id, err := s.framer.Identify()
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	if !s.framer.Matches(id) {
		var got byte
		if off := s.config.Commands.SignatureOffset; off < len(id) {
			got = id[off]
		}
		return &DeviceNotFoundError{
			Reason: "no flash chip",
			Got:    got,
			Want:   s.config.Commands.Signature,
		}
	}
	s.id = id
	s.log.WithField("id", fmt.Sprintf("% X", id)).Info("flash chip found")
	return nil
}

// ID returns the identify response read on open.
func (s *Session) ID() []byte {
	return s.id
}

// Geometry returns the chip geometry.
func (s *Session) Geometry() nor.Geometry {
	return s.config.Geometry
}

// ErasePolicy returns the planner policy in use.
func (s *Session) ErasePolicy() planner.Policy {
	return s.planner.Policy()
}

// Status reads the status register once without waiting, so a busy chip
// reports BUSY.
func (s *Session) Status() (nor.Status, error) {
	if s.closed {
		return 0, ErrClosed
	}
	return s.framer.ReadStatus()
}

// mutate runs a state changing command: ready, write enable, ready,
// command, ready.
func (s *Session) mutate(command func() error) error {
	if err := s.poller.AwaitReady(); err != nil {
		return err
	}
	if err := s.framer.WriteEnable(); err != nil {
		return err
	}
	if err := s.poller.AwaitReady(); err != nil {
		return err
	}
	if err := command(); err != nil {
		return err
	}
	return s.poller.AwaitReady()
}

func (s *Session) report(phase string, current, total int, start time.Time) {
	if s.config.ProgressCallback != nil {
		s.config.ProgressCallback(Progress{
			Phase:   phase,
			Current: current,
			Total:   total,
			Elapsed: time.Since(start),
		})
	}
}

// EraseAll erases the whole chip and blocks until it is done.
func (s *Session) EraseAll() error {
	if s.closed {
		return ErrClosed
	}
	start := time.Now()
	s.report(PhaseErasing, 0, 1, start)
	if err := s.mutate(s.framer.EraseChip); err != nil {
		return fmt.Errorf("chip erase: %w", err)
	}
	s.planner.MarkAllErased()
	s.report(PhaseErasing, 1, 1, start)
	return nil
}

// EraseSector erases the 4 KiB sector containing addr.
func (s *Session) EraseSector(addr uint32) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.config.Geometry.CheckRange(addr, 1); err != nil {
		return err
	}
	if err := s.mutate(func() error { return s.framer.EraseSector(addr) }); err != nil {
		return fmt.Errorf("sector erase 0x%06X: %w", addr, err)
	}
	return nil
}

// Program writes data at addr, erasing erase units as the planner decides.
// A transport error aborts the operation; steps already executed stay
// executed.
func (s *Session) Program(addr uint32, data []byte) (*ProgramReport, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.config.Geometry.CheckRange(addr, len(data)); err != nil {
		return nil, err
	}

	steps := s.planner.Plan(addr, data)
	s.log.WithFields(logrus.Fields{
		"addr":   fmt.Sprintf("0x%06X", addr),
		"len":    len(data),
		"steps":  len(steps),
		"policy": s.planner.Policy().String(),
	}).Debug("program plan")

	start := time.Now()
	rep := &ProgramReport{}
	for i, step := range steps {
		switch step.Kind {
		case planner.Erase:
			if err := s.mutate(func() error { return s.framer.EraseUnit(step.Addr) }); err != nil {
				return rep, fmt.Errorf("%v: %w", step, err)
			}
			s.planner.MarkErased(step.Addr)
			rep.Erases++
		case planner.Program:
			if err := s.mutate(func() error { return s.framer.ProgramPage(step.Addr, step.Data) }); err != nil {
				return rep, fmt.Errorf("%v: %w", step, err)
			}
			rep.Pages++
			rep.Bytes += len(step.Data)
		}
		s.report(PhaseProgramming, i+1, len(steps), start)
	}
	return rep, nil
}

// Read returns length bytes from addr, split into reads of at most
// MaxReadChunk bytes.
func (s *Session) Read(addr uint32, length int) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if err := s.config.Geometry.CheckRange(addr, length); err != nil {
		return nil, err
	}
	return s.read(PhaseReading, addr, length)
}

func (s *Session) read(phase string, addr uint32, length int) ([]byte, error) {
	chunk := s.config.Geometry.MaxReadChunk
	out := make([]byte, 0, length)
	start := time.Now()

	for len(out) < length {
		n := length - len(out)
		if n > chunk {
			n = chunk
		}
		if err := s.poller.AwaitReady(); err != nil {
			return nil, err
		}
		data, err := s.framer.ReadData(addr, n)
		if err != nil {
			return nil, fmt.Errorf("read 0x%06X (%d bytes): %w", addr, n, err)
		}
		out = append(out, data...)
		addr += uint32(n)
		s.report(phase, len(out), length, start)
	}
	return out, nil
}

// Verify reads len(reference) bytes at addr and compares them.
func (s *Session) Verify(addr uint32, reference []byte) (VerifyResult, error) {
	if s.closed {
		return VerifyResult{}, ErrClosed
	}
	if err := s.config.Geometry.CheckRange(addr, len(reference)); err != nil {
		return VerifyResult{}, err
	}
	data, err := s.read(PhaseVerifying, addr, len(reference))
	if err != nil {
		return VerifyResult{}, err
	}
	return compare(data, reference), nil
}

func compare(got, want []byte) VerifyResult {
	res := VerifyResult{Length: len(want), FirstMismatch: -1}
	if bytes.Equal(got, want) {
		res.Match = true
		return res
	}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			if res.FirstMismatch < 0 {
				res.FirstMismatch = i
			}
			res.Mismatches++
		}
	}
	return res
}

// LoadReference keeps buf as the reference image of this session.
func (s *Session) LoadReference(buf []byte) error {
	if err := s.config.Geometry.CheckRange(0, len(buf)); err != nil {
		return err
	}
	s.reference = buf
	return nil
}

// Reference returns the loaded reference image, nil if none.
func (s *Session) Reference() []byte {
	return s.reference
}

// VerifyReference verifies the loaded reference image at addr.
func (s *Session) VerifyReference(addr uint32) (VerifyResult, error) {
	if s.reference == nil {
		return VerifyResult{}, ErrNoReference
	}
	return s.Verify(addr, s.reference)
}

// Close powers the target down and releases the bridge. It is safe to call
// more than once and on a nil Session.
func (s *Session) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if s.bridge == nil {
		return nil
	}

	var errs []error
	if s.powered {
		if err := s.bridge.SetTargetPower(false); err != nil {
			errs = append(errs, fmt.Errorf("failed to power down target: %w", err))
		}
		s.powered = false
	}
	if err := s.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close bridge: %w", err))
	}
	s.log.Debug("session closed")
	return errors.Join(errs...)
}

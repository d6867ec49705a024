// Package serialbridge drives a USB serial SPI bridge that speaks the
// framed command protocol of internal/protocol.
package serialbridge

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/norflash/internal/bridge"
	"github.com/bigbag/norflash/internal/protocol"
	"github.com/bigbag/norflash/internal/serial"
	"github.com/bigbag/norflash/internal/slip"
)

// Timeouts
const (
	DefaultCommandTimeout = 5 * time.Second
	DefaultSyncTimeout    = 500 * time.Millisecond
	syncAttempts          = 10
)

// ErrTimeout is returned when no response arrives in time.
var ErrTimeout = errors.New("timeout waiting for response")

// Conn is the byte link to the bridge. Read returns 0, nil when no data is
// available yet.
type Conn interface {
	io.ReadWriter
	Flush() error
	Close() error
}

// Bridge implements bridge.Bridge over a serial link.
type Bridge struct {
	conn   Conn
	in     *deadlineReader
	frames *slip.Reader
	out    *slip.Writer
	log    logrus.FieldLogger

	commandTimeout time.Duration
	syncTimeout    time.Duration
}

var _ bridge.Bridge = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger for frame tracing.
func WithLogger(log logrus.FieldLogger) Option {
	return func(b *Bridge) {
		if log != nil {
			b.log = log
		}
	}
}

// WithTimeouts overrides the command and per-attempt sync timeouts.
func WithTimeouts(command, sync time.Duration) Option {
	return func(b *Bridge) {
		if command > 0 {
			b.commandTimeout = command
		}
		if sync > 0 {
			b.syncTimeout = sync
		}
	}
}

// New wraps an open connection. It does not talk to the bridge.
func New(conn Conn, opts ...Option) *Bridge {
	in := &deadlineReader{r: conn}
	b := &Bridge{
		conn:           conn,
		in:             in,
		frames:         slip.NewReader(in),
		out:            slip.NewWriter(conn),
		log:            logrus.StandardLogger(),
		commandTimeout: DefaultCommandTimeout,
		syncTimeout:    DefaultSyncTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens portName and synchronizes with the bridge firmware.
func Open(portName string, baudRate int, opts ...Option) (*Bridge, error) {
	port, err := serial.Open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	b := New(port, opts...)
	if err := b.Sync(); err != nil {
		port.Close()
		return nil, fmt.Errorf("%s: %w", portName, err)
	}
	return b, nil
}

// Sync sends SYNC until the bridge answers, draining the extra replies the
// firmware emits for a single request.
func (b *Bridge) Sync() error {
	req := protocol.NewRequest(protocol.CmdSync, protocol.SyncData())

	for attempt := 0; attempt < syncAttempts; attempt++ {
		b.conn.Flush()
		b.frames.Reset(b.in)

		if err := b.out.WriteFrame(req.Encode()); err != nil {
			continue
		}

		resp, err := b.readResponse(protocol.CmdSync, b.syncTimeout)
		if err != nil {
			b.log.WithField("attempt", attempt+1).Debug("sync: no answer")
			continue
		}
		if resp.IsSuccess() {
			b.conn.Flush()
			b.frames.Reset(b.in)
			return nil
		}
	}

	return fmt.Errorf("sync failed after %d attempts", syncAttempts)
}

// Info queries the bridge identification.
func (b *Bridge) Info() (*protocol.Info, error) {
	resp, err := b.command(protocol.CmdGetInfo, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseInfo(resp)
}

// Configure implements bridge.Bridge.
func (b *Bridge) Configure(cfg bridge.SPIConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	order := byte(protocol.BitOrderMSB)
	if cfg.BitOrder == bridge.LSBFirst {
		order = protocol.BitOrderLSB
	}
	ss := byte(protocol.SSActiveLow)
	if !cfg.SSActiveLow {
		ss = protocol.SSActiveHigh
	}
	data := protocol.SpiConfigureData(byte(cfg.Mode), order, ss, uint32(cfg.BitrateKHz))
	_, err := b.command(protocol.CmdSpiConfigure, data)
	return err
}

// SetTargetPower implements bridge.Bridge.
func (b *Bridge) SetTargetPower(on bool) error {
	_, err := b.command(protocol.CmdTargetPower, protocol.TargetPowerData(on))
	return err
}

// Transfer implements bridge.Bridge. The returned slice holds the bytes the
// bridge reports as shifted in; it may be shorter than out.
func (b *Bridge) Transfer(out []byte) ([]byte, error) {
	if len(out) > protocol.MaxTransfer {
		return nil, fmt.Errorf("transfer of %d bytes exceeds bridge limit %d", len(out), protocol.MaxTransfer)
	}
	resp, err := b.command(protocol.CmdSpiTransfer, out)
	if err != nil {
		return nil, err
	}
	in := resp.Data
	if int(resp.Value) < len(in) {
		in = in[:resp.Value]
	}
	return in, nil
}

// Close implements bridge.Bridge.
func (b *Bridge) Close() error {
	return b.conn.Close()
}

// command sends a request and waits for its successful response.
func (b *Bridge) command(cmd byte, data []byte) (*protocol.Response, error) {
	req := protocol.NewRequest(cmd, data)
	if err := b.out.WriteFrame(req.Encode()); err != nil {
		return nil, fmt.Errorf("%s: %w", protocol.CommandName(cmd), err)
	}

	resp, err := b.readResponse(cmd, b.commandTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", protocol.CommandName(cmd), err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// readResponse returns the next response to cmd. Responses to other
// commands, such as late SYNC replies, are skipped.
func (b *Bridge) readResponse(cmd byte, timeout time.Duration) (*protocol.Response, error) {
	b.in.deadline = time.Now().Add(timeout)

	for {
		frame, err := b.frames.ReadFrame()
		if errors.Is(err, slip.ErrBadEscape) {
			continue
		}
		if err != nil {
			return nil, err
		}

		resp, err := protocol.DecodeResponse(frame)
		if err != nil {
			b.log.WithError(err).Debug("dropping malformed frame")
			continue
		}
		if resp.Command != cmd {
			b.log.WithField("cmd", protocol.CommandName(resp.Command)).Debug("skipping stale response")
			continue
		}
		return resp, nil
	}
}

// deadlineReader turns the port's empty reads into ErrTimeout once the
// deadline has passed.
type deadlineReader struct {
	r        io.Reader
	deadline time.Time
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	for {
		n, err := d.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
		if time.Now().After(d.deadline) {
			return 0, ErrTimeout
		}
	}
}

// Package mpsse drives an FTDI FT232H in MPSSE mode as an SPI bridge.
//
// Wiring: ADBUS0 SCK, ADBUS1 MOSI, ADBUS2 MISO, ADBUS4 SS, ACBUS0 target
// supply enable.
package mpsse

import (
	"errors"
	"fmt"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"

	"github.com/bigbag/norflash/internal/bridge"
)

// USB identifiers of the FT232H.
const (
	VendorID  = 0x0403
	ProductID = 0x6014
)

// maxTx is the largest MPSSE transaction [AN_108].
const maxTx = 65536

var hostInitialized atomic.Bool

func initHost() error {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			hostInitialized.Store(false)
			return fmt.Errorf("host initialization failed: %w", err)
		}
	}
	return nil
}

// DeviceInfo describes an FT232H found on the bus.
type DeviceInfo struct {
	Serial string
	Opened bool
}

func (d DeviceInfo) String() string {
	if d.Serial == "" {
		return "FT232H"
	}
	return "FT232H serial " + d.Serial
}

// List returns the FT232H devices visible to the host.
func List() ([]DeviceInfo, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	var out []DeviceInfo
	for _, ft := range ft232hs() {
		out = append(out, describe(ft))
	}
	return out, nil
}

func ft232hs() []*ftdi.FT232H {
	var out []*ftdi.FT232H
	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != VendorID || info.DevID != ProductID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			out = append(out, ft)
		}
	}
	return out
}

func describe(ft *ftdi.FT232H) DeviceInfo {
	info := ftdi.Info{}
	ft.Info(&info)
	ee := ftdi.EEPROM{}
	d := DeviceInfo{Opened: info.Opened}
	if err := ft.EEPROM(&ee); err == nil {
		d.Serial = ee.Serial
	}
	return d
}

// Bridge implements bridge.Bridge on an FT232H.
type Bridge struct {
	ft    *ftdi.FT232H
	info  DeviceInfo
	cs    gpio.PinIO
	power gpio.PinIO

	port spi.PortCloser
	conn spi.Conn
	cfg  *bridge.SPIConfig
}

var _ bridge.Bridge = (*Bridge)(nil)

// Open returns the first FT232H whose EEPROM serial number equals serial,
// or the first one found when serial is empty.
func Open(serial string) (*Bridge, error) {
	if err := initHost(); err != nil {
		return nil, err
	}
	for _, ft := range ft232hs() {
		info := describe(ft)
		if serial != "" && info.Serial != serial {
			continue
		}
		return &Bridge{
			ft:    ft,
			info:  info,
			cs:    ft.D4,
			power: ft.C0,
		}, nil
	}
	if serial != "" {
		return nil, fmt.Errorf("FT232H with serial %q: %w", serial, bridge.ErrNotFound)
	}
	return nil, fmt.Errorf("FT232H: %w", bridge.ErrNotFound)
}

// Info returns the identification of the opened device.
func (b *Bridge) Info() DeviceInfo {
	return b.info
}

// ConnectParams maps a transport configuration to periph connection
// parameters. The MPSSE engine only clocks modes 0 and 2.
func ConnectParams(cfg bridge.SPIConfig) (physic.Frequency, spi.Mode, error) {
	if err := cfg.Validate(); err != nil {
		return 0, 0, err
	}
	if cfg.Phase() != bridge.PhaseSampleSetup {
		return 0, 0, fmt.Errorf("SPI mode %d not supported by MPSSE", cfg.Mode)
	}
	mode := spi.Mode(cfg.Mode)
	if cfg.BitOrder == bridge.LSBFirst {
		mode |= spi.LSBFirst
	}
	return physic.Frequency(cfg.BitrateKHz) * physic.KiloHertz, mode, nil
}

// Configure implements bridge.Bridge. The SPI port connects once; a later
// call must repeat the same configuration.
func (b *Bridge) Configure(cfg bridge.SPIConfig) error {
	freq, mode, err := ConnectParams(cfg)
	if err != nil {
		return err
	}
	if b.conn != nil {
		if *b.cfg != cfg {
			return errors.New("SPI already connected with a different configuration")
		}
		return nil
	}

	if b.port == nil {
		b.port, err = b.ft.SPI()
		if err != nil {
			return fmt.Errorf("failed to get SPI port: %w", err)
		}
	}
	b.conn, err = b.port.Connect(freq, mode, 8)
	if err != nil {
		return fmt.Errorf("failed to connect SPI: %w", err)
	}
	b.cfg = &cfg
	return b.cs.Out(b.ssLevel(false))
}

func (b *Bridge) ssLevel(active bool) gpio.Level {
	activeLow := b.cfg == nil || b.cfg.SSActiveLow
	return gpio.Level(active != activeLow)
}

// SetTargetPower implements bridge.Bridge.
func (b *Bridge) SetTargetPower(on bool) error {
	return b.power.Out(gpio.Level(on))
}

// Transfer implements bridge.Bridge.
func (b *Bridge) Transfer(out []byte) (in []byte, err error) {
	if b.conn == nil {
		return nil, errors.New("SPI not configured")
	}
	if len(out) > maxTx {
		return nil, fmt.Errorf("transfer of %d bytes exceeds MPSSE limit %d", len(out), maxTx)
	}
	in = make([]byte, len(out))

	if err = b.cs.Out(b.ssLevel(true)); err != nil {
		return nil, err
	}
	defer func() {
		if csErr := b.cs.Out(b.ssLevel(false)); csErr != nil && err == nil {
			err = csErr
		}
	}()
	if err = b.conn.Tx(out, in); err != nil {
		return nil, err
	}
	return in, nil
}

// Close implements bridge.Bridge.
func (b *Bridge) Close() error {
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	b.conn = nil
	return err
}

// Package detect finds and opens bridge adapters.
package detect

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/norflash/internal/bridge"
	"github.com/bigbag/norflash/internal/flashsim"
	"github.com/bigbag/norflash/internal/mpsse"
	"github.com/bigbag/norflash/internal/serial"
	"github.com/bigbag/norflash/internal/serialbridge"
)

// Kind names an adapter family.
type Kind string

const (
	KindSerial Kind = "serial"
	KindFTDI   Kind = "ftdi"
	KindSim    Kind = "sim"
)

// ParseKind validates an adapter name given on the command line.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindSerial, KindFTDI, KindSim:
		return k, nil
	default:
		return "", fmt.Errorf("unknown adapter %q (want serial, ftdi or sim)", s)
	}
}

// Adapter is a discovered bridge.
type Adapter struct {
	Kind   Kind
	Port   string
	Serial string
	Info   string
}

func (a Adapter) String() string {
	s := string(a.Kind)
	if a.Port != "" {
		s += " " + a.Port
	}
	if a.Serial != "" {
		s += " serial " + a.Serial
	}
	if a.Info != "" {
		s += " (" + a.Info + ")"
	}
	return s
}

// Detector scans the host for adapters. The zero value is not usable; use
// New.
type Detector struct {
	BaudRate int
	Log      logrus.FieldLogger

	listPorts func() ([]serial.PortInfo, error)
	probe     func(port string, baud int) (string, error)
	listFTDI  func() ([]mpsse.DeviceInfo, error)
}

// New returns a Detector for the real host.
func New(baudRate int, log logrus.FieldLogger) *Detector {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Detector{
		BaudRate:  baudRate,
		Log:       log,
		listPorts: serial.ListPorts,
		probe:     probeSerial(log),
		listFTDI:  mpsse.List,
	}
}

// probeSerial syncs with the bridge on port and returns its serial number.
func probeSerial(log logrus.FieldLogger) func(string, int) (string, error) {
	return func(port string, baud int) (string, error) {
		b, err := serialbridge.Open(port, baud, serialbridge.WithLogger(log))
		if err != nil {
			return "", err
		}
		defer b.Close()

		info, err := b.Info()
		if err != nil {
			return "", err
		}
		return info.Serial, nil
	}
}

// ListAdapters returns every FT232H and every serial port whose bridge
// answers SYNC.
func (d *Detector) ListAdapters() ([]Adapter, error) {
	var adapters []Adapter

	devs, err := d.listFTDI()
	if err != nil {
		d.Log.WithError(err).Debug("FTDI scan failed")
	}
	for _, dev := range devs {
		adapters = append(adapters, Adapter{Kind: KindFTDI, Serial: dev.Serial, Info: dev.String()})
	}

	ports, err := d.listPorts()
	if err != nil {
		return adapters, fmt.Errorf("failed to list ports: %w", err)
	}
	for _, p := range ports {
		sn, err := d.probe(p.Name, d.BaudRate)
		if err != nil {
			d.Log.WithError(err).WithField("port", p.Name).Debug("no bridge")
			continue
		}
		adapters = append(adapters, Adapter{Kind: KindSerial, Port: p.Name, Serial: bridgeSerial(sn, p), Info: p.Product})
	}
	return adapters, nil
}

func bridgeSerial(reported string, p serial.PortInfo) string {
	if reported != "" {
		return reported
	}
	return p.Serial
}

// Find returns the first adapter of kind that matches port and serial
// number; empty values match anything. The error wraps bridge.ErrNotFound
// when nothing matches.
func (d *Detector) Find(kind Kind, port, serialNo string) (*Adapter, error) {
	switch kind {
	case KindSim:
		return &Adapter{Kind: KindSim, Info: "simulated W25Q64FW"}, nil
	case KindFTDI:
		return d.findFTDI(serialNo)
	case KindSerial:
		return d.findSerial(port, serialNo)
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", kind)
	}
}

func (d *Detector) findFTDI(serialNo string) (*Adapter, error) {
	devs, err := d.listFTDI()
	if err != nil {
		return nil, err
	}
	for _, dev := range devs {
		if serialNo != "" && dev.Serial != serialNo {
			continue
		}
		return &Adapter{Kind: KindFTDI, Serial: dev.Serial, Info: dev.String()}, nil
	}
	return nil, notFound(KindFTDI, serialNo)
}

func (d *Detector) findSerial(port, serialNo string) (*Adapter, error) {
	var candidates []serial.PortInfo
	if port != "" {
		candidates = []serial.PortInfo{{Name: port}}
	} else {
		ports, err := d.listPorts()
		if err != nil {
			return nil, fmt.Errorf("failed to list ports: %w", err)
		}
		candidates = ports
	}

	var lastErr error
	for _, p := range candidates {
		// USB descriptors give the serial number without touching the port.
		if serialNo != "" && p.Serial != "" && p.Serial != serialNo {
			continue
		}
		sn, err := d.probe(p.Name, d.BaudRate)
		if err != nil {
			lastErr = err
			continue
		}
		sn = bridgeSerial(sn, p)
		if serialNo != "" && sn != serialNo {
			continue
		}
		return &Adapter{Kind: KindSerial, Port: p.Name, Serial: sn, Info: p.Product}, nil
	}

	err := notFound(KindSerial, serialNo)
	if lastErr != nil {
		return nil, fmt.Errorf("%w (last error: %v)", err, lastErr)
	}
	return nil, err
}

func notFound(kind Kind, serialNo string) error {
	if serialNo != "" {
		return fmt.Errorf("%s adapter with serial %q: %w", kind, serialNo, bridge.ErrNotFound)
	}
	return fmt.Errorf("%s adapter: %w", kind, bridge.ErrNotFound)
}

// Open opens a found adapter. A simulated adapter gets a fresh erased chip.
func (d *Detector) Open(a *Adapter) (bridge.Bridge, error) {
	switch a.Kind {
	case KindSim:
		return flashsim.New(), nil
	case KindFTDI:
		return mpsse.Open(a.Serial)
	case KindSerial:
		return serialbridge.Open(a.Port, d.BaudRate, serialbridge.WithLogger(d.Log))
	default:
		return nil, fmt.Errorf("unknown adapter kind %q", a.Kind)
	}
}

// Opener returns a function that finds and opens an adapter, for use with
// flasher.Open.
func (d *Detector) Opener(kind Kind, port, serialNo string) func() (bridge.Bridge, error) {
	return func() (bridge.Bridge, error) {
		a, err := d.Find(kind, port, serialNo)
		if err != nil {
			return nil, err
		}
		d.Log.WithField("adapter", a.String()).Debug("adapter found")
		return d.Open(a)
	}
}

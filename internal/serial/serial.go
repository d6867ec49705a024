// Package serial opens the USB CDC link of a serial SPI bridge.
package serial

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// DefaultReadTimeout bounds a single Read call.
const DefaultReadTimeout = 100 * time.Millisecond

// Port is an open serial connection to a bridge.
type Port struct {
	port        serial.Port
	portName    string
	baudRate    int
	readTimeout time.Duration
}

// Open opens a serial port with the specified baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:        port,
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: DefaultReadTimeout,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads data from the serial port. It returns 0, nil when the read
// timeout expires without data.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// SetReadTimeout changes the timeout of subsequent reads.
func (p *Port) SetReadTimeout(timeout time.Duration) error {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return err
	}
	p.readTimeout = timeout
	return nil
}

// ReadTimeout returns the current read timeout.
func (p *Port) ReadTimeout() time.Duration {
	return p.readTimeout
}

// Flush discards any buffered input and output.
func (p *Port) Flush() error {
	if err := p.port.ResetInputBuffer(); err != nil {
		return err
	}
	return p.port.ResetOutputBuffer()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Name    string
	IsUSB   bool
	VID     string
	PID     string
	Serial  string
	Product string
}

func (pi PortInfo) String() string {
	if !pi.IsUSB {
		return pi.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", pi.Name, strings.ToLower(pi.VID), strings.ToLower(pi.PID))
	if pi.Serial != "" {
		s += " serial " + pi.Serial
	}
	if pi.Product != "" {
		s += " (" + pi.Product + ")"
	}
	return s
}

// ListPorts returns the serial ports of the system with their USB details
// where the platform reports them.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, lerr := serial.GetPortsList()
		if lerr != nil {
			return nil, err
		}
		infos := make([]PortInfo, 0, len(names))
		for _, name := range names {
			infos = append(infos, PortInfo{Name: name})
		}
		return infos, nil
	}

	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, PortInfo{
			Name:    d.Name,
			IsUSB:   d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		})
	}
	return infos, nil
}

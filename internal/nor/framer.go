package nor

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Transferer is the single bridge primitive the framer needs.
type Transferer interface {
	Transfer(out []byte) ([]byte, error)
}

// Framer turns flash operations into byte commands and interprets the
// raw responses. It never retries.
type Framer struct {
	tx   Transferer
	cmds CommandSet
	geom Geometry
	log  logrus.FieldLogger
}

// NewFramer creates a Framer sending cmds over tx.
func NewFramer(tx Transferer, cmds CommandSet, geom Geometry, log logrus.FieldLogger) *Framer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Framer{tx: tx, cmds: cmds, geom: geom, log: log}
}

// CommandSet returns the opcode table in use.
func (f *Framer) CommandSet() CommandSet {
	return f.cmds
}

// exchange runs one transaction and checks the returned byte count.
func (f *Framer) exchange(op string, out []byte) ([]byte, error) {
	in, err := f.tx.Transfer(out)
	res := TransferResult{Transferred: len(in), Expected: len(out)}
	if err != nil {
		return nil, &TransportError{Op: op, Result: res, Err: err}
	}
	if !res.OK() {
		return nil, &TransportError{Op: op, Result: res}
	}
	return in, nil
}

// command builds opcode + optional 3-byte address + payload.
func command(opcode byte, addr *uint32, payload []byte, trailing int) []byte {
	n := 1 + len(payload) + trailing
	if addr != nil {
		n += 3
	}
	buf := make([]byte, 0, n)
	buf = append(buf, opcode)
	if addr != nil {
		buf = append(buf, addr24(*addr)...)
	}
	buf = append(buf, payload...)
	return buf[:n]
}

func checkAddr(addr uint32) error {
	if addr > MaxAddress {
		return fmt.Errorf("address 0x%X out of 24-bit range", addr)
	}
	return nil
}

// Identify sends the identify command and returns the complete response,
// opcode position included. The caller checks the signature byte.
func (f *Framer) Identify() ([]byte, error) {
	in, err := f.exchange("identify", command(f.cmds.Identify, nil, nil, f.cmds.IdentifyLen))
	if err != nil {
		return nil, err
	}
	f.log.WithField("response", fmt.Sprintf("% X", in)).Debug("identify")
	return in, nil
}

// Matches reports whether an identify response carries the expected
// signature.
func (f *Framer) Matches(id []byte) bool {
	off := f.cmds.SignatureOffset
	return off < len(id) && id[off] == f.cmds.Signature
}

// ReadStatus returns status register 1 (response byte 1).
func (f *Framer) ReadStatus() (Status, error) {
	in, err := f.exchange("read status", command(f.cmds.ReadStatus, nil, nil, 1))
	if err != nil {
		return 0, err
	}
	return Status(in[1]), nil
}

// WriteEnable sets the write enable latch.
func (f *Framer) WriteEnable() error {
	_, err := f.exchange("write enable", command(f.cmds.WriteEnable, nil, nil, 0))
	return err
}

// WriteDisable clears the write enable latch.
func (f *Framer) WriteDisable() error {
	_, err := f.exchange("write disable", command(f.cmds.WriteDisable, nil, nil, 0))
	return err
}

// ReadData reads length bytes starting at addr in a single transaction.
func (f *Framer) ReadData(addr uint32, length int) ([]byte, error) {
	if err := checkAddr(addr); err != nil {
		return nil, err
	}
	in, err := f.exchange("read", command(f.cmds.Read, &addr, nil, length))
	if err != nil {
		return nil, err
	}
	f.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("0x%06X", addr), "len": length}).Debug("read")
	return in[4:], nil
}

// ProgramPage writes data at addr. data must not cross a page boundary:
// the device would wrap the excess onto the start of the page.
func (f *Framer) ProgramPage(addr uint32, data []byte) error {
	if err := checkAddr(addr); err != nil {
		return err
	}
	if f.geom.PageOffset(addr)+len(data) > f.geom.PageSize {
		return fmt.Errorf("program of %d bytes at 0x%06X crosses a %d byte page",
			len(data), addr, f.geom.PageSize)
	}
	if _, err := f.exchange("page program", command(f.cmds.PageProgram, &addr, data, 0)); err != nil {
		return err
	}
	f.log.WithFields(logrus.Fields{"addr": fmt.Sprintf("0x%06X", addr), "len": len(data)}).Debug("page program")
	return nil
}

// EraseUnit erases the 64 KiB block containing addr.
func (f *Framer) EraseUnit(addr uint32) error {
	return f.erase("block erase", f.cmds.BlockErase, addr)
}

// EraseSector erases the 4 KiB sector containing addr.
func (f *Framer) EraseSector(addr uint32) error {
	return f.erase("sector erase", f.cmds.SectorErase, addr)
}

func (f *Framer) erase(op string, opcode byte, addr uint32) error {
	if err := checkAddr(addr); err != nil {
		return err
	}
	if _, err := f.exchange(op, command(opcode, &addr, nil, 0)); err != nil {
		return err
	}
	f.log.WithField("addr", fmt.Sprintf("0x%06X", addr)).Debug(op)
	return nil
}

// EraseChip erases the entire device.
func (f *Framer) EraseChip() error {
	if _, err := f.exchange("chip erase", command(f.cmds.ChipErase, nil, nil, 0)); err != nil {
		return err
	}
	f.log.Debug("chip erase")
	return nil
}

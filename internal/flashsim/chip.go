// Package flashsim simulates a W25Q64FW serial NOR flash behind a bridge
// adapter. It is used by tests and by the CLI's sim adapter.
package flashsim

import (
	"errors"
	"fmt"

	"github.com/bigbag/norflash/internal/bridge"
)

const (
	opIdentify     = 0x90
	opReadStatus   = 0x05
	opWriteEnable  = 0x06
	opWriteDisable = 0x04
	opRead         = 0x03
	opPageProgram  = 0x02
	opSectorErase  = 0x20
	opBlockErase   = 0xD8
	opChipErase    = 0x60

	manufacturerID = 0xEF
	deviceID       = 0x16
)

// Geometry of the simulated part.
const (
	Capacity   = 8 * 1024 * 1024
	PageSize   = 256
	SectorSize = 4 * 1024
	BlockSize  = 64 * 1024
)

// ErrNotPowered is returned by Transfer while the target supply is off.
var ErrNotPowered = errors.New("flashsim: target not powered")

// Command is one recorded transaction.
type Command struct {
	Opcode byte
	Addr   uint32
	Len    int
	// Busy is set when the command arrived while the chip was busy.
	Busy bool
}

// Chip is an in-memory serial NOR flash. It is not safe for concurrent use.
type Chip struct {
	mem     []byte
	powered bool
	wel     bool
	busy    int
	closed  bool
	cfg     *bridge.SPIConfig

	// BusyPolls is the number of status reads that report busy after a
	// program or erase.
	BusyPolls int

	// ShortTransfer, when set, makes Transfer drop the last byte of any
	// transaction for which it returns true.
	ShortTransfer func(out []byte) bool

	Log []Command
}

// New returns an erased chip.
func New() *Chip {
	mem := make([]byte, Capacity)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Chip{mem: mem, BusyPolls: 2}
}

// Memory exposes the array content.
func (c *Chip) Memory() []byte {
	return c.mem
}

// Powered reports the target supply state.
func (c *Chip) Powered() bool {
	return c.powered
}

// Closed reports whether Close was called.
func (c *Chip) Closed() bool {
	return c.closed
}

// Config returns the last applied SPI configuration, nil if none.
func (c *Chip) Config() *bridge.SPIConfig {
	return c.cfg
}

// Configure implements bridge.Bridge.
func (c *Chip) Configure(cfg bridge.SPIConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = &cfg
	return nil
}

// SetTargetPower implements bridge.Bridge. Power cycling clears the latch
// and any pending operation.
func (c *Chip) SetTargetPower(on bool) error {
	c.powered = on
	c.wel = false
	c.busy = 0
	return nil
}

// Close implements bridge.Bridge.
func (c *Chip) Close() error {
	c.closed = true
	return nil
}

// Transfer implements bridge.Bridge.
func (c *Chip) Transfer(out []byte) ([]byte, error) {
	if c.closed {
		return nil, errors.New("flashsim: closed")
	}
	if !c.powered {
		return nil, ErrNotPowered
	}
	in := make([]byte, len(out))
	for i := range in {
		in[i] = 0xFF
	}
	if len(out) == 0 {
		return in, nil
	}

	cmd := Command{Opcode: out[0], Len: len(out), Busy: c.busy > 0}
	if len(out) >= 4 {
		cmd.Addr = uint32(out[1])<<16 | uint32(out[2])<<8 | uint32(out[3])
	}
	c.Log = append(c.Log, cmd)

	if out[0] == opReadStatus {
		c.status(in)
	} else if c.busy == 0 {
		if err := c.execute(out, in, cmd.Addr); err != nil {
			return nil, err
		}
	}

	if c.ShortTransfer != nil && c.ShortTransfer(out) {
		return in[:len(in)-1], nil
	}
	return in, nil
}

func (c *Chip) status(in []byte) {
	var sr byte
	if c.busy > 0 {
		sr |= 0x01
		c.busy--
	}
	if c.wel {
		sr |= 0x02
	}
	for i := 1; i < len(in); i++ {
		in[i] = sr
	}
}

func (c *Chip) execute(out, in []byte, addr uint32) error {
	addr %= Capacity
	switch out[0] {
	case opIdentify:
		ids := []byte{manufacturerID, deviceID}
		for i := 4; i < len(in); i++ {
			in[i] = ids[(i-4)%2]
		}
	case opWriteEnable:
		c.wel = true
	case opWriteDisable:
		c.wel = false
	case opRead:
		if len(out) < 4 {
			return fmt.Errorf("flashsim: read without address")
		}
		for i := 4; i < len(in); i++ {
			in[i] = c.mem[(int(addr)+i-4)%Capacity]
		}
	case opPageProgram:
		if len(out) < 4 {
			return fmt.Errorf("flashsim: program without address")
		}
		if c.latch() {
			c.program(addr, out[4:])
		}
	case opSectorErase:
		if c.latch() {
			c.fill(addr-addr%SectorSize, SectorSize)
		}
	case opBlockErase:
		if c.latch() {
			c.fill(addr-addr%BlockSize, BlockSize)
		}
	case opChipErase:
		if c.latch() {
			c.fill(0, Capacity)
		}
	}
	return nil
}

// latch consumes the write enable latch and starts a busy period.
func (c *Chip) latch() bool {
	if !c.wel {
		return false
	}
	c.wel = false
	c.busy = c.BusyPolls
	return true
}

// program ANDs data into the page, wrapping at the page end.
func (c *Chip) program(addr uint32, data []byte) {
	page := int(addr) - int(addr)%PageSize
	off := int(addr) % PageSize
	for _, b := range data {
		c.mem[page+off] &= b
		off = (off + 1) % PageSize
	}
}

func (c *Chip) fill(start uint32, n int) {
	for i := int(start); i < int(start)+n; i++ {
		c.mem[i] = 0xFF
	}
}

// Opcodes returns the recorded opcodes in order.
func (c *Chip) Opcodes() []byte {
	ops := make([]byte, len(c.Log))
	for i, cmd := range c.Log {
		ops[i] = cmd.Opcode
	}
	return ops
}

// ResetLog clears the command log.
func (c *Chip) ResetLog() {
	c.Log = nil
}

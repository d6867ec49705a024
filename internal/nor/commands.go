package nor

import "fmt"

// CommandSet is the opcode table of a serial NOR flash together with the
// identify response layout used to recognise the chip.
type CommandSet struct {
	Identify     byte
	ReadStatus   byte
	WriteEnable  byte
	WriteDisable byte
	Read         byte
	PageProgram  byte
	SectorErase  byte
	BlockErase   byte
	ChipErase    byte

	// IdentifyLen is the number of bytes clocked in after the identify opcode.
	IdentifyLen int
	// SignatureOffset indexes the full identify response (opcode included).
	SignatureOffset int
	Signature       byte
}

// W25Q64FW returns the command set of the Winbond W25Q64FW.
func W25Q64FW() CommandSet {
	return CommandSet{
		Identify:     0x90,
		ReadStatus:   0x05,
		WriteEnable:  0x06,
		WriteDisable: 0x04,
		Read:         0x03,
		PageProgram:  0x02,
		SectorErase:  0x20,
		BlockErase:   0xD8,
		ChipErase:    0x60,

		IdentifyLen:     5,
		SignatureOffset: 5,
		Signature:       0x16,
	}
}

// MaxAddress is the highest offset reachable with a 3-byte address.
const MaxAddress = 0xFFFFFF

// Geometry describes the page, erase unit and capacity of a chip.
type Geometry struct {
	PageSize      int
	EraseUnitSize int
	SectorSize    int
	Capacity      int
	MaxReadChunk  int
}

// DefaultGeometry is 256 B pages, 64 KiB erase units and 8 MiB capacity.
func DefaultGeometry() Geometry {
	return Geometry{
		PageSize:      256,
		EraseUnitSize: 64 * 1024,
		SectorSize:    4 * 1024,
		Capacity:      256 * 32768,
		MaxReadChunk:  32768,
	}
}

// Pages returns the number of pages on the chip.
func (g Geometry) Pages() int {
	return g.Capacity / g.PageSize
}

// PageOffset returns the offset of addr within its page.
func (g Geometry) PageOffset(addr uint32) int {
	return int(addr % uint32(g.PageSize))
}

// UnitStart returns the first address of the erase unit containing addr.
func (g Geometry) UnitStart(addr uint32) uint32 {
	return addr - addr%uint32(g.EraseUnitSize)
}

// UnitAligned reports whether addr starts an erase unit.
func (g Geometry) UnitAligned(addr uint32) bool {
	return addr%uint32(g.EraseUnitSize) == 0
}

// CheckRange rejects requests reaching past the end of the chip.
func (g Geometry) CheckRange(addr uint32, size int) error {
	if size < 0 || int64(addr)+int64(size) > int64(g.Capacity) {
		return &SizeExceededError{Addr: addr, Size: size, Capacity: g.Capacity}
	}
	return nil
}

func (g Geometry) String() string {
	return fmt.Sprintf("%d KiB, %d B pages, %d KiB erase units",
		g.Capacity/1024, g.PageSize, g.EraseUnitSize/1024)
}

// addr24 encodes addr as three big-endian bytes.
func addr24(addr uint32) []byte {
	return []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

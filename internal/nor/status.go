package nor

import (
	"fmt"
	"strings"
)

// Status is the content of status register 1.
//
//	Bit | Name
//	----+--------------------------
//	7   | SRP  status register protect
//	6   | SEC  sector protect
//	5   | TB   top/bottom protect
//	4:2 | BP2-0 block protect
//	1   | WEL  write enable latch
//	0   | BUSY erase/write in progress
type Status byte

// Busy reports an erase or program in progress.
func (s Status) Busy() bool { return s&(1<<0) != 0 }

// WriteEnabled reports the write enable latch.
func (s Status) WriteEnabled() bool { return s&(1<<1) != 0 }

// BlockProtect returns the BP2-0 field.
func (s Status) BlockProtect() byte { return byte(s>>2) & 0x07 }

// TopBottom reports whether block protection counts from the bottom.
func (s Status) TopBottom() bool { return s&(1<<5) != 0 }

// SectorProtect reports 4 KiB sector granularity for block protection.
func (s Status) SectorProtect() bool { return s&(1<<6) != 0 }

// StatusProtect reports the status register protect bit.
func (s Status) StatusProtect() bool { return s&(1<<7) != 0 }

func (s Status) String() string {
	b := fmt.Sprintf("%08b", byte(s))
	var flags []string
	if s.StatusProtect() {
		flags = append(flags, "SRP")
	}
	if s.SectorProtect() {
		flags = append(flags, "SEC")
	}
	if s.TopBottom() {
		flags = append(flags, "TB")
	}
	if bp := s.BlockProtect(); bp != 0 {
		flags = append(flags, fmt.Sprintf("BP=%d", bp))
	}
	if s.WriteEnabled() {
		flags = append(flags, "WEL")
	}
	if s.Busy() {
		flags = append(flags, "BUSY")
	}
	if len(flags) == 0 {
		return b
	}
	return b + " " + strings.Join(flags, ",")
}

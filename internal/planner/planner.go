// Package planner splits a write request into erase and page program steps
// that respect the page and erase unit boundaries of a serial NOR flash.
package planner

import (
	"fmt"

	"github.com/bigbag/norflash/internal/nor"
)

// Kind identifies the operation of a Step.
type Kind int

const (
	// Erase erases the erase unit starting at Step.Addr.
	Erase Kind = iota
	// Program writes Step.Data to a single page.
	Program
)

func (k Kind) String() string {
	switch k {
	case Erase:
		return "erase"
	case Program:
		return "program"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Step is one device operation. Erase steps carry the start of the erase
// unit; program steps carry the bytes to write at Addr.
type Step struct {
	Kind Kind
	Addr uint32
	Data []byte
}

func (s Step) String() string {
	if s.Kind == Erase {
		return fmt.Sprintf("erase 0x%06X", s.Addr)
	}
	return fmt.Sprintf("program 0x%06X (%d bytes)", s.Addr, len(s.Data))
}

// Policy decides when an erase unit is erased.
type Policy int

const (
	// Boundary erases the unit under the head segment and every unit whose
	// first byte is reached by a later segment. Units are not remembered
	// between requests, so a second request into an already written unit
	// erases it again.
	Boundary Policy = iota

	// Tracked erases each unit at most once per Planner, right before the
	// first program step that touches it. A unit counts as erased only once
	// the caller reports it through MarkErased.
	Tracked
)

func (p Policy) String() string {
	if p == Tracked {
		return "tracked"
	}
	return "boundary"
}

// Segments is the head/body/tail decomposition of a request.
type Segments struct {
	Head  int
	Pages int
	Tail  int
}

// Split computes the segments of a len-byte request at addr.
func Split(geom nor.Geometry, addr uint32, length int) Segments {
	firstPageFree := geom.PageSize - geom.PageOffset(addr)
	if length <= firstPageFree {
		return Segments{Head: length}
	}
	rest := length - firstPageFree
	return Segments{
		Head:  firstPageFree,
		Pages: rest / geom.PageSize,
		Tail:  rest % geom.PageSize,
	}
}

// Planner produces step sequences. A Tracked planner remembers the units
// reported erased for its lifetime, one Planner per session. Plan itself
// never changes that record.
type Planner struct {
	geom   nor.Geometry
	policy Policy
	erased map[uint32]bool
}

// New creates a Planner for geom.
func New(geom nor.Geometry, policy Policy) *Planner {
	return &Planner{
		geom:   geom,
		policy: policy,
		erased: make(map[uint32]bool),
	}
}

// Policy returns the erase policy.
func (p *Planner) Policy() Policy {
	return p.policy
}

// MarkErased records a completed erase of the unit containing addr.
func (p *Planner) MarkErased(addr uint32) {
	p.erased[p.geom.UnitStart(addr)] = true
}

// MarkAllErased records a chip erase.
func (p *Planner) MarkAllErased() {
	for u := 0; u < p.geom.Capacity; u += p.geom.EraseUnitSize {
		p.erased[uint32(u)] = true
	}
}

// Plan returns the steps writing data at addr. The caller checks that the
// request fits on the chip.
func (p *Planner) Plan(addr uint32, data []byte) []Step {
	seg := Split(p.geom, addr, len(data))
	steps := make([]Step, 0, 2+seg.Pages*2)
	planned := make(map[uint32]bool)

	if seg.Head > 0 {
		steps = p.eraseBefore(steps, planned, addr, true)
		steps = append(steps, Step{Kind: Program, Addr: addr, Data: data[:seg.Head]})
		data = data[seg.Head:]
		addr += uint32(seg.Head)
	}
	for i := 0; i < seg.Pages; i++ {
		steps = p.eraseBefore(steps, planned, addr, p.geom.UnitAligned(addr))
		steps = append(steps, Step{Kind: Program, Addr: addr, Data: data[:p.geom.PageSize]})
		data = data[p.geom.PageSize:]
		addr += uint32(p.geom.PageSize)
	}
	if seg.Tail > 0 {
		steps = p.eraseBefore(steps, planned, addr, p.geom.UnitAligned(addr))
		steps = append(steps, Step{Kind: Program, Addr: addr, Data: data[:seg.Tail]})
	}
	return steps
}

// eraseBefore appends the erase of the unit containing addr when the policy
// asks for one. boundary is the Boundary policy's own decision; planned
// holds the units already erased earlier in the same plan.
func (p *Planner) eraseBefore(steps []Step, planned map[uint32]bool, addr uint32, boundary bool) []Step {
	unit := p.geom.UnitStart(addr)
	switch p.policy {
	case Tracked:
		if p.erased[unit] || planned[unit] {
			return steps
		}
		planned[unit] = true
	default:
		if !boundary {
			return steps
		}
	}
	return append(steps, Step{Kind: Erase, Addr: unit})
}

// Count returns the number of erase and program steps.
func Count(steps []Step) (erases, programs int) {
	for _, s := range steps {
		if s.Kind == Erase {
			erases++
		} else {
			programs++
		}
	}
	return erases, programs
}

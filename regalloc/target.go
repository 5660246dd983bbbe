package regalloc

import (
	"errors"
	"fmt"
	"math/bits"
)

// ErrTargetImpossible is reported when a target descriptor is
// self-inconsistent and no allocation could ever succeed against it.
var ErrTargetImpossible = errors.New("regalloc: target descriptor is impossible")

// ErrSpillChoiceFailed is reported when allocation failed and no legal
// spill candidate exists, or the attempt budget ran out.
var ErrSpillChoiceFailed = errors.New("regalloc: no legal spill candidate")

// PairAlignment states where multi-component values may start in the
// register file.
type PairAlignment uint8

const (
	// PairAny places wide values at any start index.
	PairAny PairAlignment = iota
	// PairEvenStart restricts values of width >= 2 to even start
	// indices.
	PairEvenStart
)

// ReservedRegion names a register range the allocator must keep free
// for fixed hardware uses (coverage masks, return value staging).
type ReservedRegion struct {
	Name string
	Mask uint64
}

// Target describes the register file and spill constraints of one
// hardware generation. It is immutable for the lifetime of any
// in-flight compile job.
type Target struct {
	// RegisterCount is the size of the register file, at most 64.
	RegisterCount int

	// PairAlignment constrains the start index of wide values.
	PairAlignment PairAlignment

	// Reserved lists regions the allocator avoids for ordinary
	// values.
	Reserved []ReservedRegion

	// TLSPageSize is the alignment quantum for spill offsets. Spill
	// bases never cross a page boundary.
	TLSPageSize int

	// OccupancyScaling enables the reduced-pressure first pass over
	// the lower half of the file.
	OccupancyScaling bool
}

// DefaultTarget returns the canonical 64-register target with paired
// allocation and 16-byte TLS pages.
func DefaultTarget() Target {
	return Target{
		RegisterCount:    64,
		PairAlignment:    PairEvenStart,
		TLSPageSize:      16,
		OccupancyScaling: true,
	}
}

// Validate checks the descriptor for internal consistency.
func (t Target) Validate() error {
	if t.RegisterCount < 1 {
		return fmt.Errorf("%w: register count %d", ErrTargetImpossible, t.RegisterCount)
	}
	if t.RegisterCount > 64 {
		return fmt.Errorf("%w: register count %d exceeds the 64-register affinity mask", ErrTargetImpossible, t.RegisterCount)
	}
	if t.TLSPageSize < 1 {
		return fmt.Errorf("%w: TLS page size %d", ErrTargetImpossible, t.TLSPageSize)
	}
	file := fileMask(t.RegisterCount)
	reserved := uint64(0)
	for _, r := range t.Reserved {
		if r.Mask&^file != 0 {
			return fmt.Errorf("%w: reserved region %q lies outside the register file", ErrTargetImpossible, r.Name)
		}
		reserved |= r.Mask
	}
	if reserved == file {
		return fmt.Errorf("%w: reserved regions cover the whole register file", ErrTargetImpossible)
	}
	return nil
}

// reservedMask returns the union of all reserved regions.
func (t Target) reservedMask() uint64 {
	var m uint64
	for _, r := range t.Reserved {
		m |= r.Mask
	}
	return m
}

func fileMask(n int) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(n) - 1
}

// lowHalfMask returns the reduced-pressure register subset.
func (t Target) lowHalfMask() uint64 {
	half := t.RegisterCount / 2
	if half < 1 {
		half = 1
	}
	return fileMask(half)
}

// evenStartMask has a bit set at every legal start index for paired
// values.
func evenStartMask(n int) uint64 {
	var m uint64
	for i := 0; i < n; i += 2 {
		m |= 1 << uint(i)
	}
	return m
}

// spanFit returns the start indices at which a value of the given
// component count fits entirely inside the file and avoids every
// reserved register.
func spanFit(n int, comps int, reserved uint64) uint64 {
	if comps < 1 {
		comps = 1
	}
	if comps > n {
		return 0
	}
	m := fileMask(n - comps + 1)
	for i := 0; i < comps; i++ {
		m &^= reserved >> uint(i)
	}
	return m
}

// popcount of a window row entry; small helper shared by the spill
// heuristic.
func windowBits(w uint16) int { return bits.OnesCount16(w) }

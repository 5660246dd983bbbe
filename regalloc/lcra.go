package regalloc

import (
	"math/bits"

	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// solve assigns a register to every allocatable value, considering
// only registers inside limit (the full file, or the reduced-pressure
// subset). Values are processed in declaration order and registers in
// ascending index order, so the produced allocation is deterministic
// for identical input.
//
// On failure the value whose constraint set could not be satisfied is
// returned.
func (st *state) solve(limit uint64) (ir.ValueID, bool) {
	for v := range st.solution {
		st.solution[v] = st.pinned[v]
	}
	for v := 0; v < st.nv; v++ {
		if !st.alloc[v] || st.solution[v] != unassigned {
			continue
		}
		mask := st.affinity[v] & limit
		assigned := false
		for mask != 0 {
			r := bits.TrailingZeros64(mask)
			mask &= mask - 1
			if st.fits(ir.ValueID(v), int16(r)) {
				st.solution[v] = int16(r)
				assigned = true
				break
			}
		}
		if !assigned {
			return ir.ValueID(v), false
		}
	}
	return ir.InvalidValue, true
}

// fits tests a tentative assignment of register r to v against every
// already-solved neighbour.
func (st *state) fits(v ir.ValueID, r int16) bool {
	ok := true
	st.rows[v].forEach(func(w ir.ValueID, window uint16) bool {
		sw := st.solution[w]
		if sw == unassigned {
			return true
		}
		k := int(r) - int(sw) + biasRadius
		if k >= 0 && k < windowWidth && window&(1<<uint(k)) != 0 {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// chooseSpill picks the spill candidate after a failed solve: among
// the values interfering with the failing value and not marked
// no-spill, the one with the largest constraint row-bit-count, ties to
// the lower value id.
func (st *state) chooseSpill(fn *ir.Function, failed ir.ValueID) (ir.ValueID, bool) {
	best := ir.InvalidValue
	bestScore := -1
	st.rows[failed].forEach(func(w ir.ValueID, _ uint16) bool {
		val := fn.Value(w)
		if val.NoSpill || val.IsConst() || !st.alloc[w] {
			return true
		}
		score := st.rows[w].bitCount()
		if score > bestScore {
			best, bestScore = w, score
		}
		return true
	})
	return best, best != ir.InvalidValue
}

package regalloc

import (
	"sort"

	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// biasRadius is half the bias window width. Bit k of a window forbids
// a register difference of k - biasRadius between the two constrained
// values.
const biasRadius = 7

// windowWidth is the number of meaningful bits in a window.
const windowWidth = 2*biasRadius + 1

// denseThreshold is the row population at which a sparse constraint
// row switches to the dense representation.
const denseThreshold = 256

// rowEntry is one sparse constraint: the neighbouring value and the
// forbidden-difference window against it.
type rowEntry struct {
	other  ir.ValueID
	window uint16
}

// row is one value's constraint set. Rows start sparse (sorted by
// neighbour id) and convert to a dense per-value window slice once
// they grow past denseThreshold; a dense matrix over every value pair
// would be almost entirely zeros.
type row struct {
	sparse []rowEntry
	dense  []uint16 // indexed by ValueID when non-nil
	n      int      // populated neighbour count
}

func (r *row) add(nv int, other ir.ValueID, window uint16) {
	if r.dense != nil {
		if r.dense[other] == 0 {
			r.n++
		}
		r.dense[other] |= window
		return
	}
	i := sort.Search(len(r.sparse), func(i int) bool { return r.sparse[i].other >= other })
	if i < len(r.sparse) && r.sparse[i].other == other {
		r.sparse[i].window |= window
		return
	}
	r.sparse = append(r.sparse, rowEntry{})
	copy(r.sparse[i+1:], r.sparse[i:])
	r.sparse[i] = rowEntry{other: other, window: window}
	r.n++
	if r.n > denseThreshold {
		r.toDense(nv)
	}
}

func (r *row) toDense(nv int) {
	r.dense = make([]uint16, nv)
	for _, e := range r.sparse {
		r.dense[e.other] = e.window
	}
	r.sparse = nil
}

// get returns the window against other, zero when unconstrained.
func (r *row) get(other ir.ValueID) uint16 {
	if r.dense != nil {
		return r.dense[other]
	}
	i := sort.Search(len(r.sparse), func(i int) bool { return r.sparse[i].other >= other })
	if i < len(r.sparse) && r.sparse[i].other == other {
		return r.sparse[i].window
	}
	return 0
}

// forEach visits the row's neighbours in ascending value order.
func (r *row) forEach(visit func(other ir.ValueID, window uint16) bool) {
	if r.dense != nil {
		for v, w := range r.dense {
			if w != 0 && !visit(ir.ValueID(v), w) {
				return
			}
		}
		return
	}
	for _, e := range r.sparse {
		if !visit(e.other, e.window) {
			return
		}
	}
}

// bitCount sums the window bits across the whole row; the spill
// heuristic ranks candidates by it.
func (r *row) bitCount() int {
	n := 0
	r.forEach(func(_ ir.ValueID, w uint16) bool {
		n += windowBits(w)
		return true
	})
	return n
}

// state is the constraint system for one allocation attempt. It is
// discarded between attempts.
type state struct {
	nv       int
	affinity []uint64
	rows     []row

	// alloc[v] is false for literal constants and orphaned values,
	// which never occupy a register.
	alloc []bool

	solution []int16
	pinned   []int16
}

const unassigned = int16(-1)

func newState(fn *ir.Function, target Target, pins map[ir.ValueID]int) *state {
	nv := fn.NumValues()
	st := &state{
		nv:       nv,
		affinity: make([]uint64, nv),
		rows:     make([]row, nv),
		alloc:    make([]bool, nv),
		solution: make([]int16, nv),
		pinned:   make([]int16, nv),
	}
	reserved := target.reservedMask()
	even := evenStartMask(target.RegisterCount)
	for v := 0; v < nv; v++ {
		st.solution[v] = unassigned
		st.pinned[v] = unassigned
		val := fn.Value(ir.ValueID(v))
		if val.IsConst() {
			continue
		}
		if val.Def == ir.InvalidInstr && len(fn.Uses(ir.ValueID(v))) == 0 {
			continue
		}
		st.alloc[v] = true
		m := spanFit(target.RegisterCount, int(val.Comps), reserved)
		if target.PairAlignment == PairEvenStart && val.Comps >= 2 {
			m &= even
		}
		st.affinity[v] = m
	}
	for v, r := range pins {
		if int(v) < nv {
			st.pinned[v] = int16(r)
		}
	}
	return st
}

// addConstraint records the forbidden differences between a and b
// derived from their simultaneously occupied component masks. For
// components i of a and j of b sharing a register we would need
// reg(a)+i == reg(b)+j, so the difference j-i is forbidden.
func (st *state) addConstraint(a, b ir.ValueID, maskA, maskB uint16) {
	if a == b || maskA == 0 || maskB == 0 {
		return
	}
	var winA uint16
	for i := 0; i < 16; i++ {
		if maskA&(1<<i) == 0 {
			continue
		}
		for j := 0; j < 16; j++ {
			if maskB&(1<<j) == 0 {
				continue
			}
			d := j - i
			if d < -biasRadius || d > biasRadius {
				continue
			}
			winA |= 1 << uint(d+biasRadius)
		}
	}
	if winA == 0 {
		return
	}
	st.rows[a].add(st.nv, b, winA)
	st.rows[b].add(st.nv, a, mirrorWindow(winA))
}

// mirrorWindow reflects a window around the zero difference, giving
// the same constraint seen from the other value.
func mirrorWindow(w uint16) uint16 {
	var m uint16
	for k := 0; k < windowWidth; k++ {
		if w&(1<<uint(k)) != 0 {
			m |= 1 << uint(windowWidth-1-k)
		}
	}
	return m
}

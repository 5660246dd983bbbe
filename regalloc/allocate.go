package regalloc

import (
	"fmt"

	"github.com/aerisarn/mesa-uwp-sub004/cfg"
	"github.com/aerisarn/mesa-uwp-sub004/ir"
	"github.com/aerisarn/mesa-uwp-sub004/liveness"
)

// DefaultMaxAttempts bounds the build/solve/spill iteration. The cap
// is defensive: more than a handful of spill rounds indicates an
// analysis bug, not a hard shader.
const DefaultMaxAttempts = 64

// Options configures one allocation run.
type Options struct {
	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int

	// Pins dictates registers for externally fixed values.
	Pins map[ir.ValueID]int
}

// Result is a successful allocation.
type Result struct {
	// Solution maps every value id to its register, or -1 for values
	// that do not occupy one (literal constants, spilled-out
	// originals).
	Solution []int

	// TLSSize is the thread-local scratch size in bytes, already
	// rounded per the target's page size.
	TLSSize int

	// Spills and Fills count the inserted TLS stores and loads.
	Spills int
	Fills  int

	// PressureFallbacks counts reduced-pressure passes that failed
	// and fell back to the full register file.
	PressureFallbacks int

	// Attempts is the number of build/solve rounds used.
	Attempts int
}

// Allocate assigns registers to every value of fn, spilling through
// thread-local storage until the constraint system is feasible.
// Vector collect/split pseudo instructions must have been lowered
// first (ir.LowerVectors).
func Allocate(fn *ir.Function, target Target, opts Options) (*Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	res := &Result{}
	tls := &tlsState{pageSize: target.TLSPageSize}
	full := fileMask(target.RegisterCount)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		g, err := cfg.Build(fn)
		if err != nil {
			return nil, err
		}
		live := liveness.Compute(fn, g)
		st := newState(fn, target, opts.Pins)
		buildInterference(fn, g, live, st)

		if target.OccupancyScaling {
			if _, ok := st.solve(st.narrowed(target)); ok {
				return st.finish(res, tls), nil
			}
			res.PressureFallbacks++
		}
		failed, ok := st.solve(full)
		if ok {
			return st.finish(res, tls), nil
		}

		if st.affinity[failed] == 0 {
			return nil, fmt.Errorf("%w: value %d has an empty affinity mask", ErrSpillChoiceFailed, failed)
		}
		candidate, ok := st.chooseSpill(fn, failed)
		if !ok {
			return nil, fmt.Errorf("%w: allocation failed at value %d", ErrSpillChoiceFailed, failed)
		}
		stores, fills := spillValue(fn, candidate, tls)
		res.Spills += stores
		res.Fills += fills
	}
	return nil, fmt.Errorf("%w: attempt budget (%d) exhausted", ErrSpillChoiceFailed, maxAttempts)
}

// narrowed is the reduced-pressure register subset for the first
// solve.
func (st *state) narrowed(target Target) uint64 {
	return target.lowHalfMask()
}

// finish copies the solution into the result.
func (st *state) finish(res *Result, tls *tlsState) *Result {
	res.Solution = make([]int, st.nv)
	for v := range res.Solution {
		res.Solution[v] = int(st.solution[v])
	}
	res.TLSSize = tls.size
	return res
}

// Package loops discovers induction variables and trip counts for the
// natural loops of a function.
//
// The analyser never mutates IR. Results are caches: any IR mutation
// invalidates them.
//
// A trip count is the number of back-edge traversals in one dynamic
// invocation. A loop whose exit test is already satisfied on entry has
// a trip count of zero; an inverted (bottom-test) loop tests the value
// after the first update and so always runs the body at least once.
package loops

import (
	"github.com/aerisarn/mesa-uwp-sub004/cfg"
	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// InductionVariable describes one value whose per-iteration change is
// loop-invariant.
type InductionVariable struct {
	// Def is the value acting as the induction variable: either a
	// header phi or its post-update ALU result.
	Def ir.ValueID

	// InitSrc is the value entering the loop, or InvalidValue when
	// the initial value is a literal constant, in which case
	// InitLiteral is set.
	InitSrc     ir.ValueID
	InitLiteral *ir.Constant

	// UpdateSrc is the source contributing the per-iteration update
	// (the step operand of the update instruction).
	UpdateSrc ir.ValueID

	// Basic is true when the update is `i ← i op C` for a
	// loop-invariant C and an invertible op.
	Basic bool
}

// LoopInfo is the analysis result for a single loop.
type LoopInfo struct {
	// MaxTripCount is an upper bound on back-edge traversals, valid
	// only when TripCountKnown.
	MaxTripCount uint32

	// TripCountKnown reports whether any exit yielded a bound.
	TripCountKnown bool

	// ExactTripCountKnown is true iff MaxTripCount is hit on every
	// dynamic execution: exactly one exit contributed the minimum
	// bound and that bound was exact.
	ExactTripCountKnown bool

	// GuessedTripCount is a heuristic approximation for unrolling
	// decisions only; it must not be relied on for correctness.
	GuessedTripCount uint32

	// LimitingTerminator is the exit branch determining the trip
	// count, or InvalidInstr when no single such branch exists.
	LimitingTerminator ir.InstrID

	// InductionVars lists the discovered induction variables in
	// header phi order.
	InductionVars []InductionVariable
}

// Analysis holds per-loop info for one function.
type Analysis struct {
	loops []*cfg.Loop
	info  map[*cfg.Loop]*LoopInfo
}

// Loops returns the analysed loops ordered by header block index.
func (a *Analysis) Loops() []*cfg.Loop { return a.loops }

// Info returns the analysis record for l.
func (a *Analysis) Info(l *cfg.Loop) *LoopInfo { return a.info[l] }

// Analyze builds the loop tree of g and computes induction variables
// and trip counts for every loop. Irreducible control flow is
// reported via the loop tree (cfg.ErrIrreducible).
func Analyze(fn *ir.Function, g *cfg.Graph) (*Analysis, error) {
	loops, err := g.LoopTree()
	if err != nil {
		return nil, err
	}
	a := &Analysis{
		loops: loops,
		info:  make(map[*cfg.Loop]*LoopInfo, len(loops)),
	}
	for _, l := range loops {
		a.info[l] = analyzeLoop(fn, l)
	}
	return a, nil
}

func analyzeLoop(fn *ir.Function, l *cfg.Loop) *LoopInfo {
	info := &LoopInfo{LimitingTerminator: ir.InvalidInstr}

	ivs := discoverInductionVars(fn, l)
	info.InductionVars = ivs.all

	computeTripCounts(fn, l, ivs, info)
	if info.TripCountKnown {
		info.GuessedTripCount = info.MaxTripCount
	}
	return info
}

// ivSet carries the discovered variables plus the lookup the exit
// matcher needs: which tested values correspond to which basic IV and
// at which update offset.
type ivSet struct {
	all []InductionVariable

	// byValue maps a phi or post-update value to its basic IV record
	// and the number of updates applied before the value is observed
	// (0 for the phi, 1 for the post-update result).
	byValue map[ir.ValueID]testedIV
}

type testedIV struct {
	iv     *basicIV
	offset uint32
}

// basicIV is the solver-facing view of a basic induction variable.
type basicIV struct {
	phi      ir.ValueID
	post     ir.ValueID
	op       ir.Opcode // iadd, fadd, isub, fsub, imul
	init     ir.ValueID
	initLit  *ir.Constant
	step     ir.ValueID
	stepLit  *ir.Constant
	bitSize  uint8
	stepNegd bool // true for isub/fsub: effective step is -step
}

func discoverInductionVars(fn *ir.Function, l *cfg.Loop) ivSet {
	ivs := ivSet{byValue: make(map[ir.ValueID]testedIV)}
	if len(l.Latches) != 1 {
		return ivs
	}
	latch := l.Latches[0]

	for _, id := range fn.Block(l.Header).Instrs {
		in := fn.Instr(id)
		if in.Op != ir.OpPhi {
			break
		}
		if len(in.Srcs) != 2 || len(in.Dests) != 1 {
			continue
		}
		var initSrc, updateSrc *ir.Src
		for s := range in.Srcs {
			if in.Srcs[s].Pred == latch {
				updateSrc = &in.Srcs[s]
			} else {
				initSrc = &in.Srcs[s]
			}
		}
		if initSrc == nil || updateSrc == nil {
			continue
		}
		phi := in.Dests[0].Value
		update := updateSrc.Value

		biv := matchBasicUpdate(fn, l, phi, update)
		if biv == nil {
			// Dependent induction variable: keep it, move on.
			ivs.all = append(ivs.all, InductionVariable{
				Def:         phi,
				InitSrc:     initValueSrc(fn, initSrc.Value),
				InitLiteral: initValueLit(fn, initSrc.Value),
				UpdateSrc:   update,
				Basic:       false,
			})
			continue
		}
		biv.init = initSrc.Value
		biv.initLit = fn.Value(initSrc.Value).Const
		biv.bitSize = fn.Value(phi).BitSize

		// The header phi and its post-update value are both
		// induction variables.
		ivs.all = append(ivs.all, InductionVariable{
			Def:         phi,
			InitSrc:     initValueSrc(fn, initSrc.Value),
			InitLiteral: initValueLit(fn, initSrc.Value),
			UpdateSrc:   biv.step,
			Basic:       true,
		})
		postInit := derivedInit(biv)
		ivs.all = append(ivs.all, InductionVariable{
			Def:         update,
			InitSrc:     postInit.src,
			InitLiteral: postInit.lit,
			UpdateSrc:   biv.step,
			Basic:       true,
		})
		ivs.byValue[phi] = testedIV{iv: biv, offset: 0}
		ivs.byValue[update] = testedIV{iv: biv, offset: 1}
	}
	return ivs
}

// matchBasicUpdate checks that update is `phi op C` inside the loop
// with C loop-invariant, for an invertible op.
func matchBasicUpdate(fn *ir.Function, l *cfg.Loop, phi, update ir.ValueID) *basicIV {
	def := fn.Value(update).Def
	if def == ir.InvalidInstr {
		return nil
	}
	in := fn.Instr(def)
	if !l.Contains(in.Block) {
		return nil
	}
	switch in.Op {
	case ir.OpIAdd, ir.OpFAdd, ir.OpISub, ir.OpFSub, ir.OpIMul:
	default:
		return nil
	}
	if len(in.Srcs) != 2 {
		return nil
	}
	for s := range in.Srcs {
		if in.Srcs[s].Abs || in.Srcs[s].Neg || in.Srcs[s].SwizzleLen != 0 {
			return nil
		}
	}
	var step ir.ValueID = ir.InvalidValue
	switch {
	case in.Srcs[0].Value == phi:
		step = in.Srcs[1].Value
	case in.Srcs[1].Value == phi:
		// Subtraction is not commutative: C - i is not a basic
		// update.
		if in.Op == ir.OpISub || in.Op == ir.OpFSub {
			return nil
		}
		step = in.Srcs[0].Value
	default:
		return nil
	}
	if !isLoopInvariant(fn, l, step) {
		return nil
	}
	return &basicIV{
		phi:      phi,
		post:     update,
		op:       in.Op,
		step:     step,
		stepLit:  fn.Value(step).Const,
		stepNegd: in.Op == ir.OpISub || in.Op == ir.OpFSub,
	}
}

func isLoopInvariant(fn *ir.Function, l *cfg.Loop, v ir.ValueID) bool {
	val := fn.Value(v)
	if val.IsConst() {
		return true
	}
	if val.Def == ir.InvalidInstr {
		return true // block parameter defined outside any loop body
	}
	return !l.Contains(fn.Instr(val.Def).Block)
}

func initValueSrc(fn *ir.Function, v ir.ValueID) ir.ValueID {
	if fn.Value(v).IsConst() {
		return ir.InvalidValue
	}
	return v
}

func initValueLit(fn *ir.Function, v ir.ValueID) *ir.Constant {
	return fn.Value(v).Const
}

type derived struct {
	src ir.ValueID
	lit *ir.Constant
}

// derivedInit computes the initial value of the post-update IV. When
// both init and step are literals the folded constant is reported;
// otherwise the phi's initial source stands in.
func derivedInit(biv *basicIV) derived {
	if biv.initLit != nil && biv.stepLit != nil {
		bits, ok := foldUpdate(biv)
		if ok {
			return derived{src: ir.InvalidValue, lit: &ir.Constant{Bits: bits}}
		}
	}
	if biv.initLit != nil {
		return derived{src: ir.InvalidValue, lit: biv.initLit}
	}
	return derived{src: biv.init}
}

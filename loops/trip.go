package loops

import (
	"math"
	"math/big"

	"github.com/aerisarn/mesa-uwp-sub004/cfg"
	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// cmpKind is the comparison relation with the induction variable
// normalised to the left-hand side.
type cmpKind uint8

const (
	cmpEQ cmpKind = iota
	cmpNE
	cmpLT
	cmpLE
	cmpGT
	cmpGE
)

type cmpClass uint8

const (
	classSigned cmpClass = iota
	classUnsigned
	classFloat
)

// maxFloatEmulation caps the per-exit iteration emulation for float
// induction variables.
const maxFloatEmulation = 1 << 20

type exitBound struct {
	count uint32
	exact bool
	term  ir.InstrID
}

// computeTripCounts matches every exit branch of the loop against the
// basic induction variables, solves the per-exit bounds, and combines
// them per the minimum rule.
func computeTripCounts(fn *ir.Function, l *cfg.Loop, ivs ivSet, info *LoopInfo) {
	var bounds []exitBound
	for _, b := range l.Blocks {
		term := fn.Terminator(b)
		if term == ir.InvalidInstr {
			continue
		}
		in := fn.Instr(term)
		if in.Op != ir.OpCondBranch {
			continue
		}
		thenOut := !l.Contains(in.Then)
		elseOut := !l.Contains(in.Else)
		if thenOut == elseOut {
			continue
		}
		if bound, ok := solveExit(fn, l, ivs, in, term, thenOut); ok {
			bounds = append(bounds, bound)
		}
	}
	if len(bounds) == 0 {
		return
	}

	min := bounds[0]
	minCount := 1
	for _, b := range bounds[1:] {
		switch {
		case b.count < min.count:
			min = b
			minCount = 1
		case b.count == min.count:
			minCount++
		}
	}
	info.TripCountKnown = true
	info.MaxTripCount = min.count
	if minCount == 1 {
		info.ExactTripCountKnown = min.exact
		info.LimitingTerminator = min.term
	}
}

// solveExit attempts to derive an iteration bound from one exit
// branch. exitOnTrue states whether the loop is left when the guarding
// comparison holds.
func solveExit(fn *ir.Function, l *cfg.Loop, ivs ivSet, branch *ir.Instr, term ir.InstrID, exitOnTrue bool) (exitBound, bool) {
	condDef := fn.Value(branch.Srcs[0].Value).Def
	if condDef == ir.InvalidInstr {
		return exitBound{}, false
	}
	cmp := fn.Instr(condDef)
	if !cmp.Op.IsComparison() || len(cmp.Srcs) != 2 {
		return exitBound{}, false
	}
	for s := range cmp.Srcs {
		if cmp.Srcs[s].Abs || cmp.Srcs[s].Neg || cmp.Srcs[s].SwizzleLen != 0 {
			return exitBound{}, false
		}
	}

	kind, class := decomposeCmp(cmp.Op)

	var tested testedIV
	var limit ir.ValueID
	if tv, ok := ivs.byValue[cmp.Srcs[0].Value]; ok {
		tested, limit = tv, cmp.Srcs[1].Value
	} else if tv, ok := ivs.byValue[cmp.Srcs[1].Value]; ok {
		tested, limit = tv, cmp.Srcs[0].Value
		kind = swapCmp(kind)
	} else {
		return exitBound{}, false
	}
	if !exitOnTrue {
		kind = complementCmp(kind)
	}
	if !isLoopInvariant(fn, l, limit) {
		return exitBound{}, false
	}

	iv := tested.iv
	limitVal := fn.Value(limit)
	if iv.initLit == nil || iv.stepLit == nil || limitVal.Const == nil {
		// Symbolic bounds are out of reach; the variable is still a
		// recognised IV, it just contributes no count.
		return exitBound{}, false
	}
	// Multiplicative IVs are recognised but not solved.
	if iv.op == ir.OpIMul {
		return exitBound{}, false
	}

	if class == classFloat {
		count, exact, ok := solveFloatExit(iv, kind, limitVal.Const.Bits, tested.offset)
		if !ok {
			return exitBound{}, false
		}
		return exitBound{count: count, exact: exact, term: term}, true
	}
	count, exact, ok := solveIntExit(iv, kind, class, limitVal.Const.Bits, tested.offset)
	if !ok {
		return exitBound{}, false
	}
	return exitBound{count: count, exact: exact, term: term}, true
}

func decomposeCmp(op ir.Opcode) (cmpKind, cmpClass) {
	switch op {
	case ir.OpFEq:
		return cmpEQ, classFloat
	case ir.OpFNe:
		return cmpNE, classFloat
	case ir.OpFLt:
		return cmpLT, classFloat
	case ir.OpFGe:
		return cmpGE, classFloat
	case ir.OpIEq:
		return cmpEQ, classSigned
	case ir.OpINe:
		return cmpNE, classSigned
	case ir.OpILt:
		return cmpLT, classSigned
	case ir.OpIGe:
		return cmpGE, classSigned
	case ir.OpULt:
		return cmpLT, classUnsigned
	case ir.OpUGe:
		return cmpGE, classUnsigned
	}
	panic("loops: not a comparison opcode")
}

// swapCmp mirrors the relation when the induction variable is the
// right-hand operand.
func swapCmp(k cmpKind) cmpKind {
	switch k {
	case cmpLT:
		return cmpGT
	case cmpLE:
		return cmpGE
	case cmpGT:
		return cmpLT
	case cmpGE:
		return cmpLE
	}
	return k // EQ, NE
}

// complementCmp inverts the relation when the loop exits on the false
// edge.
func complementCmp(k cmpKind) cmpKind {
	switch k {
	case cmpEQ:
		return cmpNE
	case cmpNE:
		return cmpEQ
	case cmpLT:
		return cmpGE
	case cmpLE:
		return cmpGT
	case cmpGT:
		return cmpLE
	case cmpGE:
		return cmpLT
	}
	panic("loops: bad comparison kind")
}

// solveIntExit finds the smallest back-edge count k ≥ 0 such that the
// tested value init + (k+offset)*step satisfies the relation against
// limit. Arithmetic is exact (math/big): a bound that holds only after
// wrap-around is reported as unknown, and the divides-the-gap rule
// decides exactness per the analyser contract.
func solveIntExit(iv *basicIV, kind cmpKind, class cmpClass, limitBits uint64, offset uint32) (uint32, bool, bool) {
	w := uint(iv.bitSize)
	initV := interpInt(iv.initLit.Bits, w, class)
	limitV := interpInt(limitBits, w, class)
	step := signedInt(iv.stepLit.Bits, w)
	if iv.stepNegd {
		step = new(big.Int).Neg(step)
	}

	off := new(big.Int).SetUint64(uint64(offset))
	// Value at the first observed test. A post-update variable whose
	// first value already left the representable range wraps before any
	// test, so nothing below models the machine arithmetic.
	x0 := new(big.Int).Add(initV, new(big.Int).Mul(off, step))
	if !fitsWidth(x0, w, class) {
		return 0, false, false
	}

	switch kind {
	case cmpEQ:
		return solveIntEq(x0, step, limitV)
	case cmpNE:
		if x0.Cmp(limitV) != 0 {
			return 0, true, true
		}
		if step.Sign() == 0 || stepWrapsToZero(step, w) {
			return 0, false, false // never leaves the initial value
		}
		return 1, true, true
	case cmpGT:
		limitV = new(big.Int).Add(limitV, big.NewInt(1))
		kind = cmpGE
	case cmpLE:
		limitV = new(big.Int).Add(limitV, big.NewInt(1))
		kind = cmpLT
	}

	switch kind {
	case cmpGE:
		if x0.Cmp(limitV) >= 0 {
			return 0, true, true
		}
		if step.Sign() <= 0 {
			return 0, false, false
		}
		gap := new(big.Int).Sub(limitV, x0)
		count, exact, ok := ceilDiv(gap, step)
		if !ok || !fitsWidth(valueAt(x0, step, count), w, class) {
			return 0, false, false
		}
		return count, exact, true
	case cmpLT:
		if x0.Cmp(limitV) < 0 {
			return 0, true, true
		}
		if step.Sign() >= 0 {
			return 0, false, false
		}
		// Need x ≤ limit-1.
		gap := new(big.Int).Sub(x0, new(big.Int).Sub(limitV, big.NewInt(1)))
		count, exact, ok := ceilDiv(gap, new(big.Int).Neg(step))
		if !ok || !fitsWidth(valueAt(x0, step, count), w, class) {
			return 0, false, false
		}
		return count, exact, true
	}
	return 0, false, false
}

// valueAt is the tested value after count more back edges, in
// unbounded arithmetic.
func valueAt(x0, step *big.Int, count uint32) *big.Int {
	k := new(big.Int).SetUint64(uint64(count))
	return new(big.Int).Add(x0, k.Mul(k, step))
}

// fitsWidth reports whether v is representable at width w under the
// comparison's signedness. The step is monotone between the initial
// and the solved final value, so an in-range final value means no
// iteration on the way there wrapped and the unbounded solution
// matches the machine arithmetic; an out-of-range one means the bound
// only holds after a wrap and must not be reported.
func fitsWidth(v *big.Int, w uint, class cmpClass) bool {
	if class == classUnsigned {
		return v.Sign() >= 0 && v.BitLen() <= int(w)
	}
	if v.Sign() < 0 {
		min := new(big.Int).Lsh(big.NewInt(1), w-1)
		return v.Cmp(new(big.Int).Neg(min)) >= 0
	}
	return v.BitLen() < int(w)
}

func solveIntEq(x0, step, limit *big.Int) (uint32, bool, bool) {
	diff := new(big.Int).Sub(limit, x0)
	if diff.Sign() == 0 {
		return 0, true, true
	}
	if step.Sign() == 0 {
		return 0, false, false
	}
	q, r := new(big.Int).QuoRem(diff, step, new(big.Int))
	if r.Sign() != 0 || q.Sign() < 0 {
		return 0, false, false // equality is never hit without wrap
	}
	if !q.IsUint64() || q.Uint64() > math.MaxUint32 {
		return 0, false, false
	}
	return uint32(q.Uint64()), true, true
}

// ceilDiv returns ⌈gap/step⌉ for positive step, exact iff step divides
// the gap.
func ceilDiv(gap, step *big.Int) (uint32, bool, bool) {
	q, r := new(big.Int).QuoRem(gap, step, new(big.Int))
	exact := r.Sign() == 0
	if !exact {
		q = new(big.Int).Add(q, big.NewInt(1))
	}
	if q.Sign() < 0 || !q.IsUint64() || q.Uint64() > math.MaxUint32 {
		return 0, false, false
	}
	return uint32(q.Uint64()), exact, true
}

func interpInt(bits uint64, w uint, class cmpClass) *big.Int {
	if class == classUnsigned {
		return new(big.Int).SetUint64(truncBits(bits, w))
	}
	return signedInt(bits, w)
}

func signedInt(bits uint64, w uint) *big.Int {
	v := truncBits(bits, w)
	if w < 64 && v&(1<<(w-1)) != 0 {
		return new(big.Int).SetInt64(int64(v | ^uint64(0)<<w))
	}
	if w == 64 {
		return new(big.Int).SetInt64(int64(v))
	}
	return new(big.Int).SetUint64(v)
}

func truncBits(bits uint64, w uint) uint64 {
	if w >= 64 {
		return bits
	}
	return bits & (1<<w - 1)
}

// stepWrapsToZero reports whether the step is congruent to zero at the
// variable's width, which makes an additive update a no-op.
func stepWrapsToZero(step *big.Int, w uint) bool {
	m := new(big.Int).Lsh(big.NewInt(1), w)
	return new(big.Int).Mod(step, m).Sign() == 0
}

// solveFloatExit emulates the loop's float arithmetic at the ISA
// width. The emulation is the ground truth: a bound it finds is exact,
// and a sequence that reaches a rounding fixpoint (absorption,
// init + step == init) without satisfying the exit is infinite.
// Accumulated rounding is modelled by iterating the actual additions
// rather than evaluating init + k*step.
func solveFloatExit(iv *basicIV, kind cmpKind, limitBits uint64, offset uint32) (uint32, bool, bool) {
	wide := iv.bitSize == 64
	init := loadFloat(iv.initLit.Bits, wide)
	step := loadFloat(iv.stepLit.Bits, wide)
	if iv.stepNegd {
		step = -step
	}
	limit := loadFloat(limitBits, wide)

	limitIters := floatEmulationCap(init, step, limit)

	v := init
	for m := uint32(0); m <= limitIters; m++ {
		if m >= offset && floatCmp(kind, v, limit) {
			return m - offset, true, true
		}
		next := roundStep(v, step, iv.op, wide)
		if next == v {
			// Absorption: the update no longer changes the value,
			// so the exit can never fire.
			return 0, false, false
		}
		v = next
	}
	return 0, false, false
}

// floatEmulationCap bounds the emulation by the algebraic solution
// when one exists, with slack for rounding drift.
func floatEmulationCap(init, step, limit float64) uint32 {
	if step == 0 {
		return 4
	}
	alg := (limit - init) / step
	if math.IsNaN(alg) || math.IsInf(alg, 0) || alg < 0 {
		return 64
	}
	if alg > maxFloatEmulation {
		return maxFloatEmulation
	}
	return uint32(alg) + 4
}

func floatCmp(kind cmpKind, a, b float64) bool {
	switch kind {
	case cmpEQ:
		return a == b
	case cmpNE:
		return a != b
	case cmpLT:
		return a < b
	case cmpLE:
		return a <= b
	case cmpGT:
		return a > b
	case cmpGE:
		return a >= b
	}
	return false
}

func roundStep(v, step float64, op ir.Opcode, wide bool) float64 {
	var next float64
	switch op {
	case ir.OpFAdd, ir.OpFSub:
		// stepNegd already folded the subtraction into the sign.
		next = v + step
	default:
		return v
	}
	if !wide {
		next = float64(float32(next))
	}
	return next
}

func loadFloat(bits uint64, wide bool) float64 {
	if wide {
		return math.Float64frombits(bits)
	}
	return float64(math.Float32frombits(uint32(bits)))
}

// foldUpdate evaluates one application of the update to the literal
// initial value, producing the post-update IV's literal init.
func foldUpdate(biv *basicIV) (uint64, bool) {
	i := biv.initLit.Bits
	s := biv.stepLit.Bits
	w := uint(biv.bitSize)
	switch biv.op {
	case ir.OpIAdd:
		return truncBits(i+s, w), true
	case ir.OpISub:
		return truncBits(i-s, w), true
	case ir.OpIMul:
		return truncBits(i*s, w), true
	case ir.OpFAdd, ir.OpFSub:
		if biv.bitSize == 64 {
			a, b := math.Float64frombits(i), math.Float64frombits(s)
			if biv.op == ir.OpFSub {
				b = -b
			}
			return math.Float64bits(a + b), true
		}
		a, b := math.Float32frombits(uint32(i)), math.Float32frombits(uint32(s))
		if biv.op == ir.OpFSub {
			b = -b
		}
		return uint64(math.Float32bits(a + b)), true
	}
	return 0, false
}

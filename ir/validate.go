package ir

import (
	"fmt"
)

// ValidationError represents a single IR validation failure.
type ValidationError struct {
	Message string
	// Optional context
	Block BlockID
	Instr InstrID
	Value ValueID
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	switch {
	case e.Instr != InvalidInstr:
		return fmt.Sprintf("block %d, instruction %d: %s", e.Block, e.Instr, e.Message)
	case e.Value != InvalidValue:
		return fmt.Sprintf("value %d: %s", e.Value, e.Message)
	case e.Block != InvalidBlock:
		return fmt.Sprintf("block %d: %s", e.Block, e.Message)
	}
	return e.Message
}

// Validator checks a function against the SSA invariants the back-end
// passes rely on.
type Validator struct {
	fn     *Function
	errors []ValidationError

	defSeen []bool
	order   map[InstrID]int // per-block instruction order, for local dominance

	rpoNum []int // block -> reverse post-order position, -1 if unreachable
	idom   []BlockID
}

// Validate checks the function for SSA, def/use and structural
// correctness. Returns the collected errors, or nil if the function is
// valid.
func Validate(fn *Function) ([]ValidationError, error) {
	if fn == nil {
		return nil, fmt.Errorf("function is nil")
	}
	v := &Validator{
		fn:      fn,
		defSeen: make([]bool, fn.NumValues()),
		order:   make(map[InstrID]int, fn.NumInstrs()),
	}
	v.validateBlocks()
	v.validateDefs()
	v.computeDominators()
	v.validateUses()
	if len(v.errors) > 0 {
		return v.errors, nil
	}
	return nil, nil
}

func (v *Validator) validateBlocks() {
	f := v.fn
	for b := BlockID(0); int(b) < f.NumBlocks(); b++ {
		blk := f.Block(b)
		for pos, id := range blk.Instrs {
			v.order[id] = pos
			in := f.Instr(id)
			if in.Block != b {
				v.addInstrError(b, id, fmt.Sprintf("owned by block %d but listed in block %d", in.Block, b))
			}
			if in.Op.IsTerminator() && pos != len(blk.Instrs)-1 {
				v.addInstrError(b, id, fmt.Sprintf("terminator %s is not the last instruction", in.Op))
			}
			if in.Op == OpPhi && !v.phiLeadsBlock(blk, pos) {
				v.addInstrError(b, id, "phi is not at the top of its block")
			}
			v.validateInstr(b, id, in)
		}
		for _, s := range f.Successors(b) {
			if int(s) >= f.NumBlocks() {
				v.addBlockError(b, fmt.Sprintf("branch to block %d which does not exist", s))
			}
		}
	}
}

// phiLeadsBlock reports whether every instruction before pos is a phi.
func (v *Validator) phiLeadsBlock(blk *Block, pos int) bool {
	for _, id := range blk.Instrs[:pos] {
		if v.fn.Instr(id).Op != OpPhi {
			return false
		}
	}
	return true
}

func (v *Validator) validateInstr(b BlockID, id InstrID, in *Instr) {
	f := v.fn
	for s := range in.Srcs {
		if int(in.Srcs[s].Value) >= f.NumValues() {
			v.addInstrError(b, id, fmt.Sprintf("source %d references value %d which does not exist", s, in.Srcs[s].Value))
			continue
		}
		if in.Op == OpPhi && in.Srcs[s].Pred == InvalidBlock {
			v.addInstrError(b, id, fmt.Sprintf("phi source %d has no predecessor edge", s))
		}
	}
	for d := range in.Dests {
		if int(in.Dests[d].Value) >= f.NumValues() {
			v.addInstrError(b, id, fmt.Sprintf("destination %d references value %d which does not exist", d, in.Dests[d].Value))
		}
	}
	switch in.Op {
	case OpMov:
		if len(in.Srcs) != 1 || len(in.Dests) != 1 {
			v.addInstrError(b, id, fmt.Sprintf("mov needs 1 source and 1 destination, has %d and %d", len(in.Srcs), len(in.Dests)))
			return
		}
		src := f.Value(in.Srcs[0].Value)
		dst := f.Value(in.Dests[0].Value)
		if src.BitSize != dst.BitSize {
			v.addInstrError(b, id, fmt.Sprintf("mov between %d-bit source and %d-bit destination", src.BitSize, dst.BitSize))
		}
	case OpCondBranch:
		if len(in.Srcs) != 1 {
			v.addInstrError(b, id, fmt.Sprintf("cond_branch needs exactly 1 boolean source, has %d", len(in.Srcs)))
		} else if f.Value(in.Srcs[0].Value).BitSize != 1 {
			v.addInstrError(b, id, "cond_branch source is not 1-bit")
		}
	}
}

// validateDefs checks that every non-constant value reachable from a
// block has exactly one full definition.
func (v *Validator) validateDefs() {
	f := v.fn
	for b := BlockID(0); int(b) < f.NumBlocks(); b++ {
		for _, id := range f.Block(b).Instrs {
			in := f.Instr(id)
			for d := range in.Dests {
				val := in.Dests[d].Value
				if in.Dests[d].Offset != 0 {
					// Partial writes only appear after vector
					// lowering, which leaves strict SSA.
					continue
				}
				if v.defSeen[val] {
					v.addValueError(val, "defined more than once")
				}
				v.defSeen[val] = true
				if f.Value(val).IsConst() {
					v.addValueError(val, "literal constant has a defining instruction")
				}
			}
		}
	}
}

// validateUses checks def/use symmetry and that each non-phi source's
// definition dominates the use: same-block uses must follow their
// definition, cross-block uses must sit in a block the defining block
// dominates.
func (v *Validator) validateUses() {
	f := v.fn
	for val := ValueID(0); int(val) < f.NumValues(); val++ {
		for _, id := range f.Uses(val) {
			in := f.Instr(id)
			if in.Block == InvalidBlock {
				v.addValueError(val, fmt.Sprintf("use list references removed instruction %d", id))
				continue
			}
			found := false
			for s := range in.Srcs {
				if in.Srcs[s].Value == val {
					found = true
					break
				}
			}
			if !found {
				v.addValueError(val, fmt.Sprintf("use list references instruction %d which does not read it", id))
				continue
			}
			v.checkDominance(val, id, in)
		}
	}
}

func (v *Validator) checkDominance(val ValueID, use InstrID, in *Instr) {
	f := v.fn
	def := f.Value(val).Def
	if def == InvalidInstr || in.Op == OpPhi {
		// Constants dominate everything; phi sources are matched to
		// edges, not dominated by the phi.
		return
	}
	defIn := f.Instr(def)
	if defIn.Block == in.Block {
		if v.order[def] >= v.order[use] {
			v.addInstrError(in.Block, use, fmt.Sprintf("value %d used before its definition", val))
		}
		return
	}
	if defIn.Block == InvalidBlock {
		return // removed definitions are reported by the use-list check
	}
	// Unreachable blocks never execute; the cfg build rejects them.
	if v.rpoNum[defIn.Block] < 0 || v.rpoNum[in.Block] < 0 {
		return
	}
	if !v.dominates(defIn.Block, in.Block) {
		v.addInstrError(in.Block, use,
			fmt.Sprintf("value %d defined in block %d which does not dominate the use", val, defIn.Block))
	}
}

// computeDominators runs the iterative dominator algorithm of Cooper,
// Harvey and Kennedy over the reachable blocks. Out-of-range branch
// targets are reported by validateBlocks and skipped here.
func (v *Validator) computeDominators() {
	f := v.fn
	n := f.NumBlocks()
	v.rpoNum = make([]int, n)
	for i := range v.rpoNum {
		v.rpoNum[i] = -1
	}
	if n == 0 {
		return
	}

	seen := make([]bool, n)
	post := make([]BlockID, 0, n)
	type frame struct {
		b    BlockID
		next int
	}
	stack := []frame{{b: f.Entry()}}
	seen[f.Entry()] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := f.Successors(top.b)
		if top.next < len(succs) {
			s := succs[top.next]
			top.next++
			if int(s) < n && !seen[s] {
				seen[s] = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}
	rpo := make([]BlockID, len(post))
	for i, b := range post {
		pos := len(post) - 1 - i
		rpo[pos] = b
		v.rpoNum[b] = pos
	}

	preds := make([][]BlockID, n)
	for _, b := range rpo {
		for _, s := range f.Successors(b) {
			if int(s) < n && v.rpoNum[s] >= 0 {
				preds[s] = append(preds[s], b)
			}
		}
	}

	v.idom = make([]BlockID, n)
	for i := range v.idom {
		v.idom[i] = InvalidBlock
	}
	entry := f.Entry()
	v.idom[entry] = entry
	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == entry {
				continue
			}
			var newIdom = InvalidBlock
			for _, p := range preds[b] {
				if v.idom[p] == InvalidBlock {
					continue // not yet processed
				}
				if newIdom == InvalidBlock {
					newIdom = p
				} else {
					newIdom = v.intersect(p, newIdom)
				}
			}
			if newIdom != v.idom[b] {
				v.idom[b] = newIdom
				changed = true
			}
		}
	}
}

// intersect walks up the dominator tree to the closest common
// dominator of a and b, comparing by reverse post-order number.
func (v *Validator) intersect(a, b BlockID) BlockID {
	for a != b {
		for v.rpoNum[a] > v.rpoNum[b] {
			a = v.idom[a]
		}
		for v.rpoNum[b] > v.rpoNum[a] {
			b = v.idom[b]
		}
	}
	return a
}

// dominates reports whether reachable block a dominates reachable
// block b.
func (v *Validator) dominates(a, b BlockID) bool {
	entry := v.fn.Entry()
	for b != a {
		if b == entry || v.idom[b] == InvalidBlock {
			return false
		}
		b = v.idom[b]
	}
	return true
}

func (v *Validator) addBlockError(b BlockID, msg string) {
	v.errors = append(v.errors, ValidationError{Message: msg, Block: b, Instr: InvalidInstr, Value: InvalidValue})
}

func (v *Validator) addInstrError(b BlockID, i InstrID, msg string) {
	v.errors = append(v.errors, ValidationError{Message: msg, Block: b, Instr: i, Value: InvalidValue})
}

func (v *Validator) addValueError(val ValueID, msg string) {
	v.errors = append(v.errors, ValidationError{Message: msg, Block: InvalidBlock, Instr: InvalidInstr, Value: val})
}

package ir

import "fmt"

// Append adds an instruction to the end of block b, wires the def/use
// side tables, and returns its handle.
func (f *Function) Append(b BlockID, in Instr) InstrID {
	id := f.addInstr(b, in)
	blk := &f.blocks[b]
	blk.Instrs = append(blk.Instrs, id)
	return id
}

// InsertBefore inserts an instruction immediately before ref in ref's
// block.
func (f *Function) InsertBefore(ref InstrID, in Instr) InstrID {
	b := f.instrs[ref].Block
	id := f.addInstr(b, in)
	f.insertAt(b, f.indexInBlock(ref), id)
	return id
}

// InsertAfter inserts an instruction immediately after ref in ref's
// block.
func (f *Function) InsertAfter(ref InstrID, in Instr) InstrID {
	b := f.instrs[ref].Block
	id := f.addInstr(b, in)
	f.insertAt(b, f.indexInBlock(ref)+1, id)
	return id
}

// InsertBeforeTerminator inserts an instruction at the end of block b,
// but before its terminator if one exists. Used by the spill rewriter
// to place loads on phi edges.
func (f *Function) InsertBeforeTerminator(b BlockID, in Instr) InstrID {
	id := f.addInstr(b, in)
	pos := len(f.blocks[b].Instrs)
	if f.Terminator(b) != InvalidInstr {
		pos--
	}
	f.insertAt(b, pos, id)
	return id
}

func (f *Function) addInstr(b BlockID, in Instr) InstrID {
	id := InstrID(len(f.instrs))
	in.Block = b
	f.instrs = append(f.instrs, in)
	for i := range in.Srcs {
		f.addUse(in.Srcs[i].Value, id)
	}
	for i := range in.Dests {
		v := &f.values[in.Dests[i].Value]
		if v.Def == InvalidInstr {
			v.Def = id
		}
	}
	return id
}

func (f *Function) insertAt(b BlockID, pos int, id InstrID) {
	blk := &f.blocks[b]
	blk.Instrs = append(blk.Instrs, 0)
	copy(blk.Instrs[pos+1:], blk.Instrs[pos:])
	blk.Instrs[pos] = id
}

func (f *Function) indexInBlock(i InstrID) int {
	blk := &f.blocks[f.instrs[i].Block]
	for idx, id := range blk.Instrs {
		if id == i {
			return idx
		}
	}
	panic(fmt.Sprintf("ir: instruction %d not in its block", i))
}

// addUse records that instruction i reads value v. A value read by
// multiple sources of the same instruction appears once per source.
func (f *Function) addUse(v ValueID, i InstrID) {
	f.uses[v] = append(f.uses[v], i)
}

// delUse removes one use record of v by instruction i.
func (f *Function) delUse(v ValueID, i InstrID) {
	list := f.uses[v]
	for idx, id := range list {
		if id == i {
			f.uses[v] = append(list[:idx], list[idx+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("ir: no use of value %d by instruction %d", v, i))
}

// RewriteSource redirects source idx of instruction i to read vNew,
// maintaining the use lists of both the old and the new value.
func (f *Function) RewriteSource(i InstrID, idx int, vNew ValueID) {
	in := &f.instrs[i]
	old := in.Srcs[idx].Value
	if old == vNew {
		return
	}
	f.delUse(old, i)
	in.Srcs[idx].Value = vNew
	f.addUse(vNew, i)
}

// ReplaceAllUses rewrites every source reference of old to point at
// new. The use list of old becomes empty. It fails when the bit widths
// of the two values differ.
func (f *Function) ReplaceAllUses(old, new ValueID) error {
	if f.values[old].BitSize != f.values[new].BitSize {
		return fmt.Errorf("ir: replace uses of value %d (%d-bit) with value %d (%d-bit): bit widths differ",
			old, f.values[old].BitSize, new, f.values[new].BitSize)
	}
	// The use list is consumed as sources are rewritten.
	for len(f.uses[old]) > 0 {
		i := f.uses[old][0]
		in := &f.instrs[i]
		for idx := range in.Srcs {
			if in.Srcs[idx].Value == old {
				f.RewriteSource(i, idx, new)
				break
			}
		}
	}
	return nil
}

// RemoveInstr unlinks instruction i from its block and releases its
// source uses. It panics when a destination of i still has uses; the
// caller must rewrite or remove them first. The instruction handle
// stays allocated but is no longer reachable from any block.
func (f *Function) RemoveInstr(i InstrID) {
	in := &f.instrs[i]
	for d := range in.Dests {
		v := in.Dests[d].Value
		if f.values[v].Def == i && len(f.uses[v]) > 0 {
			panic(fmt.Sprintf("ir: removing instruction %d but value %d still has %d uses",
				i, v, len(f.uses[v])))
		}
	}
	f.removeInstrUnchecked(i)
}

// removeInstrUnchecked unlinks i without the destination-use check.
// Used by lowering passes that re-define the destinations elsewhere
// before removal.
func (f *Function) removeInstrUnchecked(i InstrID) {
	in := &f.instrs[i]
	for s := range in.Srcs {
		f.delUse(in.Srcs[s].Value, i)
	}
	for d := range in.Dests {
		v := in.Dests[d].Value
		if f.values[v].Def == i {
			f.values[v].Def = InvalidInstr
		}
	}
	blk := &f.blocks[in.Block]
	idx := f.indexInBlock(i)
	blk.Instrs = append(blk.Instrs[:idx], blk.Instrs[idx+1:]...)
	in.Block = InvalidBlock
	in.Srcs = nil
	in.Dests = nil
}

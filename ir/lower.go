package ir

// LowerVectors rewrites the collect/split pseudo instructions into
// per-component mov chains. Collect gathers scalar sources into a wide
// destination by writing one component at a time; split extracts each
// component of a wide source through a swizzled mov.
//
// After this pass the function is no longer in strict SSA: a collected
// value has one defining mov per component, at distinct destination
// offsets. The interference builder and the allocator tolerate that;
// Validate does not flag partial writes.
func LowerVectors(f *Function) {
	// Collect handles first: inserting instructions invalidates block
	// iteration in place.
	var pseudo []InstrID
	for b := BlockID(0); int(b) < f.NumBlocks(); b++ {
		for _, id := range f.Block(b).Instrs {
			op := f.Instr(id).Op
			if op == OpCollect || op == OpSplit {
				pseudo = append(pseudo, id)
			}
		}
	}
	for _, id := range pseudo {
		switch f.Instr(id).Op {
		case OpCollect:
			lowerCollect(f, id)
		case OpSplit:
			lowerSplit(f, id)
		}
	}
}

func lowerCollect(f *Function, id InstrID) {
	in := f.Instr(id)
	dest := in.Dests[0].Value
	srcs := make([]Src, len(in.Srcs))
	copy(srcs, in.Srcs)

	first := InvalidInstr
	for i, s := range srcs {
		s.Pred = InvalidBlock
		mov := f.InsertBefore(id, Instr{
			Op:    OpMov,
			Srcs:  []Src{s},
			Dests: []Dest{{Value: dest, Offset: uint8(i)}},
		})
		if first == InvalidInstr {
			first = mov
		}
	}
	f.removeInstrUnchecked(id)
	// The wide value's canonical definition becomes the first
	// component write.
	f.values[dest].Def = first
}

func lowerSplit(f *Function, id InstrID) {
	in := f.Instr(id)
	src := in.Srcs[0]
	dests := make([]Dest, len(in.Dests))
	copy(dests, in.Dests)

	movs := make([]InstrID, len(dests))
	for i, d := range dests {
		comp := uint8(i)
		if src.SwizzleLen != 0 {
			comp = src.Swizzle[i]
		}
		movs[i] = f.InsertBefore(id, Instr{
			Op:    OpMov,
			Srcs:  []Src{SwizzleSrc(src.Value, comp)},
			Dests: []Dest{d},
		})
	}
	f.removeInstrUnchecked(id)
	for i, d := range dests {
		f.values[d.Value].Def = movs[i]
	}
}

package regalloc

import (
	"math/bits"

	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// tlsState tracks the thread-local scratch region of one compile job.
// Reserving spill space is pure bookkeeping; the physical mapping is
// the embedder's concern.
type tlsState struct {
	size     int
	pageSize int
}

// reserve aligns the running offset so a spill base never crosses a
// page boundary, then claims nbytes.
func (t *tlsState) reserve(nbytes int) int {
	off := t.size
	if rem := off % t.pageSize; rem != 0 {
		off += t.pageSize - rem
	}
	t.size = off + nbytes
	return off
}

// spillValue rewrites every definition and use of v through
// thread-local storage:
//
//   - each defining instruction gets a fresh destination temporary
//     followed by a store of exactly the bytes it writes
//   - each use loads the value into a fresh temporary first; loads for
//     phi sources are placed at the end of the matching predecessor
//
// All introduced temporaries are marked no-spill so the next
// allocation attempt cannot pick them again. Afterwards v has no
// remaining definitions or uses.
func spillValue(fn *ir.Function, v ir.ValueID, tls *tlsState) (stores, fills int) {
	comps := fn.Value(v).Comps
	bitSize := fn.Value(v).BitSize
	base := tls.reserve(int(comps) * 4)

	// Definitions first: collect them before mutating.
	type def struct {
		instr ir.InstrID
		dest  int
	}
	var defs []def
	for b := ir.BlockID(0); int(b) < fn.NumBlocks(); b++ {
		for _, id := range fn.Block(b).Instrs {
			in := fn.Instr(id)
			for d := range in.Dests {
				if in.Dests[d].Value == v {
					defs = append(defs, def{instr: id, dest: d})
				}
			}
		}
	}
	for _, df := range defs {
		in := fn.Instr(df.instr)
		written := uint8(bits.OnesCount16(in.WriteMask(fn, df.dest)))
		offset := in.Dests[df.dest].Offset

		tmp := fn.NewValue(bitSize, written)
		fn.Value(tmp).NoSpill = true
		in.Dests[df.dest] = ir.Dest{Value: tmp}
		fn.Value(tmp).Def = df.instr
		fn.Value(v).Def = ir.InvalidInstr

		fn.InsertAfter(df.instr, ir.Instr{
			Op:        ir.OpStoreTLS,
			Srcs:      []ir.Src{ir.NewSrc(tmp)},
			TLSOffset: int32(base + int(offset)*4),
		})
		stores++
	}

	// Uses: the list shrinks as sources are rewritten, so snapshot.
	uses := append([]ir.InstrID(nil), fn.Uses(v)...)
	for _, id := range uses {
		in := fn.Instr(id)
		if in.Block == ir.InvalidBlock {
			continue
		}
		if in.Op == ir.OpPhi {
			for s := range in.Srcs {
				if in.Srcs[s].Value != v {
					continue
				}
				tmp := fn.NewValue(bitSize, comps)
				fn.Value(tmp).NoSpill = true
				fn.InsertBeforeTerminator(in.Srcs[s].Pred, ir.Instr{
					Op:        ir.OpLoadTLS,
					Dests:     []ir.Dest{{Value: tmp}},
					TLSOffset: int32(base),
				})
				fn.RewriteSource(id, s, tmp)
				in = fn.Instr(id) // inserting may have grown the arena
				fills++
			}
			continue
		}
		tmp := fn.NewValue(bitSize, comps)
		fn.Value(tmp).NoSpill = true
		fn.InsertBefore(id, ir.Instr{
			Op:        ir.OpLoadTLS,
			Dests:     []ir.Dest{{Value: tmp}},
			TLSOffset: int32(base),
		})
		in = fn.Instr(id)
		for s := range in.Srcs {
			if in.Srcs[s].Value == v {
				fn.RewriteSource(id, s, tmp)
			}
		}
		fills++
	}
	return stores, fills
}

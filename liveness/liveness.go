// Package liveness computes per-block live-in and live-out sets over
// value ids by iterating the backward dataflow equations to a
// fixpoint:
//
//	live_out[b] = ⋃_{s ∈ succ(b)} live_in[s]
//	live_in[b]  = gen[b] ∪ (live_out[b] − kill[b])
//
// Phi sources are edge-matched: a phi in successor s contributes only
// the source paired with the traversed edge to the predecessor's
// live-out, never to live_in[s] itself.
package liveness

import (
	"github.com/aerisarn/mesa-uwp-sub004/bitvec"
	"github.com/aerisarn/mesa-uwp-sub004/cfg"
	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// Info holds the liveness solution for one function. It is a cache,
// invalidated by any IR mutation.
type Info struct {
	liveIn  []bitvec.BitVec
	liveOut []bitvec.BitVec
}

// LiveIn returns the values live at entry to b.
func (in *Info) LiveIn(b ir.BlockID) bitvec.BitVec { return in.liveIn[b] }

// LiveOut returns the values live at exit from b.
func (in *Info) LiveOut(b ir.BlockID) bitvec.BitVec { return in.liveOut[b] }

// Compute solves the dataflow equations for fn over graph g. Blocks
// are visited in post-order (the reverse of g's reverse post-order) so
// the backward problem converges in few sweeps; ties follow block
// index via the graph's deterministic ordering.
func Compute(fn *ir.Function, g *cfg.Graph) *Info {
	nb := fn.NumBlocks()
	nv := fn.NumValues()

	gen := make([]bitvec.BitVec, nb)
	kill := make([]bitvec.BitVec, nb)
	for b := 0; b < nb; b++ {
		gen[b] = bitvec.New(nv)
		kill[b] = bitvec.New(nv)
		localGenKill(fn, ir.BlockID(b), gen[b], kill[b])
	}

	info := &Info{
		liveIn:  make([]bitvec.BitVec, nb),
		liveOut: make([]bitvec.BitVec, nb),
	}
	for b := 0; b < nb; b++ {
		info.liveIn[b] = bitvec.New(nv)
		info.liveOut[b] = bitvec.New(nv)
	}

	rpo := g.ReversePostOrder()
	tmp := bitvec.New(nv)
	for changed := true; changed; {
		changed = false
		for i := len(rpo) - 1; i >= 0; i-- {
			b := rpo[i]
			out := info.liveOut[b]
			out.Clear()
			for _, s := range g.Succs(b) {
				out.Or(out, info.liveIn[s])
				phiEdgeUses(fn, s, b, out)
			}
			tmp.AndNot(out, kill[b])
			tmp.Or(tmp, gen[b])
			if !tmp.Eq(info.liveIn[b]) {
				info.liveIn[b].Copy(tmp)
				changed = true
			}
		}
	}
	return info
}

// localGenKill computes the block-local upward-exposed uses (gen) and
// full definitions (kill). Partial writes produced by vector lowering
// do not kill: the value stays live across the component movs.
func localGenKill(fn *ir.Function, b ir.BlockID, gen, kill bitvec.BitVec) {
	for _, id := range fn.Block(b).Instrs {
		in := fn.Instr(id)
		if in.Op != ir.OpPhi {
			for s := range in.Srcs {
				v := in.Srcs[s].Value
				if !kill.Get(int(v)) {
					gen.Set(int(v))
				}
			}
		}
		for d := range in.Dests {
			if in.WritesAllComps(fn, d) {
				kill.Set(int(in.Dests[d].Value))
			}
		}
	}
}

// phiEdgeUses adds to out the phi sources of block s that arrive along
// the edge from pred.
func phiEdgeUses(fn *ir.Function, s, pred ir.BlockID, out bitvec.BitVec) {
	for _, id := range fn.Block(s).Instrs {
		in := fn.Instr(id)
		if in.Op != ir.OpPhi {
			break // phis lead the block
		}
		for i := range in.Srcs {
			if in.Srcs[i].Pred == pred {
				out.Set(int(in.Srcs[i].Value))
			}
		}
	}
}

package regalloc

import (
	"github.com/aerisarn/mesa-uwp-sub004/bitvec"
	"github.com/aerisarn/mesa-uwp-sub004/cfg"
	"github.com/aerisarn/mesa-uwp-sub004/ir"
	"github.com/aerisarn/mesa-uwp-sub004/liveness"
)

// buildInterference scans every block backward with a running
// per-component live set and emits pairwise bias-window constraints
// into st. The visit order (blocks in reverse post-order, instructions
// backward) is part of the contract: it fixes the tie-breaks the spill
// heuristic observes.
func buildInterference(fn *ir.Function, g *cfg.Graph, live *liveness.Info, st *state) {
	nv := fn.NumValues()
	liveMask := make([]uint16, nv)
	liveSet := bitvec.New(nv)

	for _, b := range g.ReversePostOrder() {
		liveSet.Clear()
		for i := range liveMask {
			liveMask[i] = 0
		}
		out := live.LiveOut(b)
		for v := out.Next(0); v >= 0; v = out.Next(v + 1) {
			liveMask[v] = fullCompMask(fn, ir.ValueID(v))
			liveSet.Set(v)
		}

		instrs := fn.Block(b).Instrs
		for idx := len(instrs) - 1; idx >= 0; idx-- {
			in := fn.Instr(instrs[idx])

			// Constraints against everything still live at each
			// destination write.
			for d := range in.Dests {
				dv := in.Dests[d].Value
				wm := in.WriteMask(fn, d)
				for v := liveSet.Next(0); v >= 0; v = liveSet.Next(v + 1) {
					vid := ir.ValueID(v)
					if vid == dv || !st.alloc[v] {
						continue
					}
					lm := liveMask[v]
					if in.Op == ir.OpMov && in.Srcs[0].Value == vid {
						// Copy source and destination may share a
						// register for the copied component.
						lm &^= in.Srcs[0].ReadMask(fn)
					}
					st.addConstraint(dv, vid, wm, lm)
				}
			}

			// Destinations of the same instruction are written
			// together and must not overlap each other.
			for d1 := 0; d1 < len(in.Dests); d1++ {
				for d2 := d1 + 1; d2 < len(in.Dests); d2++ {
					st.addConstraint(in.Dests[d1].Value, in.Dests[d2].Value,
						in.WriteMask(fn, d1), in.WriteMask(fn, d2))
				}
			}

			// Kill the written components, then expose the reads.
			for d := range in.Dests {
				dv := int(in.Dests[d].Value)
				liveMask[dv] &^= in.WriteMask(fn, d)
				if liveMask[dv] == 0 {
					liveSet.Unset(dv)
				}
			}
			if in.Op != ir.OpPhi {
				// Phi sources live on their incoming edges and are
				// accounted for by the predecessors' live-out sets.
				for s := range in.Srcs {
					sv := in.Srcs[s].Value
					liveMask[sv] |= in.Srcs[s].ReadMask(fn)
					liveSet.Set(int(sv))
				}
			}
		}
	}
}

func fullCompMask(fn *ir.Function, v ir.ValueID) uint16 {
	return uint16(1)<<fn.Value(v).Comps - 1
}

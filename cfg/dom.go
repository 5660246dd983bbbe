package cfg

import "github.com/aerisarn/mesa-uwp-sub004/ir"

// computeDominators runs the iterative dominator algorithm of Cooper,
// Harvey and Kennedy over reverse post-order. Idempotent: rebuilding
// the graph recomputes the same tree for the same IR.
func (g *Graph) computeDominators() {
	n := g.fn.NumBlocks()
	entry := g.fn.Entry()
	g.idom = make([]ir.BlockID, n)
	for i := range g.idom {
		g.idom[i] = ir.InvalidBlock
	}
	g.idom[entry] = entry

	changed := true
	for changed {
		changed = false
		for _, b := range g.rpo {
			if b == entry {
				continue
			}
			var newIdom = ir.InvalidBlock
			for _, p := range g.preds[b] {
				if g.idom[p] == ir.InvalidBlock {
					continue // not yet processed
				}
				if newIdom == ir.InvalidBlock {
					newIdom = p
				} else {
					newIdom = g.intersect(p, newIdom)
				}
			}
			if newIdom != g.idom[b] {
				g.idom[b] = newIdom
				changed = true
			}
		}
	}
}

// intersect walks up the dominator tree to the closest common
// dominator of a and b, comparing by reverse post-order number.
func (g *Graph) intersect(a, b ir.BlockID) ir.BlockID {
	for a != b {
		for g.rpoNum[a] > g.rpoNum[b] {
			a = g.idom[a]
		}
		for g.rpoNum[b] > g.rpoNum[a] {
			b = g.idom[b]
		}
	}
	return a
}

// Idom returns the immediate dominator of b. The entry block is its
// own immediate dominator.
func (g *Graph) Idom(b ir.BlockID) ir.BlockID { return g.idom[b] }

// Dominates reports whether a dominates b. Every block dominates
// itself.
func (g *Graph) Dominates(a, b ir.BlockID) bool {
	entry := g.fn.Entry()
	for {
		if a == b {
			return true
		}
		if b == entry {
			return false
		}
		b = g.idom[b]
	}
}

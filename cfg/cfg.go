// Package cfg derives control-flow structure from an ir.Function:
// predecessor/successor lists, reverse post-order, the dominator tree
// and the natural-loop tree.
//
// The Graph is a cache. Any IR mutation that inserts, moves or removes
// an instruction invalidates it; callers rebuild with Build.
package cfg

import (
	"errors"
	"fmt"

	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// ErrIrreducible is reported when a back edge targets a block that
// does not dominate its source. The loop and allocation pipeline only
// handles reducible control flow.
var ErrIrreducible = errors.New("cfg: irreducible control flow")

// Graph holds the control-flow structure of one function.
type Graph struct {
	fn *ir.Function

	preds [][]ir.BlockID
	succs [][]ir.BlockID

	rpo    []ir.BlockID
	rpoNum []int // block -> position in rpo, -1 if unreachable

	idom []ir.BlockID
}

// Build populates predecessor/successor lists from the block
// terminators and computes reverse post-order and the dominator tree.
// Every block must be reachable from the entry.
func Build(fn *ir.Function) (*Graph, error) {
	n := fn.NumBlocks()
	if n == 0 {
		return nil, fmt.Errorf("cfg: function %q has no blocks", fn.Name)
	}
	g := &Graph{
		fn:     fn,
		preds:  make([][]ir.BlockID, n),
		succs:  make([][]ir.BlockID, n),
		rpoNum: make([]int, n),
	}
	for b := ir.BlockID(0); int(b) < n; b++ {
		g.succs[b] = fn.Successors(b)
		for _, s := range g.succs[b] {
			g.preds[s] = append(g.preds[s], b)
		}
	}
	g.computeRPO()
	for b, num := range g.rpoNum {
		if num < 0 {
			return nil, fmt.Errorf("cfg: block %d is unreachable from entry", b)
		}
	}
	g.computeDominators()
	return g, nil
}

// Preds returns the predecessors of b in edge-creation order.
func (g *Graph) Preds(b ir.BlockID) []ir.BlockID { return g.preds[b] }

// Succs returns the successors of b in branch order.
func (g *Graph) Succs(b ir.BlockID) []ir.BlockID { return g.succs[b] }

// ReversePostOrder returns the blocks in reverse post-order. The slice
// is owned by the graph.
func (g *Graph) ReversePostOrder() []ir.BlockID { return g.rpo }

// RPONum returns b's position in reverse post-order.
func (g *Graph) RPONum(b ir.BlockID) int { return g.rpoNum[b] }

// computeRPO runs an iterative depth-first search from the entry.
// Successors are pushed in reverse branch order so lower-indexed
// targets are visited first, which fixes the tie-break for dataflow
// passes.
func (g *Graph) computeRPO() {
	n := g.fn.NumBlocks()
	for i := range g.rpoNum {
		g.rpoNum[i] = -1
	}
	seen := make([]bool, n)
	post := make([]ir.BlockID, 0, n)

	type frame struct {
		b    ir.BlockID
		next int
	}
	stack := make([]frame, 0, 32)
	stack = append(stack, frame{b: g.fn.Entry()})
	seen[g.fn.Entry()] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(g.succs[top.b]) {
			s := g.succs[top.b][top.next]
			top.next++
			if !seen[s] {
				seen[s] = true
				stack = append(stack, frame{b: s})
			}
			continue
		}
		post = append(post, top.b)
		stack = stack[:len(stack)-1]
	}

	g.rpo = make([]ir.BlockID, len(post))
	for i, b := range post {
		pos := len(post) - 1 - i
		g.rpo[pos] = b
		g.rpoNum[b] = pos
	}
}

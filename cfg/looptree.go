package cfg

import (
	"fmt"
	"sort"

	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// Loop is a reducible natural loop: a single header plus the blocks
// that reach a back edge without leaving the header's dominance
// region.
type Loop struct {
	// Header is the single entry block of the loop.
	Header ir.BlockID

	// Latches are the in-loop predecessors of the header, one per
	// back edge.
	Latches []ir.BlockID

	// Blocks lists the loop members in ascending block order,
	// including the header.
	Blocks []ir.BlockID

	// Parent is the innermost enclosing loop, or nil.
	Parent *Loop

	// Depth is the nesting depth; outermost loops have depth 1.
	Depth int

	member map[ir.BlockID]bool
}

// Contains reports whether b is a member of the loop.
func (l *Loop) Contains(b ir.BlockID) bool { return l.member[b] }

// LoopTree identifies the natural loops of the graph by back-edge
// detection. A back edge is an edge whose target dominates its source;
// an edge to a non-dominating earlier block makes the CFG irreducible
// and is reported as an error.
//
// Loops are returned ordered by header block index. Back edges sharing
// a header are merged into one loop with multiple latches.
func (g *Graph) LoopTree() ([]*Loop, error) {
	byHeader := make(map[ir.BlockID]*Loop)
	var headers []ir.BlockID

	for _, b := range g.rpo {
		for _, s := range g.succs[b] {
			if g.rpoNum[s] > g.rpoNum[b] {
				continue // forward edge
			}
			if !g.Dominates(s, b) {
				return nil, fmt.Errorf("%w: edge %d -> %d re-enters a loop body", ErrIrreducible, b, s)
			}
			l := byHeader[s]
			if l == nil {
				l = &Loop{Header: s, member: map[ir.BlockID]bool{s: true}}
				byHeader[s] = l
				headers = append(headers, s)
			}
			l.Latches = append(l.Latches, b)
			g.collectLoopBody(l, b)
		}
	}

	sort.Slice(headers, func(i, j int) bool { return headers[i] < headers[j] })
	loops := make([]*Loop, 0, len(headers))
	for _, h := range headers {
		l := byHeader[h]
		for b := range l.member {
			l.Blocks = append(l.Blocks, b)
		}
		sort.Slice(l.Blocks, func(i, j int) bool { return l.Blocks[i] < l.Blocks[j] })
		loops = append(loops, l)
	}
	g.nestLoops(loops)
	return loops, nil
}

// collectLoopBody walks predecessors backward from the latch until the
// header, adding every visited block to the loop.
func (g *Graph) collectLoopBody(l *Loop, latch ir.BlockID) {
	if l.member[latch] {
		return
	}
	stack := []ir.BlockID{latch}
	l.member[latch] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range g.preds[b] {
			if !l.member[p] {
				l.member[p] = true
				stack = append(stack, p)
			}
		}
	}
}

// nestLoops links each loop to its innermost enclosing loop and
// assigns depths. Loops are few; the quadratic scan is fine.
func (g *Graph) nestLoops(loops []*Loop) {
	for _, l := range loops {
		for _, outer := range loops {
			if outer == l || !outer.member[l.Header] {
				continue
			}
			// The innermost enclosure is the smallest one.
			if l.Parent == nil || len(outer.member) < len(l.Parent.member) {
				l.Parent = outer
			}
		}
	}
	var depth func(l *Loop) int
	depth = func(l *Loop) int {
		if l.Parent == nil {
			return 1
		}
		return depth(l.Parent) + 1
	}
	for _, l := range loops {
		l.Depth = depth(l)
	}
}

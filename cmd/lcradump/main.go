// Command lcradump runs the shader back end over a built-in demo
// program and prints the loop analysis and register allocation
// results.
//
// Usage:
//
//	lcradump [options]
//
// Examples:
//
//	lcradump                  # analyze and allocate the demo shader
//	lcradump -regs 8          # force spilling with a tiny register file
//	lcradump -no-occupancy    # skip the reduced-pressure first pass
package main

import (
	"flag"
	"fmt"
	"os"

	backend "github.com/aerisarn/mesa-uwp-sub004"
	"github.com/aerisarn/mesa-uwp-sub004/ir"
	"github.com/aerisarn/mesa-uwp-sub004/regalloc"
)

var (
	regs        = flag.Int("regs", 64, "register file size")
	noOccupancy = flag.Bool("no-occupancy", false, "disable the reduced-pressure first pass")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fn := demoShader()

	analysis, diags, err := backend.AnalyzeLoops(fn)
	printDiags(diags)
	if err != nil {
		return err
	}
	fmt.Printf("loops: %d\n", len(analysis.Loops()))
	for _, l := range analysis.Loops() {
		info := analysis.Info(l)
		fmt.Printf("  header b%d depth %d: ivs=%d", l.Header, l.Depth, len(info.InductionVars))
		if info.TripCountKnown {
			exact := "at most"
			if info.ExactTripCountKnown {
				exact = "exactly"
			}
			fmt.Printf(" trips %s %d", exact, info.MaxTripCount)
		} else {
			fmt.Printf(" trips unknown")
		}
		fmt.Println()
	}

	target := regalloc.DefaultTarget()
	target.RegisterCount = *regs
	target.OccupancyScaling = !*noOccupancy

	res, diags, err := backend.Allocate(fn, target, backend.DefaultOptions())
	printDiags(diags)
	if err != nil {
		return err
	}
	fmt.Printf("allocation: attempts=%d spills=%d fills=%d tls=%dB\n",
		res.Attempts, res.Spills, res.Fills, res.TLSSize)
	for v, r := range res.Solution {
		if r < 0 {
			continue
		}
		fmt.Printf("  v%d -> r%d\n", v, r)
	}
	return nil
}

func printDiags(diags []backend.Diagnostic) {
	for _, d := range diags {
		fmt.Printf("note: %s\n", d)
	}
}

// demoShader builds a small compute kernel by hand: a counted loop
// accumulating into a scalar, followed by a vec2 gather. Enough to
// exercise induction variables, trip counts and pairwise allocation
// constraints.
func demoShader() *ir.Function {
	fn := ir.NewFunction("demo")

	c0 := fn.NewConstant(0, 32, 1)
	c1 := fn.NewConstant(1, 32, 1)
	c16 := fn.NewConstant(16, 32, 1)

	entry := fn.AddBlock()
	header := fn.AddBlock()
	exit := fn.AddBlock()

	init := fn.NewValue(32, 1)
	fn.Append(entry, ir.Instr{
		Op:    ir.OpMov,
		Srcs:  []ir.Src{ir.NewSrc(c0)},
		Dests: []ir.Dest{{Value: init}},
	})
	fn.Append(entry, ir.Instr{Op: ir.OpBranch, Target: header})

	iv := fn.NewValue(32, 1)
	next := fn.NewValue(32, 1)
	fn.Append(header, ir.Instr{
		Op:    ir.OpPhi,
		Srcs:  []ir.Src{ir.PhiSrc(init, entry), ir.PhiSrc(next, header)},
		Dests: []ir.Dest{{Value: iv}},
	})
	fn.Append(header, ir.Instr{
		Op:    ir.OpIAdd,
		Srcs:  []ir.Src{ir.NewSrc(iv), ir.NewSrc(c1)},
		Dests: []ir.Dest{{Value: next}},
	})
	cond := fn.NewValue(1, 1)
	fn.Append(header, ir.Instr{
		Op:    ir.OpULt,
		Srcs:  []ir.Src{ir.NewSrc(next), ir.NewSrc(c16)},
		Dests: []ir.Dest{{Value: cond}},
	})
	fn.Append(header, ir.Instr{
		Op:   ir.OpCondBranch,
		Srcs: []ir.Src{ir.NewSrc(cond)},
		Then: header,
		Else: exit,
	})

	pair := fn.NewValue(32, 2)
	fn.Append(exit, ir.Instr{
		Op:    ir.OpCollect,
		Srcs:  []ir.Src{ir.NewSrc(next), ir.NewSrc(iv)},
		Dests: []ir.Dest{{Value: pair}},
	})
	sum := fn.NewValue(32, 1)
	fn.Append(exit, ir.Instr{
		Op:    ir.OpIAdd,
		Srcs:  []ir.Src{ir.SwizzleSrc(pair, 0), ir.SwizzleSrc(pair, 1)},
		Dests: []ir.Dest{{Value: sum}},
	})
	fn.Append(exit, ir.Instr{
		Op:   ir.OpReturn,
		Srcs: []ir.Src{ir.NewSrc(sum)},
	})
	return fn
}

package loops

import (
	"math"
	"testing"

	"github.com/aerisarn/mesa-uwp-sub004/cfg"
	"github.com/aerisarn/mesa-uwp-sub004/ir"
)

// counterLoop describes the canonical three-block counted loop the
// tests build: entry -> header (phi, update, compare, branch) -> exit.
type counterLoop struct {
	bitSize   uint8
	initBits  uint64
	stepBits  uint64
	limitBits uint64

	updateOp ir.Opcode
	cmpOp    ir.Opcode

	// testPost compares the post-update value instead of the phi.
	testPost bool

	// exitOnFalse leaves the loop on the false edge of the compare.
	exitOnFalse bool

	// swapOperands puts the limit on the left-hand side.
	swapOperands bool

	// symbolicInit feeds the phi from a non-constant entry value.
	symbolicInit bool
}

func (cl counterLoop) build(t *testing.T) (*ir.Function, *cfg.Graph) {
	t.Helper()
	fn := ir.NewFunction("counter")
	entry := fn.AddBlock()
	header := fn.AddBlock()
	exit := fn.AddBlock()

	initV := fn.NewConstant(cl.initBits, cl.bitSize, 1)
	if cl.symbolicInit {
		sym := fn.NewValue(cl.bitSize, 1)
		fn.Append(entry, ir.Instr{
			Op:    ir.OpMov,
			Srcs:  []ir.Src{ir.NewSrc(initV)},
			Dests: []ir.Dest{{Value: sym}},
		})
		initV = sym
	}
	step := fn.NewConstant(cl.stepBits, cl.bitSize, 1)
	limit := fn.NewConstant(cl.limitBits, cl.bitSize, 1)
	fn.Append(entry, ir.Instr{Op: ir.OpBranch, Target: header})

	iv := fn.NewValue(cl.bitSize, 1)
	next := fn.NewValue(cl.bitSize, 1)
	cond := fn.NewValue(1, 1)
	fn.Append(header, ir.Instr{
		Op:    ir.OpPhi,
		Srcs:  []ir.Src{ir.PhiSrc(initV, entry), ir.PhiSrc(next, header)},
		Dests: []ir.Dest{{Value: iv}},
	})
	fn.Append(header, ir.Instr{
		Op:    cl.updateOp,
		Srcs:  []ir.Src{ir.NewSrc(iv), ir.NewSrc(step)},
		Dests: []ir.Dest{{Value: next}},
	})
	tested := iv
	if cl.testPost {
		tested = next
	}
	cmpSrcs := []ir.Src{ir.NewSrc(tested), ir.NewSrc(limit)}
	if cl.swapOperands {
		cmpSrcs[0], cmpSrcs[1] = cmpSrcs[1], cmpSrcs[0]
	}
	fn.Append(header, ir.Instr{Op: cl.cmpOp, Srcs: cmpSrcs, Dests: []ir.Dest{{Value: cond}}})
	br := ir.Instr{Op: ir.OpCondBranch, Srcs: []ir.Src{ir.NewSrc(cond)}}
	if cl.exitOnFalse {
		br.Then, br.Else = header, exit
	} else {
		br.Then, br.Else = exit, header
	}
	fn.Append(header, br)
	fn.Append(exit, ir.Instr{Op: ir.OpReturn})

	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("cfg.Build: %v", err)
	}
	return fn, g
}

func (cl counterLoop) analyze(t *testing.T) *LoopInfo {
	t.Helper()
	fn, g := cl.build(t)
	a, err := Analyze(fn, g)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(a.Loops()) != 1 {
		t.Fatalf("found %d loops, want 1", len(a.Loops()))
	}
	return a.Info(a.Loops()[0])
}

func f32bits(v float32) uint64 { return uint64(math.Float32bits(v)) }

func TestIntTripCounts(t *testing.T) {
	tests := []struct {
		name      string
		loop      counterLoop
		wantTrips uint32
		wantExact bool
	}{
		{
			// i starts at 1 and leaves immediately: 1 != 0 already
			// holds at the first test.
			name: "not-equal satisfied on entry",
			loop: counterLoop{
				bitSize: 32, initBits: 1, stepBits: 1, limitBits: 0,
				updateOp: ir.OpIAdd, cmpOp: ir.OpINe,
			},
			wantTrips: 0, wantExact: true,
		},
		{
			name: "single trip up to one",
			loop: counterLoop{
				bitSize: 32, initBits: 0, stepBits: 1, limitBits: 1,
				updateOp: ir.OpIAdd, cmpOp: ir.OpUGe,
			},
			wantTrips: 1, wantExact: true,
		},
		{
			// Bottom-test shape: the post-update value is compared, so
			// one update is applied before the first observation.
			name: "inverted test on post-update",
			loop: counterLoop{
				bitSize: 32, initBits: 0, stepBits: 1, limitBits: 6,
				updateOp: ir.OpIAdd, cmpOp: ir.OpIGe, testPost: true,
			},
			wantTrips: 5, wantExact: true,
		},
		{
			name: "zero trips when already past the limit",
			loop: counterLoop{
				bitSize: 32, initBits: 5, stepBits: 1, limitBits: 3,
				updateOp: ir.OpIAdd, cmpOp: ir.OpUGe,
			},
			wantTrips: 0, wantExact: true,
		},
		{
			// Step 3 overshoots the limit: the bound holds but the gap
			// is not divisible, so the count is approximate.
			name: "non-dividing step is approximate",
			loop: counterLoop{
				bitSize: 32, initBits: 0, stepBits: 3, limitBits: 10,
				updateOp: ir.OpIAdd, cmpOp: ir.OpUGe,
			},
			wantTrips: 4, wantExact: false,
		},
		{
			name: "limit on the left-hand side",
			loop: counterLoop{
				bitSize: 32, initBits: 0, stepBits: 1, limitBits: 10,
				updateOp: ir.OpIAdd, cmpOp: ir.OpULt, swapOperands: true,
			},
			wantTrips: 11, wantExact: true,
		},
		{
			name: "counting down with isub",
			loop: counterLoop{
				bitSize: 32, initBits: 10, stepBits: 1, limitBits: 5,
				updateOp: ir.OpISub, cmpOp: ir.OpILt,
			},
			wantTrips: 6, wantExact: true,
		},
		{
			name: "exit on the false edge",
			loop: counterLoop{
				bitSize: 32, initBits: 0, stepBits: 1, limitBits: 4,
				updateOp: ir.OpIAdd, cmpOp: ir.OpULt, exitOnFalse: true,
			},
			wantTrips: 4, wantExact: true,
		},
		{
			name: "equality hit by a dividing step",
			loop: counterLoop{
				bitSize: 32, initBits: 2, stepBits: 2, limitBits: 8,
				updateOp: ir.OpIAdd, cmpOp: ir.OpIEq,
			},
			wantTrips: 3, wantExact: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.loop.analyze(t)
			if !info.TripCountKnown {
				t.Fatal("trip count unknown")
			}
			if info.MaxTripCount != tt.wantTrips {
				t.Errorf("MaxTripCount = %d, want %d", info.MaxTripCount, tt.wantTrips)
			}
			if info.ExactTripCountKnown != tt.wantExact {
				t.Errorf("ExactTripCountKnown = %v, want %v", info.ExactTripCountKnown, tt.wantExact)
			}
			if info.LimitingTerminator == ir.InvalidInstr {
				t.Error("limiting terminator not identified")
			}
		})
	}
}

func TestIntTripUnknown(t *testing.T) {
	tests := []struct {
		name string
		loop counterLoop
	}{
		{
			// Equality on a step that skips over the limit never fires
			// without wrap-around.
			name: "equality skipped by the step",
			loop: counterLoop{
				bitSize: 32, initBits: 0, stepBits: 2, limitBits: 5,
				updateOp: ir.OpIAdd, cmpOp: ir.OpIEq,
			},
		},
		{
			// Counting away from the limit.
			name: "step moves away from the bound",
			loop: counterLoop{
				bitSize: 32, initBits: 0, stepBits: 1, limitBits: 3,
				updateOp: ir.OpISub, cmpOp: ir.OpUGe,
			},
		},
		{
			name: "symbolic initial value",
			loop: counterLoop{
				bitSize: 32, initBits: 0, stepBits: 1, limitBits: 4,
				updateOp: ir.OpIAdd, cmpOp: ir.OpUGe, symbolicInit: true,
			},
		},
		{
			// The unbounded solution says one step of 100 reaches 250,
			// but 200 + 100 wraps to 44 at 8 bits and the exit does not
			// fire there.
			name: "bound reached only after unsigned wrap",
			loop: counterLoop{
				bitSize: 8, initBits: 200, stepBits: 100, limitBits: 250,
				updateOp: ir.OpIAdd, cmpOp: ir.OpUGe,
			},
		},
		{
			// Bottom-test variant of the same shape: the first tested
			// value has already wrapped.
			name: "post-update wraps before the first test",
			loop: counterLoop{
				bitSize: 8, initBits: 200, stepBits: 100, limitBits: 250,
				updateOp: ir.OpIAdd, cmpOp: ir.OpUGe, testPost: true,
			},
		},
		{
			// 100 + 50 overflows i8 to -106 before reaching 120.
			name: "bound reached only after signed overflow",
			loop: counterLoop{
				bitSize: 8, initBits: 100, stepBits: 50, limitBits: 120,
				updateOp: ir.OpIAdd, cmpOp: ir.OpIGe,
			},
		},
		{
			// Multiplicative variables are recognised but not solved.
			name: "multiplicative update",
			loop: counterLoop{
				bitSize: 32, initBits: 1, stepBits: 2, limitBits: 64,
				updateOp: ir.OpIMul, cmpOp: ir.OpUGe,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := tt.loop.analyze(t)
			if info.TripCountKnown {
				t.Fatalf("trip count reported (%d) for an unsolvable exit", info.MaxTripCount)
			}
			if info.LimitingTerminator != ir.InvalidInstr {
				t.Error("limiting terminator set without a bound")
			}
		})
	}
}

func TestFloatTripCounts(t *testing.T) {
	t.Run("quarter steps reach the limit", func(t *testing.T) {
		info := counterLoop{
			bitSize: 32, initBits: f32bits(0), stepBits: f32bits(0.25), limitBits: f32bits(1),
			updateOp: ir.OpFAdd, cmpOp: ir.OpFGe,
		}.analyze(t)
		if !info.TripCountKnown || info.MaxTripCount != 4 || !info.ExactTripCountKnown {
			t.Errorf("got known=%v trips=%d exact=%v, want exactly 4",
				info.TripCountKnown, info.MaxTripCount, info.ExactTripCountKnown)
		}
	})
	t.Run("equality missed by rounding", func(t *testing.T) {
		// 0.2 is not representable; the running sum never equals 0.9.
		info := counterLoop{
			bitSize: 32, initBits: f32bits(0), stepBits: f32bits(0.2), limitBits: f32bits(0.9),
			updateOp: ir.OpFAdd, cmpOp: ir.OpFEq,
		}.analyze(t)
		if info.TripCountKnown {
			t.Errorf("trip count reported (%d) for an equality that rounding never satisfies", info.MaxTripCount)
		}
		if got := len(info.InductionVars); got != 2 {
			t.Errorf("found %d induction variables, want phi and post-update", got)
		}
	})
	t.Run("absorption never reaches the limit", func(t *testing.T) {
		// Adding 1.0 to 2^40 is a no-op in f32; the variable is stuck.
		info := counterLoop{
			bitSize: 32, initBits: f32bits(1 << 40), stepBits: f32bits(1), limitBits: f32bits(1 << 41),
			updateOp: ir.OpFAdd, cmpOp: ir.OpFGe,
		}.analyze(t)
		if info.TripCountKnown {
			t.Errorf("trip count reported (%d) despite absorption", info.MaxTripCount)
		}
	})
	t.Run("huge-step cancellation sign pair", func(t *testing.T) {
		// Subtracting a step equal to the initial value cancels to zero
		// on the first update; flipping the step's sign sends the
		// variable towards -Inf instead. The two shapes must not get a
		// uniform answer.
		neg := f32bits(float32(math.Ldexp(-1, 103)))
		pos := f32bits(float32(math.Ldexp(1, 103)))

		cancel := counterLoop{
			bitSize: 32, initBits: neg, stepBits: neg, limitBits: f32bits(0),
			updateOp: ir.OpFSub, cmpOp: ir.OpFEq,
		}.analyze(t)
		if !cancel.TripCountKnown || cancel.MaxTripCount != 1 || !cancel.ExactTripCountKnown {
			t.Errorf("cancelling variant: known=%v trips=%d exact=%v, want exactly 1",
				cancel.TripCountKnown, cancel.MaxTripCount, cancel.ExactTripCountKnown)
		}

		diverge := counterLoop{
			bitSize: 32, initBits: neg, stepBits: pos, limitBits: f32bits(0),
			updateOp: ir.OpFSub, cmpOp: ir.OpFEq,
		}.analyze(t)
		if diverge.TripCountKnown {
			t.Errorf("diverging variant reported %d trips", diverge.MaxTripCount)
		}
		if diverge.LimitingTerminator != ir.InvalidInstr {
			t.Error("limiting terminator set without a bound")
		}
	})
	t.Run("accumulated rounding before the threshold", func(t *testing.T) {
		// The algebraic count for 1.0 in 0.1 steps is 10, but the f32
		// running sum crosses 1.0 only at the 11th test.
		info := counterLoop{
			bitSize: 32, initBits: f32bits(0), stepBits: f32bits(0.1), limitBits: f32bits(1),
			updateOp: ir.OpFAdd, cmpOp: ir.OpFGe,
		}.analyze(t)
		if !info.TripCountKnown {
			t.Fatal("trip count unknown")
		}
		want := emulatedTrips(0, 0.1, 1)
		if info.MaxTripCount != want || !info.ExactTripCountKnown {
			t.Errorf("trips = %d exact=%v, want exactly %d (emulated)",
				info.MaxTripCount, info.ExactTripCountKnown, want)
		}
	})
}

// emulatedTrips mirrors the analyser's ground truth for f32 addition
// loops exiting on >=.
func emulatedTrips(init, step, limit float32) uint32 {
	n := uint32(0)
	for v := init; v < limit; v += step {
		n++
	}
	return n
}

func TestInductionVariables(t *testing.T) {
	fn, g := counterLoop{
		bitSize: 32, initBits: 0, stepBits: 1, limitBits: 4,
		updateOp: ir.OpIAdd, cmpOp: ir.OpUGe,
	}.build(t)
	a, err := Analyze(fn, g)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	info := a.Info(a.Loops()[0])
	if len(info.InductionVars) != 2 {
		t.Fatalf("found %d induction variables, want 2", len(info.InductionVars))
	}
	phi, post := info.InductionVars[0], info.InductionVars[1]
	if !phi.Basic || !post.Basic {
		t.Error("counted variables not classified as basic")
	}
	if phi.InitLiteral == nil || phi.InitLiteral.Bits != 0 {
		t.Errorf("phi initial literal = %v, want 0", phi.InitLiteral)
	}
	if phi.InitSrc != ir.InvalidValue {
		t.Error("literal-initialised phi reports an initial source value")
	}
	// The post-update variable starts one step later.
	if post.InitLiteral == nil || post.InitLiteral.Bits != 1 {
		t.Errorf("post-update initial literal = %v, want 1", post.InitLiteral)
	}
	if phi.UpdateSrc != post.UpdateSrc {
		t.Error("phi and post-update variables disagree on the step source")
	}
}

func TestSymbolicInitSource(t *testing.T) {
	info := counterLoop{
		bitSize: 32, initBits: 7, stepBits: 1, limitBits: 4,
		updateOp: ir.OpIAdd, cmpOp: ir.OpUGe, symbolicInit: true,
	}.analyze(t)
	if len(info.InductionVars) != 2 {
		t.Fatalf("found %d induction variables, want 2", len(info.InductionVars))
	}
	for i, iv := range info.InductionVars {
		if iv.InitLiteral != nil {
			t.Errorf("induction variable %d has a literal init for a symbolic entry value", i)
		}
		if iv.InitSrc == ir.InvalidValue {
			t.Errorf("induction variable %d is missing its initial source value", i)
		}
	}
}

func TestDependentInductionVariable(t *testing.T) {
	// The phi's update is the sum of two loop-varying values, which is
	// not a basic step.
	fn := ir.NewFunction("dependent")
	entry := fn.AddBlock()
	header := fn.AddBlock()
	exit := fn.AddBlock()

	c0 := fn.NewConstant(0, 32, 1)
	c1 := fn.NewConstant(1, 32, 1)
	cLim := fn.NewConstant(10, 32, 1)
	fn.Append(entry, ir.Instr{Op: ir.OpBranch, Target: header})

	i := fn.NewValue(32, 1)
	j := fn.NewValue(32, 1)
	iNext := fn.NewValue(32, 1)
	jNext := fn.NewValue(32, 1)
	cond := fn.NewValue(1, 1)
	fn.Append(header, ir.Instr{
		Op:    ir.OpPhi,
		Srcs:  []ir.Src{ir.PhiSrc(c0, entry), ir.PhiSrc(iNext, header)},
		Dests: []ir.Dest{{Value: i}},
	})
	fn.Append(header, ir.Instr{
		Op:    ir.OpPhi,
		Srcs:  []ir.Src{ir.PhiSrc(c0, entry), ir.PhiSrc(jNext, header)},
		Dests: []ir.Dest{{Value: j}},
	})
	fn.Append(header, ir.Instr{Op: ir.OpIAdd, Srcs: []ir.Src{ir.NewSrc(i), ir.NewSrc(c1)}, Dests: []ir.Dest{{Value: iNext}}})
	// j accumulates i: loop-varying step.
	fn.Append(header, ir.Instr{Op: ir.OpIAdd, Srcs: []ir.Src{ir.NewSrc(j), ir.NewSrc(iNext)}, Dests: []ir.Dest{{Value: jNext}}})
	fn.Append(header, ir.Instr{Op: ir.OpUGe, Srcs: []ir.Src{ir.NewSrc(iNext), ir.NewSrc(cLim)}, Dests: []ir.Dest{{Value: cond}}})
	fn.Append(header, ir.Instr{Op: ir.OpCondBranch, Srcs: []ir.Src{ir.NewSrc(cond)}, Then: exit, Else: header})
	fn.Append(exit, ir.Instr{Op: ir.OpReturn})

	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("cfg.Build: %v", err)
	}
	a, err := Analyze(fn, g)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	info := a.Info(a.Loops()[0])

	// i and its post-update are basic; j is dependent.
	var basic, dependent int
	for _, iv := range info.InductionVars {
		if iv.Basic {
			basic++
		} else {
			dependent++
		}
	}
	if basic != 2 || dependent != 1 {
		t.Errorf("found %d basic and %d dependent variables, want 2 and 1", basic, dependent)
	}
	if !info.TripCountKnown || info.MaxTripCount != 9 || !info.ExactTripCountKnown {
		t.Errorf("trips = %d (known=%v exact=%v), want exactly 9",
			info.MaxTripCount, info.TripCountKnown, info.ExactTripCountKnown)
	}
}

// multiExit builds entry -> header -> body -> header, with exits from
// both the header and the body guarded by uge against the two limits.
func multiExit(t *testing.T, limitA, limitB uint64) *LoopInfo {
	t.Helper()
	fn := ir.NewFunction("multiexit")
	entry := fn.AddBlock()
	header := fn.AddBlock()
	body := fn.AddBlock()
	exit := fn.AddBlock()

	c0 := fn.NewConstant(0, 32, 1)
	c1 := fn.NewConstant(1, 32, 1)
	cA := fn.NewConstant(limitA, 32, 1)
	cB := fn.NewConstant(limitB, 32, 1)
	fn.Append(entry, ir.Instr{Op: ir.OpBranch, Target: header})

	iv := fn.NewValue(32, 1)
	next := fn.NewValue(32, 1)
	condA := fn.NewValue(1, 1)
	condB := fn.NewValue(1, 1)
	fn.Append(header, ir.Instr{
		Op:    ir.OpPhi,
		Srcs:  []ir.Src{ir.PhiSrc(c0, entry), ir.PhiSrc(next, body)},
		Dests: []ir.Dest{{Value: iv}},
	})
	fn.Append(header, ir.Instr{Op: ir.OpIAdd, Srcs: []ir.Src{ir.NewSrc(iv), ir.NewSrc(c1)}, Dests: []ir.Dest{{Value: next}}})
	fn.Append(header, ir.Instr{Op: ir.OpUGe, Srcs: []ir.Src{ir.NewSrc(next), ir.NewSrc(cA)}, Dests: []ir.Dest{{Value: condA}}})
	fn.Append(header, ir.Instr{Op: ir.OpCondBranch, Srcs: []ir.Src{ir.NewSrc(condA)}, Then: exit, Else: body})
	fn.Append(body, ir.Instr{Op: ir.OpUGe, Srcs: []ir.Src{ir.NewSrc(next), ir.NewSrc(cB)}, Dests: []ir.Dest{{Value: condB}}})
	fn.Append(body, ir.Instr{Op: ir.OpCondBranch, Srcs: []ir.Src{ir.NewSrc(condB)}, Then: exit, Else: header})
	fn.Append(exit, ir.Instr{Op: ir.OpReturn})

	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("cfg.Build: %v", err)
	}
	a, err := Analyze(fn, g)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return a.Info(a.Loops()[0])
}

func TestMultiExitMinimumRule(t *testing.T) {
	info := multiExit(t, 3, 5)
	if !info.TripCountKnown || info.MaxTripCount != 2 {
		t.Fatalf("trips = %d (known=%v), want 2 from the tighter exit",
			info.MaxTripCount, info.TripCountKnown)
	}
	if !info.ExactTripCountKnown {
		t.Error("unique minimum bound not reported as exact")
	}
	if info.LimitingTerminator == ir.InvalidInstr {
		t.Error("limiting terminator not identified")
	}
}

func TestMultiExitTie(t *testing.T) {
	info := multiExit(t, 3, 3)
	if !info.TripCountKnown || info.MaxTripCount != 2 {
		t.Fatalf("trips = %d (known=%v), want 2", info.MaxTripCount, info.TripCountKnown)
	}
	if info.ExactTripCountKnown {
		t.Error("tied bounds must not be reported as exact")
	}
	if info.LimitingTerminator != ir.InvalidInstr {
		t.Error("limiting terminator set despite tied exits")
	}
}

func TestMultiLatchLoopHasNoIVs(t *testing.T) {
	// Two latches defeat the phi pattern match; no variables, no trip
	// count, but the loop itself is still reported.
	fn := ir.NewFunction("multilatch")
	entry := fn.AddBlock()
	header := fn.AddBlock()
	a := fn.AddBlock()
	b := fn.AddBlock()
	exit := fn.AddBlock()

	c := fn.NewConstant(0, 1, 1)
	fn.Append(entry, ir.Instr{Op: ir.OpBranch, Target: header})
	fn.Append(header, ir.Instr{Op: ir.OpCondBranch, Srcs: []ir.Src{ir.NewSrc(c)}, Then: a, Else: b})
	fn.Append(a, ir.Instr{Op: ir.OpBranch, Target: header})
	fn.Append(b, ir.Instr{Op: ir.OpCondBranch, Srcs: []ir.Src{ir.NewSrc(c)}, Then: header, Else: exit})
	fn.Append(exit, ir.Instr{Op: ir.OpReturn})

	g, err := cfg.Build(fn)
	if err != nil {
		t.Fatalf("cfg.Build: %v", err)
	}
	an, err := Analyze(fn, g)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	info := an.Info(an.Loops()[0])
	if len(info.InductionVars) != 0 {
		t.Errorf("found %d induction variables in a multi-latch loop", len(info.InductionVars))
	}
	if info.TripCountKnown {
		t.Error("trip count reported without induction variables")
	}
}

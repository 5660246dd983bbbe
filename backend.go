// Package backend is the middle and back end of a GPU shader
// compiler: loop analysis over an SSA program and long-constraint
// register allocation (LCRA) with spilling through thread-local
// storage.
//
// The package operates on the ir package's SSA form. A front end (or a
// test) builds an ir.Function with the builder API, then runs one or
// both pipelines:
//
//	analysis, diags, err := backend.AnalyzeLoops(fn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, l := range analysis.Loops() {
//	    info := analysis.Info(l)
//	    ...
//	}
//
//	result, diags, err := backend.Allocate(fn, regalloc.DefaultTarget(), backend.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	reg := result.Solution[someValue]
//
// Allocate rewrites fn in place: vector collect/split pseudo
// instructions are lowered to component moves, and spilled values are
// replaced with TLS store/load sequences. Callers that need the
// original function must copy it first.
//
// Both entry points return a slice of Diagnostic records describing
// non-fatal findings (pressure fallbacks, validation notes). Fatal
// conditions are returned as wrapped sentinel errors; see
// cfg.ErrIrreducible, regalloc.ErrTargetImpossible and
// regalloc.ErrSpillChoiceFailed.
package backend

import (
	"fmt"

	"github.com/aerisarn/mesa-uwp-sub004/cfg"
	"github.com/aerisarn/mesa-uwp-sub004/ir"
	"github.com/aerisarn/mesa-uwp-sub004/loops"
	"github.com/aerisarn/mesa-uwp-sub004/regalloc"
)

// Options configures the compilation pipelines.
type Options struct {
	// Validate runs IR validation before each pipeline.
	Validate bool

	// MaxRAAttempts bounds the allocator's build/solve/spill rounds.
	// Zero uses regalloc.DefaultMaxAttempts.
	MaxRAAttempts int

	// Pins dictates registers for externally fixed values (shader
	// inputs and outputs with an ABI-mandated location).
	Pins map[ir.ValueID]int
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Validate: true,
	}
}

// AnalyzeLoops discovers the natural loops of fn and computes
// induction variables and trip-count bounds for each.
func AnalyzeLoops(fn *ir.Function) (*loops.Analysis, []Diagnostic, error) {
	return analyzeLoops(fn, DefaultOptions())
}

// AnalyzeLoopsWithOptions is AnalyzeLoops with explicit options.
func AnalyzeLoopsWithOptions(fn *ir.Function, opts Options) (*loops.Analysis, []Diagnostic, error) {
	return analyzeLoops(fn, opts)
}

func analyzeLoops(fn *ir.Function, opts Options) (*loops.Analysis, []Diagnostic, error) {
	var diags []Diagnostic
	if opts.Validate {
		d, err := validate(fn)
		diags = append(diags, d...)
		if err != nil {
			return nil, diags, err
		}
	}

	g, err := cfg.Build(fn)
	if err != nil {
		return nil, diags, fmt.Errorf("control flow graph: %w", err)
	}
	analysis, err := loops.Analyze(fn, g)
	if err != nil {
		diags = append(diags, Diagnostic{Kind: DiagUnreducibleCFG, Message: err.Error()})
		return nil, diags, fmt.Errorf("loop analysis: %w", err)
	}
	return analysis, diags, nil
}

// Allocate runs the register allocation pipeline on fn: validation,
// vector lowering, then iterative LCRA with spilling. fn is modified
// in place.
func Allocate(fn *ir.Function, target regalloc.Target, opts Options) (*regalloc.Result, []Diagnostic, error) {
	var diags []Diagnostic
	if opts.Validate {
		d, err := validate(fn)
		diags = append(diags, d...)
		if err != nil {
			return nil, diags, err
		}
	}

	ir.LowerVectors(fn)

	res, err := regalloc.Allocate(fn, target, regalloc.Options{
		MaxAttempts: opts.MaxRAAttempts,
		Pins:        opts.Pins,
	})
	if err != nil {
		diags = append(diags, Diagnostic{Kind: DiagSpillChoiceFailed, Message: err.Error()})
		return nil, diags, fmt.Errorf("register allocation: %w", err)
	}
	for i := 0; i < res.PressureFallbacks; i++ {
		diags = append(diags, Diagnostic{
			Kind:    DiagPressureFallback,
			Message: "reduced-pressure pass failed, using the full register file",
		})
	}
	return res, diags, nil
}

// validate runs IR validation and converts findings to diagnostics.
// A non-empty finding list is fatal; the structural walk error, if
// any, is returned as-is.
func validate(fn *ir.Function) ([]Diagnostic, error) {
	findings, err := ir.Validate(fn)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	if len(findings) == 0 {
		return nil, nil
	}
	diags := make([]Diagnostic, 0, len(findings))
	for i := range findings {
		diags = append(diags, Diagnostic{
			Kind:    DiagIRValidation,
			Message: findings[i].Error(),
		})
	}
	return diags, fmt.Errorf("validation failed: %w", &findings[0])
}

package backend

import "fmt"

// DiagnosticKind classifies a pipeline finding.
type DiagnosticKind int

const (
	// DiagIRValidation is a structural problem found by IR validation.
	DiagIRValidation DiagnosticKind = iota

	// DiagUnreducibleCFG reports a control flow graph with a cycle
	// that is not a natural loop.
	DiagUnreducibleCFG

	// DiagPressureFallback reports that the reduced-pressure
	// allocation pass failed and the full register file was used.
	DiagPressureFallback

	// DiagSpillChoiceFailed reports that the allocator could not pick
	// a spill candidate.
	DiagSpillChoiceFailed
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagIRValidation:
		return "ir-validation"
	case DiagUnreducibleCFG:
		return "unreducible-cfg"
	case DiagPressureFallback:
		return "pressure-fallback"
	case DiagSpillChoiceFailed:
		return "spill-choice-failed"
	default:
		return fmt.Sprintf("DiagnosticKind(%d)", int(k))
	}
}

// Diagnostic is one non-fatal pipeline finding. Fatal conditions are
// additionally returned as errors; their diagnostics carry the
// context that led up to them.
type Diagnostic struct {
	Kind    DiagnosticKind
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

package ir

// Opcode identifies the operation of an instruction. The set is closed;
// extending it requires revising every exhaustive switch in the
// analysis and allocation passes.
type Opcode uint8

const (
	OpMov Opcode = iota

	// Integer ALU
	OpIAdd
	OpISub
	OpIMul
	OpIShl
	OpIShr
	OpIAnd
	OpIOr
	OpIXor
	OpINeg

	// Float ALU
	OpFAdd
	OpFSub
	OpFMul
	OpFNeg
	OpFAbs

	// Comparisons (produce a 1-bit value)
	OpFEq
	OpFNe
	OpFLt
	OpFGe
	OpIEq
	OpINe
	OpILt
	OpIGe
	OpULt
	OpUGe

	// Select and conversions
	OpBCSel
	OpB2I
	OpI2B

	// Block-entry merge
	OpPhi

	// Thread-local storage access, inserted by the spill rewriter
	OpLoadTLS
	OpStoreTLS

	// No observable effect; extends liveness of its sources to bias
	// interference
	OpKill

	// Terminators
	OpBranch
	OpCondBranch
	OpReturn

	// Pre-allocation pseudo instructions building and tearing apart
	// wide vectors. Lowered to per-component movs before allocation.
	OpCollect
	OpSplit

	numOpcodes
)

var opcodeNames = [numOpcodes]string{
	OpMov:        "mov",
	OpIAdd:       "iadd",
	OpISub:       "isub",
	OpIMul:       "imul",
	OpIShl:       "ishl",
	OpIShr:       "ishr",
	OpIAnd:       "iand",
	OpIOr:        "ior",
	OpIXor:       "ixor",
	OpINeg:       "ineg",
	OpFAdd:       "fadd",
	OpFSub:       "fsub",
	OpFMul:       "fmul",
	OpFNeg:       "fneg",
	OpFAbs:       "fabs",
	OpFEq:        "feq",
	OpFNe:        "fne",
	OpFLt:        "flt",
	OpFGe:        "fge",
	OpIEq:        "ieq",
	OpINe:        "ine",
	OpILt:        "ilt",
	OpIGe:        "ige",
	OpULt:        "ult",
	OpUGe:        "uge",
	OpBCSel:      "bcsel",
	OpB2I:        "b2i",
	OpI2B:        "i2b",
	OpPhi:        "phi",
	OpLoadTLS:    "load_tls",
	OpStoreTLS:   "store_tls",
	OpKill:       "kill",
	OpBranch:     "branch",
	OpCondBranch: "cond_branch",
	OpReturn:     "return",
	OpCollect:    "collect",
	OpSplit:      "split",
}

// String returns the canonical lower-case mnemonic.
func (op Opcode) String() string {
	if op < numOpcodes {
		return opcodeNames[op]
	}
	return "invalid"
}

// IsTerminator reports whether the opcode ends a block.
func (op Opcode) IsTerminator() bool {
	return op == OpBranch || op == OpCondBranch || op == OpReturn
}

// IsComparison reports whether the opcode is a comparison producing a
// 1-bit result.
func (op Opcode) IsComparison() bool {
	return op >= OpFEq && op <= OpUGe
}

// Src is one instruction source: a value reference plus optional
// modifiers. A zero SwizzleLen means the source is read unswizzled.
type Src struct {
	Value ValueID

	// Modifiers
	Abs bool
	Neg bool

	// Swizzle selects up to four sub-components of the source value.
	Swizzle    [4]uint8
	SwizzleLen uint8

	// Pred is the incoming edge for phi sources and is InvalidBlock
	// everywhere else.
	Pred BlockID
}

// NewSrc returns an unmodified source reading v.
func NewSrc(v ValueID) Src {
	return Src{Value: v, Pred: InvalidBlock}
}

// PhiSrc returns a phi source pairing v with the predecessor edge it
// arrives on.
func PhiSrc(v ValueID, pred BlockID) Src {
	return Src{Value: v, Pred: pred}
}

// SwizzleSrc returns a source reading the given sub-components of v.
func SwizzleSrc(v ValueID, comps ...uint8) Src {
	s := Src{Value: v, Pred: InvalidBlock}
	copy(s.Swizzle[:], comps)
	s.SwizzleLen = uint8(len(comps))
	return s
}

// ReadMask returns the set of source components read, as a bitmask
// over component indices. An unswizzled source reads all components of
// its value.
func (s *Src) ReadMask(f *Function) uint16 {
	if s.SwizzleLen == 0 {
		return fullMask(f.Value(s.Value).Comps)
	}
	var m uint16
	for i := uint8(0); i < s.SwizzleLen; i++ {
		m |= 1 << s.Swizzle[i]
	}
	return m
}

// Dest is one instruction destination. Offset is the component offset
// within the destination value at which this instruction writes; it is
// non-zero only after collect/split lowering and in spill stores.
type Dest struct {
	Value  ValueID
	Offset uint8
}

// Instr is a single instruction. The representation is uniform across
// opcodes so that passes can traverse sources and destinations without
// dispatching on the tag; semantic differences live in exhaustive
// switches over Op.
type Instr struct {
	Op    Opcode
	Srcs  []Src
	Dests []Dest

	// Block is the owning block, or InvalidBlock once removed.
	Block BlockID

	// Branch targets. Target is used by OpBranch, Then/Else by
	// OpCondBranch.
	Target BlockID
	Then   BlockID
	Else   BlockID

	// TLSOffset is the byte offset for OpLoadTLS / OpStoreTLS.
	TLSOffset int32
}

// WriteMask returns the component mask written to dest d's value.
// A mov writes as many components as it reads; everything else writes
// the full width of the destination value starting at the offset.
func (in *Instr) WriteMask(f *Function, d int) uint16 {
	dest := in.Dests[d]
	n := f.Value(dest.Value).Comps
	if in.Op == OpMov && len(in.Srcs) == 1 {
		if l := in.Srcs[0].SwizzleLen; l != 0 {
			n = l
		} else {
			n = f.Value(in.Srcs[0].Value).Comps
		}
	}
	return fullMask(n) << dest.Offset
}

// WritesAllComps reports whether destination d covers every component
// of its value. Partial writes (offset movs from collect lowering, TLS
// stores) do not kill liveness.
func (in *Instr) WritesAllComps(f *Function, d int) bool {
	dest := in.Dests[d]
	return dest.Offset == 0 && in.WriteMask(f, d) == fullMask(f.Value(dest.Value).Comps)
}

func fullMask(comps uint8) uint16 {
	return uint16(1)<<comps - 1
}

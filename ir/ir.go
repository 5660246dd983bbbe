package ir

// Handle types for referencing IR objects. Handles are dense indices
// into the owning Function's arenas and are never reused.
type (
	ValueID uint32
	InstrID uint32
	BlockID uint32
)

// Invalid handle sentinels.
const (
	InvalidValue ValueID = ^ValueID(0)
	InvalidInstr InstrID = ^InstrID(0)
	InvalidBlock BlockID = ^BlockID(0)
)

// Value represents one SSA datum: the result of an instruction, or a
// literal constant provided by the front-end.
type Value struct {
	// BitSize is the width of one component: 1, 8, 16, 32, or 64.
	BitSize uint8

	// Comps is the component count: 1-4 for vectors, 16 for wide
	// operations.
	Comps uint8

	// Def is the producing instruction, or InvalidInstr for literal
	// constants.
	Def InstrID

	// Const holds the literal payload when Def == InvalidInstr.
	Const *Constant

	// NoSpill marks values that must not be chosen for spilling.
	// The spill rewriter sets it on its own temporaries so the next
	// allocation attempt cannot re-spill them.
	NoSpill bool
}

// IsConst reports whether the value is a literal constant.
func (v *Value) IsConst() bool { return v.Const != nil }

// Constant is the payload of a literal value. Bits holds the raw bit
// pattern; interpretation (signed, unsigned, float) is up to the
// consuming opcode.
type Constant struct {
	Bits uint64
}

// Block is an ordered sequence of instructions. The last instruction
// is the terminator: OpBranch, OpCondBranch, or OpReturn. A block with
// no terminator falls through to the next block by index.
type Block struct {
	Instrs []InstrID
}

// Function is the arena owning all values, instructions and blocks of
// one shader compile job. It is not safe for concurrent mutation; one
// shader = one job = one goroutine.
type Function struct {
	Name string

	values []Value
	instrs []Instr
	blocks []Block

	// uses[v] lists the instructions that reference value v as a
	// source. Maintained by every mutation entry point.
	uses [][]InstrID
}

// NewFunction creates an empty function arena.
func NewFunction(name string) *Function {
	return &Function{
		Name:   name,
		values: make([]Value, 0, 64),
		instrs: make([]Instr, 0, 64),
		blocks: make([]Block, 0, 8),
		uses:   make([][]InstrID, 0, 64),
	}
}

// NumValues returns the number of allocated values.
func (f *Function) NumValues() int { return len(f.values) }

// NumInstrs returns the number of allocated instructions, including
// removed ones (handles are never reused).
func (f *Function) NumInstrs() int { return len(f.instrs) }

// NumBlocks returns the number of blocks.
func (f *Function) NumBlocks() int { return len(f.blocks) }

// Entry returns the entry block. The front-end emits blocks in reverse
// post-order, so the entry is always block 0.
func (f *Function) Entry() BlockID { return 0 }

// Value returns the value record for the given handle.
func (f *Function) Value(v ValueID) *Value { return &f.values[v] }

// Instr returns the instruction record for the given handle.
func (f *Function) Instr(i InstrID) *Instr { return &f.instrs[i] }

// Block returns the block record for the given handle.
func (f *Function) Block(b BlockID) *Block { return &f.blocks[b] }

// NewValue allocates a fresh value with the given component width and
// count. The definition site is filled in when a defining instruction
// is appended.
func (f *Function) NewValue(bitSize, comps uint8) ValueID {
	id := ValueID(len(f.values))
	f.values = append(f.values, Value{
		BitSize: bitSize,
		Comps:   comps,
		Def:     InvalidInstr,
	})
	f.uses = append(f.uses, nil)
	return id
}

// NewConstant allocates a literal constant value. Literal values have
// no defining instruction; they behave like block parameters for
// dominance purposes (a constant dominates everything).
func (f *Function) NewConstant(bits uint64, bitSize, comps uint8) ValueID {
	id := f.NewValue(bitSize, comps)
	f.values[id].Const = &Constant{Bits: bits}
	return id
}

// AddBlock appends a new empty block and returns its handle.
func (f *Function) AddBlock() BlockID {
	id := BlockID(len(f.blocks))
	f.blocks = append(f.blocks, Block{})
	return id
}

// Uses returns the instructions using value v as a source. The
// returned slice is owned by the arena and must not be mutated.
func (f *Function) Uses(v ValueID) []InstrID { return f.uses[v] }

// Terminator returns the terminator instruction of block b, or
// InvalidInstr when the block falls through.
func (f *Function) Terminator(b BlockID) InstrID {
	blk := &f.blocks[b]
	if len(blk.Instrs) == 0 {
		return InvalidInstr
	}
	last := blk.Instrs[len(blk.Instrs)-1]
	if f.instrs[last].Op.IsTerminator() {
		return last
	}
	return InvalidInstr
}

// Successors returns the successor blocks of b in branch order.
// Fall-through blocks flow to the next block by index; the final block
// of a function must be terminated.
func (f *Function) Successors(b BlockID) []BlockID {
	t := f.Terminator(b)
	if t == InvalidInstr {
		if int(b)+1 < len(f.blocks) {
			return []BlockID{b + 1}
		}
		return nil
	}
	in := &f.instrs[t]
	switch in.Op {
	case OpBranch:
		return []BlockID{in.Target}
	case OpCondBranch:
		return []BlockID{in.Then, in.Else}
	default: // OpReturn
		return nil
	}
}

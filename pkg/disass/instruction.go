package disass

import (
	"fmt"
	"slices"
	"strings"
)

// InstructionSize is the fixed arm64 instruction width.
const InstructionSize = 4

// Kind is the closed set of instruction classes the analyzer understands.
type Kind uint8

const (
	KindOther      Kind = iota
	KindPageLoad        // adrp/adr: load a (page) address into a register
	KindAddSubImm       // add/sub rd, rn, #imm
	KindLoad            // ldr rt, [rn, #imm] and literal loads
	KindBranch          // b, bl, br, blr, ret and the authenticated forms
	KindCondBranch      // b.cond, cbz, cbnz, tbz, tbnz
)

func (k Kind) String() string {
	switch k {
	case KindPageLoad:
		return "page-load"
	case KindAddSubImm:
		return "add-sub-imm"
	case KindLoad:
		return "load"
	case KindBranch:
		return "branch"
	case KindCondBranch:
		return "cond-branch"
	default:
		return "other"
	}
}

type OperandClass uint8

const (
	OpNone OperandClass = iota
	OpReg
	OpImm
	OpMem
	OpLabel
)

// AddrMode is the addressing form of a memory operand.
type AddrMode uint8

const (
	ModeOffset AddrMode = iota
	ModePreIndex
	ModePostIndex
)

// Operand is a register, an immediate, a memory reference (base register plus
// offset) or a label (absolute address).
type Operand struct {
	Class OperandClass
	Reg   Register // register operand, or base register of a memory operand
	Imm   uint64   // immediate, label address or memory offset (two's complement)
	Mode  AddrMode
}

func RegOp(r Register) Operand    { return Operand{Class: OpReg, Reg: r} }
func ImmOp(v uint64) Operand      { return Operand{Class: OpImm, Imm: v} }
func LabelOp(addr uint64) Operand { return Operand{Class: OpLabel, Imm: addr} }
func MemOp(base Register, off int64) Operand {
	return Operand{Class: OpMem, Reg: base, Imm: uint64(off)}
}

// Offset returns the signed offset of a memory operand.
func (o Operand) Offset() int64 {
	return int64(o.Imm)
}

// Writeback reports whether the memory operand updates its base register.
func (o Operand) Writeback() bool {
	return o.Class == OpMem && (o.Mode == ModePreIndex || o.Mode == ModePostIndex)
}

func (o Operand) String() string {
	switch o.Class {
	case OpReg:
		return o.Reg.String()
	case OpImm:
		return fmt.Sprintf("#%#x", o.Imm)
	case OpLabel:
		return fmt.Sprintf("%#x", o.Imm)
	case OpMem:
		off := o.Offset()
		sign := ""
		if off < 0 {
			sign = "-"
			off = -off
		}
		switch {
		case o.Mode == ModePostIndex:
			return fmt.Sprintf("[%s], #%s%#x", o.Reg, sign, off)
		case o.Mode == ModePreIndex:
			return fmt.Sprintf("[%s, #%s%#x]!", o.Reg, sign, off)
		case off == 0:
			return fmt.Sprintf("[%s]", o.Reg)
		default:
			return fmt.Sprintf("[%s, #%s%#x]", o.Reg, sign, off)
		}
	}
	return ""
}

// Instruction is a decoded arm64 instruction. Values are never mutated after
// decoding.
type Instruction struct {
	Address  uint64
	Size     int
	Raw      uint32
	Mnemonic string
	Kind     Kind
	Operands []Operand
	// Dst holds the registers explicitly written by the instruction.
	Dst []Register
	// Link is set for calls (bl, blr and friends).
	Link bool
	// Text is the decoder's own rendering, when there is one.
	Text string
}

func (i Instruction) IsBranch() bool {
	return i.Kind == KindBranch || i.Kind == KindCondBranch
}

func (i Instruction) IsUnconditionalBranch() bool {
	return i.Kind == KindBranch
}

func (i Instruction) IsCall() bool {
	return i.Link
}

func (i Instruction) IsReturn() bool {
	return i.Kind == KindBranch && strings.HasPrefix(i.Mnemonic, "ret")
}

// Destination returns the immediate target of a branch.
func (i Instruction) Destination() (uint64, bool) {
	if !i.IsBranch() {
		return 0, false
	}
	for _, op := range i.Operands {
		if op.Class == OpLabel {
			return op.Imm, true
		}
	}
	return 0, false
}

// BranchRegister returns the target register of an indirect branch.
func (i Instruction) BranchRegister() (Register, bool) {
	if i.Kind != KindBranch || i.IsReturn() {
		return RegNone, false
	}
	if _, ok := i.Destination(); ok {
		return RegNone, false
	}
	for _, op := range i.Operands {
		if op.Class == OpReg {
			return op.Reg, true
		}
	}
	return RegNone, false
}

// Defines reports whether executing the instruction overwrites r.
func (i Instruction) Defines(r Register) bool {
	if !r.Valid() || r == XZR {
		return false
	}
	if i.Link && isCallerSaved(r) {
		return true
	}
	return slices.Contains(i.Dst, r)
}

// Target returns the register written by a page-load, add/sub or load.
func (i Instruction) Target() Register {
	if len(i.Operands) > 0 && i.Operands[0].Class == OpReg {
		return i.Operands[0].Reg
	}
	return RegNone
}

// Page returns the address materialized by a page-load.
func (i Instruction) Page() (uint64, bool) {
	if i.Kind != KindPageLoad || len(i.Operands) < 2 {
		return 0, false
	}
	return i.Operands[1].Imm, true
}

// AddSub returns the source register and signed delta of an add/sub-immediate.
func (i Instruction) AddSub() (Register, int64, bool) {
	if i.Kind != KindAddSubImm || len(i.Operands) < 3 {
		return RegNone, 0, false
	}
	delta := int64(i.Operands[2].Imm)
	if strings.HasPrefix(i.Mnemonic, "sub") {
		delta = -delta
	}
	return i.Operands[1].Reg, delta, true
}

// Memory returns the memory (or literal label) operand of a load.
func (i Instruction) Memory() (Operand, bool) {
	if i.Kind != KindLoad {
		return Operand{}, false
	}
	for _, op := range i.Operands {
		if op.Class == OpMem || op.Class == OpLabel {
			return op, true
		}
	}
	return Operand{}, false
}

func (i Instruction) String() string {
	if i.Text != "" {
		return i.Text
	}
	if len(i.Operands) == 0 {
		return i.Mnemonic
	}
	ops := make([]string, 0, len(i.Operands))
	for _, op := range i.Operands {
		ops = append(ops, op.String())
	}
	return i.Mnemonic + "\t" + strings.Join(ops, ", ")
}

func inst(addr uint64, mnemonic string, kind Kind, ops ...Operand) Instruction {
	return Instruction{
		Address:  addr,
		Size:     InstructionSize,
		Mnemonic: mnemonic,
		Kind:     kind,
		Operands: ops,
	}
}

// PageLoad builds `adrp rd, page`.
func PageLoad(addr uint64, rd Register, page uint64) Instruction {
	i := inst(addr, "adrp", KindPageLoad, RegOp(rd), LabelOp(page))
	i.Dst = []Register{rd}
	return i
}

// AddressLoad builds `adr rd, target`.
func AddressLoad(addr uint64, rd Register, target uint64) Instruction {
	i := inst(addr, "adr", KindPageLoad, RegOp(rd), LabelOp(target))
	i.Dst = []Register{rd}
	return i
}

// AddImm builds `add rd, rn, #imm`.
func AddImm(addr uint64, rd, rn Register, imm uint64) Instruction {
	i := inst(addr, "add", KindAddSubImm, RegOp(rd), RegOp(rn), ImmOp(imm))
	i.Dst = []Register{rd}
	return i
}

// SubImm builds `sub rd, rn, #imm`.
func SubImm(addr uint64, rd, rn Register, imm uint64) Instruction {
	i := inst(addr, "sub", KindAddSubImm, RegOp(rd), RegOp(rn), ImmOp(imm))
	i.Dst = []Register{rd}
	return i
}

// LoadImm builds `ldr rt, [base, #off]`.
func LoadImm(addr uint64, rt, base Register, off int64) Instruction {
	i := inst(addr, "ldr", KindLoad, RegOp(rt), MemOp(base, off))
	i.Dst = []Register{rt}
	return i
}

// LoadLiteral builds `ldr rt, label`.
func LoadLiteral(addr uint64, rt Register, target uint64) Instruction {
	i := inst(addr, "ldr", KindLoad, RegOp(rt), LabelOp(target))
	i.Dst = []Register{rt}
	return i
}

// Branch builds `b target`.
func Branch(addr, target uint64) Instruction {
	return inst(addr, "b", KindBranch, LabelOp(target))
}

// Call builds `bl target`.
func Call(addr, target uint64) Instruction {
	i := inst(addr, "bl", KindBranch, LabelOp(target))
	i.Link = true
	return i
}

// BranchReg builds `br rn`.
func BranchReg(addr uint64, rn Register) Instruction {
	return inst(addr, "br", KindBranch, RegOp(rn))
}

// CallReg builds `blr rn`.
func CallReg(addr uint64, rn Register) Instruction {
	i := inst(addr, "blr", KindBranch, RegOp(rn))
	i.Link = true
	return i
}

// Return builds `ret`.
func Return(addr uint64) Instruction {
	return inst(addr, "ret", KindBranch, RegOp(LR))
}

// CondBranch builds `b.<cond> target`.
func CondBranch(addr uint64, cond string, target uint64) Instruction {
	return inst(addr, "b."+cond, KindCondBranch, LabelOp(target))
}

// CompareBranch builds `cbz/cbnz rt, target`.
func CompareBranch(addr uint64, mnemonic string, rt Register, target uint64) Instruction {
	return inst(addr, mnemonic, KindCondBranch, RegOp(rt), LabelOp(target))
}

// Other builds an instruction the analyzer does not model beyond the
// registers it writes.
func Other(addr uint64, mnemonic string, dst ...Register) Instruction {
	i := inst(addr, mnemonic, KindOther)
	for _, r := range dst {
		i.Operands = append(i.Operands, RegOp(r))
	}
	i.Dst = dst
	return i
}

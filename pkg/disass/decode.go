package disass

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/blacktop/arm64-cgo/disassemble"
)

// UndefinedMnemonic marks words the decoder could not make sense of.
const UndefinedMnemonic = ".long"

// Decode lifts one arm64 instruction word at addr into the analyzer's model.
func Decode(addr uint64, raw uint32) (Instruction, error) {
	var results [1024]byte
	instr, err := disassemble.Decompose(addr, raw, &results)
	if err != nil {
		return Instruction{}, fmt.Errorf("failed to decompose instruction %#08x @ %#x: %v", raw, addr, err)
	}
	return lift(instr, raw), nil
}

// DecodeAll decodes data as a contiguous run of instructions starting at
// start. Undecodable words become KindOther `.long` placeholders so addresses
// keep lining up with the underlying bytes.
func DecodeAll(data []byte, start uint64) ([]Instruction, error) {
	var raw uint32

	insts := make([]Instruction, 0, len(data)/InstructionSize)
	r := bytes.NewReader(data)
	addr := start

	for {
		err := binary.Read(r, binary.LittleEndian, &raw)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("failed to read instruction @ %#x: %v", addr, err)
		}
		inst, err := Decode(addr, raw)
		if err != nil {
			inst = Instruction{
				Address:  addr,
				Size:     InstructionSize,
				Raw:      raw,
				Mnemonic: UndefinedMnemonic,
				Kind:     KindOther,
				Text:     fmt.Sprintf("%s\t%#x", UndefinedMnemonic, raw),
			}
		}
		insts = append(insts, inst)
		addr += InstructionSize
	}

	return insts, nil
}

func liftRegister(r disassemble.Register) Register {
	switch {
	case r >= disassemble.REG_X0 && r <= disassemble.REG_X30:
		return XReg(int(r - disassemble.REG_X0))
	case r >= disassemble.REG_W0 && r <= disassemble.REG_W30:
		return XReg(int(r - disassemble.REG_W0))
	case r == disassemble.REG_NONE:
		return RegNone
	}
	if reg, err := ParseRegister(r.String()); err == nil {
		return reg
	}
	return RegNone
}

func firstRegister(op disassemble.Operand) Register {
	if len(op.Registers) == 0 {
		return RegNone
	}
	return liftRegister(op.Registers[0])
}

// instructions that read, but never write, their first register operand
var noDefs = map[string]bool{
	"cmp": true, "cmn": true, "tst": true, "ccmp": true, "ccmn": true,
	"fcmp": true, "fcmpe": true, "fccmp": true, "fccmpe": true,
	"msr": true, "prfm": true, "prfum": true, "sys": true,
	"dc": true, "ic": true, "tlbi": true, "at": true,
}

func lift(instr *disassemble.Instruction, raw uint32) Instruction {
	mnemonic := strings.ToLower(instr.Operation.String())

	out := Instruction{
		Address:  instr.Address,
		Size:     InstructionSize,
		Raw:      raw,
		Mnemonic: mnemonic,
		Kind:     KindOther,
		Text:     instr.String(),
	}

	var regs []Register
	var labels []uint64
	for _, op := range instr.Operands {
		switch op.Class {
		case disassemble.REG:
			if r := firstRegister(op); r != RegNone {
				regs = append(regs, r)
			}
		case disassemble.LABEL:
			labels = append(labels, uint64(op.Immediate))
		}
	}

	switch {
	case mnemonic == "adrp" || mnemonic == "adr":
		if len(instr.Operands) > 1 {
			rd := firstRegister(instr.Operands[0])
			out.Kind = KindPageLoad
			out.Operands = []Operand{RegOp(rd), LabelOp(uint64(instr.Operands[1].Immediate))}
			out.Dst = []Register{rd}
			return out
		}

	case mnemonic == "add" || mnemonic == "sub" || mnemonic == "adds" || mnemonic == "subs":
		if len(instr.Operands) > 2 && instr.Operands[2].Class != disassemble.REG {
			rd := firstRegister(instr.Operands[0])
			rn := firstRegister(instr.Operands[1])
			out.Kind = KindAddSubImm
			out.Operands = []Operand{RegOp(rd), RegOp(rn), ImmOp(uint64(instr.Operands[2].GetImmediate()))}
			out.Dst = []Register{rd}
			return out
		}

	case isBranchMnemonic(mnemonic):
		out.Kind = KindBranch
		out.Link = strings.HasPrefix(mnemonic, "bl")
		for _, l := range labels {
			out.Operands = append(out.Operands, LabelOp(l))
		}
		if len(labels) == 0 {
			for _, r := range regs {
				out.Operands = append(out.Operands, RegOp(r))
			}
		}
		return out

	case strings.HasPrefix(mnemonic, "b.") || mnemonic == "cbz" || mnemonic == "cbnz" || mnemonic == "tbz" || mnemonic == "tbnz":
		out.Kind = KindCondBranch
		for _, r := range regs {
			out.Operands = append(out.Operands, RegOp(r))
		}
		for _, l := range labels {
			out.Operands = append(out.Operands, LabelOp(l))
		}
		return out

	case strings.HasPrefix(mnemonic, "ld"):
		liftLoad(&out, instr)
		return out

	case strings.HasPrefix(mnemonic, "st"):
		liftStore(&out, instr, mnemonic)
		return out
	}

	if !noDefs[mnemonic] && len(instr.Operands) > 0 && instr.Operands[0].Class == disassemble.REG {
		if rd := firstRegister(instr.Operands[0]); rd != RegNone {
			out.Dst = []Register{rd}
		}
	}
	for _, r := range regs {
		out.Operands = append(out.Operands, RegOp(r))
	}
	return out
}

func isBranchMnemonic(m string) bool {
	switch m {
	case "b", "bl", "br", "blr",
		"braa", "braaz", "brab", "brabz",
		"blraa", "blraaz", "blrab", "blrabz",
		"ret", "retaa", "retab":
		return true
	}
	return false
}

func isMemory(op disassemble.Operand) bool {
	switch op.Class {
	case disassemble.MEM_REG, disassemble.MEM_OFFSET, disassemble.MEM_PRE_IDX,
		disassemble.MEM_POST_IDX, disassemble.MEM_EXTENDED:
		return true
	}
	return false
}

// addrMode maps the decoder's memory operand class onto the writeback form.
func addrMode(op disassemble.Operand) AddrMode {
	switch op.Class {
	case disassemble.MEM_PRE_IDX:
		return ModePreIndex
	case disassemble.MEM_POST_IDX:
		return ModePostIndex
	}
	return ModeOffset
}

func liftLoad(out *Instruction, instr *disassemble.Instruction) {
	var dst []Register
	var mem *disassemble.Operand
	for idx := range instr.Operands {
		op := instr.Operands[idx]
		if op.Class == disassemble.REG {
			if r := firstRegister(op); r != RegNone {
				dst = append(dst, r)
			}
			continue
		}
		if op.Class == disassemble.LABEL || isMemory(op) {
			mem = &instr.Operands[idx]
			break
		}
	}
	out.Dst = dst
	for _, r := range dst {
		out.Operands = append(out.Operands, RegOp(r))
	}
	if mem == nil {
		return
	}

	if mem.Class == disassemble.LABEL {
		out.Operands = append(out.Operands, LabelOp(uint64(mem.Immediate)))
		if len(dst) == 1 {
			out.Kind = KindLoad
		}
		return
	}

	base := firstRegister(*mem)
	m := MemOp(base, int64(mem.Immediate))
	m.Mode = addrMode(*mem)
	out.Operands = append(out.Operands, m)
	if m.Writeback() && base != RegNone {
		out.Dst = append(out.Dst, base)
	}
	// register offset forms ([xN, xM, lsl #3]) and pairs are not modelled
	indexed := mem.Class == disassemble.MEM_EXTENDED ||
		len(mem.Registers) > 1 && mem.Registers[1] != disassemble.REG_NONE
	if len(dst) == 1 && !indexed {
		out.Kind = KindLoad
	}
}

func liftStore(out *Instruction, instr *disassemble.Instruction, mnemonic string) {
	// exclusive stores write a status register
	if strings.HasPrefix(mnemonic, "stx") || strings.HasPrefix(mnemonic, "stlx") {
		if len(instr.Operands) > 0 && instr.Operands[0].Class == disassemble.REG {
			if r := firstRegister(instr.Operands[0]); r != RegNone {
				out.Dst = append(out.Dst, r)
			}
		}
	}
	for _, op := range instr.Operands {
		if !isMemory(op) {
			continue
		}
		if addrMode(op) != ModeOffset {
			if base := firstRegister(op); base != RegNone {
				out.Dst = append(out.Dst, base)
			}
		}
		break
	}
	for _, op := range instr.Operands {
		if op.Class == disassemble.REG {
			if r := firstRegister(op); r != RegNone {
				out.Operands = append(out.Operands, RegOp(r))
			}
		}
	}
}

package disass

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/blacktop/arm64-cgo/disassemble"
)

// Symbolicator supplies the names and annotations printed alongside a
// listing.
type Symbolicator interface {
	FindSymbol(addr uint64) (string, bool)
	IsBranchLocation(addr uint64) bool
	Comment(addr uint64) (string, bool)
}

type Config struct {
	Name   string
	Color  bool
	AsJSON bool
	// Middle highlights the instruction at this address.
	Middle uint64
}

type jsonInstruction struct {
	Address  uint64   `json:"address"`
	Opcode   string   `json:"opcode"`
	Mnemonic string   `json:"mnemonic"`
	Kind     string   `json:"kind"`
	Operands []string `json:"operands,omitempty"`
	Comment  string   `json:"comment,omitempty"`
}

// Disassemble prints a listing of insts to w.
func Disassemble(w io.Writer, insts []Instruction, sym Symbolicator, conf *Config) error {
	if conf == nil {
		conf = &Config{}
	}
	if conf.AsJSON {
		return disassembleJSON(w, insts, sym)
	}
	if len(insts) == 0 {
		return nil
	}

	name := conf.Name
	if name == "" {
		if s, ok := sym.FindSymbol(insts[0].Address); ok {
			name = s
		} else {
			name = fmt.Sprintf("sub_%x", insts[0].Address)
		}
	}
	fmt.Fprintf(w, "%s:\n", name)

	var prev *Instruction
	for idx := range insts {
		in := insts[idx]
		if idx > 0 && sym.IsBranchLocation(in.Address) {
			fmt.Fprintf(w, "%#08x:  ; loc_%x\n", in.Address, in.Address)
		}

		mnemonic, operands := in.Mnemonic, operandText(in)
		comment := annotate(in, prev, sym)

		if conf.Color {
			mnemonic = colorOp("%-7s", mnemonic)
			operands = ColorOperands(" " + operands)
			if comment != "" {
				comment = colorComment(comment)
			}
		} else {
			mnemonic = fmt.Sprintf("%-7s", mnemonic)
			operands = " " + operands
		}

		addr := fmt.Sprintf("%#08x", in.Address)
		if conf.Middle != 0 && conf.Middle == in.Address {
			addr = fmt.Sprintf("👉%08x", in.Address)
		} else if conf.Color {
			addr = colorAddr("%#08x", in.Address)
		}
		line := fmt.Sprintf("%s:  %s\t%s%s", addr, disassemble.GetOpCodeByteString(in.Raw), mnemonic, operands)
		if comment != "" {
			line += " ; " + comment
		}
		fmt.Fprintln(w, line)

		prev = &insts[idx]
	}

	return nil
}

func operandText(in Instruction) string {
	if in.Text != "" {
		return strings.TrimSpace(strings.TrimPrefix(in.Text, in.Mnemonic))
	}
	ops := make([]string, 0, len(in.Operands))
	for _, op := range in.Operands {
		ops = append(ops, op.String())
	}
	return strings.Join(ops, ", ")
}

// annotate returns the symbol, selector or pair-resolved name for in.
func annotate(in Instruction, prev *Instruction, sym Symbolicator) string {
	if c, ok := sym.Comment(in.Address); ok {
		return c
	}
	switch in.Kind {
	case KindBranch, KindCondBranch:
		if dest, ok := in.Destination(); ok {
			if name, ok := sym.FindSymbol(dest); ok {
				return name
			}
		}
	case KindPageLoad:
		if in.Mnemonic == "adr" {
			if addr, ok := in.Page(); ok {
				if name, ok := sym.FindSymbol(addr); ok {
					return name
				}
			}
		}
	case KindAddSubImm, KindLoad:
		if prev == nil || prev.Kind != KindPageLoad {
			return ""
		}
		page, _ := prev.Page()
		var addr uint64
		if src, delta, ok := in.AddSub(); ok && src == prev.Target() {
			addr = page + uint64(delta)
		} else if mem, ok := in.Memory(); ok && mem.Class == OpMem && mem.Reg == prev.Target() {
			addr = page + uint64(mem.Offset())
		} else {
			return ""
		}
		if name, ok := sym.FindSymbol(addr); ok {
			return name
		}
	}
	return ""
}

func disassembleJSON(w io.Writer, insts []Instruction, sym Symbolicator) error {
	out := make([]jsonInstruction, 0, len(insts))
	var prev *Instruction
	for idx := range insts {
		in := insts[idx]
		ji := jsonInstruction{
			Address:  in.Address,
			Opcode:   disassemble.GetOpCodeByteString(in.Raw),
			Mnemonic: in.Mnemonic,
			Kind:     in.Kind.String(),
			Comment:  annotate(in, prev, sym),
		}
		for _, op := range in.Operands {
			ji.Operands = append(ji.Operands, op.String())
		}
		out = append(out, ji)
		prev = &insts[idx]
	}
	dat, err := json.MarshalIndent(out, "", "   ")
	if err != nil {
		return fmt.Errorf("failed to marshal instructions: %v", err)
	}
	_, err = fmt.Fprintln(w, string(dat))
	return err
}

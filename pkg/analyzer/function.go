package analyzer

import (
	"fmt"
	"io"

	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/objcflow/objcflow/pkg/symbols"
	"github.com/pkg/errors"
)

// FunctionAnalyzer answers dataflow and call-target questions about one
// function. It memoizes its answers and is not safe for concurrent use.
type FunctionAnalyzer struct {
	ba     *BinaryAnalyzer
	start  uint64
	end    uint64
	insts  []disass.Instruction
	method *MethodInfo

	res     *resolver
	targets []*CallTarget
	scanned bool
}

// NewFunctionAnalyzer decodes the function starting at start, sweeping up to
// the next known function start.
func NewFunctionAnalyzer(ba *BinaryAnalyzer, start uint64) (*FunctionAnalyzer, error) {
	insts, err := ba.FunctionInstructions(start)
	if err != nil {
		return nil, err
	}
	if len(insts) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "no instructions at %#x", start)
	}
	first := insts[0].Address
	last := insts[len(insts)-1]
	fa := &FunctionAnalyzer{
		ba:    ba,
		start: first,
		end:   last.Address + uint64(last.Size),
		insts: insts,
		res:   newResolver(insts, ba.conf.MaxLookback),
	}
	if mi, ok := ba.MethodForImp(first); ok {
		fa.method = mi
	}
	return fa, nil
}

func (f *FunctionAnalyzer) Start() uint64 { return f.start }

// End is the address just past the last instruction.
func (f *FunctionAnalyzer) End() uint64 { return f.end }

// Method returns the Objective-C method implemented by the function, if any.
func (f *FunctionAnalyzer) Method() *MethodInfo { return f.method }

func (f *FunctionAnalyzer) Binary() *BinaryAnalyzer { return f.ba }

func (f *FunctionAnalyzer) Instructions() []disass.Instruction { return f.insts }

func (f *FunctionAnalyzer) Instruction(idx int) (disass.Instruction, error) {
	if idx < 0 || idx >= len(f.insts) {
		return disass.Instruction{}, errors.Wrapf(ErrInvalidOperand, "instruction index %d outside function of %d instructions", idx, len(f.insts))
	}
	return f.insts[idx], nil
}

func (f *FunctionAnalyzer) InstructionAt(addr uint64) (disass.Instruction, error) {
	idx, ok := f.indexOfAddr(addr)
	if !ok {
		return disass.Instruction{}, errors.Wrapf(ErrNotFound, "%#x is outside [%#x, %#x)", addr, f.start, f.end)
	}
	return f.insts[idx], nil
}

func (f *FunctionAnalyzer) indexOfAddr(addr uint64) (int, bool) {
	if addr < f.start || addr >= f.end || (addr-f.start)%disass.InstructionSize != 0 {
		return 0, false
	}
	idx := int((addr - f.start) / disass.InstructionSize)
	if idx >= len(f.insts) || f.insts[idx].Address != addr {
		return 0, false
	}
	return idx, true
}

// indexOf locates inst, which must be one of this function's instructions.
func (f *FunctionAnalyzer) indexOf(inst disass.Instruction) (int, error) {
	idx, ok := f.indexOfAddr(inst.Address)
	if !ok || f.insts[idx].Mnemonic != inst.Mnemonic {
		return 0, errors.Wrapf(ErrInvalidOperand, "instruction at %#x is not part of function %#x", inst.Address, f.start)
	}
	return idx, nil
}

func (f *FunctionAnalyzer) resolve(reg disass.Register, idx int) (RegisterContents, error) {
	return f.res.query(reg, idx)
}

// RegisterContentsAt returns what is known about reg immediately before inst
// executes.
func (f *FunctionAnalyzer) RegisterContentsAt(reg string, inst disass.Instruction) (RegisterContents, error) {
	r, err := disass.ParseRegister(reg)
	if err != nil {
		return Unknown(), errors.Wrap(ErrInvalidOperand, err.Error())
	}
	idx, err := f.indexOf(inst)
	if err != nil {
		return Unknown(), err
	}
	return f.resolve(r, idx)
}

// ObjcSelref returns the selector reference cell passed in x1 to the branch
// inst.
func (f *FunctionAnalyzer) ObjcSelref(inst disass.Instruction) (uint64, error) {
	if !inst.IsUnconditionalBranch() || inst.IsReturn() {
		return 0, errors.Wrapf(ErrInvalidArgument, "%s at %#x is not an unconditional branch", inst.Mnemonic, inst.Address)
	}
	idx, err := f.indexOf(inst)
	if err != nil {
		return 0, err
	}
	c, err := f.resolve(disass.X1, idx)
	if err != nil {
		return 0, err
	}
	if !c.IsKnown() {
		return 0, errors.Wrapf(ErrNotFound, "x1 is unknown at %#x", inst.Address)
	}
	if _, ok := f.ba.SelectorForSelref(c.Value); !ok {
		return 0, errors.Wrapf(ErrNotFound, "%#x is not a selector reference", c.Value)
	}
	return c.Value, nil
}

// CallTargets returns the resolved target of every branch in the function, in
// instruction order. Returns are skipped.
func (f *FunctionAnalyzer) CallTargets() []*CallTarget {
	if f.scanned {
		return f.targets
	}
	for idx, in := range f.insts {
		if !in.IsBranch() || in.IsReturn() {
			continue
		}
		f.targets = append(f.targets, f.callTargetAt(idx))
	}
	f.scanned = true
	return f.targets
}

// SymbolName names the function: the method signature when bound to a
// method, otherwise the exported, local or imported symbol at the entry
// address, demangled when it is a mangled C++ name or a block invocation.
func (f *FunctionAnalyzer) SymbolName() string {
	if f.method != nil {
		return f.method.Name()
	}
	name, ok := f.ba.rawSymbolAt(f.start)
	if !ok {
		return UnsymbolicatedFunction
	}
	return symbols.DemangleCPPSymbol(name)
}

type listingSymbols struct {
	f        *FunctionAnalyzer
	comments map[uint64]string
	locs     map[uint64]bool
}

func (l listingSymbols) FindSymbol(addr uint64) (string, bool) {
	return l.f.ba.SymbolAt(addr)
}

func (l listingSymbols) IsBranchLocation(addr uint64) bool {
	return l.locs[addr]
}

func (l listingSymbols) Comment(addr uint64) (string, bool) {
	c, ok := l.comments[addr]
	return c, ok
}

func (f *FunctionAnalyzer) listingSymbols() listingSymbols {
	sym := listingSymbols{
		f:        f,
		comments: make(map[uint64]string),
		locs:     make(map[uint64]bool),
	}
	for _, ct := range f.CallTargets() {
		addr := ct.Instruction.Address
		dest, hasDest := ct.Destination()
		switch {
		case ct.IsMsgSendCall && ct.Selref != nil:
			sym.comments[addr] = fmt.Sprintf("%s(x0, \"%s\")", msgSendName(ct), ct.Selref.Name)
		case ct.IsExternalObjcCall && !hasDest:
			sym.comments[addr] = "objc dispatch (unresolved)"
		case ct.Symbol != "":
			sym.comments[addr] = ct.Symbol
		}
		if hasDest && dest >= f.start && dest < f.end && !ct.IsExternalCCall && !ct.IsExternalObjcCall {
			sym.locs[dest] = true
		}
	}
	return sym
}

func msgSendName(ct *CallTarget) string {
	if ct.Symbol == "" {
		return "_objc_msgSend"
	}
	if _, ok := symbols.ObjcStubSelector(ct.Symbol); ok {
		return "_objc_msgSend"
	}
	return ct.Symbol
}

// Disassemble writes an annotated listing of the function to w.
func (f *FunctionAnalyzer) Disassemble(w io.Writer, colored bool) error {
	return disass.Disassemble(w, f.insts, f.listingSymbols(), &disass.Config{
		Name:  f.SymbolName(),
		Color: colored,
	})
}

package analyzer

import (
	"fmt"

	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/objcflow/objcflow/pkg/loader"
	"github.com/objcflow/objcflow/pkg/symbols"
	"github.com/pkg/errors"
)

// CallTarget classifies a branch. A target without a destination is always
// an external Objective-C dispatch.
type CallTarget struct {
	Instruction disass.Instruction

	IsMsgSendCall      bool
	IsExternalObjcCall bool
	IsExternalCCall    bool

	// Selref is the selector passed to a msgSend call, when known.
	Selref *Selref
	// Symbol names the import or local function the branch reaches.
	Symbol string

	destination    uint64
	hasDestination bool
}

// Destination returns the address the branch reaches, when it is fixed.
func (c *CallTarget) Destination() (uint64, bool) {
	return c.destination, c.hasDestination
}

// IsLocal reports a branch that stays inside the binary.
func (c *CallTarget) IsLocal() bool {
	return c.hasDestination && !c.IsExternalCCall && !c.IsExternalObjcCall
}

func (c *CallTarget) String() string {
	var dest string
	if c.hasDestination {
		dest = fmt.Sprintf("%#x", c.destination)
	} else {
		dest = "?"
	}
	switch {
	case c.IsMsgSendCall && c.Selref != nil:
		return fmt.Sprintf("%#x: %s -> %s [%s]", c.Instruction.Address, c.Instruction.Mnemonic, dest, c.Selref.Name)
	case c.Symbol != "":
		return fmt.Sprintf("%#x: %s -> %s (%s)", c.Instruction.Address, c.Instruction.Mnemonic, dest, c.Symbol)
	}
	return fmt.Sprintf("%#x: %s -> %s", c.Instruction.Address, c.Instruction.Mnemonic, dest)
}

// CallTargetFor classifies the branch inst.
func (f *FunctionAnalyzer) CallTargetFor(inst disass.Instruction) (*CallTarget, error) {
	if !inst.IsBranch() || inst.IsReturn() {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s at %#x is not a branch", inst.Mnemonic, inst.Address)
	}
	idx, err := f.indexOf(inst)
	if err != nil {
		return nil, err
	}
	if f.scanned {
		for _, ct := range f.targets {
			if ct.Instruction.Address == inst.Address {
				return ct, nil
			}
		}
	}
	return f.callTargetAt(idx), nil
}

func (f *FunctionAnalyzer) selrefAt(idx int) *Selref {
	c, err := f.resolve(disass.X1, idx)
	if err != nil || !c.IsKnown() {
		return nil
	}
	s, _ := f.ba.SelectorForSelref(c.Value)
	return s
}

func (f *FunctionAnalyzer) callTargetAt(idx int) *CallTarget {
	in := f.insts[idx]
	ct := &CallTarget{Instruction: in}

	dest, known := in.Destination()
	if !known {
		if br, ok := in.BranchRegister(); ok {
			if c, err := f.resolve(br, idx); err == nil && c.IsKnown() {
				dest, known = c.Value, true
			}
		}
	}
	if !known {
		ct.IsExternalObjcCall = true
		return ct
	}

	if imp, ok := f.ba.ImportAt(dest); ok {
		if IsMsgSendSymbol(imp.Name) {
			ct.IsMsgSendCall = true
			ct.IsExternalObjcCall = true
			ct.Symbol = imp.Name
			ct.Selref = f.selrefAt(idx)
			if imp.Kind == loader.ImportStub {
				ct.destination, ct.hasDestination = dest, true
			}
			return ct
		}
		ct.IsExternalCCall = true
		ct.Symbol = imp.Name
		ct.destination, ct.hasDestination = dest, true
		return ct
	}

	if stub, ok := f.ba.ObjcStubAt(dest); ok {
		ct.IsMsgSendCall = true
		ct.IsExternalObjcCall = true
		ct.Symbol = stub.Name
		ct.destination, ct.hasDestination = dest, true
		if s, ok := f.ba.SelectorForSelref(stub.Selref); ok {
			ct.Selref = s
		} else if sel, ok := symbols.ObjcStubSelector(stub.Name); ok {
			ct.Selref = &Selref{Address: stub.Selref, Name: sel}
		}
		return ct
	}

	ct.destination, ct.hasDestination = dest, true
	if f.ba.isFunc[dest] {
		if name, ok := f.ba.SymbolAt(dest); ok {
			ct.Symbol = name
		}
	}
	return ct
}

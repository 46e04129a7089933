package analyzer

import (
	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/pkg/errors"
)

type memoKey struct {
	reg disass.Register
	idx int
}

// resolver walks a single function backwards. Memoized results survive
// between queries; results cut short by the step budget are never memoized.
type resolver struct {
	insts []disass.Instruction
	max   int
	steps int
	memo  map[memoKey]RegisterContents
}

func newResolver(insts []disass.Instruction, maxSteps int) *resolver {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxLookback
	}
	return &resolver{
		insts: insts,
		max:   maxSteps,
		memo:  make(map[memoKey]RegisterContents),
	}
}

func (r *resolver) query(reg disass.Register, idx int) (RegisterContents, error) {
	if idx < 0 || idx >= len(r.insts) {
		return Unknown(), errors.Wrapf(ErrInvalidOperand, "instruction index %d outside function of %d instructions", idx, len(r.insts))
	}
	if !reg.Valid() {
		return Unknown(), errors.Wrapf(ErrInvalidOperand, "register %s", reg)
	}
	r.steps = 0
	c, _ := r.resolve(reg, idx)
	return c, nil
}

// resolve returns the contents of reg just before insts[idx] executes. The
// boolean reports that the step budget ran out.
func (r *resolver) resolve(reg disass.Register, idx int) (RegisterContents, bool) {
	if reg == disass.XZR {
		return Immediate(0), false
	}
	key := memoKey{reg: reg, idx: idx}
	if c, ok := r.memo[key]; ok {
		return c, false
	}

	for i := idx - 1; i >= 0; i-- {
		if r.steps >= r.max {
			return Unknown(), true
		}
		r.steps++

		in := r.insts[i]
		if !in.Defines(reg) {
			continue
		}
		c, exhausted := r.definition(in, reg, i)
		if !exhausted {
			r.memo[key] = c
		}
		return c, exhausted
	}

	r.memo[key] = Unknown()
	return Unknown(), false
}

// definition evaluates the instruction at idx, known to write reg.
func (r *resolver) definition(in disass.Instruction, reg disass.Register, idx int) (RegisterContents, bool) {
	if in.IsCall() || in.Target() != reg {
		return Unknown(), false
	}

	switch in.Kind {
	case disass.KindPageLoad:
		if page, ok := in.Page(); ok {
			return Immediate(page), false
		}

	case disass.KindAddSubImm:
		src, delta, ok := in.AddSub()
		if !ok {
			break
		}
		base, exhausted := r.resolve(src, idx)
		if exhausted || !base.IsKnown() {
			return Unknown(), exhausted
		}
		return Immediate(base.Value + uint64(delta)), false

	case disass.KindLoad:
		mem, ok := in.Memory()
		if !ok {
			break
		}
		if mem.Class == disass.OpLabel {
			return Immediate(mem.Imm), false
		}
		// the effective address, not the value stored there
		off := mem.Offset()
		if mem.Mode == disass.ModePostIndex {
			off = 0
		}
		base, exhausted := r.resolve(mem.Reg, idx)
		if exhausted || !base.IsKnown() {
			return Unknown(), exhausted
		}
		return Immediate(base.Value + uint64(off)), false
	}

	return Unknown(), false
}

// Resolve answers a single register query over insts without memoization
// across calls. maxSteps <= 0 selects DefaultMaxLookback.
func Resolve(insts []disass.Instruction, reg disass.Register, idx int, maxSteps int) (RegisterContents, error) {
	return newResolver(insts, maxSteps).query(reg, idx)
}

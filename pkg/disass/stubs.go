package disass

// ParseStubsASM walks a run of stub trampolines (adrp/add|ldr/br) and returns
// a map of stub address to branch target. Loads through a pointer slot are
// resolved with readPtr.
func ParseStubsASM(data []byte, begin uint64, readPtr func(uint64) (uint64, error)) (map[uint64]uint64, error) {
	insts, err := DecodeAll(data, begin)
	if err != nil {
		return nil, err
	}
	return walkStubs(insts, readPtr, func(start uint64, regs map[Register]uint64, br Register) (uint64, bool) {
		target, ok := regs[br]
		return target, ok
	}), nil
}

// ParseObjcStubsASM walks __objc_stubs selector trampolines and returns a map
// of stub address to the selector reference loaded into x1.
func ParseObjcStubsASM(data []byte, begin uint64) (map[uint64]uint64, error) {
	insts, err := DecodeAll(data, begin)
	if err != nil {
		return nil, err
	}
	return walkStubs(insts, nil, func(start uint64, regs map[Register]uint64, _ Register) (uint64, bool) {
		selref, ok := regs[X1]
		return selref, ok
	}), nil
}

// walkStubs tracks page-relative address materialization across a stub body.
// With a nil readPtr loads yield the address of the slot instead of its
// contents.
func walkStubs(insts []Instruction, readPtr func(uint64) (uint64, error), emit func(uint64, map[Register]uint64, Register) (uint64, bool)) map[uint64]uint64 {
	stubs := make(map[uint64]uint64)

	var start uint64
	regs := make(map[Register]uint64)
	reset := func() {
		clear(regs)
	}

	for _, in := range insts {
		switch in.Kind {
		case KindPageLoad:
			if len(regs) == 0 {
				start = in.Address
			}
			page, _ := in.Page()
			regs[in.Target()] = page
		case KindAddSubImm:
			src, delta, _ := in.AddSub()
			base, ok := regs[src]
			if !ok {
				reset()
				continue
			}
			regs[in.Target()] = base + uint64(delta)
		case KindLoad:
			mem, _ := in.Memory()
			var slot uint64
			if mem.Class == OpLabel {
				if len(regs) == 0 {
					start = in.Address
				}
				slot = mem.Imm
			} else {
				base, ok := regs[mem.Reg]
				if !ok {
					reset()
					continue
				}
				slot = base + uint64(mem.Offset())
			}
			if readPtr == nil {
				regs[in.Target()] = slot
				continue
			}
			ptr, err := readPtr(slot)
			if err != nil {
				reset()
				continue
			}
			regs[in.Target()] = ptr
		case KindBranch:
			if br, ok := in.BranchRegister(); ok && len(regs) > 0 {
				if target, ok := emit(start, regs, br); ok {
					stubs[start] = target
				}
			}
			reset()
		default:
			reset()
		}
	}

	return stubs
}

package loader

import (
	"fmt"
	"slices"

	"github.com/objcflow/objcflow/pkg/disass"
)

// Memory is a Binary assembled from already decoded instructions and
// hand-written tables. It backs the analyzer tests and tools that feed the
// engine from something other than a Mach-O on disk.
type Memory struct {
	Name  string
	Code  []disass.Instruction
	Extra []Section // non-code sections; the code section is derived from Code

	Syms       []Symbol
	Exported   []Symbol
	Imported   []Import
	Starts     []uint64
	Entry      uint64
	Classes    []ObjcClass
	Categories []ObjcCategory
	Protocols  []ObjcProtocol
	SelRefs    []Selref
	SelStubs   []ObjcStub
	Libraries  []string
	HeaderInfo Header
}

func (m *Memory) codeSection() (Section, bool) {
	if len(m.Code) == 0 {
		return Section{}, false
	}
	first, last := m.Code[0], m.Code[len(m.Code)-1]
	return Section{
		Segment:    "__TEXT",
		Name:       "__text",
		Addr:       first.Address,
		Size:       last.Address + uint64(last.Size) - first.Address,
		Executable: true,
	}, true
}

func (m *Memory) Path() string                   { return m.Name }
func (m *Memory) Header() Header                 { return m.HeaderInfo }
func (m *Memory) LoadCommands() []LoadCommand    { return nil }
func (m *Memory) LinkedLibraries() []string      { return m.Libraries }
func (m *Memory) Symbols() []Symbol              { return m.Syms }
func (m *Memory) Exports() []Symbol              { return m.Exported }
func (m *Memory) Imports() []Import              { return m.Imported }
func (m *Memory) FunctionStarts() []uint64       { return m.Starts }
func (m *Memory) ObjcClasses() []ObjcClass       { return m.Classes }
func (m *Memory) ObjcCategories() []ObjcCategory { return m.Categories }
func (m *Memory) ObjcProtocols() []ObjcProtocol  { return m.Protocols }
func (m *Memory) Selrefs() []Selref              { return m.SelRefs }
func (m *Memory) ObjcStubs() []ObjcStub          { return m.SelStubs }
func (m *Memory) Close() error                   { return nil }

func (m *Memory) EntryPoint() (uint64, bool) {
	return m.Entry, m.Entry != 0
}

func (m *Memory) Segments() []Segment {
	sec, ok := m.codeSection()
	if !ok {
		return nil
	}
	return []Segment{{Name: "__TEXT", Addr: sec.Addr, Size: sec.Size, Prot: "r-x"}}
}

func (m *Memory) Sections() []Section {
	var out []Section
	if sec, ok := m.codeSection(); ok {
		out = append(out, sec)
	}
	return append(out, m.Extra...)
}

func (m *Memory) SectionForAddr(addr uint64) (Section, bool) {
	for _, sec := range m.Sections() {
		if sec.Contains(addr) {
			return sec, true
		}
	}
	return Section{}, false
}

func (m *Memory) Instructions(start, end uint64) ([]disass.Instruction, error) {
	sec, ok := m.codeSection()
	if !ok || !sec.Contains(start) {
		return nil, fmt.Errorf("%#x: %w", start, ErrNoCode)
	}
	if end == 0 || end > sec.Addr+sec.Size {
		end = sec.Addr + sec.Size
	}
	lo, _ := slices.BinarySearchFunc(m.Code, start, func(in disass.Instruction, addr uint64) int {
		return cmpAddr(in.Address, addr)
	})
	hi, _ := slices.BinarySearchFunc(m.Code, end, func(in disass.Instruction, addr uint64) int {
		return cmpAddr(in.Address, addr)
	})
	if lo >= hi {
		return nil, nil
	}
	return slices.Clone(m.Code[lo:hi]), nil
}

func cmpAddr(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

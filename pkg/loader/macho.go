package loader

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
	"github.com/blacktop/go-macho/types/objc"
	"github.com/objcflow/objcflow/internal/utils"
	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/objcflow/objcflow/pkg/symbols"
)

const (
	sectionTypeMask         = 0x000000ff
	sectionNonLazyPointers  = 0x6
	sectionLazyPointers     = 0x7
	sectionSymbolStubs      = 0x8
	sectionPureInstructions = 0x80000000
	sectionSomeInstructions = 0x00000400

	indirectSymbolLocal = 0x80000000
	indirectSymbolAbs   = 0x40000000

	nlistStab = 0xe0
	nlistType = 0x0e
	nlistSect = 0x0e
	nlistExt  = 0x01

	pointerSize = 8
)

// MachO is a Binary backed by a parsed go-macho file. All tables are built
// when the file is opened; afterwards the value is read-only.
type MachO struct {
	path   string
	f      *macho.File
	closer io.Closer

	header    Header
	segments  []Segment
	sections  []Section
	loads     []LoadCommand
	libraries []string
	code      map[uint64][]byte

	symtab     []Symbol
	exports    []Symbol
	imports    []Import
	starts     []uint64
	entry      uint64
	hasEntry   bool
	classes    []ObjcClass
	categories []ObjcCategory
	protocols  []ObjcProtocol
	selrefs    []Selref
	objcStubs  []ObjcStub
}

// NewMachO indexes an already opened Mach-O. closer, when non-nil, is closed
// by Close instead of f.
func NewMachO(path string, f *macho.File, closer io.Closer) (*MachO, error) {
	if !isArm64(f) {
		return nil, fmt.Errorf("unsupported architecture %s: only arm64 is supported", f.SubCPU.String(f.CPU))
	}
	if closer == nil {
		closer = f
	}
	m := &MachO{
		path:   path,
		f:      f,
		closer: closer,
		code:   make(map[uint64][]byte),
	}

	log.WithField("path", path).Debug("Parsing MachO")

	if err := m.parseLayout(); err != nil {
		return nil, err
	}
	m.parseSymbols()
	m.parseImports()
	m.parseFunctionStarts()
	m.parseObjC()

	return m, nil
}

func isArm64(f *macho.File) bool {
	return strings.Contains(strings.ToLower(f.SubCPU.String(f.CPU)), "arm64")
}

func (m *MachO) parseLayout() error {
	h := m.f.FileHeader
	m.header = Header{
		Magic:        fmt.Sprintf("%v", h.Magic),
		CPU:          h.SubCPU.String(h.CPU),
		Type:         fmt.Sprintf("%v", h.Type),
		Flags:        fmt.Sprintf("%v", h.Flags),
		NCommands:    h.NCommands,
		SizeCommands: h.SizeCommands,
	}
	if u := m.f.UUID(); u != nil {
		m.header.UUID = u.String()
	}
	if sv := m.f.SourceVersion(); sv != nil {
		m.header.SourceVersion = sv.String()
	}
	if id := m.f.DylibID(); id != nil {
		m.header.DylibID = id.String()
	}

	for _, seg := range m.f.Segments() {
		m.segments = append(m.segments, Segment{
			Name:     seg.Name,
			Addr:     seg.Addr,
			Size:     seg.Memsz,
			Offset:   seg.Offset,
			FileSize: seg.Filesz,
			Prot:     fmt.Sprintf("%v", seg.Prot),
		})
	}

	for _, sec := range m.f.Sections {
		flags := uint32(sec.Flags)
		s := Section{
			Segment:    sec.Seg,
			Name:       sec.Name,
			Addr:       sec.Addr,
			Size:       sec.Size,
			Executable: flags&(sectionPureInstructions|sectionSomeInstructions) != 0,
		}
		if s.Executable {
			dat, err := sec.Data()
			if err != nil {
				return fmt.Errorf("failed to read section %s.%s: %w", sec.Seg, sec.Name, err)
			}
			m.code[sec.Addr] = dat
		}
		m.sections = append(m.sections, s)
	}

	for _, l := range m.f.Loads {
		m.loads = append(m.loads, LoadCommand{
			Command:     fmt.Sprintf("%v", l.Command()),
			Description: l.String(),
		})
		if ep, ok := l.(*macho.EntryPoint); ok {
			m.entry = m.f.GetBaseAddress() + ep.EntryOffset
			m.hasEntry = true
		}
	}

	m.libraries = m.f.ImportedLibraries()

	return nil
}

func (m *MachO) parseSymbols() {
	if m.f.Symtab != nil {
		for _, sym := range m.f.Symtab.Syms {
			typ := uint8(sym.Type)
			if typ&nlistStab != 0 || typ&nlistType != nlistSect || sym.Value == 0 || sym.Name == "" {
				continue
			}
			m.symtab = append(m.symtab, Symbol{
				Name:     sym.Name,
				Address:  sym.Value,
				External: typ&nlistExt != 0,
			})
		}
	}

	exports, err := m.f.GetExports()
	if err != nil {
		if !errors.Is(err, macho.ErrMachODyldInfoNotFound) {
			log.WithError(err).Debug("failed to get exports")
		}
	}
	for _, exp := range exports {
		if exp.Address == 0 {
			continue
		}
		m.exports = append(m.exports, Symbol{Name: exp.Name, Address: exp.Address, External: true})
	}

	sortSymbols(m.symtab)
	sortSymbols(m.exports)
}

func sortSymbols(syms []Symbol) {
	sort.SliceStable(syms, func(i, j int) bool {
		if syms[i].Address != syms[j].Address {
			return syms[i].Address < syms[j].Address
		}
		return syms[i].Name < syms[j].Name
	})
}

func (m *MachO) indirectSymbolName(idx uint32) (string, bool) {
	if m.f.Dysymtab == nil || m.f.Symtab == nil || int(idx) >= len(m.f.Dysymtab.IndirectSyms) {
		return "", false
	}
	symIdx := m.f.Dysymtab.IndirectSyms[idx]
	if symIdx&(indirectSymbolLocal|indirectSymbolAbs) != 0 || int(symIdx) >= len(m.f.Symtab.Syms) {
		return "", false
	}
	name := m.f.Symtab.Syms[symIdx].Name
	return name, name != ""
}

func (m *MachO) parseImports() {
	byAddr := make(map[uint64]Import)
	add := func(imp Import) {
		if _, ok := byAddr[imp.Address]; !ok {
			byAddr[imp.Address] = imp
		}
	}

	// pointer slots bound through the dynamic symbol table
	var stubSections []*types.Section
	for _, sec := range m.f.Sections {
		switch uint32(sec.Flags) & sectionTypeMask {
		case sectionNonLazyPointers, sectionLazyPointers:
			for i := uint64(0); i < sec.Size/pointerSize; i++ {
				if name, ok := m.indirectSymbolName(sec.Reserved1 + uint32(i)); ok {
					add(Import{Name: name, Address: sec.Addr + i*pointerSize, Kind: ImportSlot})
				}
			}
		case sectionSymbolStubs:
			stubSections = append(stubSections, sec)
		}
	}

	// dyld binds
	if m.f.HasFixups() {
		dcf, err := m.f.DyldChainedFixups()
		if err != nil {
			log.WithError(err).Debug("failed to parse chained fixups")
		} else {
			for _, start := range dcf.Starts {
				if start.PageStarts == nil {
					continue
				}
				for _, bind := range start.Binds() {
					add(Import{Name: bind.Name(), Address: m.f.GetBaseAddress() + bind.Offset(), Kind: ImportSlot})
				}
			}
		}
	} else if binds, err := m.f.GetBindInfo(); err == nil {
		for _, bind := range binds {
			add(Import{Name: bind.Name, Address: bind.Start + bind.SegOffset, Kind: ImportSlot})
		}
	} else if !errors.Is(err, macho.ErrMachODyldInfoNotFound) {
		log.WithError(err).Debug("failed to get bind info")
	}

	// stub trampolines, named through the indirect symbol table or, failing
	// that, through the slot they jump through
	for _, sec := range stubSections {
		if sec.Reserved2 > 0 {
			for i := uint64(0); i < sec.Size/uint64(sec.Reserved2); i++ {
				if name, ok := m.indirectSymbolName(sec.Reserved1 + uint32(i)); ok {
					add(Import{Name: name, Address: sec.Addr + i*uint64(sec.Reserved2), Kind: ImportStub})
				}
			}
		}
		dat, ok := m.code[sec.Addr]
		if !ok {
			var err error
			if dat, err = sec.Data(); err != nil {
				utils.Indent(log.Debug, 2)(fmt.Sprintf("failed to read %s.%s: %v", sec.Seg, sec.Name, err))
				continue
			}
		}
		slots, err := disass.ParseStubsASM(dat, sec.Addr, nil)
		if err != nil {
			utils.Indent(log.Debug, 2)(fmt.Sprintf("failed to parse %s.%s: %v", sec.Seg, sec.Name, err))
			continue
		}
		for stub, slot := range slots {
			if imp, ok := byAddr[slot]; ok && imp.Kind == ImportSlot {
				add(Import{Name: imp.Name, Address: stub, Kind: ImportStub})
			} else {
				utils.Indent(log.Debug, 2)(fmt.Sprintf("no sym found for stub %#x => %#x", stub, slot))
			}
		}
	}

	for _, imp := range byAddr {
		m.imports = append(m.imports, imp)
	}
	slices.SortFunc(m.imports, func(a, b Import) int {
		return cmpAddr(a.Address, b.Address)
	})
}

func (m *MachO) parseFunctionStarts() {
	for _, fn := range m.f.GetFunctions() {
		m.starts = append(m.starts, fn.StartAddr)
	}
	slices.Sort(m.starts)
	m.starts = slices.Compact(m.starts)
}

func convertMethods(meths []objc.Method) []ObjcMethod {
	out := make([]ObjcMethod, 0, len(meths))
	for _, meth := range meths {
		if meth.Name == "" {
			continue
		}
		out = append(out, ObjcMethod{Name: meth.Name, Imp: meth.ImpVMAddr})
	}
	return out
}

// imageAddr undoes the base address go-macho adds to class pointers of
// images outside the shared cache.
func (m *MachO) imageAddr(addr uint64) uint64 {
	if m.inSegment(addr) {
		return addr
	}
	if base := m.f.GetBaseAddress(); addr > base && m.inSegment(addr-base) {
		return addr - base
	}
	return addr
}

func (m *MachO) inSegment(addr uint64) bool {
	for _, seg := range m.segments {
		if seg.FileSize > 0 && addr >= seg.Addr && addr < seg.Addr+seg.Size {
			return true
		}
	}
	return false
}

func (m *MachO) parseObjC() {
	if !m.f.HasObjC() {
		return
	}

	if classes, err := m.f.GetObjCClasses(); err == nil {
		for _, class := range classes {
			m.classes = append(m.classes, ObjcClass{
				Name:            class.Name,
				SuperClass:      class.SuperClass,
				Address:         m.imageAddr(class.ClassPtr),
				InstanceMethods: convertMethods(class.InstanceMethods),
				ClassMethods:    convertMethods(class.ClassMethods),
			})
		}
	} else if !errors.Is(err, macho.ErrObjcSectionNotFound) {
		log.WithError(err).Debug("failed to parse ObjC classes")
	}

	if cats, err := m.f.GetObjCCategories(); err == nil {
		for _, cat := range cats {
			c := ObjcCategory{
				Name:            cat.Name,
				Address:         cat.VMAddr,
				InstanceMethods: convertMethods(cat.InstanceMethods),
				ClassMethods:    convertMethods(cat.ClassMethods),
			}
			if cat.Class != nil {
				c.Class = cat.Class.Name
			}
			m.categories = append(m.categories, c)
		}
	} else if !errors.Is(err, macho.ErrObjcSectionNotFound) {
		log.WithError(err).Debug("failed to parse ObjC categories")
	}

	if protos, err := m.f.GetObjCProtocols(); err == nil {
		for _, proto := range protos {
			p := ObjcProtocol{
				Name:            proto.Name,
				Address:         proto.Ptr,
				InstanceMethods: convertMethods(proto.InstanceMethods),
				ClassMethods:    convertMethods(proto.ClassMethods),
			}
			for _, sub := range proto.Prots {
				p.Protocols = append(p.Protocols, sub.Name)
			}
			m.protocols = append(m.protocols, p)
		}
	} else if !errors.Is(err, macho.ErrObjcSectionNotFound) {
		log.WithError(err).Debug("failed to parse ObjC protocols")
	}

	selNames := make(map[uint64]string)
	if selRefs, err := m.f.GetObjCSelectorReferences(); err == nil {
		for ref, sel := range selRefs {
			m.selrefs = append(m.selrefs, Selref{Address: ref, Target: sel.VMAddr, Name: sel.Name})
			selNames[ref] = sel.Name
		}
		slices.SortFunc(m.selrefs, func(a, b Selref) int {
			return cmpAddr(a.Address, b.Address)
		})
	} else if !errors.Is(err, macho.ErrObjcSectionNotFound) {
		log.WithError(err).Debug("failed to parse ObjC selector references")
	}

	stubs, err := m.f.GetObjCStubs(func(addr uint64, data []byte) (map[uint64]*objc.Stub, error) {
		stubs := make(map[uint64]*objc.Stub)
		addr2sel, err := disass.ParseObjcStubsASM(data, addr)
		if err != nil {
			return nil, err
		}
		for stub, selref := range addr2sel {
			stubs[stub] = &objc.Stub{
				Name:        selNames[selref],
				SelectorRef: selref,
			}
		}
		return stubs, nil
	})
	if err != nil {
		log.WithError(err).Debug("failed to parse ObjC stubs")
		return
	}
	for addr, stub := range stubs {
		m.objcStubs = append(m.objcStubs, ObjcStub{
			Address: addr,
			Selref:  stub.SelectorRef,
			Name:    symbols.PrefixObjcStub + stub.Name,
		})
	}
	slices.SortFunc(m.objcStubs, func(a, b ObjcStub) int {
		return cmpAddr(a.Address, b.Address)
	})
}

func (m *MachO) Path() string                   { return m.path }
func (m *MachO) Header() Header                 { return m.header }
func (m *MachO) Segments() []Segment            { return m.segments }
func (m *MachO) Sections() []Section            { return m.sections }
func (m *MachO) LoadCommands() []LoadCommand    { return m.loads }
func (m *MachO) LinkedLibraries() []string      { return m.libraries }
func (m *MachO) Symbols() []Symbol              { return m.symtab }
func (m *MachO) Exports() []Symbol              { return m.exports }
func (m *MachO) Imports() []Import              { return m.imports }
func (m *MachO) FunctionStarts() []uint64       { return m.starts }
func (m *MachO) ObjcClasses() []ObjcClass       { return m.classes }
func (m *MachO) ObjcCategories() []ObjcCategory { return m.categories }
func (m *MachO) ObjcProtocols() []ObjcProtocol  { return m.protocols }
func (m *MachO) Selrefs() []Selref              { return m.selrefs }
func (m *MachO) ObjcStubs() []ObjcStub          { return m.objcStubs }

func (m *MachO) EntryPoint() (uint64, bool) {
	return m.entry, m.hasEntry
}

func (m *MachO) SectionForAddr(addr uint64) (Section, bool) {
	for _, sec := range m.sections {
		if sec.Size > 0 && sec.Contains(addr) {
			return sec, true
		}
	}
	return Section{}, false
}

func (m *MachO) Instructions(start, end uint64) ([]disass.Instruction, error) {
	sec, ok := m.SectionForAddr(start)
	if !ok || !sec.Executable {
		return nil, fmt.Errorf("%#x: %w", start, ErrNoCode)
	}
	if end == 0 || end > sec.Addr+sec.Size {
		end = sec.Addr + sec.Size
	}
	if end <= start {
		return nil, nil
	}
	dat := m.code[sec.Addr]
	lo, hi := start-sec.Addr, end-sec.Addr
	if hi > uint64(len(dat)) {
		hi = uint64(len(dat))
	}
	if lo >= hi {
		return nil, nil
	}
	return disass.DecodeAll(dat[lo:hi], start)
}

func (m *MachO) Close() error {
	return m.closer.Close()
}

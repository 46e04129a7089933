package analyzer

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/apex/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/objcflow/objcflow/internal/utils"
	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/objcflow/objcflow/pkg/loader"
	"github.com/objcflow/objcflow/pkg/symbols"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// UnsymbolicatedFunction names functions without any symbol.
const UnsymbolicatedFunction = "_unsymbolicated_function"

var msgSendSymbols = map[string]bool{
	"_objc_msgSend":             true,
	"_objc_msgSendSuper":        true,
	"_objc_msgSendSuper2":       true,
	"_objc_msgSend_stret":       true,
	"_objc_msgSendSuper_stret":  true,
	"_objc_msgSendSuper2_stret": true,
}

// IsMsgSendSymbol reports whether name is one of the Objective-C dispatch
// entry points.
func IsMsgSendSymbol(name string) bool {
	return msgSendSymbols[name]
}

// BinaryAnalyzer holds the tables derived from one binary. It is immutable
// after New returns and safe for concurrent use.
type BinaryAnalyzer struct {
	bin  loader.Binary
	conf *Config

	exec      []loader.Section
	functions []uint64
	isFunc    map[uint64]bool

	classes     []*ObjcClass
	categories  []*ObjcClass
	protocols   []*ObjcClass
	classByName map[string]*ObjcClass
	methods     []*MethodInfo
	methodByImp map[uint64]*MethodInfo

	selrefs      []*Selref
	selrefByAddr map[uint64]*Selref
	selrefByName map[string]*Selref

	imports    []loader.Import
	importAt   map[uint64]loader.Import
	exports    []loader.Symbol
	exportAt   map[uint64]string
	symtabAt   map[uint64]string
	objcStubAt map[uint64]loader.ObjcStub

	insts *lru.Cache[uint64, []disass.Instruction]
	group singleflight.Group
}

// New indexes bin. Prefer Cache.Get, which builds each analyzer once.
func New(bin loader.Binary, conf *Config) (*BinaryAnalyzer, error) {
	conf = conf.normalize()

	cache, err := lru.New[uint64, []disass.Instruction](conf.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruction cache: %v", err)
	}

	ba := &BinaryAnalyzer{
		bin:          bin,
		conf:         conf,
		exec:         loader.ExecutableSections(bin),
		isFunc:       make(map[uint64]bool),
		classByName:  make(map[string]*ObjcClass),
		methodByImp:  make(map[uint64]*MethodInfo),
		selrefByAddr: make(map[uint64]*Selref),
		selrefByName: make(map[string]*Selref),
		importAt:     make(map[uint64]loader.Import),
		exportAt:     make(map[uint64]string),
		symtabAt:     make(map[uint64]string),
		objcStubAt:   make(map[uint64]loader.ObjcStub),
		insts:        cache,
	}

	log.WithField("binary", bin.Path()).Debug("Analyzing binary")

	ba.indexSymbols()
	ba.indexSelrefs()
	ba.indexObjC()
	ba.indexFunctions()

	log.WithFields(log.Fields{
		"functions": len(ba.functions),
		"classes":   len(ba.classes),
		"methods":   len(ba.methods),
		"selrefs":   len(ba.selrefs),
		"imports":   len(ba.imports),
	}).Debug("Analysis complete")

	return ba, nil
}

func (ba *BinaryAnalyzer) indexSymbols() {
	for _, imp := range ba.bin.Imports() {
		if _, dup := ba.importAt[imp.Address]; dup {
			continue
		}
		ba.importAt[imp.Address] = imp
		ba.imports = append(ba.imports, imp)
	}
	for _, exp := range ba.bin.Exports() {
		if _, dup := ba.exportAt[exp.Address]; !dup {
			ba.exportAt[exp.Address] = exp.Name
		}
		ba.exports = append(ba.exports, exp)
	}
	for _, sym := range ba.bin.Symbols() {
		if _, dup := ba.symtabAt[sym.Address]; !dup {
			ba.symtabAt[sym.Address] = sym.Name
		}
	}
	for _, stub := range ba.bin.ObjcStubs() {
		ba.objcStubAt[stub.Address] = stub
	}
}

func (ba *BinaryAnalyzer) indexSelrefs() {
	for _, ref := range ba.bin.Selrefs() {
		if _, dup := ba.selrefByAddr[ref.Address]; dup {
			continue
		}
		s := &Selref{Address: ref.Address, Target: ref.Target, Name: ref.Name}
		ba.selrefs = append(ba.selrefs, s)
		ba.selrefByAddr[s.Address] = s
		if _, dup := ba.selrefByName[s.Name]; !dup {
			ba.selrefByName[s.Name] = s
		}
	}
	slices.SortFunc(ba.selrefs, func(a, b *Selref) int {
		return cmp.Compare(a.Address, b.Address)
	})
}

func (ba *BinaryAnalyzer) newClass(c *ObjcClass, instance, class []loader.ObjcMethod) {
	add := func(meths []loader.ObjcMethod, kind MethodKind) {
		for _, meth := range meths {
			sel := &Selector{
				Name:   meth.Name,
				Selref: ba.selrefByName[meth.Name],
				Imp:    meth.Imp,
				Kind:   kind,
			}
			c.Selectors = append(c.Selectors, sel)
			if c.Protocol || sel.Imp == 0 {
				continue
			}
			mi := &MethodInfo{Class: c, Selector: sel, Imp: sel.Imp, Kind: kind}
			ba.methods = append(ba.methods, mi)
			if _, dup := ba.methodByImp[mi.Imp]; !dup {
				ba.methodByImp[mi.Imp] = mi
			}
		}
	}
	add(instance, InstanceMethod)
	add(class, ClassMethod)
}

func (ba *BinaryAnalyzer) indexObjC() {
	for _, cls := range ba.bin.ObjcClasses() {
		c := &ObjcClass{Name: cls.Name, SuperClass: cls.SuperClass, Address: cls.Address}
		ba.newClass(c, cls.InstanceMethods, cls.ClassMethods)
		ba.classes = append(ba.classes, c)
		if _, dup := ba.classByName[c.Name]; !dup {
			ba.classByName[c.Name] = c
		}
	}
	for _, cat := range ba.bin.ObjcCategories() {
		name := cat.Class
		if name == "" {
			name = cat.Name
		}
		c := &ObjcClass{Name: name, Category: cat.Name, Address: cat.Address}
		ba.newClass(c, cat.InstanceMethods, cat.ClassMethods)
		ba.categories = append(ba.categories, c)
	}
	for _, proto := range ba.bin.ObjcProtocols() {
		c := &ObjcClass{Name: proto.Name, Protocol: true, Address: proto.Address, Protocols: proto.Protocols}
		ba.newClass(c, proto.InstanceMethods, proto.ClassMethods)
		ba.protocols = append(ba.protocols, c)
	}

	sort.SliceStable(ba.methods, func(i, j int) bool {
		if ba.methods[i].Imp != ba.methods[j].Imp {
			return ba.methods[i].Imp < ba.methods[j].Imp
		}
		return ba.methods[i].Name() < ba.methods[j].Name()
	})
}

func (ba *BinaryAnalyzer) execSectionFor(addr uint64) (loader.Section, bool) {
	for _, sec := range ba.exec {
		if sec.Contains(addr) {
			return sec, true
		}
	}
	return loader.Section{}, false
}

// isCode reports whether addr can start a function: inside an executable
// section and not an import or selector stub.
func (ba *BinaryAnalyzer) isCode(addr uint64) bool {
	if _, ok := ba.execSectionFor(addr); !ok {
		return false
	}
	if _, ok := ba.importAt[addr]; ok {
		return false
	}
	_, ok := ba.objcStubAt[addr]
	return !ok
}

func (ba *BinaryAnalyzer) indexFunctions() {
	var queue []uint64
	seeding := true
	add := func(addr uint64) {
		if addr%disass.InstructionSize != 0 || ba.isFunc[addr] || !ba.isCode(addr) {
			return
		}
		ba.isFunc[addr] = true
		queue = append(queue, addr)
		if seeding {
			ba.functions = append(ba.functions, addr)
			return
		}
		idx, _ := slices.BinarySearch(ba.functions, addr)
		ba.functions = slices.Insert(ba.functions, idx, addr)
	}

	for _, start := range ba.bin.FunctionStarts() {
		add(start)
	}
	if entry, ok := ba.bin.EntryPoint(); ok {
		add(entry)
	}
	for _, sym := range ba.bin.Symbols() {
		add(sym.Address)
	}
	for _, exp := range ba.bin.Exports() {
		add(exp.Address)
	}
	for _, mi := range ba.methods {
		add(mi.Imp)
	}
	slices.Sort(ba.functions)
	seeding = false

	// follow direct calls to functions nothing else told us about
	for len(queue) > 0 {
		start := queue[0]
		queue = queue[1:]
		insts, err := ba.bin.Instructions(start, ba.functionEnd(start))
		if err != nil {
			utils.Indent(log.Debug, 2)(fmt.Sprintf("failed to decode function %#x: %v", start, err))
			continue
		}
		for _, in := range insts {
			if !in.IsCall() {
				continue
			}
			if dest, ok := in.Destination(); ok {
				add(dest)
			}
		}
	}
}

// functionEnd returns the address following the function at start: the next
// known start or the end of the containing executable section.
func (ba *BinaryAnalyzer) functionEnd(start uint64) uint64 {
	sec, ok := ba.execSectionFor(start)
	if !ok {
		return start
	}
	end := sec.Addr + sec.Size
	idx, found := slices.BinarySearch(ba.functions, start)
	if found {
		idx++
	}
	if idx < len(ba.functions) && ba.functions[idx] < end {
		end = ba.functions[idx]
	}
	return end
}

// containingFunction returns the start of the function containing addr.
func (ba *BinaryAnalyzer) containingFunction(addr uint64) (uint64, bool) {
	idx, found := slices.BinarySearch(ba.functions, addr)
	if found {
		return addr, true
	}
	if idx == 0 {
		return 0, false
	}
	start := ba.functions[idx-1]
	if addr >= ba.functionEnd(start) {
		return 0, false
	}
	return start, true
}

// Binary returns the binary the analyzer was built from.
func (ba *BinaryAnalyzer) Binary() loader.Binary { return ba.bin }

func (ba *BinaryAnalyzer) Config() Config { return *ba.conf }

// Functions returns every known function start, sorted.
func (ba *BinaryAnalyzer) Functions() []uint64 {
	return slices.Clone(ba.functions)
}

// ObjcMethods returns every implemented class and category method, sorted by
// implementation address.
func (ba *BinaryAnalyzer) ObjcMethods() []*MethodInfo {
	return slices.Clone(ba.methods)
}

// ObjcClasses returns classes followed by categories, in binary order.
func (ba *BinaryAnalyzer) ObjcClasses() []*ObjcClass {
	out := make([]*ObjcClass, 0, len(ba.classes)+len(ba.categories))
	out = append(out, ba.classes...)
	return append(out, ba.categories...)
}

func (ba *BinaryAnalyzer) Protocols() []*ObjcClass {
	return slices.Clone(ba.protocols)
}

// ClassNamed returns the class (not a category) called name.
func (ba *BinaryAnalyzer) ClassNamed(name string) (*ObjcClass, error) {
	if c, ok := ba.classByName[name]; ok {
		return c, nil
	}
	for _, c := range ba.categories {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "class %s", name)
}

// MethodsForClass returns the methods of a class and of the categories
// extending it.
func (ba *BinaryAnalyzer) MethodsForClass(name string) []*MethodInfo {
	var out []*MethodInfo
	for _, mi := range ba.methods {
		if mi.Class.Name == name {
			out = append(out, mi)
		}
	}
	return out
}

// MethodsForSel returns every implementation of sel across classes and
// categories.
func (ba *BinaryAnalyzer) MethodsForSel(sel string) []*MethodInfo {
	var out []*MethodInfo
	for _, mi := range ba.methods {
		if mi.Selector.Name == sel {
			out = append(out, mi)
		}
	}
	return out
}

// ImpsForSel returns the distinct implementation addresses of sel, sorted.
func (ba *BinaryAnalyzer) ImpsForSel(sel string) []uint64 {
	var out []uint64
	for _, mi := range ba.MethodsForSel(sel) {
		out = append(out, mi.Imp)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (ba *BinaryAnalyzer) MethodForImp(addr uint64) (*MethodInfo, bool) {
	mi, ok := ba.methodByImp[addr]
	return mi, ok
}

func (ba *BinaryAnalyzer) Selrefs() []*Selref {
	return slices.Clone(ba.selrefs)
}

func (ba *BinaryAnalyzer) SelrefForName(name string) (*Selref, bool) {
	s, ok := ba.selrefByName[name]
	return s, ok
}

// SelectorForSelref returns the selref stored in the reference cell at addr.
func (ba *BinaryAnalyzer) SelectorForSelref(addr uint64) (*Selref, bool) {
	s, ok := ba.selrefByAddr[addr]
	return s, ok
}

// Imports returns import stubs and bound pointer slots, sorted by address.
func (ba *BinaryAnalyzer) Imports() []loader.Import {
	return slices.Clone(ba.imports)
}

func (ba *BinaryAnalyzer) ImportAt(addr uint64) (loader.Import, bool) {
	imp, ok := ba.importAt[addr]
	return imp, ok
}

func (ba *BinaryAnalyzer) Exports() []loader.Symbol {
	return slices.Clone(ba.exports)
}

func (ba *BinaryAnalyzer) ObjcStubAt(addr uint64) (loader.ObjcStub, bool) {
	stub, ok := ba.objcStubAt[addr]
	return stub, ok
}

// FunctionInstructions returns the decoded instructions of the function
// containing addr.
func (ba *BinaryAnalyzer) FunctionInstructions(addr uint64) ([]disass.Instruction, error) {
	start, ok := ba.containingFunction(addr)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "no function contains %#x", addr)
	}
	if insts, ok := ba.insts.Get(start); ok {
		return insts, nil
	}
	v, err, _ := ba.group.Do(strconv.FormatUint(start, 16), func() (any, error) {
		insts, err := ba.bin.Instructions(start, ba.functionEnd(start))
		if err != nil {
			return nil, fmt.Errorf("failed to decode function %#x: %w", start, err)
		}
		ba.insts.Add(start, insts)
		return insts, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]disass.Instruction), nil
}

// InstructionAt returns the instruction at addr.
func (ba *BinaryAnalyzer) InstructionAt(addr uint64) (disass.Instruction, error) {
	insts, err := ba.FunctionInstructions(addr)
	if err != nil {
		return disass.Instruction{}, err
	}
	for _, in := range insts {
		if in.Address == addr {
			return in, nil
		}
	}
	return disass.Instruction{}, errors.Wrapf(ErrNotFound, "no instruction at %#x", addr)
}

// SymbolAt names addr: a method signature, then an exported, local or
// imported symbol, then a selector stub.
func (ba *BinaryAnalyzer) SymbolAt(addr uint64) (string, bool) {
	if mi, ok := ba.methodByImp[addr]; ok {
		return mi.Name(), true
	}
	name, ok := ba.rawSymbolAt(addr)
	if !ok {
		if stub, isStub := ba.objcStubAt[addr]; isStub {
			name, ok = stub.Name, true
		}
	}
	if ok && ba.conf.Demangle {
		name = symbols.Demangle(name)
	}
	return name, ok
}

func (ba *BinaryAnalyzer) rawSymbolAt(addr uint64) (string, bool) {
	if name, ok := ba.exportAt[addr]; ok {
		return name, true
	}
	if name, ok := ba.symtabAt[addr]; ok {
		return name, true
	}
	if imp, ok := ba.importAt[addr]; ok {
		if imp.Kind == loader.ImportSlot {
			return symbols.PrefixGot + imp.Name, true
		}
		return imp.Name, true
	}
	return "", false
}

// FunctionAt returns an analyzer for the function containing addr, bound to
// its method when the function is an Objective-C implementation.
func (ba *BinaryAnalyzer) FunctionAt(addr uint64) (*FunctionAnalyzer, error) {
	start, ok := ba.containingFunction(addr)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "no function contains %#x", addr)
	}
	return NewFunctionAnalyzer(ba, start)
}

// FunctionForMethod returns an analyzer for the implementation of mi.
func (ba *BinaryAnalyzer) FunctionForMethod(mi *MethodInfo) (*FunctionAnalyzer, error) {
	if mi == nil || mi.Imp == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "method has no implementation")
	}
	fa, err := NewFunctionAnalyzer(ba, mi.Imp)
	if err != nil {
		return nil, err
	}
	fa.method = mi
	return fa, nil
}

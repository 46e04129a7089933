// Package loader exposes a Mach-O image as the flat tables the analyzer
// consumes: code, symbols, imports, Objective-C metadata and stubs.
package loader

import (
	"errors"

	"github.com/objcflow/objcflow/pkg/disass"
)

// ErrNoCode is returned when an address is not backed by an executable section.
var ErrNoCode = errors.New("address is not in an executable section")

type Symbol struct {
	Name     string `json:"name"`
	Address  uint64 `json:"address"`
	External bool   `json:"external,omitempty"`
}

type ImportKind uint8

const (
	// ImportStub is a trampoline in a symbol stub section.
	ImportStub ImportKind = iota
	// ImportSlot is a pointer slot bound by dyld (GOT, lazy pointer, chained bind).
	ImportSlot
)

func (k ImportKind) String() string {
	if k == ImportSlot {
		return "slot"
	}
	return "stub"
}

type Import struct {
	Name    string     `json:"name"`
	Address uint64     `json:"address"`
	Kind    ImportKind `json:"kind"`
}

type ObjcMethod struct {
	Name string `json:"name"`
	Imp  uint64 `json:"imp,omitempty"`
}

type ObjcClass struct {
	Name            string       `json:"name"`
	SuperClass      string       `json:"super_class,omitempty"`
	Address         uint64       `json:"address"`
	InstanceMethods []ObjcMethod `json:"instance_methods,omitempty"`
	ClassMethods    []ObjcMethod `json:"class_methods,omitempty"`
}

type ObjcCategory struct {
	Name            string       `json:"name"`
	Class           string       `json:"class"`
	Address         uint64       `json:"address"`
	InstanceMethods []ObjcMethod `json:"instance_methods,omitempty"`
	ClassMethods    []ObjcMethod `json:"class_methods,omitempty"`
}

type ObjcProtocol struct {
	Name            string       `json:"name"`
	Address         uint64       `json:"address"`
	Protocols       []string     `json:"protocols,omitempty"`
	InstanceMethods []ObjcMethod `json:"instance_methods,omitempty"`
	ClassMethods    []ObjcMethod `json:"class_methods,omitempty"`
}

// Selref is a selector reference cell and the selector string it points at.
type Selref struct {
	Address uint64 `json:"address"`
	Target  uint64 `json:"target"`
	Name    string `json:"name"`
}

// ObjcStub is an `_objc_msgSend$sel` trampoline in __objc_stubs.
type ObjcStub struct {
	Address uint64 `json:"address"`
	Selref  uint64 `json:"selref"`
	Name    string `json:"name"`
}

type Section struct {
	Segment    string `json:"segment"`
	Name       string `json:"name"`
	Addr       uint64 `json:"addr"`
	Size       uint64 `json:"size"`
	Executable bool   `json:"executable,omitempty"`
}

// Contains reports whether addr falls inside the section.
func (s Section) Contains(addr uint64) bool {
	return addr >= s.Addr && addr < s.Addr+s.Size
}

type Segment struct {
	Name     string `json:"name"`
	Addr     uint64 `json:"addr"`
	Size     uint64 `json:"size"`
	Offset   uint64 `json:"offset"`
	FileSize uint64 `json:"file_size"`
	Prot     string `json:"prot"`
}

type Header struct {
	Magic         string `json:"magic"`
	CPU           string `json:"cpu"`
	Type          string `json:"type"`
	Flags         string `json:"flags"`
	NCommands     uint32 `json:"ncmds"`
	SizeCommands  uint32 `json:"sizeofcmds"`
	UUID          string `json:"uuid,omitempty"`
	SourceVersion string `json:"source_version,omitempty"`
	DylibID       string `json:"dylib_id,omitempty"`
}

type LoadCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// Binary is the read-only view of a single-architecture arm64 image.
// Implementations must be safe for concurrent use.
type Binary interface {
	Path() string
	Header() Header
	Segments() []Segment
	Sections() []Section
	LoadCommands() []LoadCommand
	LinkedLibraries() []string

	// Instructions decodes [start, end); end is clamped to the containing
	// executable section.
	Instructions(start, end uint64) ([]disass.Instruction, error)
	SectionForAddr(addr uint64) (Section, bool)

	Symbols() []Symbol
	Exports() []Symbol
	Imports() []Import
	FunctionStarts() []uint64
	EntryPoint() (uint64, bool)

	ObjcClasses() []ObjcClass
	ObjcCategories() []ObjcCategory
	ObjcProtocols() []ObjcProtocol
	Selrefs() []Selref
	ObjcStubs() []ObjcStub

	Close() error
}

// ExecutableSections filters the executable sections of bin.
func ExecutableSections(bin Binary) []Section {
	var out []Section
	for _, sec := range bin.Sections() {
		if sec.Executable {
			out = append(out, sec)
		}
	}
	return out
}

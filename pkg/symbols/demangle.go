package symbols

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blacktop/go-macho/pkg/swift"
	"github.com/ianlancetaylor/demangle"
)

var (
	blockInvokePattern = regexp.MustCompile(`^(.+)_block_invoke(?:_?([0-9]+))?$`)
	// clang prefixes ObjC method names in block symbols with their length
	objcBlockParent = regexp.MustCompile(`^[0-9]+([-+]\[.+\])$`)
)

// normalizeCPP strips one to three leading underscores and requires the Itanium
// `Z` marker, returning the name in the `_Z...` form the demangler expects.
func normalizeCPP(name string) (string, bool) {
	core := name
	for i := 0; i < 3 && strings.HasPrefix(core, "_"); i++ {
		core = core[1:]
	}
	if core == name || !strings.HasPrefix(core, "Z") {
		return "", false
	}
	return "_" + core, true
}

func blockName(n, enclosing string) string {
	if n != "" {
		return fmt.Sprintf("block %s in %s", n, enclosing)
	}
	return "block in " + enclosing
}

func demangleCPP(name string) (string, bool) {
	if m := blockInvokePattern.FindStringSubmatch(name); m != nil {
		enclosing, ok := demangleCPP(m[1])
		if !ok {
			return "", false
		}
		if !strings.Contains(enclosing, "(") {
			enclosing += "()"
		}
		return blockName(m[2], enclosing), true
	}
	mangled, ok := normalizeCPP(name)
	if !ok {
		return "", false
	}
	out, err := demangle.ToString(mangled)
	if err != nil {
		return "", false
	}
	return out, true
}

// demangleBlock names a block whose enclosing function is a plain C function
// or an ObjC method.
func demangleBlock(name string) (string, bool) {
	m := blockInvokePattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	enclosing := strings.TrimLeft(m[1], "_")
	if enclosing == "" {
		return "", false
	}
	if om := objcBlockParent.FindStringSubmatch(enclosing); om != nil {
		return blockName(m[2], om[1]), true
	}
	if strings.HasPrefix(enclosing, "-[") || strings.HasPrefix(enclosing, "+[") {
		return blockName(m[2], enclosing), true
	}
	if !strings.Contains(enclosing, "(") {
		enclosing += "()"
	}
	return blockName(m[2], enclosing), true
}

// IsMangledCPPSymbol reports whether name is an Itanium mangled C++ symbol (or
// a block invocation inside one) that demangles completely.
func IsMangledCPPSymbol(name string) bool {
	_, ok := demangleCPP(name)
	return ok
}

// DemangleCPPSymbol returns the demangled form of name, or name itself when
// it is neither a mangled C++ symbol nor a block invocation.
func DemangleCPPSymbol(name string) string {
	if out, ok := demangleCPP(name); ok {
		return out
	}
	if out, ok := demangleBlock(name); ok {
		return out
	}
	return name
}

func isSwiftSymbol(name string) bool {
	return strings.HasPrefix(name, "_$s") || strings.HasPrefix(name, "$s")
}

func demangleCore(name string) string {
	if out, ok := demangleCPP(name); ok {
		return out
	}
	if out, ok := demangleBlock(name); ok {
		return out
	}
	if isSwiftSymbol(name) {
		if out, err := swift.Demangle(name); err == nil && out != "" {
			return out
		}
	}
	return name
}

// Demangle expands C++, block and Swift symbols, keeping any listing
// decoration (see EnrichmentPrefixes) in front of the expanded name.
// Anything it does not recognise is returned unchanged.
func Demangle(name string) string {
	if name == "" {
		return name
	}
	core, prefixes := StripEnrichmentPrefixes(name)
	demangled := demangleCore(core)
	if demangled == core {
		return name
	}
	return ApplyEnrichmentPrefixes(prefixes, demangled)
}

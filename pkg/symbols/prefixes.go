package symbols

import "strings"

// Decorations added to import names when they are printed next to the
// location that refers to them.
const (
	PrefixGot      = "__got."
	PrefixJump     = "j_"
	PrefixObjcStub = "_objc_msgSend$"
)

// EnrichmentPrefixes lists the decorations that may precede a symbol name.
// Longer prefixes must appear before their shorter counterparts.
var EnrichmentPrefixes = []string{
	PrefixGot,
	PrefixJump,
}

// StripEnrichmentPrefixes removes all known decorations from name, returning
// the stripped symbol and the prefixes in the order they were removed.
func StripEnrichmentPrefixes(name string) (core string, prefixes []string) {
	core = name
trimLoop:
	for {
		for _, prefix := range EnrichmentPrefixes {
			if strings.HasPrefix(core, prefix) {
				prefixes = append(prefixes, prefix)
				core = strings.TrimPrefix(core, prefix)
				continue trimLoop
			}
		}
		break
	}
	return core, prefixes
}

// ApplyEnrichmentPrefixes re-applies prefixes (in the order returned by
// StripEnrichmentPrefixes) to base.
func ApplyEnrichmentPrefixes(prefixes []string, base string) string {
	out := base
	for i := len(prefixes) - 1; i >= 0; i-- {
		out = prefixes[i] + out
	}
	return out
}

// ObjcStubSelector returns the selector an `_objc_msgSend$sel` stub name
// dispatches.
func ObjcStubSelector(name string) (string, bool) {
	if !strings.HasPrefix(name, PrefixObjcStub) || len(name) == len(PrefixObjcStub) {
		return "", false
	}
	return strings.TrimPrefix(name, PrefixObjcStub), true
}

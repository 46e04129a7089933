package analyzer

import "fmt"

// Selref is a selector reference cell: Address is the cell, Target the
// selector string it points at.
type Selref struct {
	Address uint64 `json:"address"`
	Target  uint64 `json:"target"`
	Name    string `json:"name"`
}

type MethodKind uint8

const (
	InstanceMethod MethodKind = iota
	ClassMethod
)

// Prefix returns the `-`/`+` marker used in method signatures.
func (k MethodKind) Prefix() string {
	if k == ClassMethod {
		return "+"
	}
	return "-"
}

func (k MethodKind) String() string {
	if k == ClassMethod {
		return "class"
	}
	return "instance"
}

// Selector is a method name as declared by a class, category or protocol.
// Selref is nil when no code references the selector and Imp is 0 when it is
// only declared.
type Selector struct {
	Name   string     `json:"name"`
	Selref *Selref    `json:"selref,omitempty"`
	Imp    uint64     `json:"imp,omitempty"`
	Kind   MethodKind `json:"kind"`
}

// ObjcClass is a class, a category (Category set, Name is the class it
// extends) or a protocol (Protocol set).
type ObjcClass struct {
	Name       string      `json:"name"`
	SuperClass string      `json:"super_class,omitempty"`
	Category   string      `json:"category,omitempty"`
	Protocol   bool        `json:"protocol,omitempty"`
	Address    uint64      `json:"address"`
	Protocols  []string    `json:"protocols,omitempty"`
	Selectors  []*Selector `json:"selectors"`
}

// DisplayName includes the category, if any.
func (c *ObjcClass) DisplayName() string {
	if c.Category != "" {
		return fmt.Sprintf("%s(%s)", c.Name, c.Category)
	}
	return c.Name
}

// MethodInfo binds an implementation to the class and selector declaring it.
type MethodInfo struct {
	Class    *ObjcClass
	Selector *Selector
	Imp      uint64
	Kind     MethodKind
}

// Name returns the `-[Class sel]` / `+[Class sel]` signature.
func (m *MethodInfo) Name() string {
	return fmt.Sprintf("%s[%s %s]", m.Kind.Prefix(), m.Class.Name, m.Selector.Name)
}

package analyzer

import "fmt"

type ContentsKind uint8

const (
	ContentsUnknown ContentsKind = iota
	ContentsImmediate
)

// RegisterContents is what the dataflow engine knows about a register: either
// nothing, or an immediate value.
type RegisterContents struct {
	Kind  ContentsKind
	Value uint64
}

func Unknown() RegisterContents {
	return RegisterContents{Kind: ContentsUnknown}
}

func Immediate(v uint64) RegisterContents {
	return RegisterContents{Kind: ContentsImmediate, Value: v}
}

func (c RegisterContents) IsKnown() bool {
	return c.Kind == ContentsImmediate
}

func (c RegisterContents) String() string {
	if !c.IsKnown() {
		return "unknown"
	}
	return fmt.Sprintf("%#x", c.Value)
}

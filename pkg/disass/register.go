package disass

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Register is a general purpose arm64 register. 32-bit views (wN) alias the
// 64-bit register they live in since a write to wN zero-extends into xN.
type Register uint8

const (
	RegNone Register = iota
	X0
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	SP
	XZR
)

const (
	FP = X29
	LR = X30
)

// ErrUnknownRegister is returned by ParseRegister for names outside the
// general purpose register file.
var ErrUnknownRegister = errors.New("unknown register")

// XReg returns the register xN.
func XReg(n int) Register {
	if n < 0 || n > 30 {
		return RegNone
	}
	return X0 + Register(n)
}

// Index returns N for xN and -1 for sp, xzr and RegNone.
func (r Register) Index() int {
	if r >= X0 && r <= X30 {
		return int(r - X0)
	}
	return -1
}

func (r Register) Valid() bool {
	return r != RegNone && r <= XZR
}

func (r Register) String() string {
	switch {
	case r >= X0 && r <= X30:
		return "x" + strconv.Itoa(int(r-X0))
	case r == SP:
		return "sp"
	case r == XZR:
		return "xzr"
	default:
		return "<none>"
	}
}

// ParseRegister maps an assembler register name onto the register vocabulary.
func ParseRegister(name string) (Register, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "sp", "wsp":
		return SP, nil
	case "xzr", "wzr":
		return XZR, nil
	case "fp":
		return FP, nil
	case "lr":
		return LR, nil
	}
	if len(n) < 2 || (n[0] != 'x' && n[0] != 'w') {
		return RegNone, fmt.Errorf("%w: %q", ErrUnknownRegister, name)
	}
	idx, err := strconv.Atoi(n[1:])
	if err != nil || idx < 0 || idx > 30 || strconv.Itoa(idx) != n[1:] {
		return RegNone, fmt.Errorf("%w: %q", ErrUnknownRegister, name)
	}
	return XReg(idx), nil
}

// MustParseRegister is ParseRegister for compile time constant names.
func MustParseRegister(name string) Register {
	r, err := ParseRegister(name)
	if err != nil {
		panic(err)
	}
	return r
}

// CallerSaved is the set of registers a call is allowed to clobber under the
// Apple arm64 ABI (x0-x18 plus the link register).
func CallerSaved() []Register {
	regs := make([]Register, 0, 20)
	for i := 0; i <= 18; i++ {
		regs = append(regs, XReg(i))
	}
	return append(regs, LR)
}

func isCallerSaved(r Register) bool {
	return (r >= X0 && r <= X18) || r == LR
}

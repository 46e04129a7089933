package analyzer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/pkg/errors"
)

func delegateFunction(t *testing.T) *FunctionAnalyzer {
	t.Helper()
	fa, err := newFixtureAnalyzer(t).FunctionAt(delegateImp)
	if err != nil {
		t.Fatalf("FunctionAt() error = %v", err)
	}
	return fa
}

func TestFunctionAnalyzerBounds(t *testing.T) {
	fa := delegateFunction(t)

	if fa.Start() != delegateImp || fa.End() != sharedImp {
		t.Errorf("function spans [%#x, %#x), want [%#x, %#x)", fa.Start(), fa.End(), delegateImp, sharedImp)
	}
	if fa.Method() == nil || fa.Method().Selector.Name != urlSessionSel {
		t.Errorf("Method() = %+v, want %s", fa.Method(), urlSessionSel)
	}
	if _, err := fa.Instruction(28); !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("Instruction(28) error = %v, want ErrInvalidOperand", err)
	}
	if _, err := fa.InstructionAt(sharedImp); !errors.Is(err, ErrNotFound) {
		t.Errorf("InstructionAt(next function) error = %v, want ErrNotFound", err)
	}
	if in, err := fa.InstructionAt(0x100006460); err != nil || in.Mnemonic != "blr" {
		t.Errorf("InstructionAt() = %s, %v, want blr", in, err)
	}
}

func TestRegisterContentsAt(t *testing.T) {
	fa := delegateFunction(t)
	insts := fa.Instructions()

	tests := []struct {
		name  string
		reg   string
		idx   int
		known bool
		want  uint64
	}{
		{"selref passed to msgSend", "x1", 9, true, serverTrustRef},
		{"class ref load", "x8", 5, true, 0x100009060},
		{"receiver from mov", "x0", 6, false, 0},
		{"argument clobbered by call", "x1", 10, false, 0},
		{"callee-saved from mov", "x19", 10, false, 0},
		{"never written", "x20", 10, false, 0},
		{"w view of x1", "w1", 9, true, serverTrustRef},
		{"got slot", "x16", 16, true, msgSendSlot},
		{"first instruction", "x4", 0, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fa.RegisterContentsAt(tt.reg, insts[tt.idx])
			if err != nil {
				t.Fatalf("RegisterContentsAt() error = %v", err)
			}
			if got.IsKnown() != tt.known {
				t.Fatalf("RegisterContentsAt() = %s, want known=%v", got, tt.known)
			}
			if tt.known && got.Value != tt.want {
				t.Errorf("RegisterContentsAt() = %#x, want %#x", got.Value, tt.want)
			}
		})
	}
}

func TestRegisterContentsAtInvalidOperand(t *testing.T) {
	fa := delegateFunction(t)

	if _, err := fa.RegisterContentsAt("q0", fa.Instructions()[3]); !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("RegisterContentsAt(q0) error = %v, want ErrInvalidOperand", err)
	}
	if _, err := fa.RegisterContentsAt("x0", disass.Return(0x100009999)); !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("RegisterContentsAt(foreign instruction) error = %v, want ErrInvalidOperand", err)
	}
	// same address, different instruction
	if _, err := fa.RegisterContentsAt("x0", disass.Other(delegateImp, "nop")); !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("RegisterContentsAt(forged instruction) error = %v, want ErrInvalidOperand", err)
	}
}

func TestObjcSelref(t *testing.T) {
	fa := delegateFunction(t)
	insts := fa.Instructions()

	got, err := fa.ObjcSelref(insts[9])
	if err != nil {
		t.Fatalf("ObjcSelref() error = %v", err)
	}
	if got != serverTrustRef {
		t.Errorf("ObjcSelref() = %#x, want %#x", got, serverTrustRef)
	}

	got, err = fa.ObjcSelref(insts[16])
	if err != nil {
		t.Fatalf("ObjcSelref(blr) error = %v", err)
	}
	if got != defaultHandleRef {
		t.Errorf("ObjcSelref(blr) = %#x, want %#x", got, defaultHandleRef)
	}

	if _, err := fa.ObjcSelref(insts[8]); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ObjcSelref(ldr) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := fa.ObjcSelref(insts[10]); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ObjcSelref(cbz) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := fa.ObjcSelref(insts[27]); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ObjcSelref(ret) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := fa.ObjcSelref(insts[18]); !errors.Is(err, ErrNotFound) {
		t.Errorf("ObjcSelref(blr after call) error = %v, want ErrNotFound", err)
	}
	if _, err := fa.ObjcSelref(insts[21]); !errors.Is(err, ErrNotFound) {
		t.Errorf("ObjcSelref(after call) error = %v, want ErrNotFound", err)
	}
}

func TestSymbolName(t *testing.T) {
	ba := newFixtureAnalyzer(t)
	for _, tt := range []struct {
		addr uint64
		want string
	}{
		{delegateImp, "-[TrustDelegate URLSession:didReceiveChallenge:completionHandler:]"},
		{sharedImp, "+[TrustDelegate sharedInstance]"},
		{anonFunc, UnsymbolicatedFunction},
		{test1Func, "test1()"},
	} {
		fa, err := ba.FunctionAt(tt.addr)
		if err != nil {
			t.Fatalf("FunctionAt(%#x) error = %v", tt.addr, err)
		}
		if got := fa.SymbolName(); got != tt.want {
			t.Errorf("SymbolName(%#x) = %q, want %q", tt.addr, got, tt.want)
		}
	}

	tests := []struct {
		name     string
		exported string
		local    string
		want     string
	}{
		{"exported C function", "_strlen", "", "_strlen"},
		{"export wins over local", "_exported", "_local", "_exported"},
		{"local symbol", "", "_local", "_local"},
		{"mangled C++", "", "__ZNK3MapI10StringName3RefI8GDScriptE10ComparatorIS0_E16DefaultAllocatorE3hasERKS0_",
			"Map<StringName, Ref<GDScript>, Comparator<StringName>, DefaultAllocator>::has(StringName const&) const"},
		{"block in C++ function", "", "__Z5test1v_block_invoke", "block in test1()"},
		{"numbered block", "", "__Z5test1v_block_invoke_2", "block 2 in test1()"},
		{"block in C function", "", "___test1_block_invoke_2", "block 2 in test1()"},
		{"block in ObjC method", "", "___31-[AppDelegate application:]_block_invoke", "block in -[AppDelegate application:]"},
		{"looks mangled but is not", "", "__ZappBrannigan", "__ZappBrannigan"},
		{"unsymbolicated", "", "", UnsymbolicatedFunction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ba, err := New(singleFunction(tt.exported, tt.local), nil)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			fa, err := ba.FunctionAt(0x1000)
			if err != nil {
				t.Fatalf("FunctionAt() error = %v", err)
			}
			if got := fa.SymbolName(); got != tt.want {
				t.Errorf("SymbolName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDisassemble(t *testing.T) {
	fa := delegateFunction(t)

	var buf bytes.Buffer
	if err := fa.Disassemble(&buf, false); err != nil {
		t.Fatalf("Disassemble() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"-[TrustDelegate URLSession:didReceiveChallenge:completionHandler:]:",
		`_objc_msgSend(x0, "serverTrust")`,
		`_objc_msgSend(x0, "performDefaultHandling")`,
		"_SecTrustEvaluate",
		"_objc_retain",
		"objc dispatch (unresolved)",
		"test1()",
		"loc_100006488",
		"loc_100006470",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Disassemble() output missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("Disassemble(colored=false) emitted ANSI escapes")
	}
}

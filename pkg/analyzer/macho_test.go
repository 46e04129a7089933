package analyzer

import (
	"testing"

	"github.com/objcflow/objcflow/pkg/loader"
)

func openRunnerAnalyzer(t *testing.T) *BinaryAnalyzer {
	t.Helper()
	bin, err := loader.Open("../loader/testdata/objc_runner", "")
	if err != nil {
		t.Fatalf("loader.Open() error = %v", err)
	}
	t.Cleanup(func() { bin.Close() })
	ba, err := New(bin, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return ba
}

func TestMachOCallTargets(t *testing.T) {
	ba := openRunnerAnalyzer(t)

	fa, err := ba.FunctionAt(0x100000800)
	if err != nil {
		t.Fatalf("FunctionAt(main) error = %v", err)
	}
	if got := fa.SymbolName(); got != "_main" {
		t.Errorf("SymbolName() = %q, want _main", got)
	}

	insts := fa.Instructions()
	if len(insts) != 8 {
		t.Fatalf("main has %d instructions, want 8", len(insts))
	}
	selref, err := fa.ObjcSelref(insts[3])
	if err != nil {
		t.Fatalf("ObjcSelref() error = %v", err)
	}
	if selref != 0x100004018 {
		t.Errorf("ObjcSelref() = %#x, want 0x100004018", selref)
	}

	targets := fa.CallTargets()
	if len(targets) != 2 {
		t.Fatalf("CallTargets() returned %d targets, want 2", len(targets))
	}
	for i, want := range []struct {
		symbol string
		sel    string
	}{
		{"_objc_msgSend", "run"},
		{"_objc_msgSend$sharedRunner", "sharedRunner"},
	} {
		ct := targets[i]
		if !ct.IsMsgSendCall || ct.Symbol != want.symbol {
			t.Errorf("target %d = %s, want a msgSend through %s", i, ct, want.symbol)
			continue
		}
		if ct.Selref == nil || ct.Selref.Name != want.sel {
			t.Errorf("target %d selector = %v, want %s", i, ct.Selref, want.sel)
		}
	}
}

func TestMachOMethods(t *testing.T) {
	ba := openRunnerAnalyzer(t)

	for _, tt := range []struct {
		imp  uint64
		want string
	}{
		{0x100000820, "-[Runner run]"},
		{0x100000828, "+[Runner sharedRunner]"},
	} {
		mi, ok := ba.MethodForImp(tt.imp)
		if !ok {
			t.Errorf("MethodForImp(%#x) found nothing", tt.imp)
			continue
		}
		if got := mi.Name(); got != tt.want {
			t.Errorf("MethodForImp(%#x) = %s, want %s", tt.imp, got, tt.want)
		}
	}
}

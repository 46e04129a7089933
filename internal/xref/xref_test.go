package xref

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/objcflow/objcflow/internal/db"
	"github.com/objcflow/objcflow/internal/model"
	"github.com/objcflow/objcflow/pkg/analyzer"
	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/objcflow/objcflow/pkg/loader"
)

const (
	mainFunc   = 0x1000
	helperFunc = 0x1020
	runImp     = 0x1028
	strlenStub = 0x2000
	msgSend    = 0x2010
)

func newRunner(t *testing.T) *analyzer.BinaryAnalyzer {
	t.Helper()
	bin := &loader.Memory{
		Name: "runner",
		Code: []disass.Instruction{
			disass.Call(0x1000, helperFunc),
			disass.Call(0x1004, strlenStub),
			disass.PageLoad(0x1008, disass.X1, 0x3000),
			disass.LoadImm(0x100c, disass.X1, disass.X1, 8),
			disass.Call(0x1010, msgSend),
			disass.CondBranch(0x1014, "eq", 0x101c),
			disass.Other(0x1018, "nop"),
			disass.Return(0x101c),
			disass.Call(0x1020, strlenStub),
			disass.Return(0x1024),
			disass.Return(0x1028),
		},
		Starts: []uint64{mainFunc},
		Syms:   []loader.Symbol{{Name: "_main", Address: mainFunc}},
		Imported: []loader.Import{
			{Name: "_strlen", Address: strlenStub, Kind: loader.ImportStub},
			{Name: "_objc_msgSend", Address: msgSend, Kind: loader.ImportStub},
		},
		SelRefs: []loader.Selref{{Address: 0x3008, Target: 0x4000, Name: "run"}},
		Classes: []loader.ObjcClass{{
			Name:            "Runner",
			SuperClass:      "NSObject",
			InstanceMethods: []loader.ObjcMethod{{Name: "run", Imp: runImp}},
		}},
	}
	ba, err := analyzer.New(bin, nil)
	if err != nil {
		t.Fatalf("analyzer.New() error = %v", err)
	}
	return ba
}

func TestCallSites(t *testing.T) {
	ba := newRunner(t)
	sites, err := CallSites(ba, mainFunc)
	if err != nil {
		t.Fatalf("CallSites() error = %v", err)
	}
	want := []struct {
		addr uint64
		kind model.CallKind
		sel  string
	}{
		{0x1000, model.CallLocal, ""},
		{0x1004, model.CallC, ""},
		{0x1010, model.CallMsgSend, "run"},
		{0x1014, model.CallLocal, ""},
	}
	if len(sites) != len(want) {
		t.Fatalf("CallSites() returned %d sites, want %d", len(sites), len(want))
	}
	for i, w := range want {
		s := sites[i]
		if s.Address != w.addr || s.Kind != w.kind || s.Selector != w.sel {
			t.Errorf("site %d = %#x %s %q, want %#x %s %q", i, s.Address, s.Kind, s.Selector, w.addr, w.kind, w.sel)
		}
		if s.Caller != mainFunc || s.CallerName != "_main" || s.BinaryUUID != "runner" {
			t.Errorf("site %d caller = %#x %q in %q", i, s.Caller, s.CallerName, s.BinaryUUID)
		}
	}
}

func TestIndex(t *testing.T) {
	ba := newRunner(t)
	store, _ := db.NewInMemory("")

	ix := NewIndexer(ba, store, Config{Workers: 2, Progress: true, Output: io.Discard})
	b, err := ix.Index(context.Background())
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if b.Functions != 3 || b.CallSites != 5 {
		t.Errorf("Index() = %+v, want 3 functions and 5 call sites", b)
	}

	callers, _ := store.CallersOf("runner", strlenStub)
	if len(callers) != 2 || callers[0].Caller != mainFunc || callers[1].Caller != helperFunc {
		t.Errorf("CallersOf(_strlen) = %+v", callers)
	}
	senders, _ := store.SendersOf("runner", "run")
	if len(senders) != 1 || senders[0].Address != 0x1010 {
		t.Errorf("SendersOf(run) = %+v", senders)
	}

	// a second run replaces the index instead of duplicating it
	if _, err := ix.Index(context.Background()); err != nil {
		t.Fatalf("Index() again error = %v", err)
	}
	if all, _ := store.CallSites("runner"); len(all) != 5 {
		t.Errorf("CallSites() after reindex returned %d sites, want 5", len(all))
	}
	if _, err := ix.Ensure(context.Background()); err != nil {
		t.Errorf("Ensure() error = %v", err)
	}
}

func TestIndexCanceled(t *testing.T) {
	ba := newRunner(t)
	store, _ := db.NewInMemory("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewIndexer(ba, store, Config{}).Index(ctx); err == nil {
		t.Error("Index() with a canceled context should fail")
	}
}

func TestCallGraph(t *testing.T) {
	ba := newRunner(t)
	store, _ := db.NewInMemory("")
	if _, err := NewIndexer(ba, store, Config{}).Index(context.Background()); err != nil {
		t.Fatal(err)
	}
	sites, _ := store.CallSites("runner")

	cg, err := BuildCallGraph(ba, sites)
	if err != nil {
		t.Fatalf("BuildCallGraph() error = %v", err)
	}

	callees, err := cg.Callees(mainFunc)
	if err != nil {
		t.Fatalf("Callees() error = %v", err)
	}
	var addrs []uint64
	for _, n := range callees {
		addrs = append(addrs, n.Addr)
	}
	if want := []uint64{helperFunc, runImp, strlenStub}; !slices.Equal(addrs, want) {
		t.Errorf("Callees(main) = %#x, want %#x", addrs, want)
	}
	if !callees[2].External || callees[2].Name != "_strlen" {
		t.Errorf("import node = %+v", callees[2])
	}

	reach, err := cg.Reachable(helperFunc)
	if err != nil {
		t.Fatalf("Reachable() error = %v", err)
	}
	if !slices.Equal(reach, []uint64{helperFunc, strlenStub}) {
		t.Errorf("Reachable(helper) = %#x", reach)
	}

	sub, err := cg.Subgraph(helperFunc)
	if err != nil {
		t.Fatalf("Subgraph() error = %v", err)
	}
	if n, _ := sub.Order(); n != 2 {
		t.Errorf("Subgraph().Order() = %d, want 2", n)
	}

	var buf bytes.Buffer
	if err := cg.WriteDOT(&buf); err != nil {
		t.Fatalf("WriteDOT() error = %v", err)
	}
	for _, want := range []string{"digraph", "_main", "-[Runner run]", "dashed"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("WriteDOT() output missing %q\n%s", want, buf.String())
		}
	}
}

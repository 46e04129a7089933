package shell

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/objcflow/objcflow/pkg/analyzer"
	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/objcflow/objcflow/pkg/loader"
)

func newRunner(t *testing.T) *analyzer.BinaryAnalyzer {
	t.Helper()
	bin := &loader.Memory{
		Name: "runner",
		Code: []disass.Instruction{
			disass.Call(0x1000, 0x1020),
			disass.PageLoad(0x1004, disass.X1, 0x3000),
			disass.LoadImm(0x1008, disass.X1, disass.X1, 8),
			disass.Call(0x100c, 0x2010),
			disass.Return(0x1010),
			disass.Other(0x1014, "nop"),
			disass.Other(0x1018, "nop"),
			disass.Other(0x101c, "nop"),
			disass.Call(0x1020, 0x2000),
			disass.Return(0x1024),
			disass.Return(0x1028),
		},
		Starts:   []uint64{0x1000},
		Syms:     []loader.Symbol{{Name: "_main", Address: 0x1000}},
		Exported: []loader.Symbol{{Name: "_main", Address: 0x1000, External: true}},
		Imported: []loader.Import{
			{Name: "_strlen", Address: 0x2000, Kind: loader.ImportStub},
			{Name: "_objc_msgSend", Address: 0x2010, Kind: loader.ImportStub},
		},
		SelRefs: []loader.Selref{{Address: 0x3008, Target: 0x4000, Name: "run"}},
		Classes: []loader.ObjcClass{{
			Name:            "Runner",
			SuperClass:      "NSObject",
			InstanceMethods: []loader.ObjcMethod{{Name: "run", Imp: 0x1028}},
		}},
		Protocols: []loader.ObjcProtocol{{
			Name:            "Runnable",
			InstanceMethods: []loader.ObjcMethod{{Name: "run"}},
		}},
		Libraries:  []string{"/usr/lib/libobjc.A.dylib"},
		HeaderInfo: loader.Header{Magic: "64-bit MachO", CPU: "AARCH64", Type: "EXECUTE", UUID: "0D7E2A1C-0000-0000-0000-000000000000"},
	}
	ba, err := analyzer.New(bin, nil)
	if err != nil {
		t.Fatalf("analyzer.New() error = %v", err)
	}
	return ba
}

func run(t *testing.T, s *Shell, line string) (string, bool) {
	t.Helper()
	buf := s.out.(*bytes.Buffer)
	buf.Reset()
	quit := s.RunCommand(line)
	return buf.String(), quit
}

func TestRunCommandMessages(t *testing.T) {
	s := New(newRunner(t), &bytes.Buffer{}, false)

	tests := []struct {
		line string
		want string
		quit bool
	}{
		{"help", "Commands\n----------------\nhelp: List available commands\n", false},
		{"exit", "Quitting...\n", true},
		{"info", "No option provided\nRead binary information. info [all] [metadata] [segments]", false},
		{"info bogus", "Unknown argument supplied to info: bogus\n", false},
		{"sels", "Usage: sels [class]\n", false},
		{"sels Nope", "Unknown class 'Nope'. Run 'info classes' for a list of implemented classes.\n", false},
		{"disasm", "Usage: disasm [sel]\n", false},
		{"disasm nope", "Unknown selector 'nope'. Run 'info methods' for a list of selectors.\n", false},
		{"frobnicate now", "Unknown command: 'frobnicate'. Type 'help' for available commands.\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, quit := run(t, s, tt.line)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("RunCommand(%q) output = %q, want prefix %q", tt.line, got, tt.want)
			}
			if quit != tt.quit {
				t.Errorf("RunCommand(%q) quit = %v, want %v", tt.line, quit, tt.quit)
			}
		})
	}

	if got, quit := run(t, s, "   "); got != "" || quit {
		t.Errorf("RunCommand(blank) = %q, %v", got, quit)
	}
}

func TestInfoTopics(t *testing.T) {
	s := New(newRunner(t), &bytes.Buffer{}, false)

	tests := []struct {
		line string
		want []string
	}{
		{"info metadata", []string{"Binary metadata", "AARCH64", "0D7E2A1C", "runner"}},
		{"info segments sections", []string{"Segments", "__TEXT", "Sections", "__text"}},
		{"info loads", []string{"Load commands", "/usr/lib/libobjc.A.dylib"}},
		{"info classes", []string{"Runner : NSObject (1 selectors)"}},
		{"info protocols", []string{"Runnable", "-run"}},
		{"info methods", []string{"0x1028 -[Runner run]"}},
		{"info imports", []string{"_strlen", "_objc_msgSend", "stub"}},
		{"info exports", []string{"0x1000", "_main"}},
		{"info all", []string{"Binary metadata", "Exported symbols"}},
		{"info CLASSES", []string{"Runner"}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, _ := run(t, s, tt.line)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("RunCommand(%q) output missing %q:\n%s", tt.line, w, got)
				}
			}
		})
	}
}

func TestSelsAndDisasm(t *testing.T) {
	s := New(newRunner(t), &bytes.Buffer{}, false)

	got, _ := run(t, s, "sels Runner")
	if !strings.Contains(got, "0x1028 -[Runner run] (selref: 0x3008)") {
		t.Errorf("sels Runner = %q", got)
	}

	got, _ = run(t, s, "disasm run")
	if strings.Contains(got, "Unknown selector") || !strings.Contains(got, "ret") {
		t.Errorf("disasm run = %q", got)
	}
}

func TestRunNonInteractive(t *testing.T) {
	var out bytes.Buffer
	s := New(newRunner(t), &out, false)

	if err := s.Run(strings.NewReader("sels\nexit\ninfo classes\n"), false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := out.String()
	for _, w := range []string{Banner, "Auto-running 'info metadata segments sections loads'", "Usage: sels [class]", "Quitting...", Goodbye} {
		if !strings.Contains(got, w) {
			t.Errorf("Run() output missing %q", w)
		}
	}
	if strings.Contains(got, "Runner : NSObject") {
		t.Error("Run() kept reading after exit")
	}
}

func TestRunEndOfInput(t *testing.T) {
	var out bytes.Buffer
	s := New(newRunner(t), &out, false)
	if err := s.Run(strings.NewReader("help"), false); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.HasSuffix(out.String(), Goodbye+"\n") {
		t.Errorf("Run() should end with the goodbye line, got %q", out.String())
	}
}

func TestReport(t *testing.T) {
	ba := newRunner(t)

	r := NewReport(ba, "classes", "imports")
	if len(r.Classes) != 1 || len(r.Imports) != 2 {
		t.Fatalf("NewReport() = %+v", r)
	}
	if r.Segments != nil || r.Methods != nil {
		t.Error("NewReport() included topics that were not requested")
	}

	var buf bytes.Buffer
	if err := NewReport(ba).WriteJSON(&buf, false); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("WriteJSON() produced invalid JSON: %v", err)
	}
	for _, key := range []string{"path", "header", "classes", "methods", "exports"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("report is missing %q", key)
		}
	}
}

func TestPrintHeader(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()
	color.NoColor = true

	var buf bytes.Buffer
	PrintHeader(&buf, "/tmp/a.out", nil, nil)
	want := "objcflow - Mach-O analyzer\n/tmp/a.out\n" + strings.Repeat("-", len("objcflow - Mach-O analyzer")) + "\n"
	if buf.String() != want {
		t.Errorf("PrintHeader() = %q, want %q", buf.String(), want)
	}

	buf.Reset()
	fat := []loader.Slice{{Index: 0, CPU: "x86_64", Arch: "x86_64"}, {Index: 1, CPU: "AARCH64", Arch: "arm64"}}
	PrintHeader(&buf, "/tmp/fat", fat, &fat[1])
	for _, w := range []string{"Slices:\n", "\tx86_64 Mach-O slice #0\n", "\tarm64 Mach-O slice #1\n", "Reading arm64 slice\n"} {
		if !strings.Contains(buf.String(), w) {
			t.Errorf("PrintHeader() missing %q in %q", w, buf.String())
		}
	}
}

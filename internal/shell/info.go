// Package shell prints the info listings of an analyzed binary and runs the
// interactive objcflow shell on top of them.
package shell

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/dustin/go-humanize"
	"github.com/objcflow/objcflow/internal/colors"
	"github.com/objcflow/objcflow/internal/table"
	"github.com/objcflow/objcflow/pkg/analyzer"
	"github.com/objcflow/objcflow/pkg/loader"
)

// InfoTopics lists the arguments accepted by `info`, in the order `all` runs them.
var InfoTopics = []string{
	"all",
	"metadata",
	"segments",
	"sections",
	"loads",
	"classes",
	"protocols",
	"methods",
	"imports",
	"exports",
}

// Printer renders the info listings of one binary.
type Printer struct {
	w     io.Writer
	ba    *analyzer.BinaryAnalyzer
	color bool
}

func NewPrinter(w io.Writer, ba *analyzer.BinaryAnalyzer, color bool) *Printer {
	return &Printer{w: w, ba: ba, color: color}
}

func (p *Printer) bin() loader.Binary { return p.ba.Binary() }

func (p *Printer) table(headers ...string) *table.Table {
	t := table.New(headers...)
	if p.color {
		t.SetStyle(table.ColorStyle())
	}
	t.MaxCellWidth = max(table.TerminalWidth()/2, 40)
	return t
}

func (p *Printer) title(s string) {
	if p.color {
		s = colors.Bold().Sprint(s)
	}
	fmt.Fprintf(p.w, "\n%s\n", s)
}

func (p *Printer) class(s string) string {
	if p.color {
		return colors.Class().Sprint(s)
	}
	return s
}

func (p *Printer) selector(s string) string {
	if p.color {
		return colors.Selector().Sprint(s)
	}
	return s
}

func (p *Printer) addr(a uint64) string {
	if p.color {
		return colors.Address().Sprintf("%#x", a)
	}
	return fmt.Sprintf("%#x", a)
}

// Info prints a single topic. `all` prints every other topic.
func (p *Printer) Info(topic string) error {
	switch strings.ToLower(topic) {
	case "all":
		for _, t := range InfoTopics[1:] {
			if err := p.Info(t); err != nil {
				return err
			}
		}
		return nil
	case "metadata":
		p.Metadata()
	case "segments":
		p.Segments()
	case "sections":
		p.Sections()
	case "loads":
		p.Loads()
	case "classes":
		p.Classes()
	case "protocols":
		p.Protocols()
	case "methods":
		p.Methods()
	case "imports":
		p.Imports()
	case "exports":
		p.Exports()
	default:
		return fmt.Errorf("unknown argument supplied to info: %s", topic)
	}
	return nil
}

func (p *Printer) Metadata() {
	h := p.bin().Header()
	p.title("Binary metadata")
	t := p.table("Key", "Value")
	t.Append("Path", p.bin().Path())
	t.Append("Magic", h.Magic)
	t.Append("CPU", h.CPU)
	t.Append("Type", h.Type)
	t.Append("Flags", h.Flags)
	t.Append("Load commands", fmt.Sprintf("%d (%s)", h.NCommands, humanize.Bytes(uint64(h.SizeCommands))))
	if h.UUID != "" {
		t.Append("UUID", h.UUID)
	}
	if h.SourceVersion != "" {
		t.Append("Source version", h.SourceVersion)
	}
	if h.DylibID != "" {
		t.Append("Dylib ID", h.DylibID)
	}
	if entry, ok := p.bin().EntryPoint(); ok {
		t.Append("Entry point", fmt.Sprintf("%#x", entry))
	}
	t.Append("Functions", humanize.Comma(int64(len(p.ba.Functions()))))
	t.Append("ObjC classes", humanize.Comma(int64(len(p.ba.ObjcClasses()))))
	t.Append("Selector refs", humanize.Comma(int64(len(p.ba.Selrefs()))))
	fmt.Fprintln(p.w, t.Render())
}

func (p *Printer) Segments() {
	p.title("Segments")
	t := p.table("Name", "Address", "Size", "File offset", "File size", "Prot")
	for _, seg := range p.bin().Segments() {
		t.Append(seg.Name,
			fmt.Sprintf("%#x", seg.Addr),
			humanize.IBytes(seg.Size),
			fmt.Sprintf("%#x", seg.Offset),
			humanize.IBytes(seg.FileSize),
			seg.Prot)
	}
	fmt.Fprintln(p.w, t.Render())
}

func (p *Printer) Sections() {
	p.title("Sections")
	t := p.table("Segment", "Section", "Address", "Size", "Code")
	for _, sec := range p.bin().Sections() {
		code := ""
		if sec.Executable {
			code = "✓"
		}
		t.Append(sec.Segment, sec.Name, fmt.Sprintf("%#x", sec.Addr), humanize.IBytes(sec.Size), code)
	}
	fmt.Fprintln(p.w, t.Render())
}

func (p *Printer) Loads() {
	p.title("Load commands")
	t := p.table("#", "Command", "Description")
	for i, lc := range p.bin().LoadCommands() {
		t.Append(fmt.Sprintf("%d", i), lc.Command, lc.Description)
	}
	fmt.Fprintln(p.w, t.Render())
	if libs := p.bin().LinkedLibraries(); len(libs) > 0 {
		p.title("Linked libraries")
		for _, lib := range libs {
			fmt.Fprintf(p.w, "\t%s\n", lib)
		}
	}
}

func (p *Printer) Classes() {
	p.title("ObjC classes")
	for _, c := range p.ba.ObjcClasses() {
		line := p.class(c.DisplayName())
		if c.SuperClass != "" {
			line += " : " + c.SuperClass
		}
		fmt.Fprintf(p.w, "\t%s (%d selectors)\n", line, len(c.Selectors))
	}
}

func (p *Printer) Protocols() {
	p.title("ObjC protocols")
	for _, proto := range p.ba.Protocols() {
		line := p.class(proto.Name)
		if len(proto.Protocols) > 0 {
			line += " <" + strings.Join(proto.Protocols, ", ") + ">"
		}
		fmt.Fprintf(p.w, "\t%s\n", line)
		for _, sel := range proto.Selectors {
			fmt.Fprintf(p.w, "\t\t%s%s\n", sel.Kind.Prefix(), p.selector(sel.Name))
		}
	}
}

func (p *Printer) Methods() {
	p.title("ObjC methods")
	for _, mi := range p.ba.ObjcMethods() {
		fmt.Fprintf(p.w, "\t%s %s[%s %s]\n", p.addr(mi.Imp), mi.Kind.Prefix(), p.class(mi.Class.DisplayName()), p.selector(mi.Selector.Name))
	}
}

func (p *Printer) Imports() {
	p.title("Imported symbols")
	t := p.table("Address", "Kind", "Symbol")
	for _, imp := range p.ba.Imports() {
		t.Append(fmt.Sprintf("%#x", imp.Address), imp.Kind.String(), imp.Name)
	}
	fmt.Fprintln(p.w, t.Render())
}

func (p *Printer) Exports() {
	p.title("Exported symbols")
	t := p.table("Address", "Symbol")
	for _, exp := range p.ba.Exports() {
		t.Append(fmt.Sprintf("%#x", exp.Address), exp.Name)
	}
	fmt.Fprintln(p.w, t.Render())
}

// Selectors lists the selectors of the class (and its categories) named name.
func (p *Printer) Selectors(name string) error {
	var found []*analyzer.ObjcClass
	for _, c := range p.ba.ObjcClasses() {
		if c.Name == name || c.DisplayName() == name {
			found = append(found, c)
		}
	}
	if len(found) == 0 {
		return fmt.Errorf("unknown class '%s'. Run 'info classes' for a list of implemented classes", name)
	}
	for _, c := range found {
		for _, sel := range c.Selectors {
			ref := "selref: none"
			if sel.Selref != nil {
				ref = fmt.Sprintf("selref: %#x", sel.Selref.Address)
			}
			fmt.Fprintf(p.w, "%s%s[%s %s] (%s)\n", p.addr(sel.Imp)+" ", sel.Kind.Prefix(), p.class(c.DisplayName()), p.selector(sel.Name), ref)
		}
	}
	return nil
}

// Disasm prints an annotated listing of every implementation of sel.
func (p *Printer) Disasm(sel string) error {
	methods := p.ba.MethodsForSel(sel)
	if len(methods) == 0 {
		return fmt.Errorf("unknown selector '%s'. Run 'info methods' for a list of selectors", sel)
	}
	for i, mi := range methods {
		if i > 0 {
			fmt.Fprintln(p.w)
		}
		fa, err := p.ba.FunctionForMethod(mi)
		if err != nil {
			return fmt.Errorf("failed to analyze %s: %v", mi.Name(), err)
		}
		if err := fa.Disassemble(p.w, p.color); err != nil {
			return err
		}
	}
	return nil
}

// Report is the JSON form of the info listings.
type Report struct {
	Path      string                `json:"path"`
	Header    loader.Header         `json:"header"`
	Segments  []loader.Segment      `json:"segments"`
	Sections  []loader.Section      `json:"sections"`
	Loads     []loader.LoadCommand  `json:"loads,omitempty"`
	Libraries []string              `json:"libraries,omitempty"`
	Classes   []*analyzer.ObjcClass `json:"classes,omitempty"`
	Protocols []*analyzer.ObjcClass `json:"protocols,omitempty"`
	Methods   []MethodReport        `json:"methods,omitempty"`
	Imports   []loader.Import       `json:"imports,omitempty"`
	Exports   []loader.Symbol       `json:"exports,omitempty"`
}

type MethodReport struct {
	Name string `json:"name"`
	Imp  uint64 `json:"imp"`
}

// NewReport collects the requested topics.
func NewReport(ba *analyzer.BinaryAnalyzer, topics ...string) *Report {
	want := func(t string) bool {
		return len(topics) == 0 || slices.Contains(topics, "all") || slices.Contains(topics, t)
	}
	bin := ba.Binary()
	r := &Report{Path: bin.Path()}
	if want("metadata") {
		r.Header = bin.Header()
	}
	if want("segments") {
		r.Segments = bin.Segments()
	}
	if want("sections") {
		r.Sections = bin.Sections()
	}
	if want("loads") {
		r.Loads = bin.LoadCommands()
		r.Libraries = bin.LinkedLibraries()
	}
	if want("classes") {
		r.Classes = ba.ObjcClasses()
	}
	if want("protocols") {
		r.Protocols = ba.Protocols()
	}
	if want("methods") {
		for _, mi := range ba.ObjcMethods() {
			r.Methods = append(r.Methods, MethodReport{Name: mi.Name(), Imp: mi.Imp})
		}
	}
	if want("imports") {
		r.Imports = ba.Imports()
	}
	if want("exports") {
		r.Exports = ba.Exports()
	}
	return r
}

// WriteJSON writes the report, highlighted when color is set.
func (r *Report) WriteJSON(w io.Writer, color bool) error {
	dat, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal info: %v", err)
	}
	if color {
		return quick.Highlight(w, string(dat)+"\n", "json", "terminal256", "nord")
	}
	_, err = fmt.Fprintln(w, string(dat))
	return err
}

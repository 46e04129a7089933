package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/objcflow/objcflow/internal/colors"
	"github.com/objcflow/objcflow/pkg/analyzer"
	"github.com/objcflow/objcflow/pkg/loader"
)

const (
	Prompt  = "objcflow$ "
	Banner  = "objcflow interactive shell\nType 'help' for available commands."
	Goodbye = "May your arms be beefy and your binaries unencrypted"
	// AutoRun is executed when the shell starts.
	AutoRun = "info metadata segments sections loads"
)

// Command is a single shell verb.
type Command struct {
	Name        string
	Description string
	run         func(s *Shell, args []string) bool
}

// Shell is the interactive command loop over one analyzed binary.
type Shell struct {
	out      io.Writer
	printer  *Printer
	commands []Command
}

func New(ba *analyzer.BinaryAnalyzer, out io.Writer, color bool) *Shell {
	s := &Shell{out: out, printer: NewPrinter(out, ba, color)}
	s.commands = []Command{
		{"help", "List available commands", (*Shell).help},
		{"exit", "Quit interactive shell", (*Shell).exit},
		{"info", "Read binary information. info [" + strings.Join(InfoTopics, "] [") + "]", (*Shell).info},
		{"sels", "List selectors implemented by a class. sels [class]", (*Shell).sels},
		{"disasm", "Decompile a given selector. disasm [sel]", (*Shell).disasm},
	}
	return s
}

func (s *Shell) Commands() []Command { return s.commands }

// RunCommand executes one line of input and reports whether the shell should exit.
func (s *Shell) RunCommand(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	idx := slices.IndexFunc(s.commands, func(c Command) bool { return c.Name == fields[0] })
	if idx < 0 {
		fmt.Fprintf(s.out, "Unknown command: '%s'. Type 'help' for available commands.\n", fields[0])
		return false
	}
	return s.commands[idx].run(s, fields[1:])
}

func (s *Shell) help(args []string) bool {
	fmt.Fprintln(s.out, "Commands")
	fmt.Fprintln(s.out, "----------------")
	for _, c := range s.commands {
		fmt.Fprintf(s.out, "%s: %s\n", c.Name, c.Description)
	}
	return false
}

func (s *Shell) exit(args []string) bool {
	fmt.Fprintln(s.out, "Quitting...")
	return true
}

func (s *Shell) info(args []string) bool {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "No option provided")
		fmt.Fprintln(s.out, s.commands[2].Description)
		return false
	}
	for _, arg := range args {
		if !slices.Contains(InfoTopics, strings.ToLower(arg)) {
			fmt.Fprintf(s.out, "Unknown argument supplied to info: %s\n", arg)
			continue
		}
		if err := s.printer.Info(arg); err != nil {
			fmt.Fprintln(s.out, err)
		}
	}
	return false
}

func (s *Shell) sels(args []string) bool {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: sels [class]")
		return false
	}
	if err := s.printer.Selectors(args[0]); err != nil {
		fmt.Fprintf(s.out, "Unknown class '%s'. Run 'info classes' for a list of implemented classes.\n", args[0])
	}
	return false
}

func (s *Shell) disasm(args []string) bool {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "Usage: disasm [sel]")
		return false
	}
	if err := s.printer.Disasm(args[0]); err != nil {
		if len(s.printer.ba.MethodsForSel(args[0])) == 0 {
			fmt.Fprintf(s.out, "Unknown selector '%s'. Run 'info methods' for a list of selectors.\n", args[0])
		} else {
			fmt.Fprintln(s.out, err)
		}
	}
	return false
}

// Run reads commands until exit or end of input. With interactive set the
// prompt is drawn with survey, otherwise lines are read from in as-is.
func (s *Shell) Run(in io.Reader, interactive bool) error {
	fmt.Fprintln(s.out, Banner)
	fmt.Fprintf(s.out, "Auto-running '%s'\n", AutoRun)
	s.RunCommand(AutoRun)

	defer fmt.Fprintln(s.out, Goodbye)

	if interactive {
		for {
			var line string
			if err := survey.AskOne(&survey.Input{Message: strings.TrimSpace(Prompt)}, &line); err != nil {
				if errors.Is(err, terminal.InterruptErr) || errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			if s.RunCommand(line) {
				return nil
			}
		}
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, Prompt)
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		if s.RunCommand(scanner.Text()) {
			return nil
		}
	}
}

// PrintHeader writes the file banner and, for universal files, the slice list.
func PrintHeader(w io.Writer, path string, fat []loader.Slice, picked *loader.Slice) {
	lines := []string{"objcflow - Mach-O analyzer", path}
	width := 0
	for _, l := range lines {
		width = max(width, len(l))
	}
	title := lines[0]
	if colors.Enabled() {
		title = colors.Bold().Sprint(title)
	}
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, path)
	fmt.Fprintln(w, strings.Repeat("-", width))

	if len(fat) == 0 {
		return
	}
	fmt.Fprintln(w, "Slices:")
	for _, sl := range fat {
		fmt.Fprintf(w, "\t%s Mach-O slice #%d\n", sl.Arch, sl.Index)
	}
	if picked != nil {
		fmt.Fprintf(w, "Reading %s slice\n", picked.Arch)
	}
}

// Package table renders the info listings as aligned text tables.
package table

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// TerminalWidth returns the width of stdout, or 120 when it is not a terminal.
func TerminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 120
}

// Style defines the visual styling for tables
type Style struct {
	Header    lipgloss.Style
	Cell      lipgloss.Style
	Separator string
}

// PlainStyle is a table with no colors
func PlainStyle() Style {
	return Style{
		Header:    lipgloss.NewStyle().Bold(true).PaddingLeft(1).PaddingRight(1),
		Cell:      lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1),
		Separator: "|",
	}
}

// ColorStyle highlights the header row
func ColorStyle() Style {
	s := PlainStyle()
	s.Header = s.Header.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	return s
}

// Table is a simple lipgloss table
type Table struct {
	headers []string
	rows    [][]string
	style   Style
	align   []lipgloss.Position
	// MaxCellWidth truncates cells wider than this (0 disables truncation).
	MaxCellWidth int
}

func New(headers ...string) *Table {
	t := &Table{style: PlainStyle()}
	t.SetHeaders(headers...)
	return t
}

func (t *Table) SetHeaders(headers ...string) {
	t.headers = headers
	t.align = make([]lipgloss.Position, len(headers))
	for i := range t.align {
		t.align[i] = lipgloss.Left
	}
}

// SetColumnAlignment aligns a single column
func (t *Table) SetColumnAlignment(col int, align lipgloss.Position) {
	if col >= 0 && col < len(t.align) {
		t.align[col] = align
	}
}

func (t *Table) SetStyle(style Style) { t.style = style }

func (t *Table) Append(row ...string) { t.rows = append(t.rows, row) }

func (t *Table) Rows() int { return len(t.rows) }

func (t *Table) cell(s string) string {
	if t.MaxCellWidth > 3 && lipgloss.Width(s) > t.MaxCellWidth {
		return string([]rune(s)[:t.MaxCellWidth-3]) + "..."
	}
	return s
}

func (t *Table) widths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		cols = max(cols, len(row))
	}
	widths := make([]int, cols)
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(t.cell(c)))
		}
	}
	for i := range widths {
		widths[i] += 2 // padding
	}
	return widths
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	style := t.style.Cell
	if header {
		style = t.style.Header
	}
	cells := make([]string, len(widths))
	for i := range widths {
		var c string
		if i < len(row) {
			c = t.cell(row[i])
		}
		align := lipgloss.Left
		if i < len(t.align) {
			align = t.align[i]
		}
		cells[i] = style.Width(widths[i]).Align(align).Render(c)
	}
	return strings.TrimRight(strings.Join(cells, t.style.Separator), " ")
}

// Render generates the complete table as a string
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}
	widths := t.widths()

	var out strings.Builder
	if len(t.headers) > 0 {
		out.WriteString(t.renderRow(t.headers, widths, true))
		out.WriteString("\n")
		seps := make([]string, len(widths))
		for i, w := range widths {
			seps[i] = strings.Repeat("-", w)
		}
		out.WriteString(strings.Join(seps, "+"))
		out.WriteString("\n")
	}
	for _, row := range t.rows {
		out.WriteString(t.renderRow(row, widths, false))
		out.WriteString("\n")
	}
	return strings.TrimRight(out.String(), "\n")
}

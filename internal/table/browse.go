package table

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Browser is an interactive, filterable view over a table.
type Browser struct {
	title    string
	headers  []string
	all      [][]string
	shown    [][]string
	filter   string
	editing  bool
	selected []string
	model    table.Model
}

// NewBrowser creates the bubbletea model backing `--browse`.
func NewBrowser(title string, headers []string, rows [][]string) *Browser {
	height := 20
	if _, h, err := term.GetSize(0); err == nil {
		height = max(h-7, 5)
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))

	b := &Browser{
		title:   title,
		headers: headers,
		all:     rows,
		model: table.New(
			table.WithFocused(true),
			table.WithHeight(height),
		),
	}
	b.model.SetStyles(styles)
	b.setRows(rows)
	return b
}

func (b *Browser) setRows(rows [][]string) {
	b.shown = rows
	cols := make([]table.Column, len(b.headers))
	for i, h := range b.headers {
		w := len(h)
		for _, row := range rows {
			if i < len(row) {
				w = max(w, len(row[i]))
			}
		}
		cols[i] = table.Column{Title: h, Width: min(max(w, 8), 60)}
	}
	trs := make([]table.Row, len(rows))
	for i, row := range rows {
		trs[i] = table.Row(row)
	}
	b.model.SetRows(nil)
	b.model.SetColumns(cols)
	b.model.SetRows(trs)
}

func (b *Browser) applyFilter() {
	if b.filter == "" {
		b.setRows(b.all)
		return
	}
	needle := strings.ToLower(b.filter)
	var rows [][]string
	for _, row := range b.all {
		for _, c := range row {
			if strings.Contains(strings.ToLower(c), needle) {
				rows = append(rows, row)
				break
			}
		}
	}
	b.setRows(rows)
}

// Selected returns the row picked with enter, if any.
func (b *Browser) Selected() []string { return b.selected }

func (b *Browser) Init() tea.Cmd { return nil }

func (b *Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return b, nil
	}
	if b.editing {
		switch key.String() {
		case "enter":
			b.editing = false
		case "esc":
			b.editing = false
			b.filter = ""
			b.applyFilter()
		case "backspace":
			if len(b.filter) > 0 {
				b.filter = b.filter[:len(b.filter)-1]
				b.applyFilter()
			}
		case "ctrl+c":
			return b, tea.Quit
		default:
			if len(key.Runes) > 0 {
				b.filter += string(key.Runes)
				b.applyFilter()
			}
		}
		return b, nil
	}
	switch key.String() {
	case "ctrl+c", "q":
		return b, tea.Quit
	case "/":
		b.editing = true
		return b, nil
	case "esc":
		b.filter = ""
		b.applyFilter()
		return b, nil
	case "enter":
		if row := b.model.SelectedRow(); row != nil {
			b.selected = row
		}
		return b, tea.Quit
	}
	var cmd tea.Cmd
	b.model, cmd = b.model.Update(msg)
	return b, cmd
}

func (b *Browser) View() string {
	var out strings.Builder
	title := b.title
	if b.filter != "" {
		title += fmt.Sprintf(" (filtered: %d/%d)", len(b.shown), len(b.all))
	}
	out.WriteString(title + "\n\n")
	out.WriteString(b.model.View() + "\n")

	help := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	if b.editing {
		out.WriteString("\n" + lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Render("Filter: /"+b.filter) + "\n")
		out.WriteString(help.Render("enter: apply • esc: cancel • ctrl+c: quit"))
	} else {
		out.WriteString(help.Render("↑/↓: navigate • /: filter • enter: select • q: quit"))
	}
	return out.String()
}

// Browse runs the browser until the user quits and returns the selected row.
func Browse(title string, headers []string, rows [][]string) ([]string, error) {
	b := NewBrowser(title, headers, rows)
	if _, err := tea.NewProgram(b).Run(); err != nil {
		return nil, fmt.Errorf("failed to run table browser: %v", err)
	}
	return b.Selected(), nil
}

package table

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func TestRender(t *testing.T) {
	tbl := New("Address", "Symbol")
	tbl.Append("0x1000067a8", "_objc_msgSend")
	tbl.Append("0x100006760", "_SecTrustEvaluate")

	lines := strings.Split(tbl.Render(), "\n")
	if len(lines) != 4 {
		t.Fatalf("Render() produced %d lines, want 4:\n%s", len(lines), tbl.Render())
	}
	if !strings.Contains(lines[0], "Address") || !strings.Contains(lines[0], "Symbol") {
		t.Errorf("header = %q", lines[0])
	}
	if strings.Trim(lines[1], "-+") != "" {
		t.Errorf("separator = %q", lines[1])
	}
	if !strings.Contains(lines[3], "_SecTrustEvaluate") {
		t.Errorf("last row = %q", lines[3])
	}
	// columns line up
	if strings.Index(lines[2], "_objc_msgSend") != strings.Index(lines[3], "_SecTrustEvaluate") {
		t.Errorf("columns are not aligned:\n%s", tbl.Render())
	}
}

func TestRenderEmpty(t *testing.T) {
	if got := New().Render(); got != "" {
		t.Errorf("Render() = %q, want empty", got)
	}
}

func TestTruncate(t *testing.T) {
	tbl := New("Name")
	tbl.MaxCellWidth = 10
	tbl.Append("URLSession:didReceiveChallenge:completionHandler:")
	out := tbl.Render()
	if !strings.Contains(out, "URLSess...") {
		t.Errorf("Render() = %q, want truncated cell", out)
	}
}

func TestRightAlign(t *testing.T) {
	tbl := New("Size")
	tbl.SetColumnAlignment(0, lipgloss.Right)
	tbl.Append("1")
	tbl.Append("1000")
	lines := strings.Split(tbl.Render(), "\n")
	if !strings.HasSuffix(lines[2], "1 ") && !strings.HasSuffix(lines[2], "1") {
		t.Errorf("row = %q", lines[2])
	}
	if strings.Index(lines[2], "1") <= strings.Index(lines[3], "1") {
		t.Errorf("column is not right aligned:\n%s", tbl.Render())
	}
}

func TestBrowserFilter(t *testing.T) {
	rows := [][]string{
		{"0x100006420", "-[TrustDelegate URLSession:didReceiveChallenge:completionHandler:]"},
		{"0x100006490", "+[TrustDelegate sharedInstance]"},
	}
	b := NewBrowser("Methods", []string{"Address", "Method"}, rows)

	b.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'/'}})
	for _, r := range "shared" {
		b.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	if len(b.shown) != 1 || b.shown[0][0] != "0x100006490" {
		t.Fatalf("filtered rows = %v", b.shown)
	}
	if !strings.Contains(b.View(), "filtered: 1/2") {
		t.Errorf("View() does not show the filter:\n%s", b.View())
	}

	b.Update(tea.KeyMsg{Type: tea.KeyEnter})
	_, cmd := b.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Error("enter should quit the browser")
	}
	if sel := b.Selected(); len(sel) != 2 || sel[0] != "0x100006490" {
		t.Errorf("Selected() = %v", sel)
	}
}

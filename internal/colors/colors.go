// Package colors provides the terminal palette shared by the listings and
// the shell. Colors are disabled automatically when stdout is not a TTY and
// can be forced either way with Init.
package colors

import "github.com/fatih/color"

// Init overrides the auto-detected color setting when forceColor is non-nil.
func Init(forceColor *bool) {
	if forceColor != nil {
		color.NoColor = !*forceColor
	}
}

// Enabled returns true if colors are currently enabled.
func Enabled() bool {
	return !color.NoColor
}

func Bold() *color.Color        { return color.New(color.Bold) }
func Faint() *color.Color       { return color.New(color.Faint) }
func FaintWhite() *color.Color  { return color.New(color.Faint, color.FgWhite) }
func HiYellow() *color.Color    { return color.New(color.FgHiYellow) }
func HiGreen() *color.Color     { return color.New(color.FgHiGreen) }
func HiBlue() *color.Color      { return color.New(color.FgHiBlue) }
func BoldMagenta() *color.Color { return color.New(color.Bold, color.FgMagenta) }
func BoldHiBlue() *color.Color  { return color.New(color.Bold, color.FgHiBlue) }
func BoldHiCyan() *color.Color  { return color.New(color.Bold, color.FgHiCyan) }
func BoldHiRed() *color.Color   { return color.New(color.Bold, color.FgHiRed) }

// Class names, selectors and imported symbols get the same colors
// everywhere they are printed.
func Class() *color.Color    { return BoldHiCyan() }
func Selector() *color.Color { return HiGreen() }
func Import() *color.Color   { return HiYellow() }
func Address() *color.Color  { return BoldMagenta() }

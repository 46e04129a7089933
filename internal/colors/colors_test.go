package colors

import (
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestInitForcesSetting(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	color.NoColor = true
	on := true
	Init(&on)
	if !Enabled() {
		t.Error("expected colors enabled after Init(true)")
	}

	off := false
	Init(&off)
	if Enabled() {
		t.Error("expected colors disabled after Init(false)")
	}
}

func TestInitNilKeepsExisting(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	for _, noColor := range []bool{true, false} {
		color.NoColor = noColor
		Init(nil)
		if color.NoColor != noColor {
			t.Errorf("Init(nil) changed NoColor from %v", noColor)
		}
	}
}

func TestPaletteRespectsNoColor(t *testing.T) {
	orig := color.NoColor
	defer func() { color.NoColor = orig }()

	color.NoColor = true
	if got := Class().Sprint("NSObject"); got != "NSObject" {
		t.Errorf("Class().Sprint() = %q, want plain text", got)
	}

	color.NoColor = false
	got := Selector().Sprint("init")
	if !strings.Contains(got, "\x1b[") || !strings.Contains(got, "init") {
		t.Errorf("Selector().Sprint() = %q, want ANSI escape around text", got)
	}
}

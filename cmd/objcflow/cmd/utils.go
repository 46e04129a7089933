/*
Copyright © 2018-2023 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/apex/log"
	"github.com/objcflow/objcflow/internal/colors"
	"github.com/objcflow/objcflow/internal/config"
	"github.com/objcflow/objcflow/internal/magic"
	"github.com/objcflow/objcflow/pkg/analyzer"
	"github.com/objcflow/objcflow/pkg/loader"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// target is an opened and analyzed MachO.
type target struct {
	path   string
	fat    []loader.Slice
	picked *loader.Slice
	conf   *config.Config
	m      *loader.MachO
	ba     *analyzer.BinaryAnalyzer
}

func (t *target) Close() error { return t.m.Close() }

func setup() {
	if viper.GetBool("verbose") {
		log.SetLevel(log.DebugLevel)
	}
	if viper.IsSet("color") {
		c := viper.GetBool("color")
		colors.Init(&c)
	}
}

func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func selectSlice(slices []loader.Slice) (string, error) {
	var options []string
	for _, s := range slices {
		options = append(options, s.Arch)
	}
	choice := 0
	prompt := &survey.Select{
		Message: "Detected a universal MachO file, please select an architecture to analyze:",
		Options: options,
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			log.Warn("Exiting...")
			os.Exit(0)
		}
		return "", err
	}
	return slices[choice].Arch, nil
}

// openTarget opens the MachO at path and builds its analyzer. Universal files
// with several arm64 slices prompt for one when attached to a terminal.
func openTarget(path string) (*target, error) {
	path = filepath.Clean(path)

	if ok, err := magic.IsMachO(path); !ok {
		return nil, fmt.Errorf("%s is not a MachO file: %v", path, err)
	}

	conf, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if viper.GetBool("no-demangle") {
		conf.Analysis.Demangle = false
	}

	fat, err := loader.Slices(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read slices of %s: %v", path, err)
	}

	arch := viper.GetString("arch")
	m, err := loader.Open(path, arch)
	var ambiguous *loader.ErrAmbiguousSlice
	if errors.As(err, &ambiguous) && isInteractive() {
		if arch, err = selectSlice(ambiguous.Slices); err != nil {
			return nil, err
		}
		m, err = loader.Open(path, arch)
	}
	if err != nil {
		return nil, err
	}

	t := &target{path: path, fat: fat, conf: conf, m: m}
	if len(fat) > 0 {
		if idx, err := loader.PickSlice(fat, arch); err == nil {
			t.picked = &fat[idx]
		}
	}

	log.WithField("path", path).Debug("Analyzing MachO")
	t.ba, err = analyzer.New(m, conf.Analyzer())
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("failed to analyze %s: %v", path, err)
	}
	return t, nil
}

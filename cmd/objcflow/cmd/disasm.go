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
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/objcflow/objcflow/internal/colors"
	"github.com/objcflow/objcflow/internal/shell"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(disasmCmd)
	disasmCmd.Flags().Uint64P("vaddr", "a", 0, "Disassemble the function containing this virtual address")
	viper.BindPFlag("disasm.vaddr", disasmCmd.Flags().Lookup("vaddr"))
	disasmCmd.MarkZshCompPositionalArgumentFile(1)
}

// disasmCmd represents the disasm command
var disasmCmd = &cobra.Command{
	Use:   "disasm <MACHO> [SELECTOR]",
	Short: "Disassemble every implementation of a selector",
	Example: heredoc.Doc(`
		# Disassemble every implementation of a selector with resolved call targets
		❯ objcflow disasm Example.app/Example URLSession:didReceiveChallenge:completionHandler:

		# Disassemble the function containing an address
		❯ objcflow disasm Example.app/Example --vaddr 0x100006420`),
	Args:          cobra.RangeArgs(1, 2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		addr := viper.GetUint64("disasm.vaddr")
		if addr == 0 && len(args) < 2 {
			return fmt.Errorf("you must supply a SELECTOR or --vaddr")
		}

		t, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer t.Close()

		if addr != 0 {
			fa, err := t.ba.FunctionAt(addr)
			if err != nil {
				return fmt.Errorf("failed to analyze function at %#x: %v", addr, err)
			}
			return fa.Disassemble(os.Stdout, colors.Enabled())
		}

		return shell.NewPrinter(os.Stdout, t.ba, colors.Enabled()).Disasm(args[1])
	},
}

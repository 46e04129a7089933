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
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/objcflow/objcflow/internal/colors"
	"github.com/objcflow/objcflow/internal/shell"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(selsCmd)
	selsCmd.MarkZshCompPositionalArgumentFile(1)
}

// selsCmd represents the sels command
var selsCmd = &cobra.Command{
	Use:   "sels <MACHO> <CLASS>",
	Short: "List selectors implemented by a class",
	Example: heredoc.Doc(`
		# List the selectors of a class and its categories
		❯ objcflow sels Example.app/Example AppDelegate`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		t, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer t.Close()

		return shell.NewPrinter(os.Stdout, t.ba, colors.Enabled()).Selectors(args[1])
	},
}

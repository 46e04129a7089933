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
	rootCmd.AddCommand(shellCmd)
	shellCmd.MarkZshCompPositionalArgumentFile(1)
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell <MACHO>",
	Short: "Explore a MachO in an interactive shell",
	Example: heredoc.Doc(`
		# Start the shell (type 'help' for the available commands)
		❯ objcflow shell Example.app/Example
		objcflow$ sels AppDelegate`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		t, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer t.Close()

		shell.PrintHeader(os.Stdout, t.path, t.fat, t.picked)

		return shell.New(t.ba, os.Stdout, colors.Enabled()).Run(os.Stdin, isInteractive())
	},
}

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
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/objcflow/objcflow/internal/colors"
	"github.com/objcflow/objcflow/internal/shell"
	"github.com/objcflow/objcflow/internal/table"
	"github.com/objcflow/objcflow/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolP("all", "a", false, "Print every listing")
	infoCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	infoCmd.Flags().BoolP("browse", "b", false, "Browse the ObjC methods and disassemble the selected one")
	viper.BindPFlag("info.all", infoCmd.Flags().Lookup("all"))
	viper.BindPFlag("info.json", infoCmd.Flags().Lookup("json"))
	viper.BindPFlag("info.browse", infoCmd.Flags().Lookup("browse"))

	infoCmd.MarkZshCompPositionalArgumentFile(1)
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <MACHO> [TOPIC...]",
	Short: "Read binary information",
	Long:  fmt.Sprintf("Read binary information.\n\nTopics: %s", strings.Join(shell.InfoTopics, ", ")),
	Example: heredoc.Doc(`
		# Print the header, segments, sections and load commands
		❯ objcflow info Example.app/Example

		# List the implemented ObjC classes and their methods
		❯ objcflow info Example.app/Example classes methods

		# Dump everything as JSON
		❯ objcflow info Example.app/Example --all --json`),
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) == 0 {
			return nil, cobra.ShellCompDirectiveDefault
		}
		return shell.InfoTopics, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		var topics []string
		for _, topic := range args[1:] {
			if !utils.StrSliceHas(shell.InfoTopics, topic) {
				return fmt.Errorf("unknown argument supplied to info: %s (expected one of: %s)", topic, strings.Join(shell.InfoTopics, ", "))
			}
			topics = append(topics, strings.ToLower(topic))
		}
		topics = utils.Unique(topics)
		if viper.GetBool("info.all") {
			topics = []string{"all"}
		} else if len(topics) == 0 {
			topics = strings.Fields(shell.AutoRun)[1:]
		}

		t, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer t.Close()

		if viper.GetBool("info.json") {
			return shell.NewReport(t.ba, topics...).WriteJSON(os.Stdout, colors.Enabled())
		}

		if viper.GetBool("info.browse") {
			var rows [][]string
			for _, mi := range t.ba.ObjcMethods() {
				rows = append(rows, []string{fmt.Sprintf("%#x", mi.Imp), mi.Name()})
			}
			if len(rows) == 0 {
				log.Warn("No ObjC methods found")
				return nil
			}
			selected, err := table.Browse("ObjC methods", []string{"Address", "Method"}, rows)
			if err != nil {
				return err
			}
			if selected == nil {
				return nil
			}
			addr, err := utils.ConvertStrToInt(selected[0])
			if err != nil {
				return err
			}
			fa, err := t.ba.FunctionAt(addr)
			if err != nil {
				return fmt.Errorf("failed to analyze %s: %v", selected[1], err)
			}
			return fa.Disassemble(os.Stdout, colors.Enabled())
		}

		p := shell.NewPrinter(os.Stdout, t.ba, colors.Enabled())
		for _, topic := range topics {
			if err := p.Info(topic); err != nil {
				return err
			}
		}
		return nil
	},
}

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
	"context"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/objcflow/objcflow/internal/colors"
	"github.com/objcflow/objcflow/internal/db"
	"github.com/objcflow/objcflow/internal/utils"
	"github.com/objcflow/objcflow/internal/xref"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(callgraphCmd)
	callgraphCmd.Flags().Uint64P("from", "f", 0, "Only keep the functions reachable from this address")
	callgraphCmd.Flags().StringP("dot", "d", "", "Write the graph in Graphviz DOT format to this file ('-' for stdout)")
	viper.BindPFlag("callgraph.from", callgraphCmd.Flags().Lookup("from"))
	viper.BindPFlag("callgraph.dot", callgraphCmd.Flags().Lookup("dot"))
	callgraphCmd.MarkZshCompPositionalArgumentFile(1)
}

// callgraphCmd represents the callgraph command
var callgraphCmd = &cobra.Command{
	Use:   "callgraph <MACHO>",
	Short: "Build the call graph of a MachO",
	Example: heredoc.Doc(`
		# Print every function with its callees
		❯ objcflow callgraph Example.app/Example

		# Render what main can reach
		❯ objcflow callgraph Example.app/Example --from 0x100004000 --dot - | dot -Tsvg > main.svg`),
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

		store, err := db.NewInMemory("")
		if err != nil {
			return err
		}
		defer store.Close()

		log.Info("Indexing call sites")
		ix := xref.NewIndexer(t.ba, store, xref.Config{})
		if _, err := ix.Index(context.Background()); err != nil {
			return err
		}
		sites, err := store.CallSites(xref.Key(t.ba))
		if err != nil {
			return err
		}

		cg, err := xref.BuildCallGraph(t.ba, sites)
		if err != nil {
			return fmt.Errorf("failed to build call graph: %v", err)
		}
		roots := t.ba.Functions()
		if from := viper.GetUint64("callgraph.from"); from != 0 {
			if cg, err = cg.Subgraph(from); err != nil {
				return fmt.Errorf("failed to walk call graph from %#x: %v", from, err)
			}
			if roots, err = cg.Reachable(from); err != nil {
				return err
			}
		}

		if out := viper.GetString("callgraph.dot"); out != "" {
			if out == "-" {
				return cg.WriteDOT(os.Stdout)
			}
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("failed to create %s: %v", out, err)
			}
			defer f.Close()
			if err := cg.WriteDOT(f); err != nil {
				return err
			}
			log.Infof("Created %s", out)
			return nil
		}

		for _, addr := range roots {
			n, err := cg.Vertex(addr)
			if err != nil || n.External {
				continue
			}
			callees, err := cg.Callees(addr)
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", colors.Address().Sprintf("%#x", n.Addr), n.Name)
			for _, c := range callees {
				name := c.Name
				if c.External {
					name = colors.Import().Sprint(name)
				}
				fmt.Printf("%s-> %s\n", utils.Pad(4), name)
			}
		}
		return nil
	},
}

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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/caarlos0/ctrlc"
	"github.com/objcflow/objcflow/internal/colors"
	"github.com/objcflow/objcflow/internal/db"
	"github.com/objcflow/objcflow/internal/model"
	"github.com/objcflow/objcflow/internal/table"
	"github.com/objcflow/objcflow/internal/xref"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

func init() {
	rootCmd.AddCommand(xrefCmd)
	xrefCmd.Flags().Uint64P("addr", "a", 0, "List the call sites targeting this address")
	xrefCmd.Flags().StringP("sel", "s", "", "List the objc_msgSend call sites sending this selector")
	xrefCmd.Flags().StringP("database", "d", "", "Index database (.db for SQLite, .gob for a snapshot file; default is in-memory)")
	xrefCmd.Flags().BoolP("reindex", "r", false, "Rebuild the index even if the database already has it")
	xrefCmd.Flags().IntP("workers", "w", 0, "Number of functions analyzed concurrently (default GOMAXPROCS)")
	viper.BindPFlag("xref.addr", xrefCmd.Flags().Lookup("addr"))
	viper.BindPFlag("xref.sel", xrefCmd.Flags().Lookup("sel"))
	viper.BindPFlag("xref.database", xrefCmd.Flags().Lookup("database"))
	viper.BindPFlag("xref.reindex", xrefCmd.Flags().Lookup("reindex"))
	viper.BindPFlag("xref.workers", xrefCmd.Flags().Lookup("workers"))
	xrefCmd.MarkFlagsMutuallyExclusive("addr", "sel")
	xrefCmd.MarkFlagsOneRequired("addr", "sel")
	xrefCmd.MarkZshCompPositionalArgumentFile(1)
}

func openDatabase(path string, batchSize int) (db.Database, error) {
	var (
		d   db.Database
		err error
	)
	switch filepath.Ext(path) {
	case "", ".gob":
		d, err = db.NewInMemory(path)
	default:
		d, err = db.NewSqlite(path, batchSize)
	}
	if err != nil {
		return nil, err
	}
	if err := d.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %v", path, err)
	}
	return d, nil
}

// xrefCmd represents the xref command
var xrefCmd = &cobra.Command{
	Use:   "xref <MACHO>",
	Short: "Find the call sites of a function or selector",
	Example: heredoc.Doc(`
		# Who calls this function?
		❯ objcflow xref Example.app/Example --addr 0x100006420

		# Who sends this selector? (keep the index around for the next query)
		❯ objcflow xref Example.app/Example --sel serverTrust --database xrefs.db`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		setup()

		addr := viper.GetUint64("xref.addr")
		sel := viper.GetString("xref.sel")

		t, err := openTarget(args[0])
		if err != nil {
			return err
		}
		defer t.Close()

		dbPath := viper.GetString("xref.database")
		if dbPath == "" {
			dbPath = t.conf.Database.Path
		}
		store, err := openDatabase(dbPath, t.conf.Database.BatchSize)
		if err != nil {
			return err
		}
		defer store.Close()

		ix := xref.NewIndexer(t.ba, store, xref.Config{
			Workers:  viper.GetInt("xref.workers"),
			Progress: !viper.GetBool("verbose") && term.IsTerminal(int(os.Stderr.Fd())),
			Output:   os.Stderr,
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var sites []*model.CallSite
		if err := ctrlc.Default.Run(ctx, func() error {
			var err error
			if viper.GetBool("xref.reindex") {
				_, err = ix.Index(ctx)
			} else {
				_, err = ix.Ensure(ctx)
			}
			if err != nil {
				return err
			}
			if sel != "" {
				sites, err = store.SendersOf(xref.Key(t.ba), sel)
			} else {
				sites, err = store.CallersOf(xref.Key(t.ba), addr)
			}
			return err
		}); err != nil {
			if errors.As(err, &ctrlc.ErrorCtrlC{}) {
				log.Warn("Exiting...")
				return nil
			}
			return err
		}

		if len(sites) == 0 {
			log.Warn("No call sites found")
			return nil
		}

		tbl := table.New("Address", "Caller", "Instruction", "Kind", "Target")
		if colors.Enabled() {
			tbl.SetStyle(table.ColorStyle())
		}
		for _, site := range sites {
			target := site.Symbol
			if site.Selector != "" {
				target = site.Selector
			}
			tbl.Append(fmt.Sprintf("%#x", site.Address), site.CallerName, site.Mnemonic, string(site.Kind), target)
		}
		fmt.Println(tbl.Render())
		return nil
	},
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"devirt/internal/dfg"
	"devirt/internal/diag"
	"devirt/internal/ir"
	"devirt/internal/summary"
	"devirt/internal/sym"
)

var dumpTemplates bool

func init() {
	dumpCmd.Flags().BoolVar(&dumpTemplates, "templates", true, "include function templates")
}

var dumpCmd = &cobra.Command{
	Use:   "dump <summary>",
	Short: "Decode a module summary and print it in a stable textual form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := summary.ReadFile(args[0])
		if err != nil {
			return err
		}
		if f == nil {
			return fmt.Errorf("%s: no such summary", args[0])
		}

		bag := diag.NewBag(100)
		table := sym.NewTable(f.Module.Name, ir.NewVTableBuilder(), bag)
		loaded, err := summary.Decode(f, table)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "module %s virtual-funcs=%d\n", f.Module.Name, f.Module.NumVirtualFuncs)
		fmt.Fprintf(out, "types=%d funcs=%d templates=%d\n\n",
			len(f.Types), len(f.Funcs), len(f.Templates))

		for _, id := range loaded.TypeIDs[1:] {
			info := table.Type(id)
			if info == nil {
				continue
			}
			fmt.Fprintf(out, "type %s %s", info.Kind, info.Name)
			if info.IsInterface {
				fmt.Fprint(out, " interface")
			}
			if info.IsAbstract {
				fmt.Fprint(out, " abstract")
			}
			if info.IsFinal {
				fmt.Fprint(out, " final")
			}
			if len(info.VTable) > 0 {
				fmt.Fprintf(out, " vtable=%d", len(info.VTable))
			}
			if len(info.ITable) > 0 {
				fmt.Fprintf(out, " itable=%d", len(info.ITable))
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out)
		for _, id := range loaded.FuncIDs[1:] {
			info := table.Func(id)
			if info == nil {
				continue
			}
			fmt.Fprintf(out, "fn %s %s symbol-index=%d\n", info.Kind, info.Name, info.SymbolIndex)
		}

		if dumpTemplates {
			fmt.Fprintln(out)
			for _, t := range loaded.Templates {
				fmt.Fprint(out, dfg.Print(t, table))
			}
		}
		return nil
	},
}

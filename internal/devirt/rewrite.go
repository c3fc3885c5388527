package devirt

import (
	"devirt/internal/dfg"
	"devirt/internal/ir"
	"devirt/internal/sym"
)

// Rewrite replaces every call whose devirtualized site names exactly one
// private callee with a direct call addressed by the owning module's
// virtual function table. Polymorphic sites and public singletons are left
// for the backend, which may still exploit the enumerated callee sets.
func Rewrite(table *sym.Table, sites []CallSite, exprs map[dfg.CallSiteKey]*ir.Expr) int {
	rewritten := 0
	for _, s := range sites {
		if len(s.Callees) != 1 {
			continue
		}
		callee := s.Callees[0].Callee
		info := table.Func(callee)
		if info == nil || info.Kind != sym.FuncPrivate || info.SymbolIndex < 0 {
			continue
		}
		mod := table.FuncModule(callee)
		if mod == nil {
			continue
		}
		e := exprs[s.Key]
		if e == nil || e.Kind != ir.ExprCall {
			continue
		}
		data := e.Data.(ir.CallData)
		e.Kind = ir.ExprDirectCall
		e.Data = ir.DirectCallData{
			Target: ir.DirectCallee{
				ModuleName:  mod.Name,
				ModuleTotal: mod.NumVirtualFuncs,
				Index:       info.SymbolIndex,
			},
			Receiver: data.Receiver,
			Args:     data.Args,
		}
		rewritten++
	}
	return rewritten
}

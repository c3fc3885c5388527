package dfg

import (
	"devirt/internal/ir"
)

// VariableClosure computes, for each variable, the transitive set of
// non-variable value expressions it may hold: variable-to-variable
// assignment chains are followed, everything else is collected as-is.
// A visited set bounds the DFS, so cyclic assignment chains terminate.
func VariableClosure(elems *Elements) map[*ir.Variable][]*ir.Expr {
	out := make(map[*ir.Variable][]*ir.Expr, len(elems.VarValues))
	for _, v := range elems.VarOrder {
		visited := make(map[*ir.Variable]struct{})
		seen := make(map[*ir.Expr]struct{})
		var values []*ir.Expr
		var dfs func(v *ir.Variable)
		dfs = func(v *ir.Variable) {
			if _, ok := visited[v]; ok {
				return
			}
			visited[v] = struct{}{}
			for _, value := range elems.VarValues[v] {
				if value.Kind == ir.ExprGetVar {
					dfs(value.Data.(ir.GetVarData).Var)
					continue
				}
				if _, ok := seen[value]; ok {
					continue
				}
				seen[value] = struct{}{}
				values = append(values, value)
			}
		}
		dfs(v)
		out[v] = values
	}
	return out
}

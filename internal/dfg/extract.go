package dfg

import (
	"devirt/internal/diag"
	"devirt/internal/ir"
)

// forEachValue enumerates the value-producing sub-expressions that can
// flow out of e without crossing a statement boundary. Casts propagate to
// their argument re-wrapped with the cast target, so narrowing survives
// decomposition; values the callback receives are therefore either plain
// expressions or single-level synthetic casts over plain expressions.
func (b *Builder) forEachValue(e *ir.Expr, visit func(*ir.Expr)) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ir.ExprBlock:
		data := e.Data.(ir.BlockData)
		if len(data.Stmts) == 0 {
			b.fallbackValue(e, visit)
			return
		}
		b.forEachValue(data.Stmts[len(data.Stmts)-1], visit)
	case ir.ExprWhen:
		data := e.Data.(ir.WhenData)
		for _, br := range data.Branches {
			b.forEachValue(br.Result, visit)
		}
	case ir.ExprTry:
		data := e.Data.(ir.TryData)
		b.forEachValue(data.Body, visit)
		for _, c := range data.Catches {
			b.forEachValue(c, visit)
		}
	case ir.ExprReturnableBlock:
		rets := b.elems.BlockReturns[e]
		if len(rets) == 0 {
			b.fallbackValue(e, visit)
			return
		}
		for _, r := range rets {
			b.forEachValue(r, visit)
		}
	case ir.ExprSuspendable:
		data := e.Data.(ir.SuspendableData)
		b.forEachValue(data.Body, visit)
		for _, sp := range b.elems.SuspendPoints[e] {
			b.forEachValue(sp, visit)
		}
	case ir.ExprSuspensionPoint:
		data := e.Data.(ir.SuspensionPointData)
		b.forEachValue(data.Result, visit)
	case ir.ExprTypeOp:
		data := e.Data.(ir.TypeOpData)
		if data.Op.IsCast() {
			b.forEachValue(data.Arg, func(v *ir.Expr) {
				visit(b.wrapCast(v, data.Op, data.Operand))
			})
			return
		}
		visit(e)
	case ir.ExprGetVar, ir.ExprGetParam, ir.ExprConst, ir.ExprVararg,
		ir.ExprFuncRef, ir.ExprGetObject, ir.ExprCall,
		ir.ExprDelegatingCtorCall, ir.ExprGetField, ir.ExprSetField:
		visit(e)
	case ir.ExprVarDecl, ir.ExprSetVar, ir.ExprReturn:
		// statements in value position produce unit
		b.fallbackValue(e, visit)
	default:
		b.fallbackValue(e, visit)
	}
}

// wrapCast re-wraps an extracted value with an enclosing cast. Nested
// casts collapse to the outermost target; dropping the inner filter only
// widens the propagated set, never narrows it.
func (b *Builder) wrapCast(v *ir.Expr, op ir.TypeOperator, operand *ir.Class) *ir.Expr {
	arg := v
	for arg.Kind == ir.ExprTypeOp {
		data := arg.Data.(ir.TypeOpData)
		if !data.Op.IsCast() {
			break
		}
		arg = data.Arg
	}
	return &ir.Expr{
		Kind:        ir.ExprTypeOp,
		StaticClass: operand,
		Data:        ir.TypeOpData{Op: op, Arg: arg, Operand: operand},
	}
}

// fallbackValue yields the synthetic unit or bottom singleton for
// expressions whose static type admits no other value; anything else is a
// producer bug.
func (b *Builder) fallbackValue(e *ir.Expr, visit func(*ir.Expr)) {
	switch e.StaticClass {
	case b.prog.Unit:
		visit(b.unitValue)
	case b.prog.Nothing:
		visit(b.nothingValue)
	default:
		b.bag.Add(diag.NewError(diag.SumUnhandledExpr, b.entity(),
			"no value rule for "+e.Kind.String()+" expression"))
		visit(b.unitValue)
	}
}

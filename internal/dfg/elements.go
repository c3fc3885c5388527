package dfg

import (
	"devirt/internal/ir"
)

// Elements is the bookkeeping a single pass over a function body yields:
// per-variable assignment sets, return values, and the value registries
// for returnable blocks and suspendable regions.
type Elements struct {
	// VarValues maps each local variable to every expression assigned to
	// it, across the declaration and all subsequent writes.
	VarValues map[*ir.Variable][]*ir.Expr

	// VarOrder keeps variables in first-assignment order so later passes
	// iterate deterministically.
	VarOrder []*ir.Variable

	// Returns lists the function-level return values.
	Returns []*ir.Expr

	// BlockReturns maps each returnable block to the return values
	// targeting it.
	BlockReturns map[*ir.Expr][]*ir.Expr

	// SuspendPoints maps each suspendable region to the results of its
	// suspension points.
	SuspendPoints map[*ir.Expr][]*ir.Expr
}

// FindElements scans a body once, collecting variables, assignments,
// return values and the returnable-block/suspension registries.
func FindElements(body *ir.Expr, unit *ir.Class) *Elements {
	e := &Elements{
		VarValues:     make(map[*ir.Variable][]*ir.Expr),
		BlockReturns:  make(map[*ir.Expr][]*ir.Expr),
		SuspendPoints: make(map[*ir.Expr][]*ir.Expr),
	}
	e.walk(body, unit)
	return e
}

func (e *Elements) addVarValue(v *ir.Variable, value *ir.Expr) {
	if v == nil || value == nil {
		return
	}
	if _, ok := e.VarValues[v]; !ok {
		e.VarOrder = append(e.VarOrder, v)
	}
	e.VarValues[v] = append(e.VarValues[v], value)
}

func (e *Elements) walk(x *ir.Expr, unit *ir.Class) {
	if x == nil {
		return
	}
	switch x.Kind {
	case ir.ExprBlock:
		data := x.Data.(ir.BlockData)
		for _, s := range data.Stmts {
			e.walk(s, unit)
		}
	case ir.ExprWhen:
		data := x.Data.(ir.WhenData)
		for _, br := range data.Branches {
			e.walk(br.Cond, unit)
			e.walk(br.Result, unit)
		}
	case ir.ExprTry:
		data := x.Data.(ir.TryData)
		e.walk(data.Body, unit)
		for _, c := range data.Catches {
			e.walk(c, unit)
		}
	case ir.ExprReturnableBlock:
		data := x.Data.(ir.ReturnableBlockData)
		if _, ok := e.BlockReturns[x]; !ok {
			e.BlockReturns[x] = nil
		}
		e.walk(data.Body, unit)
	case ir.ExprSuspendable:
		data := x.Data.(ir.SuspendableData)
		if _, ok := e.SuspendPoints[x]; !ok {
			e.SuspendPoints[x] = nil
		}
		e.walk(data.Body, unit)
	case ir.ExprSuspensionPoint:
		data := x.Data.(ir.SuspensionPointData)
		if data.Region != nil {
			e.SuspendPoints[data.Region] = append(e.SuspendPoints[data.Region], x)
		}
		e.walk(data.Result, unit)
	case ir.ExprReturn:
		data := x.Data.(ir.ReturnData)
		if data.Value != nil {
			if data.Target == nil {
				e.Returns = append(e.Returns, data.Value)
			} else {
				rb := data.Target.Data.(ir.ReturnableBlockData)
				// Returns escaping an inlined constructor carry the
				// constructed object, not a block result.
				if !(rb.InlinedConstructor && data.Value.StaticClass != unit) {
					e.BlockReturns[data.Target] = append(e.BlockReturns[data.Target], data.Value)
				}
			}
			e.walk(data.Value, unit)
		}
	case ir.ExprVarDecl:
		data := x.Data.(ir.VarDeclData)
		if data.Init != nil {
			e.addVarValue(data.Var, data.Init)
			e.walk(data.Init, unit)
		}
	case ir.ExprSetVar:
		data := x.Data.(ir.SetVarData)
		e.addVarValue(data.Var, data.Value)
		e.walk(data.Value, unit)
	case ir.ExprCall:
		data := x.Data.(ir.CallData)
		e.walk(data.Receiver, unit)
		for _, a := range data.Args {
			e.walk(a, unit)
		}
	case ir.ExprDelegatingCtorCall:
		data := x.Data.(ir.DelegatingCtorCallData)
		for _, a := range data.Args {
			e.walk(a, unit)
		}
	case ir.ExprGetField:
		data := x.Data.(ir.GetFieldData)
		e.walk(data.Receiver, unit)
	case ir.ExprSetField:
		data := x.Data.(ir.SetFieldData)
		e.walk(data.Receiver, unit)
		e.walk(data.Value, unit)
	case ir.ExprTypeOp:
		data := x.Data.(ir.TypeOpData)
		e.walk(data.Arg, unit)
	case ir.ExprGetVar, ir.ExprGetParam, ir.ExprConst, ir.ExprVararg,
		ir.ExprFuncRef, ir.ExprGetObject, ir.ExprDirectCall:
		// leaves for this pass
	}
}

// Package testkit builds tiny IR programs for analysis tests. The helpers
// mirror what a front end would produce, so tests read like the source
// they model rather than like node plumbing.
package testkit

import (
	"devirt/internal/ir"
)

// World is one module under construction plus the interned builtins.
type World struct {
	Prog *ir.Program
	Mod  *ir.Module
}

// NewWorld creates a module with the standard builtin classes.
func NewWorld(moduleName string) *World {
	anyClass := &ir.Class{Name: "Any", IsExported: true}
	unit := &ir.Class{Name: "Unit", IsExported: true, IsFinal: true, Supers: []*ir.Class{anyClass}}
	nothing := &ir.Class{Name: "Nothing", IsExported: true, IsFinal: true, Supers: []*ir.Class{anyClass}}
	str := &ir.Class{Name: "String", IsExported: true, IsFinal: true, Supers: []*ir.Class{anyClass}}
	mod := &ir.Module{Name: moduleName}
	mod.Classes = append(mod.Classes, anyClass, unit, nothing, str)
	return &World{
		Prog: &ir.Program{
			Module:  mod,
			Any:     anyClass,
			Unit:    unit,
			Nothing: nothing,
			String:  str,
		},
		Mod: mod,
	}
}

// Class declares a class extending the given supers (Any when none).
func (w *World) Class(name string, exported, final, abstract bool, supers ...*ir.Class) *ir.Class {
	if len(supers) == 0 {
		supers = []*ir.Class{w.Prog.Any}
	}
	c := &ir.Class{
		Name:       name,
		ModuleName: w.Mod.Name,
		IsExported: exported,
		IsFinal:    final,
		IsAbstract: abstract,
		Supers:     supers,
	}
	w.Mod.Classes = append(w.Mod.Classes, c)
	return c
}

// Interface declares an interface.
func (w *World) Interface(name string, exported bool, supers ...*ir.Class) *ir.Class {
	c := &ir.Class{
		Name:        name,
		ModuleName:  w.Mod.Name,
		IsInterface: true,
		IsAbstract:  true,
		IsExported:  exported,
		Supers:      supers,
	}
	w.Mod.Classes = append(w.Mod.Classes, c)
	return c
}

// Ctor declares a constructor with an empty body.
func (w *World) Ctor(owner *ir.Class) *ir.Func {
	f := &ir.Func{
		Name:          "<init>",
		Owner:         owner,
		ParamCount:    1,
		ParamClasses:  []*ir.Class{owner},
		ReturnClass:   w.Prog.Unit,
		IsConstructor: true,
		IsExported:    owner.IsExported,
		Body:          w.Block(w.Prog.Unit),
	}
	owner.Methods = append(owner.Methods, f)
	return f
}

// Method declares an instance method. A nil body makes it abstract.
func (w *World) Method(owner *ir.Class, name string, ret *ir.Class, body *ir.Expr, overrides ...*ir.Func) *ir.Func {
	f := &ir.Func{
		Name:         name,
		Owner:        owner,
		ParamCount:   1,
		ParamClasses: []*ir.Class{owner},
		ReturnClass:  ret,
		IsExported:   owner.IsExported,
		IsAbstract:   body == nil,
		Overridden:   overrides,
		Body:         body,
	}
	owner.Methods = append(owner.Methods, f)
	return f
}

// Fn declares a top-level function.
func (w *World) Fn(name string, exported bool, params []*ir.Class, ret *ir.Class, body *ir.Expr) *ir.Func {
	f := &ir.Func{
		Name:         name,
		ParamCount:   len(params),
		ParamClasses: params,
		ReturnClass:  ret,
		IsExported:   exported,
		Body:         body,
	}
	w.Mod.Funcs = append(w.Mod.Funcs, f)
	return f
}

// Field declares a member field on a class.
func (w *World) Field(owner *ir.Class, name string, init *ir.Expr) *ir.Field {
	f := &ir.Field{Name: name, Owner: owner, Init: init}
	owner.Fields = append(owner.Fields, f)
	return f
}

// Expression helpers. Every helper sets the static class the front end
// would have computed.

func (w *World) Block(class *ir.Class, stmts ...*ir.Expr) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprBlock, StaticClass: class, Data: ir.BlockData{Stmts: stmts}}
}

func (w *World) When(class *ir.Class, results ...*ir.Expr) *ir.Expr {
	branches := make([]ir.WhenBranch, len(results))
	for i, r := range results {
		branches[i] = ir.WhenBranch{Result: r}
	}
	return &ir.Expr{Kind: ir.ExprWhen, StaticClass: class, Data: ir.WhenData{Branches: branches}}
}

func (w *World) Var(name string) *ir.Variable {
	return &ir.Variable{Name: name}
}

func (w *World) Let(v *ir.Variable, init *ir.Expr) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprVarDecl, StaticClass: w.Prog.Unit, Data: ir.VarDeclData{Var: v, Init: init}}
}

func (w *World) Set(v *ir.Variable, value *ir.Expr) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprSetVar, StaticClass: w.Prog.Unit, Data: ir.SetVarData{Var: v, Value: value}}
}

func (w *World) Get(v *ir.Variable, class *ir.Class) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprGetVar, StaticClass: class, Data: ir.GetVarData{Var: v}}
}

func (w *World) Param(index int, class *ir.Class) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprGetParam, StaticClass: class, Data: ir.GetParamData{Index: index}}
}

func (w *World) Str() *ir.Expr {
	return &ir.Expr{Kind: ir.ExprConst, StaticClass: w.Prog.String, Data: ir.ConstData{}}
}

func (w *World) New(ctor *ir.Func) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprCall, StaticClass: ctor.Owner, Data: ir.CallData{Callee: ctor}}
}

func (w *World) Call(callee *ir.Func, recv *ir.Expr, args ...*ir.Expr) *ir.Expr {
	return &ir.Expr{
		Kind:        ir.ExprCall,
		StaticClass: callee.ReturnClass,
		Data:        ir.CallData{Callee: callee, Receiver: recv, Args: args},
	}
}

func (w *World) Ret(value *ir.Expr) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprReturn, StaticClass: w.Prog.Nothing, Data: ir.ReturnData{Value: value}}
}

func (w *World) Cast(e *ir.Expr, to *ir.Class) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprTypeOp, StaticClass: to, Data: ir.TypeOpData{Op: ir.OpCast, Arg: e, Operand: to}}
}

func (w *World) GetField(recv *ir.Expr, f *ir.Field, class *ir.Class) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprGetField, StaticClass: class, Data: ir.GetFieldData{Receiver: recv, Field: f}}
}

func (w *World) SetField(recv *ir.Expr, f *ir.Field, value *ir.Expr) *ir.Expr {
	return &ir.Expr{Kind: ir.ExprSetField, StaticClass: w.Prog.Unit, Data: ir.SetFieldData{Receiver: recv, Field: f, Value: value}}
}

package dfg_test

import (
	"testing"

	"devirt/internal/dfg"
	"devirt/internal/diag"
	"devirt/internal/ir"
	"devirt/internal/sym"
	"devirt/internal/testkit"
)

type fixture struct {
	w      *testkit.World
	table  *sym.Table
	vt     ir.VTableBuilder
	bag    *diag.Bag
	animal *ir.Class
	cat    *ir.Class
	ctor   *ir.Func
	sound  *ir.Func
}

// newFixture declares the Animal/Cat hierarchy every template test reuses.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	w := testkit.NewWorld("main")
	f := &fixture{w: w}
	f.animal = w.Class("Animal", false, false, true)
	abstractSound := w.Method(f.animal, "makeSound", w.Prog.String, nil)
	f.cat = w.Class("Cat", false, true, false, f.animal)
	f.ctor = w.Ctor(f.cat)
	w.Method(f.cat, "makeSound", w.Prog.String, w.Block(w.Prog.String, w.Ret(w.Str())), abstractSound)
	f.sound = abstractSound
	return f
}

func (f *fixture) build(t *testing.T) *dfg.Result {
	t.Helper()
	f.bag = diag.NewBag(100)
	f.vt = ir.NewVTableBuilder()
	f.table = sym.NewTable(f.w.Mod.Name, f.vt, f.bag)
	if err := f.table.DeclareProgram(f.w.Prog); err != nil {
		t.Fatalf("DeclareProgram: %v", err)
	}
	res, err := dfg.NewBuilder(f.w.Prog, f.table, f.vt, f.bag).BuildModule()
	if err != nil {
		t.Fatalf("BuildModule: %v", err)
	}
	return res
}

func findNode(tmpl *dfg.Template, kind dfg.NodeKind) *dfg.Node {
	for i := 1; i <= tmpl.NumNodes(); i++ {
		if n := tmpl.Node(dfg.NodeID(i)); n.Kind == kind {
			return n
		}
	}
	return nil
}

func TestVariableClosureFollowsChains(t *testing.T) {
	w := testkit.NewWorld("main")
	a, b, c := w.Var("a"), w.Var("b"), w.Var("c")
	alloc := w.Str()
	body := w.Block(w.Prog.Unit,
		w.Let(a, alloc),
		w.Let(b, w.Get(a, w.Prog.String)),
		w.Let(c, w.Get(b, w.Prog.String)),
		w.Set(a, w.Get(c, w.Prog.String)), // cycle back
	)
	elems := dfg.FindElements(body, w.Prog.Unit)
	closure := dfg.VariableClosure(elems)

	for _, v := range []*ir.Variable{a, b, c} {
		values := closure[v]
		if len(values) != 1 || values[0] != alloc {
			t.Errorf("closure(%s) = %d values, want exactly the allocation", v.Name, len(values))
		}
	}
}

func TestTemplateCastSitsOnEdge(t *testing.T) {
	f := newFixture(t)
	a := f.w.Var("a")
	body := f.w.Block(f.w.Prog.Unit,
		f.w.Let(a, f.w.New(f.ctor)),
		f.w.Call(f.sound, f.w.Cast(f.w.Get(a, f.w.Prog.Any), f.animal)),
	)
	main := f.w.Fn("main", false, nil, f.w.Prog.Unit, body)
	res := f.build(t)

	tmpl := res.ByFunc[f.table.FuncOf(main)]
	if tmpl == nil {
		t.Fatalf("no template for main")
	}
	call := findNode(tmpl, dfg.NodeVtableCall)
	if call == nil {
		t.Fatalf("no vtable call in template:\n%s", dfg.Print(tmpl, f.table))
	}
	if len(call.Args) == 0 {
		t.Fatalf("vtable call lost its receiver argument")
	}
	if call.Args[0].Cast != f.table.TypeOf(f.animal) {
		t.Errorf("receiver edge cast = %v, want Animal", call.Args[0].Cast)
	}
	if target := tmpl.Node(call.Args[0].Node); target == nil || target.Kind != dfg.NodeVariable {
		t.Errorf("receiver edge should point at the variable node, cast on the edge")
	}
}

func TestBranchValuesUnionIntoVariable(t *testing.T) {
	f := newFixture(t)
	dog := f.w.Class("Dog", false, true, false, f.animal)
	dogCtor := f.w.Ctor(dog)
	f.w.Method(dog, "makeSound", f.w.Prog.String, f.w.Block(f.w.Prog.String, f.w.Ret(f.w.Str())), f.sound)

	a := f.w.Var("a")
	body := f.w.Block(f.w.Prog.Unit,
		f.w.Let(a, f.w.When(f.animal, f.w.New(f.ctor), f.w.New(dogCtor))),
		f.w.Call(f.sound, f.w.Get(a, f.animal)),
	)
	main := f.w.Fn("main", false, nil, f.w.Prog.Unit, body)
	res := f.build(t)

	tmpl := res.ByFunc[f.table.FuncOf(main)]
	variable := findNode(tmpl, dfg.NodeVariable)
	if variable == nil {
		t.Fatalf("no variable node:\n%s", dfg.Print(tmpl, f.table))
	}
	// the closure decomposes the branch expression into both allocations
	if len(variable.Values) != 2 {
		t.Fatalf("variable values = %d, want 2:\n%s", len(variable.Values), dfg.Print(tmpl, f.table))
	}
	for _, e := range variable.Values {
		if n := tmpl.Node(e.Node); n == nil || n.Kind != dfg.NodeNewObject {
			t.Errorf("variable value is not an allocation")
		}
	}
}

func TestReturnsCollectAllReturnValues(t *testing.T) {
	f := newFixture(t)
	body := f.w.Block(f.w.Prog.String,
		f.w.Ret(f.w.Str()),
		f.w.Ret(f.w.Str()),
	)
	fn := f.w.Fn("describe", false, nil, f.w.Prog.String, body)
	res := f.build(t)

	tmpl := res.ByFunc[f.table.FuncOf(fn)]
	returns := tmpl.Node(tmpl.Returns)
	if returns == nil || returns.Kind != dfg.NodeTempVariable {
		t.Fatalf("returns node missing or wrong kind")
	}
	if len(returns.Values) != 2 {
		t.Errorf("returns values = %d, want 2", len(returns.Values))
	}
}

func TestSuspendContinuationParameter(t *testing.T) {
	f := newFixture(t)
	getCont := &ir.Func{
		Name:        "getContinuation",
		IsExternal:  true,
		Intrinsic:   ir.IntrinsicGetContinuation,
		ReturnClass: f.w.Prog.Any,
	}
	cont := f.w.Var("c")
	body := f.w.Block(f.w.Prog.Unit,
		f.w.Let(cont, f.w.Call(getCont, nil)),
	)
	fn := f.w.Fn("await", false, []*ir.Class{f.animal}, f.w.Prog.Unit, body)
	fn.IsSuspend = true
	res := f.build(t)

	tmpl := res.ByFunc[f.table.FuncOf(fn)]
	if tmpl.ParamCount != 2 {
		t.Fatalf("suspend param count = %d, want declared+continuation", tmpl.ParamCount)
	}
	variable := findNode(tmpl, dfg.NodeVariable)
	if variable == nil || len(variable.Values) != 1 {
		t.Fatalf("continuation variable not captured")
	}
	target := tmpl.Node(variable.Values[0].Node)
	if target == nil || target.Kind != dfg.NodeParameter || target.Param != 1 {
		t.Errorf("getContinuation should resolve to the trailing parameter")
	}
}

func TestFieldInitializerGetsTemplate(t *testing.T) {
	f := newFixture(t)
	box := f.w.Class("Box", false, true, false)
	f.w.Ctor(box)
	f.w.Field(box, "a", f.w.New(f.ctor))
	res := f.build(t)

	found := false
	for _, tmpl := range res.Templates {
		if findNode(tmpl, dfg.NodeFieldWrite) != nil {
			found = true
		}
	}
	if !found {
		t.Errorf("field initializer did not produce a FieldWrite template")
	}
}

package devirt_test

import (
	"testing"

	"devirt/internal/devirt"
	"devirt/internal/driver"
	"devirt/internal/ir"
	"devirt/internal/sym"
	"devirt/internal/testkit"
)

// zoo is the Animal <- Cat, Dog hierarchy the end-to-end scenarios share.
type zoo struct {
	w                *testkit.World
	animal, cat, dog *ir.Class
	catCtor, dogCtor *ir.Func
	sound            *ir.Func
	catSound         *ir.Func
	dogSound         *ir.Func
}

func newZoo(exported bool) *zoo {
	w := testkit.NewWorld("main")
	z := &zoo{w: w}
	z.animal = w.Class("Animal", exported, false, true)
	z.sound = w.Method(z.animal, "makeSound", w.Prog.String, nil)
	z.cat = w.Class("Cat", exported, true, false, z.animal)
	z.catCtor = w.Ctor(z.cat)
	z.catSound = w.Method(z.cat, "makeSound", w.Prog.String,
		w.Block(w.Prog.String, w.Ret(w.Str())), z.sound)
	z.dog = w.Class("Dog", exported, true, false, z.animal)
	z.dogCtor = w.Ctor(z.dog)
	z.dogSound = w.Method(z.dog, "makeSound", w.Prog.String,
		w.Block(w.Prog.String, w.Ret(w.Str())), z.sound)
	return z
}

func compileProgram(t *testing.T, z *zoo, main *ir.Func) *driver.Result {
	t.Helper()
	res, err := driver.Compile(z.w.Prog, driver.Options{IsProgram: true, EntryPoint: main})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return res
}

// calleeNames flattens a site's callee pairs to "Recv->Fn" strings.
func calleeNames(table *sym.Table, s devirt.CallSite) []string {
	out := make([]string, 0, len(s.Callees))
	for _, c := range s.Callees {
		out = append(out, table.Type(c.Receiver).Name+"->"+table.Func(c.Callee).Name)
	}
	return out
}

func wantSite(t *testing.T, res *driver.Result, want ...string) {
	t.Helper()
	if len(res.Analysis.Sites) != 1 {
		t.Fatalf("devirtualized sites = %d, want 1", len(res.Analysis.Sites))
	}
	got := calleeNames(res.Table, res.Analysis.Sites[0])
	if len(got) != len(want) {
		t.Fatalf("callees = %v, want %v", got, want)
	}
	seen := make(map[string]bool, len(got))
	for _, g := range got {
		seen[g] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Errorf("callees = %v, missing %q", got, w)
		}
	}
}

func TestMonomorphicByConstruction(t *testing.T) {
	z := newZoo(false)
	w := z.w
	a := w.Var("a")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(a, w.New(z.catCtor)),
		w.Call(z.sound, w.Get(a, z.animal)),
	))
	res := compileProgram(t, z, main)
	wantSite(t, res, "Cat->Cat.makeSound")
}

func TestPolymorphicViaUnion(t *testing.T) {
	z := newZoo(false)
	w := z.w
	a := w.Var("a")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(a, w.When(z.animal, w.New(z.catCtor), w.New(z.dogCtor))),
		w.Call(z.sound, w.Get(a, z.animal)),
	))
	res := compileProgram(t, z, main)
	wantSite(t, res, "Cat->Cat.makeSound", "Dog->Dog.makeSound")
}

func TestThroughField(t *testing.T) {
	z := newZoo(false)
	w := z.w
	box := w.Class("Box", false, true, false)
	boxCtor := w.Ctor(box)
	fieldA := w.Field(box, "a", nil)

	b := w.Var("b")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(b, w.New(boxCtor)),
		w.SetField(w.Get(b, box), fieldA, w.New(z.catCtor)),
		w.Call(z.sound, w.GetField(w.Get(b, box), fieldA, z.animal)),
	))
	res := compileProgram(t, z, main)
	wantSite(t, res, "Cat->Cat.makeSound")
}

// TestFieldWritesUnifyGlobally also witnesses propagation monotonicity:
// adding an allocation elsewhere only widens the reported set.
func TestFieldWritesUnifyGlobally(t *testing.T) {
	z := newZoo(false)
	w := z.w
	box := w.Class("Box", false, true, false)
	boxCtor := w.Ctor(box)
	fieldA := w.Field(box, "a", nil)

	// a write to the same field in a different function, through a
	// different receiver
	b2 := w.Var("b2")
	w.Fn("elsewhere", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(b2, w.New(boxCtor)),
		w.SetField(w.Get(b2, box), fieldA, w.New(z.dogCtor)),
	))

	b := w.Var("b")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(b, w.New(boxCtor)),
		w.SetField(w.Get(b, box), fieldA, w.New(z.catCtor)),
		w.Call(z.sound, w.GetField(w.Get(b, box), fieldA, z.animal)),
	))
	res := compileProgram(t, z, main)
	wantSite(t, res, "Cat->Cat.makeSound", "Dog->Dog.makeSound")
}

func TestCastNarrows(t *testing.T) {
	z := newZoo(false)
	w := z.w
	a := w.Var("a")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(a, w.New(z.catCtor)),
		w.Call(z.sound, w.Cast(w.Get(a, w.Prog.Any), z.animal)),
	))
	res := compileProgram(t, z, main)
	wantSite(t, res, "Cat->Cat.makeSound")
}

func TestUnknownExternalReceiverStaysVirtual(t *testing.T) {
	z := newZoo(true)
	w := z.w
	w.Fn("handle", true, []*ir.Class{z.animal}, w.Prog.String, w.Block(w.Prog.String,
		w.Ret(w.Call(z.sound, w.Param(0, z.animal))),
	))
	res, err := driver.Compile(w.Prog, driver.Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(res.Analysis.Sites) != 0 {
		t.Fatalf("virtual receiver must not devirtualize, got %d sites", len(res.Analysis.Sites))
	}
}

func TestInterfaceDispatchViaItable(t *testing.T) {
	z := newZoo(false)
	w := z.w
	speaker := w.Interface("Speaker", false)
	speak := w.Method(speaker, "speak", w.Prog.String, nil)
	z.cat.Supers = append(z.cat.Supers, speaker)
	w.Method(z.cat, "speak", w.Prog.String,
		w.Block(w.Prog.String, w.Ret(w.Str())), speak)

	s := w.Var("s")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(s, w.New(z.catCtor)),
		w.Call(speak, w.Get(s, speaker)),
	))
	res := compileProgram(t, z, main)
	wantSite(t, res, "Cat->Cat.speak")
}

func TestSingletonPrivateCalleeIsRewritten(t *testing.T) {
	z := newZoo(false)
	w := z.w
	a := w.Var("a")
	call := w.Call(z.sound, w.Get(a, z.animal))
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(a, w.New(z.catCtor)),
		call,
	))
	res := compileProgram(t, z, main)

	if call.Kind != ir.ExprDirectCall {
		t.Fatalf("call not rewritten, kind = %s", call.Kind)
	}
	data := call.Data.(ir.DirectCallData)
	if data.Target.ModuleName != "main" {
		t.Errorf("direct call module = %q, want main", data.Target.ModuleName)
	}
	if data.Target.Index < 0 {
		t.Errorf("direct call index = %d, want a symbol table slot", data.Target.Index)
	}
	if res.Analysis.Stats.Rewritten != 1 {
		t.Errorf("rewritten = %d, want 1", res.Analysis.Stats.Rewritten)
	}
}

func TestPolymorphicSiteIsNotRewritten(t *testing.T) {
	z := newZoo(false)
	w := z.w
	a := w.Var("a")
	call := w.Call(z.sound, w.Get(a, z.animal))
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(a, w.When(z.animal, w.New(z.catCtor), w.New(z.dogCtor))),
		call,
	))
	res := compileProgram(t, z, main)

	if call.Kind != ir.ExprCall {
		t.Fatalf("polymorphic call must stay virtual")
	}
	if res.Analysis.Stats.Rewritten != 0 {
		t.Errorf("rewritten = %d, want 0", res.Analysis.Stats.Rewritten)
	}
}

func TestReportedCalleesHaveSymbolIndices(t *testing.T) {
	z := newZoo(false)
	w := z.w
	a := w.Var("a")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(a, w.When(z.animal, w.New(z.catCtor), w.New(z.dogCtor))),
		w.Call(z.sound, w.Get(a, z.animal)),
	))
	res := compileProgram(t, z, main)
	for _, s := range res.Analysis.Sites {
		for _, c := range s.Callees {
			info := res.Table.Func(c.Callee)
			if info.Declared() && info.SymbolIndex < 0 {
				t.Errorf("callee %s reported without a symbol index", info.Name)
			}
		}
	}
}

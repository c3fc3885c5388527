package driver_test

import (
	"testing"

	"devirt/internal/driver"
	"devirt/internal/ir"
	"devirt/internal/summary"
	"devirt/internal/testkit"
)

// buildZooLibrary compiles the exported Animal/Cat hierarchy as a library.
func buildZooLibrary(t *testing.T) *driver.Result {
	t.Helper()
	w := testkit.NewWorld("zoolib")
	animal := w.Class("Animal", true, false, true)
	sound := w.Method(animal, "makeSound", w.Prog.String, nil)
	cat := w.Class("Cat", true, true, false, animal)
	w.Ctor(cat)
	w.Method(cat, "makeSound", w.Prog.String,
		w.Block(w.Prog.String, w.Ret(w.Str())), sound)

	res, err := driver.Compile(w.Prog, driver.Options{})
	if err != nil {
		t.Fatalf("Compile zoolib: %v", err)
	}
	return res
}

// externalZoo builds the consumer-side stubs a front end would emit for
// imported declarations: same names, same declaration order, no bodies.
type externalZoo struct {
	animal, cat *ir.Class
	sound, ctor *ir.Func
}

func newExternalZoo(w *testkit.World) *externalZoo {
	z := &externalZoo{}
	z.animal = &ir.Class{Name: "Animal", IsExternal: true, IsAbstract: true}
	z.sound = &ir.Func{
		Name:         "makeSound",
		Owner:        z.animal,
		ParamCount:   1,
		ParamClasses: []*ir.Class{z.animal},
		ReturnClass:  w.Prog.String,
		IsExternal:   true,
		IsAbstract:   true,
	}
	z.animal.Methods = []*ir.Func{z.sound}
	z.cat = &ir.Class{Name: "Cat", IsExternal: true, IsFinal: true, Supers: []*ir.Class{z.animal}}
	z.ctor = &ir.Func{
		Name:          "<init>",
		Owner:         z.cat,
		ParamCount:    1,
		ParamClasses:  []*ir.Class{z.cat},
		ReturnClass:   w.Prog.Unit,
		IsConstructor: true,
		IsExternal:    true,
	}
	z.cat.Methods = []*ir.Func{z.ctor}
	w.Mod.Classes = append(w.Mod.Classes, z.animal, z.cat)
	return z
}

func TestCrossModuleDevirtualization(t *testing.T) {
	lib := buildZooLibrary(t)

	w := testkit.NewWorld("app")
	z := newExternalZoo(w)
	a := w.Var("a")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(a, w.New(z.ctor)),
		w.Call(z.sound, w.Get(a, z.animal)),
	))

	res, err := driver.Compile(w.Prog, driver.Options{
		IsProgram:  true,
		EntryPoint: main,
		Libraries:  []*summary.File{lib.Summary},
	})
	if err != nil {
		t.Fatalf("Compile app: %v", err)
	}

	if len(res.Analysis.Sites) != 1 {
		t.Fatalf("devirtualized sites = %d, want 1", len(res.Analysis.Sites))
	}
	site := res.Analysis.Sites[0]
	if len(site.Callees) != 1 {
		t.Fatalf("callees = %d, want 1", len(site.Callees))
	}
	if got := res.Table.Type(site.Callees[0].Receiver).Name; got != "Cat" {
		t.Errorf("receiver = %q, want Cat", got)
	}
	if got := res.Table.Func(site.Callees[0].Callee).Name; got != "Cat.makeSound" {
		t.Errorf("callee = %q, want Cat.makeSound", got)
	}
	// the target lives in a foreign module, so the call is reported but
	// not rewritten to a direct private call
	if res.Analysis.Stats.Rewritten != 0 {
		t.Errorf("rewritten = %d, want 0 for a public foreign callee", res.Analysis.Stats.Rewritten)
	}
}

func TestProgramNeedsEntryPoint(t *testing.T) {
	w := testkit.NewWorld("app")
	if _, err := driver.Compile(w.Prog, driver.Options{IsProgram: true}); err == nil {
		t.Fatalf("program compilation without an entry point must fail")
	}
}

func TestPrivateVTableOrdering(t *testing.T) {
	w := testkit.NewWorld("main")
	animal := w.Class("Animal", false, false, true)
	sound := w.Method(animal, "makeSound", w.Prog.String, nil)
	cat := w.Class("Cat", false, true, false, animal)
	catCtor := w.Ctor(cat)
	w.Method(cat, "makeSound", w.Prog.String,
		w.Block(w.Prog.String, w.Ret(w.Str())), sound)

	a := w.Var("a")
	main := w.Fn("main", false, nil, w.Prog.Unit, w.Block(w.Prog.Unit,
		w.Let(a, w.New(catCtor)),
		w.Call(sound, w.Get(a, animal)),
	))
	res, err := driver.Compile(w.Prog, driver.Options{IsProgram: true, EntryPoint: main})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if len(res.Analysis.PrivateVTable) == 0 {
		t.Fatalf("expected a private virtual function table")
	}
	last := int32(-1)
	for _, id := range res.Analysis.PrivateVTable {
		info := res.Table.Func(id)
		if info.SymbolIndex <= last {
			t.Fatalf("private vtable not ordered by symbol index")
		}
		last = info.SymbolIndex
	}
}

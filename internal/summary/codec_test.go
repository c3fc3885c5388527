package summary_test

import (
	"bytes"
	"reflect"
	"testing"

	"devirt/internal/diag"
	"devirt/internal/driver"
	"devirt/internal/ir"
	"devirt/internal/summary"
	"devirt/internal/sym"
	"devirt/internal/testkit"
)

// buildLibrary compiles a small exported hierarchy with class and
// interface dispatch so both table flavors land in the summary.
func buildLibrary(t *testing.T) *driver.Result {
	t.Helper()
	w := testkit.NewWorld("zoolib")
	speaker := w.Interface("Speaker", true)
	speak := w.Method(speaker, "speak", w.Prog.String, nil)
	animal := w.Class("Animal", true, false, true)
	sound := w.Method(animal, "makeSound", w.Prog.String, nil)
	cat := w.Class("Cat", true, true, false, animal, speaker)
	w.Ctor(cat)
	w.Method(cat, "makeSound", w.Prog.String, w.Block(w.Prog.String, w.Ret(w.Str())), sound)
	w.Method(cat, "speak", w.Prog.String, w.Block(w.Prog.String, w.Ret(w.Str())), speak)
	w.Fn("handle", true, []*ir.Class{animal}, w.Prog.String, w.Block(w.Prog.String,
		w.Ret(w.Call(sound, w.Param(0, animal))),
	))

	res, err := driver.Compile(w.Prog, driver.Options{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return res
}

func TestStreamRoundTrip(t *testing.T) {
	res := buildLibrary(t)

	var buf bytes.Buffer
	if err := summary.Write(&buf, res.Summary); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := summary.Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got, res.Summary) {
		t.Fatalf("summary does not survive the stream round trip")
	}
}

func TestLoadedHierarchyMatchesProducer(t *testing.T) {
	res := buildLibrary(t)

	bag := diag.NewBag(100)
	table := sym.NewTable("consumer", ir.NewVTableBuilder(), bag)
	loaded, err := summary.Decode(res.Summary, table)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if loaded.Module.Name != "zoolib" {
		t.Errorf("module name = %q", loaded.Module.Name)
	}
	if loaded.Module.NumVirtualFuncs != res.Table.Module.NumVirtualFuncs {
		t.Errorf("virtual function count changed across the round trip")
	}

	byName := make(map[string]sym.TypeID)
	for _, id := range loaded.TypeIDs[1:] {
		if info := table.Type(id); info != nil {
			byName[info.Name] = id
		}
	}
	cat, animal, speaker := byName["Cat"], byName["Animal"], byName["Speaker"]
	if !table.IsSubtype(cat, animal) || !table.IsSubtype(cat, speaker) {
		t.Fatalf("class hierarchy lost on load")
	}

	catInfo := table.Type(cat)
	if len(catInfo.VTable) != 1 {
		t.Fatalf("Cat vtable = %d entries, want 1", len(catInfo.VTable))
	}
	if got := table.Func(catInfo.VTable[0]).Name; got != "Cat.makeSound" {
		t.Errorf("Cat vtable slot 0 = %q", got)
	}
	if len(catInfo.ITable) != 1 {
		t.Fatalf("Cat itable = %d entries, want 1", len(catInfo.ITable))
	}
	wantHash := ir.MethodHash("Speaker.speak")
	if got := catInfo.ITableLookup(wantHash); got == sym.NoFuncID {
		t.Errorf("Cat itable lost the Speaker.speak entry")
	} else if name := table.Func(got).Name; name != "Cat.speak" {
		t.Errorf("itable impl = %q, want Cat.speak", name)
	}

	if len(loaded.Templates) == 0 {
		t.Fatalf("no templates decoded")
	}
}

func TestPrivateIndicesRenumberIntoConsumerSpace(t *testing.T) {
	build := func(name string) *driver.Result {
		w := testkit.NewWorld(name)
		secret := w.Class("Secret", false, true, false)
		w.Ctor(secret)
		w.Method(secret, "poke", w.Prog.Unit, w.Block(w.Prog.Unit))
		res, err := driver.Compile(w.Prog, driver.Options{})
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		return res
	}
	libA := build("liba")
	libB := build("libb")

	bag := diag.NewBag(100)
	table := sym.NewTable("consumer", ir.NewVTableBuilder(), bag)
	la, err := summary.Decode(libA.Summary, table)
	if err != nil {
		t.Fatalf("Decode liba: %v", err)
	}
	lb, err := summary.Decode(libB.Summary, table)
	if err != nil {
		t.Fatalf("Decode libb: %v", err)
	}

	seen := make(map[int32]string)
	for _, lib := range []*summary.Loaded{la, lb} {
		for _, id := range lib.TypeIDs[1:] {
			info := table.Type(id)
			if info == nil || info.Kind != sym.TypePrivate {
				continue
			}
			if owner, ok := seen[info.LocalIndex]; ok {
				t.Fatalf("private index %d assigned to both %s and %s",
					info.LocalIndex, owner, lib.Module.Name)
			}
			seen[info.LocalIndex] = lib.Module.Name
		}
	}
	if len(seen) < 2 {
		t.Fatalf("expected private types from both libraries, got %d", len(seen))
	}
}

func TestIdenticalInputsGiveIdenticalSummaries(t *testing.T) {
	a := buildLibrary(t)
	b := buildLibrary(t)

	var bufA, bufB bytes.Buffer
	if err := summary.Write(&bufA, a.Summary); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := summary.Write(&bufB, b.Summary); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Equal(bufA.Bytes(), bufB.Bytes()) {
		t.Fatalf("two runs on identical input produced different summaries")
	}
}

func TestSchemaMismatchRejected(t *testing.T) {
	res := buildLibrary(t)
	res.Summary.Schema = summary.SchemaVersion + 1

	bag := diag.NewBag(100)
	table := sym.NewTable("consumer", ir.NewVTableBuilder(), bag)
	if _, err := summary.Decode(res.Summary, table); err == nil {
		t.Fatalf("wrong schema version must be rejected")
	}
}

func TestWriteFileReadFile(t *testing.T) {
	res := buildLibrary(t)
	path := t.TempDir() + "/zoolib" + summary.FileExt

	if err := summary.WriteFile(path, res.Summary); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := summary.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got == nil {
		t.Fatalf("summary missing after write")
	}
	if !reflect.DeepEqual(got, res.Summary) {
		t.Fatalf("summary does not survive the file round trip")
	}

	missing, err := summary.ReadFile(path + ".absent")
	if err != nil || missing != nil {
		t.Fatalf("missing file should read as (nil, nil), got (%v, %v)", missing, err)
	}
}

package sym

import (
	"fmt"
	"sort"

	"fortio.org/safecast"

	"devirt/internal/diag"
	"devirt/internal/ir"
)

// Table assigns stable identities to classes and functions of the module
// under analysis plus everything reachable from linked summaries. Index 0
// of both arenas is reserved for the invalid sentinel.
type Table struct {
	Module *Module

	vt  ir.VTableBuilder
	bag *diag.Bag

	types []TypeInfo
	funcs []FuncInfo

	// Owning module per entry, parallel to the arenas. The rewrite step
	// addresses private callees by (module, symbol index), and the codec
	// demotes foreign declared entities to external references.
	typeModules []*Module
	funcModules []*Module

	classIDs map[*ir.Class]TypeID
	funcIDs  map[*ir.Func]FuncID

	publicTypes   map[string]TypeID
	publicFuncs   map[string]FuncID
	externalTypes map[string]TypeID
	externalFuncs map[string]FuncID

	virtualType TypeID
	stringType  TypeID
	unitType    TypeID
	nothingType TypeID

	nextPrivateType int32
	nextPrivateFunc int32

	subCache map[subKey]bool
}

type subKey struct {
	sub, super TypeID
}

// NewTable creates a symbol table for the named module. The virtual type
// is interned eagerly so opaque receivers always share one identity.
func NewTable(moduleName string, vt ir.VTableBuilder, bag *diag.Bag) *Table {
	t := &Table{
		Module:        &Module{Name: moduleName},
		vt:            vt,
		bag:           bag,
		types:         make([]TypeInfo, 1, 64),
		funcs:         make([]FuncInfo, 1, 128),
		typeModules:   make([]*Module, 1, 64),
		funcModules:   make([]*Module, 1, 128),
		classIDs:      make(map[*ir.Class]TypeID),
		funcIDs:       make(map[*ir.Func]FuncID),
		publicTypes:   make(map[string]TypeID),
		publicFuncs:   make(map[string]FuncID),
		externalTypes: make(map[string]TypeID),
		externalFuncs: make(map[string]FuncID),
		subCache:      make(map[subKey]bool),
	}
	t.virtualType = t.appendType(TypeInfo{Kind: TypeVirtual, Name: "<virtual>", LocalIndex: -1}, nil)
	return t
}

// VirtualType returns the shared opaque top type.
func (t *Table) VirtualType() TypeID { return t.virtualType }

// StringType returns the interned string class type.
func (t *Table) StringType() TypeID { return t.stringType }

// UnitType returns the interned unit class type.
func (t *Table) UnitType() TypeID { return t.unitType }

// NothingType returns the interned bottom class type.
func (t *Table) NothingType() TypeID { return t.nothingType }

// Type returns the payload for a type ID, or nil for the sentinel.
func (t *Table) Type(id TypeID) *TypeInfo {
	if !id.IsValid() || int(id) >= len(t.types) {
		return nil
	}
	return &t.types[id]
}

// Func returns the payload for a function ID, or nil for the sentinel.
func (t *Table) Func(id FuncID) *FuncInfo {
	if !id.IsValid() || int(id) >= len(t.funcs) {
		return nil
	}
	return &t.funcs[id]
}

// FuncModule returns the module owning a declared function.
func (t *Table) FuncModule(id FuncID) *Module {
	if !id.IsValid() || int(id) >= len(t.funcModules) {
		return nil
	}
	return t.funcModules[id]
}

// NumTypes reports the arena size excluding the sentinel.
func (t *Table) NumTypes() int { return len(t.types) - 1 }

// NumFuncs reports the arena size excluding the sentinel.
func (t *Table) NumFuncs() int { return len(t.funcs) - 1 }

func (t *Table) appendType(info TypeInfo, owner *Module) TypeID {
	value, err := safecast.Conv[uint32](len(t.types))
	if err != nil {
		panic(fmt.Errorf("type arena overflow: %w", err))
	}
	t.types = append(t.types, info)
	t.typeModules = append(t.typeModules, owner)
	return TypeID(value)
}

// TypeModule returns the module owning a declared type.
func (t *Table) TypeModule(id TypeID) *Module {
	if !id.IsValid() || int(id) >= len(t.typeModules) {
		return nil
	}
	return t.typeModules[id]
}

func (t *Table) appendFunc(info FuncInfo, owner *Module) FuncID {
	value, err := safecast.Conv[uint32](len(t.funcs))
	if err != nil {
		panic(fmt.Errorf("function arena overflow: %w", err))
	}
	t.funcs = append(t.funcs, info)
	t.funcModules = append(t.funcModules, owner)
	return FuncID(value)
}

// DeclareProgram assigns identities to every class and function of the
// program's module and fills the dispatch tables. Field initializers get
// their identities later, when their templates are built.
// Symbol table indices are assigned densely in declaration order, so the
// backend can address private targets by (module, index) in linear time.
func (t *Table) DeclareProgram(prog *ir.Program) error {
	if prog == nil || prog.Module == nil {
		return fmt.Errorf("sym: nil program")
	}
	t.stringType = t.TypeOf(prog.String)
	t.unitType = t.TypeOf(prog.Unit)
	t.nothingType = t.TypeOf(prog.Nothing)

	for _, c := range prog.Module.Classes {
		id := t.TypeOf(c)
		info := t.Type(id)
		if info == nil || !info.Declared() {
			continue
		}
		if c.IsFinal && c.IsAbstract {
			t.bag.Add(diag.NewError(diag.SymFinalAbstract, "class "+c.Name,
				"class is both final and abstract"))
			continue
		}
		t.fillIntestines(c, id)
	}

	// The remaining declarations get identities even when no dispatch
	// table references them, so the summary is complete.
	for _, c := range prog.Module.Classes {
		for _, m := range c.Methods {
			t.FuncOf(m)
		}
	}
	for _, f := range prog.Module.Funcs {
		t.FuncOf(f)
	}
	return t.bag.Err()
}

func (t *Table) fillIntestines(c *ir.Class, id TypeID) {
	supers := make([]TypeID, 0, len(c.Supers))
	for _, s := range c.Supers {
		supers = append(supers, t.TypeOf(s))
	}
	t.types[id].Supers = supers

	if c.IsInterface || c.IsOpaque || c.IsExternal {
		return
	}

	entries := t.vt.VTableEntries(c)
	vtable := make([]FuncID, 0, len(entries))
	for _, sig := range entries {
		impl := t.vt.ConcreteImpl(c, sig)
		if impl == nil {
			if !c.IsAbstract {
				t.bag.Add(diag.NewError(diag.SymMissingVTableImp,
					"class "+c.Name,
					fmt.Sprintf("no implementation for vtable entry %s", ir.QualifiedName(sig))))
				continue
			}
			impl = sig
		}
		fid := t.FuncOf(impl)
		t.markVirtuallyCallable(fid)
		vtable = append(vtable, fid)
	}
	t.types[id].VTable = vtable

	if c.IsAbstract {
		return
	}
	sigs := t.vt.MethodTableEntries(c)
	itable := make([]ITableEntry, 0, len(sigs))
	for _, sig := range sigs {
		impl := t.vt.ConcreteImpl(c, sig)
		if impl == nil {
			t.bag.Add(diag.NewError(diag.SymMissingVTableImp,
				"class "+c.Name,
				fmt.Sprintf("no implementation for interface method %s", ir.QualifiedName(sig))))
			continue
		}
		fid := t.FuncOf(impl)
		t.markVirtuallyCallable(fid)
		itable = append(itable, ITableEntry{
			Hash: ir.MethodHash(ir.SignatureName(sig)),
			Impl: fid,
		})
	}
	sort.Slice(itable, func(i, j int) bool { return itable[i].Hash < itable[j].Hash })
	t.types[id].ITable = itable
}

// markVirtuallyCallable assigns the next symbol table index to a declared
// function the first time it appears in any dispatch table.
func (t *Table) markVirtuallyCallable(id FuncID) {
	info := t.Func(id)
	if info == nil || !info.Declared() || info.SymbolIndex >= 0 {
		return
	}
	idx, err := safecast.Conv[int32](t.Module.NumVirtualFuncs)
	if err != nil {
		panic(fmt.Errorf("symbol index overflow: %w", err))
	}
	info.SymbolIndex = idx
	t.Module.NumVirtualFuncs++
}

// TypeOf returns the identity for a class, creating it on first sight.
func (t *Table) TypeOf(c *ir.Class) TypeID {
	if c == nil {
		return t.virtualType
	}
	if id, ok := t.classIDs[c]; ok {
		return id
	}
	var id TypeID
	switch {
	case c.IsOpaque:
		id = t.virtualType
	case c.IsExternal:
		if pub, ok := t.publicTypes[c.Name]; ok {
			id = pub
			break
		}
		if ext, ok := t.externalTypes[c.Name]; ok {
			id = ext
			break
		}
		id = t.appendType(TypeInfo{Kind: TypeExternal, Name: c.Name, LocalIndex: -1}, nil)
		t.externalTypes[c.Name] = id
	case c.IsExported:
		// public equality is by name: an earlier declaration or an
		// external placeholder with the same name is the same type
		if pub, ok := t.publicTypes[c.Name]; ok {
			id = pub
			break
		}
		if ext, ok := t.externalTypes[c.Name]; ok {
			info := t.Type(ext)
			info.Kind = TypePublic
			info.IsInterface = c.IsInterface
			info.IsFinal = c.IsFinal
			info.IsAbstract = c.IsAbstract
			t.typeModules[ext] = t.Module
			delete(t.externalTypes, c.Name)
			t.publicTypes[c.Name] = ext
			id = ext
			break
		}
		id = t.appendType(TypeInfo{
			Kind:        TypePublic,
			Name:        c.Name,
			LocalIndex:  -1,
			IsInterface: c.IsInterface,
			IsFinal:     c.IsFinal,
			IsAbstract:  c.IsAbstract,
		}, t.Module)
		t.publicTypes[c.Name] = id
	default:
		id = t.appendType(TypeInfo{
			Kind:        TypePrivate,
			Name:        c.Name,
			LocalIndex:  t.nextPrivateType,
			IsInterface: c.IsInterface,
			IsFinal:     c.IsFinal,
			IsAbstract:  c.IsAbstract,
		}, t.Module)
		t.nextPrivateType++
	}
	t.classIDs[c] = id
	return id
}

// FuncOf returns the identity for a function, creating it on first sight.
// Fresh declared functions start without a symbol table index; the index
// appears when a dispatch table first references them.
func (t *Table) FuncOf(f *ir.Func) FuncID {
	if f == nil {
		return NoFuncID
	}
	if id, ok := t.funcIDs[f]; ok {
		return id
	}
	name := ir.QualifiedName(f)
	var id FuncID
	switch {
	case f.IsExternal:
		if pub, ok := t.publicFuncs[name]; ok {
			id = pub
			break
		}
		if ext, ok := t.externalFuncs[name]; ok {
			id = ext
			break
		}
		id = t.appendFunc(FuncInfo{Kind: FuncExternal, Name: name, LocalIndex: -1, SymbolIndex: -1}, nil)
		t.externalFuncs[name] = id
	case f.IsExported:
		if pub, ok := t.publicFuncs[name]; ok {
			id = pub
			break
		}
		if ext, ok := t.externalFuncs[name]; ok {
			info := t.Func(ext)
			info.Kind = FuncPublic
			t.funcModules[ext] = t.Module
			delete(t.externalFuncs, name)
			t.publicFuncs[name] = ext
			id = ext
			break
		}
		id = t.appendFunc(FuncInfo{Kind: FuncPublic, Name: name, LocalIndex: -1, SymbolIndex: -1}, t.Module)
		t.publicFuncs[name] = id
	default:
		id = t.appendFunc(FuncInfo{Kind: FuncPrivate, Name: name, LocalIndex: t.nextPrivateFunc, SymbolIndex: -1}, t.Module)
		t.nextPrivateFunc++
	}
	t.funcIDs[f] = id
	return id
}

// PrivateVirtualFuncs returns the module's private functions that hold a
// symbol table slot, ordered by that slot. The backend emits the module's
// virtual function table from this list.
func (t *Table) PrivateVirtualFuncs() []FuncID {
	var out []FuncID
	for i := 1; i < len(t.funcs); i++ {
		info := &t.funcs[i]
		if info.Kind == FuncPrivate && info.SymbolIndex >= 0 && t.funcModules[i] == t.Module {
			out = append(out, FuncID(i))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return t.funcs[out[i]].SymbolIndex < t.funcs[out[j]].SymbolIndex
	})
	return out
}

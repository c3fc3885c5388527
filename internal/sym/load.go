package sym

// Summary-load support. The codec first materializes every type and
// function of a library summary through LoadType/LoadFunc, then patches
// type bodies once all ids exist. Private identities are renumbered into
// this table's index space; public names resolve or upgrade the external
// placeholders created by earlier references.

// LoadType materializes a summary type entry and returns its identity.
// The body (supers, vtable, itable) is attached later via SetLoadedTypeBody.
func (t *Table) LoadType(kind TypeKind, name string, isInterface, isFinal, isAbstract bool, owner *Module) TypeID {
	switch kind {
	case TypeVirtual:
		return t.virtualType
	case TypeExternal:
		if id, ok := t.publicTypes[name]; ok {
			return id
		}
		if id, ok := t.externalTypes[name]; ok {
			return id
		}
		id := t.appendType(TypeInfo{Kind: TypeExternal, Name: name, LocalIndex: -1}, nil)
		t.externalTypes[name] = id
		return id
	case TypePublic:
		if id, ok := t.publicTypes[name]; ok {
			return id
		}
		if id, ok := t.externalTypes[name]; ok {
			// Upgrade the placeholder in place so earlier references
			// resolve to the declared entity.
			info := t.Type(id)
			info.Kind = TypePublic
			info.IsInterface = isInterface
			info.IsFinal = isFinal
			info.IsAbstract = isAbstract
			t.typeModules[id] = owner
			delete(t.externalTypes, name)
			t.publicTypes[name] = id
			return id
		}
		id := t.appendType(TypeInfo{
			Kind:        TypePublic,
			Name:        name,
			LocalIndex:  -1,
			IsInterface: isInterface,
			IsFinal:     isFinal,
			IsAbstract:  isAbstract,
		}, owner)
		t.publicTypes[name] = id
		return id
	default: // TypePrivate: renumber into the consumer index space
		id := t.appendType(TypeInfo{
			Kind:        TypePrivate,
			Name:        name,
			LocalIndex:  t.nextPrivateType,
			IsInterface: isInterface,
			IsFinal:     isFinal,
			IsAbstract:  isAbstract,
		}, owner)
		t.nextPrivateType++
		return id
	}
}

// SetLoadedTypeBody attaches the resolved body of a loaded declared type.
func (t *Table) SetLoadedTypeBody(id TypeID, supers []TypeID, vtable []FuncID, itable []ITableEntry) {
	info := t.Type(id)
	if info == nil || !info.Declared() {
		return
	}
	info.Supers = supers
	info.VTable = vtable
	info.ITable = itable
}

// LoadFunc materializes a summary function entry owned by the given module.
func (t *Table) LoadFunc(kind FuncKind, name string, symbolIndex int32, owner *Module) FuncID {
	switch kind {
	case FuncExternal:
		if id, ok := t.publicFuncs[name]; ok {
			return id
		}
		if id, ok := t.externalFuncs[name]; ok {
			return id
		}
		id := t.appendFunc(FuncInfo{Kind: FuncExternal, Name: name, LocalIndex: -1, SymbolIndex: -1}, nil)
		t.externalFuncs[name] = id
		return id
	case FuncPublic:
		if id, ok := t.publicFuncs[name]; ok {
			return id
		}
		if id, ok := t.externalFuncs[name]; ok {
			info := t.Func(id)
			info.Kind = FuncPublic
			info.SymbolIndex = symbolIndex
			t.funcModules[id] = owner
			delete(t.externalFuncs, name)
			t.publicFuncs[name] = id
			return id
		}
		id := t.appendFunc(FuncInfo{Kind: FuncPublic, Name: name, LocalIndex: -1, SymbolIndex: symbolIndex}, owner)
		t.publicFuncs[name] = id
		return id
	default: // FuncPrivate: renumber into the consumer index space
		id := t.appendFunc(FuncInfo{
			Kind:        FuncPrivate,
			Name:        name,
			LocalIndex:  t.nextPrivateFunc,
			SymbolIndex: symbolIndex,
		}, owner)
		t.nextPrivateFunc++
		return id
	}
}

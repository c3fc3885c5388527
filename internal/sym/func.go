package sym

// FuncKind distinguishes the FunctionId variants.
type FuncKind uint8

const (
	// FuncInvalid is the zero value; the arena sentinel carries it.
	FuncInvalid FuncKind = iota
	// FuncExternal names a function declared in another module.
	FuncExternal
	// FuncPublic is a declared exported function.
	FuncPublic
	// FuncPrivate is a declared module-private function.
	FuncPrivate
)

// String returns a human-readable name for the function kind.
func (k FuncKind) String() string {
	switch k {
	case FuncExternal:
		return "External"
	case FuncPublic:
		return "Public"
	case FuncPrivate:
		return "Private"
	default:
		return "Invalid"
	}
}

// FuncInfo is the arena payload for one function.
type FuncInfo struct {
	Kind FuncKind
	Name string

	// LocalIndex is the dense module-private index for FuncPrivate, -1
	// otherwise. Private equality is by this index.
	LocalIndex int32

	// SymbolIndex is the slot in the owning module's virtual function
	// table, or -1 when the function is never called virtually from
	// another module.
	SymbolIndex int32
}

// Declared reports whether the function has a body in some linked module.
func (f *FuncInfo) Declared() bool {
	return f.Kind == FuncPublic || f.Kind == FuncPrivate
}

package sym

// Module is the owning scope for declared identities.
type Module struct {
	Name string

	// NumVirtualFuncs counts functions with a symbol table index, which is
	// exactly the length of the module's virtual function table.
	NumVirtualFuncs uint32
}

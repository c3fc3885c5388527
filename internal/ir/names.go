package ir

// QualifiedName returns "Owner.name" for methods and the plain name for
// top-level functions.
func QualifiedName(f *Func) string {
	if f == nil {
		return "<nil>"
	}
	if f.Owner != nil {
		return f.Owner.Name + "." + f.Name
	}
	return f.Name
}

// SignatureName identifies a method signature across the override chain:
// the qualified name of the introducing declaration. Itable hashes are
// computed over it, so implementations and call sites agree on the key.
func SignatureName(f *Func) string {
	return QualifiedName(RootDeclaration(f))
}

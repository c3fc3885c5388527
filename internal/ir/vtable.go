package ir

import (
	"github.com/cespare/xxhash/v2"
)

// MethodHash is the 64-bit hash keying itable entries. The same function is
// used when building tables and when resolving interface dispatch, so its
// exact value never leaves the analysis except through summaries.
func MethodHash(name string) uint64 {
	return xxhash.Sum64String(name)
}

// VTableBuilder is the type-system collaborator the analysis dispatches
// through. The default implementation below derives tables from the class
// hierarchy; a host compiler may substitute its own layout.
type VTableBuilder interface {
	// VTableEntries returns the ordered method signatures of the class's
	// vtable. Entries are root declarations, not implementations.
	VTableEntries(c *Class) []*Func

	// MethodTableEntries returns every interface-method signature the class
	// answers to, in a stable order.
	MethodTableEntries(c *Class) []*Func

	// VTableIndex returns the vtable slot of an overridable method within
	// its owner's table, or -1 if the method has no slot.
	VTableIndex(f *Func) int

	// ConcreteImpl resolves a method signature to its implementation in the
	// given class, following the override chain. Returns nil if the class
	// does not implement the signature.
	ConcreteImpl(c *Class, sig *Func) *Func
}

// RootDeclaration follows the override chain to the introducing declaration.
func RootDeclaration(f *Func) *Func {
	for f != nil && len(f.Overridden) > 0 {
		f = f.Overridden[len(f.Overridden)-1]
	}
	return f
}

// ClassSuper returns the single non-interface supertype, or nil.
func ClassSuper(c *Class) *Class {
	for _, s := range c.Supers {
		if !s.IsInterface {
			return s
		}
	}
	return nil
}

// AllInterfaces returns the transitive interface closure of a class in
// first-seen order.
func AllInterfaces(c *Class) []*Class {
	var out []*Class
	seen := make(map[*Class]struct{})
	var walk func(c *Class)
	walk = func(c *Class) {
		if c == nil {
			return
		}
		for _, s := range c.Supers {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			if s.IsInterface {
				out = append(out, s)
			}
			walk(s)
		}
	}
	walk(c)
	return out
}

type hierarchyVTables struct {
	vtables map[*Class][]*Func
	itables map[*Class][]*Func
}

// NewVTableBuilder returns the default hierarchy-derived builder.
func NewVTableBuilder() VTableBuilder {
	return &hierarchyVTables{
		vtables: make(map[*Class][]*Func),
		itables: make(map[*Class][]*Func),
	}
}

func (b *hierarchyVTables) VTableEntries(c *Class) []*Func {
	if c == nil || c.IsInterface {
		return nil
	}
	if cached, ok := b.vtables[c]; ok {
		return cached
	}
	var entries []*Func
	if super := ClassSuper(c); super != nil {
		entries = append(entries, b.VTableEntries(super)...)
	}
	for _, m := range c.Methods {
		if !m.Overridable() || m.IsFakeOverride {
			continue
		}
		root := RootDeclaration(m)
		if root.Owner != nil && root.Owner.IsInterface {
			continue // interface methods dispatch through the itable
		}
		if root == m {
			entries = append(entries, m)
		}
	}
	b.vtables[c] = entries
	return entries
}

func (b *hierarchyVTables) MethodTableEntries(c *Class) []*Func {
	if c == nil || c.IsInterface {
		return nil
	}
	if cached, ok := b.itables[c]; ok {
		return cached
	}
	var entries []*Func
	seen := make(map[*Func]struct{})
	for _, iface := range AllInterfaces(c) {
		for _, m := range iface.Methods {
			root := RootDeclaration(m)
			if _, ok := seen[root]; ok {
				continue
			}
			seen[root] = struct{}{}
			entries = append(entries, root)
		}
	}
	b.itables[c] = entries
	return entries
}

func (b *hierarchyVTables) VTableIndex(f *Func) int {
	if f == nil || f.Owner == nil {
		return -1
	}
	root := RootDeclaration(f)
	owner := f.Owner
	if owner.IsInterface {
		return -1
	}
	for i, e := range b.VTableEntries(owner) {
		if e == root {
			return i
		}
	}
	return -1
}

func (b *hierarchyVTables) ConcreteImpl(c *Class, sig *Func) *Func {
	root := RootDeclaration(sig)
	for cur := c; cur != nil; cur = ClassSuper(cur) {
		for _, m := range cur.Methods {
			if m.IsAbstract {
				continue
			}
			if RootDeclaration(m) == root {
				return m
			}
		}
	}
	return nil
}

package devirt

import (
	"devirt/internal/dfg"
	"devirt/internal/sym"
)

// instantiationScan collects every concrete class the program can
// allocate: constructor results and singletons across all templates, plus
// the string class, which the runtime materializes for literals whether or
// not an allocation is visible. The set bounds the possible receivers at
// every virtual call, which is what gives the analysis rapid-type-analysis
// precision without separate reachability tracking.
func instantiationScan(table *sym.Table, templates []*dfg.Template) []sym.TypeID {
	var out []sym.TypeID
	seen := make(map[sym.TypeID]struct{})
	add := func(id sym.TypeID) {
		if !id.IsValid() || id == table.VirtualType() {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	add(table.StringType())
	for _, t := range templates {
		for i := 1; i <= t.NumNodes(); i++ {
			n := t.Node(dfg.NodeID(i))
			switch n.Kind {
			case dfg.NodeNewObject:
				add(n.ReturnType)
			case dfg.NodeSingleton:
				add(n.Type)
			}
		}
	}
	return out
}

package devirt

import (
	"fmt"

	"devirt/internal/dfg"
	"devirt/internal/diag"
	"devirt/internal/sym"
)

// CallSite is one devirtualized virtual call: the set of receiver classes
// observed at its receiver and the concrete target for each.
type CallSite struct {
	Key       dfg.CallSiteKey
	Enclosing sym.FuncID
	Callees   []PossibleCallee
}

// devirtualize reads the fixed point at every registered call site. A site
// is reported only when its receiver set is non-empty, fully concrete, and
// every reaching class was enumerated at build time; the bottom type is
// dropped since no value of it ever reaches a dispatch.
func (g *graph) devirtualize(bag *diag.Bag) []CallSite {
	var out []CallSite
	for _, site := range g.callSites {
		types := g.nodes[site.receiver].types
		if types.empty() {
			continue
		}
		poisoned := false
		var recvs []sym.TypeID
		types.forEach(func(tok int32) {
			tt := g.tokens[tok]
			if tt.Virtual {
				poisoned = true
				return
			}
			if tt.Type == g.table.NothingType() {
				return
			}
			recvs = append(recvs, tt.Type)
		})
		if poisoned || len(recvs) == 0 {
			continue
		}

		byRecv := make(map[sym.TypeID]sym.FuncID, len(site.pairs))
		for _, p := range site.pairs {
			byRecv[p.Receiver] = p.Callee
		}
		callees := make([]PossibleCallee, 0, len(recvs))
		enumerated := true
		for _, r := range recvs {
			callee, ok := byRecv[r]
			if !ok {
				// a class outside the build-time enumeration reached the
				// receiver (boundary source); the site cannot be bounded
				enumerated = false
				break
			}
			callees = append(callees, PossibleCallee{Receiver: r, Callee: callee})
		}
		if !enumerated {
			continue
		}

		for _, c := range callees {
			info := g.table.Func(c.Callee)
			if info != nil && info.Declared() && info.SymbolIndex < 0 {
				bag.Add(diag.NewError(diag.LinkBadPrivateIdx, g.funcName(c.Callee),
					fmt.Sprintf("devirtualized target has no symbol table index (receiver %s)",
						g.typeName(c.Receiver))))
			}
		}

		out = append(out, CallSite{
			Key:       site.key,
			Enclosing: site.enclosing,
			Callees:   callees,
		})
	}
	return out
}

func (g *graph) typeName(id sym.TypeID) string {
	if info := g.table.Type(id); info != nil {
		return info.Name
	}
	return "<unknown>"
}

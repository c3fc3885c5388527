package devirt

import (
	"sort"

	"devirt/internal/sym"
)

// propagate computes reachable type sets. One sweep in topological order
// settles every regular edge and every cast edge whose source was
// finalized first; the cast edges that point against the order are then
// closed by repeated recursive propagation until a full round adds
// nothing. Termination follows from the finite token universe and the
// monotone growth of every node's set.
func (g *graph) propagate(multis [][]int32) {
	for pri, members := range multis {
		if len(members) == 1 && g.nodes[members[0]].isSource {
			nd := &g.nodes[members[0]]
			nd.types.set(nd.srcTok)
			continue
		}
		var acc bitset
		for _, mID := range members {
			nd := &g.nodes[mID]
			if nd.isSource {
				// a source trapped in a cycle still contributes its type
				acc.set(nd.srcTok)
			}
			for _, src := range nd.in {
				acc.or(g.nodes[src].types)
			}
			for _, ce := range nd.castIn {
				srcNode := &g.nodes[ce.other]
				if int(srcNode.multi) < pri {
					g.orFiltered(&acc, srcNode.types, ce.castTo)
				}
			}
		}
		for _, mID := range members {
			g.nodes[mID].types = append(bitset(nil), acc...)
		}
	}

	g.closeBadEdges()
}

// orFiltered unions the subtype-filtered src set into acc.
func (g *graph) orFiltered(acc *bitset, src bitset, castTo sym.TypeID) {
	src.forEach(func(tok int32) {
		if g.table.IsSubtype(g.tokens[tok].Type, castTo) {
			acc.set(tok)
		}
	})
}

type badEdge struct {
	src, dst int32
	castTo   sym.TypeID
}

// closeBadEdges finishes the cast edges the topological sweep could not
// see: those whose source is not ordered strictly before their target,
// including cast edges inside one SCC.
func (g *graph) closeBadEdges() {
	var bad []badEdge
	for dst := range g.nodes {
		for _, ce := range g.nodes[dst].castIn {
			if g.nodes[ce.other].multi >= g.nodes[dst].multi {
				bad = append(bad, badEdge{src: ce.other, dst: int32(dst), castTo: ce.castTo})
			}
		}
	}
	// visiting targets in priority order tends to converge in few rounds
	sort.SliceStable(bad, func(i, j int) bool {
		return g.nodes[bad[i].dst].multi < g.nodes[bad[j].dst].multi
	})

	changed := true
	for changed {
		changed = false
		for _, be := range bad {
			g.nodes[be.src].types.forEach(func(tok int32) {
				if g.nodes[be.dst].types.has(tok) {
					return
				}
				if !g.table.IsSubtype(g.tokens[tok].Type, be.castTo) {
					return
				}
				g.spread(be.dst, tok)
				changed = true
			})
		}
	}
}

// spread pushes a single type from a node through regular edges
// unconditionally and through cast edges that admit it.
func (g *graph) spread(start, tok int32) {
	if g.nodes[start].types.has(tok) {
		return
	}
	g.nodes[start].types.set(tok)
	work := []int32{start}
	for len(work) > 0 {
		nd := work[len(work)-1]
		work = work[:len(work)-1]
		for _, dst := range g.nodes[nd].out {
			if !g.nodes[dst].types.has(tok) {
				g.nodes[dst].types.set(tok)
				work = append(work, dst)
			}
		}
		for _, ce := range g.nodes[nd].castOut {
			if g.nodes[ce.other].types.has(tok) {
				continue
			}
			if !g.table.IsSubtype(g.tokens[tok].Type, ce.castTo) {
				continue
			}
			g.nodes[ce.other].types.set(tok)
			work = append(work, ce.other)
		}
	}
}

package devirt

import (
	"fmt"

	"devirt/internal/dfg"
	"devirt/internal/diag"
	"devirt/internal/sym"
)

// linkTemplates materializes every template into the constraint graph in
// slice order. Call edges pull callees in on demand, so the recursion
// below caches a function's connection points before touching its body.
func (g *graph) linkTemplates(order []*dfg.Template, bag *diag.Bag) {
	for _, t := range order {
		g.getFunc(t.Fn, bag)
	}
}

// getFunc returns a function's parameter and return nodes, building its
// template into the graph on first request. Functions without a template
// (externals, abstract methods) return nil; callers model them with a
// synthetic source of the declared return type.
func (g *graph) getFunc(fn sym.FuncID, bag *diag.Bag) *funcFlow {
	if flow, ok := g.funcs[fn]; ok {
		return flow
	}
	t := g.templates[fn]
	if t == nil {
		g.funcs[fn] = nil
		return nil
	}
	flow := &funcFlow{
		params:  make([]int32, t.ParamCount),
		returns: g.newOrdinary(),
	}
	for i := range flow.params {
		flow.params[i] = g.newOrdinary()
	}
	// cache before building: recursive calls must find the flow
	g.funcs[fn] = flow
	g.buildTemplate(t, flow, bag)
	return flow
}

func (g *graph) buildTemplate(t *dfg.Template, flow *funcFlow, bag *diag.Bag) {
	m := make([]int32, len(t.Nodes))
	m[0] = g.voidNode

	// Phase 1: allocate a graph node per template node. Edges may point
	// forward, so wiring waits until every node exists.
	for i := 1; i < len(t.Nodes); i++ {
		n := &t.Nodes[i]
		if dfg.NodeID(i) == t.Returns {
			m[i] = flow.returns
			continue
		}
		switch n.Kind {
		case dfg.NodeParameter:
			if int(n.Param) < len(flow.params) {
				m[i] = flow.params[n.Param]
			} else {
				m[i] = g.voidNode
			}
		case dfg.NodeConst, dfg.NodeSingleton:
			m[i] = g.sourceNode(g.concreteTok(n.Type))
		case dfg.NodeNewObject:
			m[i] = g.sourceNode(g.concreteTok(n.ReturnType))
		case dfg.NodeStaticCall:
			if callee := g.getFunc(n.Callee, bag); callee != nil {
				m[i] = callee.returns
			} else {
				m[i] = g.sourceNode(g.concreteTok(n.ReturnType))
			}
		case dfg.NodeVtableCall, dfg.NodeItableCall:
			m[i] = g.newOrdinary()
		case dfg.NodeFieldRead:
			m[i] = g.fieldNode(n.Field)
		case dfg.NodeFieldWrite, dfg.NodeVariable, dfg.NodeTempVariable:
			m[i] = g.newOrdinary()
		default:
			m[i] = g.voidNode
		}
	}

	// Phase 2: wire dataflow.
	for i := 1; i < len(t.Nodes); i++ {
		n := &t.Nodes[i]
		switch n.Kind {
		case dfg.NodeStaticCall:
			g.connectArgs(t, m, n.Args, g.funcs[n.Callee], 0)
		case dfg.NodeNewObject:
			ctor := g.getFunc(n.Callee, bag)
			if ctor != nil && len(ctor.params) > 0 {
				// the fresh instance is the constructor's receiver
				g.addEdge(m[i], ctor.params[0])
				g.connectArgs(t, m, n.Args, ctor, 1)
			} else {
				g.connectArgs(t, m, n.Args, nil, 0)
			}
		case dfg.NodeVtableCall, dfg.NodeItableCall:
			g.buildVirtualCall(t, m, dfg.NodeID(i), n, bag)
		case dfg.NodeFieldWrite:
			g.connect(t, m, n.Value, g.fieldNode(n.Field))
		case dfg.NodeVariable, dfg.NodeTempVariable:
			for _, e := range n.Values {
				g.connect(t, m, e, m[i])
			}
		}
	}
}

// connect adds one edge from a template edge's producer to dst, keeping
// the edge's cast if it has one.
func (g *graph) connect(t *dfg.Template, m []int32, e dfg.Edge, dst int32) {
	if !e.Node.IsValid() || int(e.Node) >= len(m) {
		return
	}
	src := m[e.Node]
	if e.Cast.IsValid() {
		g.addCastEdge(src, dst, e.Cast)
		return
	}
	g.addEdge(src, dst)
}

// endpoint resolves a template edge to a graph node, materializing an
// intermediate node when the edge carries a cast.
func (g *graph) endpoint(t *dfg.Template, m []int32, e dfg.Edge) int32 {
	if !e.Node.IsValid() || int(e.Node) >= len(m) {
		return g.voidNode
	}
	src := m[e.Node]
	if !e.Cast.IsValid() {
		return src
	}
	tmp := g.newOrdinary()
	g.addCastEdge(src, tmp, e.Cast)
	return tmp
}

// connectArgs routes argument edges into a callee's parameters starting at
// the given parameter offset; arguments beyond the callee's arity drain
// into the void node.
func (g *graph) connectArgs(t *dfg.Template, m []int32, args []dfg.Edge, callee *funcFlow, offset int) {
	for i, a := range args {
		dst := g.voidNode
		if callee != nil && i+offset < len(callee.params) {
			dst = callee.params[i+offset]
		}
		g.connect(t, m, a, dst)
	}
}

// buildVirtualCall expands one vtable or itable call: the receiver is
// narrowed to the declared receiver type through a fresh casted-receiver
// node, every possibly-instantiated subtype's concrete target is invoked
// with it, and the targets' returns join into the call's result node.
func (g *graph) buildVirtualCall(t *dfg.Template, m []int32, id dfg.NodeID, n *dfg.Node, bag *diag.Bag) {
	result := m[id]
	if len(n.Args) == 0 {
		return
	}
	recvEdge := n.Args[0]

	if n.Receiver == g.table.VirtualType() || !n.Receiver.IsValid() {
		// opaque receiver: no concrete dispatch is reachable
		g.connect(t, m, recvEdge, g.voidNode)
		return
	}

	casted := g.newOrdinary()
	g.addCastEdge(g.endpoint(t, m, recvEdge), casted, n.Receiver)

	var pairs []PossibleCallee
	for _, recvClass := range g.instantiated {
		if !g.table.IsSubtype(recvClass, n.Receiver) {
			continue
		}
		info := g.table.Type(recvClass)
		if !info.Declared() {
			// external allocation with unknown tables; the devirtualizer
			// drops any site such a class reaches
			continue
		}
		var callee sym.FuncID
		switch n.Kind {
		case dfg.NodeVtableCall:
			if int(n.VIndex) >= len(info.VTable) {
				bag.Add(diag.NewError(diag.LinkNoVTableSlot, "class "+info.Name,
					fmt.Sprintf("no vtable slot %d for callee of %s", n.VIndex, g.funcName(n.Callee))))
				continue
			}
			callee = info.VTable[n.VIndex]
		default:
			callee = info.ITableLookup(n.Hash)
			if !callee.IsValid() {
				bag.Add(diag.NewError(diag.LinkItableMiss, "class "+info.Name,
					fmt.Sprintf("itable entry %016x missing for callee of %s", n.Hash, g.funcName(n.Callee))))
				continue
			}
		}
		pairs = append(pairs, PossibleCallee{Receiver: recvClass, Callee: callee})

		if flow := g.getFunc(callee, bag); flow != nil {
			if len(flow.params) > 0 {
				g.addEdge(casted, flow.params[0])
			}
			g.connectArgs(t, m, n.Args[1:], flow, 1)
			g.addEdge(flow.returns, result)
		} else {
			g.connectArgs(t, m, n.Args[1:], nil, 1)
			g.addEdge(g.sourceNode(g.concreteTok(n.ReturnType)), result)
		}
	}

	if n.HasCallSite {
		g.callSites = append(g.callSites, &siteRecord{
			key:       dfg.CallSiteKey{Fn: t.Fn, Node: id},
			enclosing: t.Fn,
			receiver:  casted,
			pairs:     pairs,
		})
	}
}

func (g *graph) funcName(id sym.FuncID) string {
	if info := g.table.Func(id); info != nil {
		return info.Name
	}
	return "<unknown>"
}

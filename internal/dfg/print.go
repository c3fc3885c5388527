package dfg

import (
	"fmt"
	"strings"

	"devirt/internal/sym"
)

// Print renders a template in a stable textual form for debugging and
// golden tests.
func Print(t *Template, table *sym.Table) string {
	var sb strings.Builder
	fn := table.Func(t.Fn)
	name := "<unknown>"
	if fn != nil {
		name = fn.Name
	}
	fmt.Fprintf(&sb, "template %s params=%d returns=%s\n", name, t.ParamCount, nodeRef(t.Returns))
	for i := 1; i < len(t.Nodes); i++ {
		n := &t.Nodes[i]
		fmt.Fprintf(&sb, "  %s = %s", nodeRef(NodeID(i)), n.Kind)
		switch n.Kind {
		case NodeParameter:
			fmt.Fprintf(&sb, " #%d", n.Param)
		case NodeConst, NodeSingleton:
			fmt.Fprintf(&sb, " %s", typeRef(table, n.Type))
		case NodeStaticCall, NodeNewObject:
			fmt.Fprintf(&sb, " %s(%s) -> %s", funcRef(table, n.Callee), edgeList(table, n.Args), typeRef(table, n.ReturnType))
		case NodeVtableCall:
			fmt.Fprintf(&sb, " %s[vtable %d on %s](%s) -> %s", funcRef(table, n.Callee), n.VIndex,
				typeRef(table, n.Receiver), edgeList(table, n.Args), typeRef(table, n.ReturnType))
		case NodeItableCall:
			fmt.Fprintf(&sb, " %s[itable %016x on %s](%s) -> %s", funcRef(table, n.Callee), n.Hash,
				typeRef(table, n.Receiver), edgeList(table, n.Args), typeRef(table, n.ReturnType))
		case NodeFieldRead:
			fmt.Fprintf(&sb, " %s", fieldRefString(table, n.Field))
			if n.Recv.Node.IsValid() {
				fmt.Fprintf(&sb, " recv=%s", edgeString(table, n.Recv))
			}
		case NodeFieldWrite:
			fmt.Fprintf(&sb, " %s value=%s", fieldRefString(table, n.Field), edgeString(table, n.Value))
			if n.Recv.Node.IsValid() {
				fmt.Fprintf(&sb, " recv=%s", edgeString(table, n.Recv))
			}
		case NodeVariable, NodeTempVariable:
			fmt.Fprintf(&sb, " [%s]", edgeList(table, n.Values))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func nodeRef(id NodeID) string {
	if !id.IsValid() {
		return "%none"
	}
	return fmt.Sprintf("%%%d", uint32(id))
}

func typeRef(table *sym.Table, id sym.TypeID) string {
	info := table.Type(id)
	if info == nil {
		return "<none>"
	}
	return info.Name
}

func funcRef(table *sym.Table, id sym.FuncID) string {
	info := table.Func(id)
	if info == nil {
		return "<none>"
	}
	return info.Name
}

func fieldRefString(table *sym.Table, f FieldRef) string {
	return f.Name
}

func edgeString(table *sym.Table, e Edge) string {
	if e.Cast.IsValid() {
		return fmt.Sprintf("%s as %s", nodeRef(e.Node), typeRef(table, e.Cast))
	}
	return nodeRef(e.Node)
}

func edgeList(table *sym.Table, edges []Edge) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = edgeString(table, e)
	}
	return strings.Join(parts, ", ")
}

package summary

import (
	"fmt"

	"devirt/internal/dfg"
	"devirt/internal/sym"
)

// Loaded is a library summary materialized into a consumer symbol table.
type Loaded struct {
	Module    *sym.Module
	Templates []*dfg.Template

	// TypeIDs and FuncIDs map 1-based summary positions to consumer
	// arena ids; index 0 is unused.
	TypeIDs []sym.TypeID
	FuncIDs []sym.FuncID
}

// Decode loads a summary into the table. Private entities are renumbered
// into the consumer's index space and public names are registered so later
// external references resolve to the declared entities.
func Decode(f *File, table *sym.Table) (*Loaded, error) {
	if f.Schema != SchemaVersion {
		return nil, fmt.Errorf("summary %s: schema %d, want %d", f.Module.Name, f.Schema, SchemaVersion)
	}
	mod := &sym.Module{Name: f.Module.Name, NumVirtualFuncs: f.Module.NumVirtualFuncs}
	out := &Loaded{
		Module:  mod,
		TypeIDs: make([]sym.TypeID, len(f.Types)+1),
		FuncIDs: make([]sym.FuncID, len(f.Funcs)+1),
	}

	for i, dto := range f.Funcs {
		out.FuncIDs[i+1] = table.LoadFunc(sym.FuncKind(dto.Kind), dto.Name, dto.SymbolIndex, mod)
	}
	for i, dto := range f.Types {
		out.TypeIDs[i+1] = table.LoadType(sym.TypeKind(dto.Kind), dto.Name,
			dto.IsInterface, dto.IsFinal, dto.IsAbstract, mod)
	}

	// Bodies are attached once every id exists, so forward references
	// inside the summary resolve.
	for i, dto := range f.Types {
		kind := sym.TypeKind(dto.Kind)
		if kind != sym.TypePublic && kind != sym.TypePrivate {
			continue
		}
		supers := make([]sym.TypeID, len(dto.Supers))
		for j, s := range dto.Supers {
			id, err := out.typeAt(s)
			if err != nil {
				return nil, err
			}
			supers[j] = id
		}
		vtable := make([]sym.FuncID, len(dto.VTable))
		for j, fn := range dto.VTable {
			id, err := out.funcAt(fn)
			if err != nil {
				return nil, err
			}
			vtable[j] = id
		}
		itable := make([]sym.ITableEntry, len(dto.ITable))
		for j, e := range dto.ITable {
			impl, err := out.funcAt(e.Impl)
			if err != nil {
				return nil, err
			}
			itable[j] = sym.ITableEntry{Hash: e.Hash, Impl: impl}
		}
		table.SetLoadedTypeBody(out.TypeIDs[i+1], supers, vtable, itable)
	}

	for i := range f.Templates {
		t, err := out.decodeTemplate(&f.Templates[i])
		if err != nil {
			return nil, err
		}
		out.Templates = append(out.Templates, t)
	}
	return out, nil
}

func (l *Loaded) typeAt(pos uint32) (sym.TypeID, error) {
	if pos == 0 {
		return sym.NoTypeID, nil
	}
	if int(pos) >= len(l.TypeIDs) {
		return sym.NoTypeID, fmt.Errorf("summary %s: type index %d out of range", l.Module.Name, pos)
	}
	return l.TypeIDs[pos], nil
}

func (l *Loaded) funcAt(pos uint32) (sym.FuncID, error) {
	if pos == 0 {
		return sym.NoFuncID, nil
	}
	if int(pos) >= len(l.FuncIDs) {
		return sym.NoFuncID, fmt.Errorf("summary %s: function index %d out of range", l.Module.Name, pos)
	}
	return l.FuncIDs[pos], nil
}

func (l *Loaded) decodeTemplate(dto *TemplateDTO) (*dfg.Template, error) {
	fn, err := l.funcAt(dto.Func)
	if err != nil {
		return nil, err
	}
	t := &dfg.Template{
		Fn:         fn,
		ParamCount: int(dto.ParamCount),
		Nodes:      make([]dfg.Node, 1, len(dto.Nodes)+1),
		Returns:    dfg.NodeID(dto.Returns),
	}
	t.ParamTypes = make([]sym.TypeID, len(dto.ParamTypes))
	for i, pt := range dto.ParamTypes {
		id, err := l.typeAt(pt)
		if err != nil {
			return nil, err
		}
		t.ParamTypes[i] = id
	}
	numNodes := uint32(len(dto.Nodes))
	for i := range dto.Nodes {
		nd := &dto.Nodes[i]
		typ, err := l.typeAt(nd.Type)
		if err != nil {
			return nil, err
		}
		retType, err := l.typeAt(nd.ReturnType)
		if err != nil {
			return nil, err
		}
		recvType, err := l.typeAt(nd.Receiver)
		if err != nil {
			return nil, err
		}
		fieldRecv, err := l.typeAt(nd.FieldRecv)
		if err != nil {
			return nil, err
		}
		callee, err := l.funcAt(nd.Callee)
		if err != nil {
			return nil, err
		}
		args, err := l.decodeEdges(nd.Args, numNodes)
		if err != nil {
			return nil, err
		}
		recv, err := l.decodeEdge(nd.Recv, numNodes)
		if err != nil {
			return nil, err
		}
		value, err := l.decodeEdge(nd.Value, numNodes)
		if err != nil {
			return nil, err
		}
		values, err := l.decodeEdges(nd.Values, numNodes)
		if err != nil {
			return nil, err
		}
		t.Nodes = append(t.Nodes, dfg.Node{
			Kind:        dfg.NodeKind(nd.Kind),
			Param:       nd.Param,
			Type:        typ,
			Callee:      callee,
			Args:        args,
			ReturnType:  retType,
			Receiver:    recvType,
			VIndex:      nd.VIndex,
			Hash:        nd.Hash,
			HasCallSite: nd.HasCallSite,
			Field:       dfg.FieldRef{Receiver: fieldRecv, Name: nd.FieldName},
			Recv:        recv,
			Value:       value,
			Values:      values,
		})
	}
	if dto.Returns > numNodes {
		return nil, fmt.Errorf("summary %s: returns node %d out of range", l.Module.Name, dto.Returns)
	}
	return t, nil
}

func (l *Loaded) decodeEdge(e EdgeDTO, numNodes uint32) (dfg.Edge, error) {
	if e.Node > numNodes {
		return dfg.Edge{}, fmt.Errorf("summary %s: edge node %d out of range", l.Module.Name, e.Node)
	}
	cast, err := l.typeAt(e.Cast)
	if err != nil {
		return dfg.Edge{}, err
	}
	return dfg.Edge{Node: dfg.NodeID(e.Node), Cast: cast}, nil
}

func (l *Loaded) decodeEdges(edges []EdgeDTO, numNodes uint32) ([]dfg.Edge, error) {
	if len(edges) == 0 {
		return nil, nil
	}
	out := make([]dfg.Edge, len(edges))
	for i, e := range edges {
		de, err := l.decodeEdge(e, numNodes)
		if err != nil {
			return nil, err
		}
		out[i] = de
	}
	return out, nil
}
